package opt

import "fmt"

// ExportOptions selects what an export includes.
type ExportOptions struct {
	Users    bool
	Accesses bool
	Records  bool
	// Tables restricts which tables are exported. Nil exports all tables.
	Tables *TargetList
}

// DefaultExportOptions exports everything.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{Users: true, Accesses: true, Records: true}
}

// IncludesTable reports whether tb is selected.
func (e ExportOptions) IncludesTable(tb string) bool {
	if e.Tables == nil {
		return true
	}
	return e.Tables.Matches(tb, func(item, name string) bool { return item == name })
}

// Map returns the wire form sent to a native engine.
func (e ExportOptions) Map() map[string]any {
	m := map[string]any{
		"users":    e.Users,
		"accesses": e.Accesses,
		"records":  e.Records,
		"tables":   true,
	}
	if e.Tables != nil {
		if e.Tables.All {
			m["tables"] = true
		} else if len(e.Tables.Items) == 0 {
			m["tables"] = false
		} else {
			items := make([]any, len(e.Tables.Items))
			for i, s := range e.Tables.Items {
				items[i] = s
			}
			m["tables"] = items
		}
	}
	return m
}

// ExportOptionsFromMap reads the wire form. Missing keys keep their defaults.
func ExportOptionsFromMap(m map[string]any) (ExportOptions, error) {
	out := DefaultExportOptions()
	for key, v := range m {
		switch key {
		case "users", "accesses", "records":
			b, ok := v.(bool)
			if !ok {
				return out, fmt.Errorf("export option %q must be a bool", key)
			}
			switch key {
			case "users":
				out.Users = b
			case "accesses":
				out.Accesses = b
			case "records":
				out.Records = b
			}
		case "tables":
			switch t := v.(type) {
			case bool:
				if t {
					out.Tables = nil
				} else {
					out.Tables = NoTargets()
				}
			case []any:
				names := make([]string, 0, len(t))
				for _, n := range t {
					s, ok := n.(string)
					if !ok {
						return out, fmt.Errorf("export option \"tables\" must list strings")
					}
					names = append(names, s)
				}
				out.Tables = SomeTargets(names...)
			default:
				return out, fmt.Errorf("export option \"tables\" must be a bool or a list")
			}
		}
	}
	return out, nil
}
