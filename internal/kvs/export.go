package kvs

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgo/surrealembed/internal/storage"
	"github.com/forgo/surrealembed/internal/surql"
	"github.com/forgo/surrealembed/pkg/opt"
)

// exportBatch is the number of records per INSERT statement in an export.
const exportBatch = 1000

// export writes the selected database as SurrealQL statements that recreate
// it when run through query.
func (h *Handle) export(ctx context.Context, eo opt.ExportOptions) (string, error) {
	if err := h.checkExpiry(); err != nil {
		return "", err
	}
	ns, db := h.session.NS, h.session.DB
	if err := h.checkData(ns, db, false); err != nil {
		return "", err
	}

	var b strings.Builder
	err := h.withTx(ctx, false, func(x *exec) error {
		if eo.Users {
			users, err := listDefs[userDef](x.tx, storage.KindUser, ns, db)
			if err != nil {
				return err
			}
			if len(users) > 0 {
				section(&b, "USERS")
				for _, u := range users {
					fmt.Fprintf(&b, "%s;\n", u.sql())
				}
				b.WriteString("\n")
			}
		}
		if eo.Accesses {
			accesses, err := listDefs[accessDef](x.tx, storage.KindAccess, ns, db)
			if err != nil {
				return err
			}
			if len(accesses) > 0 {
				section(&b, "ACCESSES")
				for _, a := range accesses {
					fmt.Fprintf(&b, "%s;\n", a.Source)
				}
				b.WriteString("\n")
			}
		}

		tables, err := listDefs[tableDef](x.tx, storage.KindTable, ns, db)
		if err != nil {
			return err
		}
		for _, t := range tables {
			if !eo.IncludesTable(t.Name) {
				continue
			}
			section(&b, "TABLE: "+t.Name)
			fmt.Fprintf(&b, "%s;\n\n", t.sql())
		}
		if !eo.Records {
			return nil
		}
		for _, t := range tables {
			if !eo.IncludesTable(t.Name) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			records, err := x.tx.Scan(ns, db, t.Name, nil)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				continue
			}
			section(&b, "TABLE DATA: "+t.Name)
			for start := 0; start < len(records); start += exportBatch {
				batch := records[start:min(start+exportBatch, len(records))]
				rows := make([]string, len(batch))
				for i, r := range batch {
					rows[i] = surql.Literal(r.Data)
				}
				fmt.Fprintf(&b, "INSERT INTO %s [ %s ];\n", ident(t.Name), strings.Join(rows, ", "))
			}
			b.WriteString("\n")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func section(b *strings.Builder, title string) {
	const rule = "-- ------------------------------\n"
	b.WriteString(rule)
	fmt.Fprintf(b, "-- %s\n", title)
	b.WriteString(rule)
	b.WriteString("\n")
}
