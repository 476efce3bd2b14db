package opt

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Capabilities is either a blanket switch (All) or a set of individual
// permission toggles. Unset pointers fall back to the engine defaults.
type Capabilities struct {
	// All is set when capabilities were given as a bare bool.
	All                    *bool
	Scripting              *bool
	GuestAccess            *bool
	LiveQueryNotifications *bool
	Functions              *Targets
	NetworkTargets         *Targets
}

// Targets is an allow list and a deny list. A name is permitted when it is
// allowed and not denied.
type Targets struct {
	Allow *TargetList
	Deny  *TargetList
}

// TargetList is all names, no names, or an explicit set.
type TargetList struct {
	All   bool
	Items []string
}

// AllTargets matches everything.
func AllTargets() *TargetList { return &TargetList{All: true} }

// NoTargets matches nothing.
func NoTargets() *TargetList { return &TargetList{} }

// SomeTargets matches the given names.
func SomeTargets(items ...string) *TargetList { return &TargetList{Items: items} }

// Bool returns a pointer to b, for filling optional fields.
func Bool(b bool) *bool { return &b }

// Matches reports whether name is covered by the list, using match to test
// each item against name.
func (l *TargetList) Matches(name string, match func(item, name string) bool) bool {
	if l == nil {
		return false
	}
	if l.All {
		return true
	}
	for _, item := range l.Items {
		if match(item, name) {
			return true
		}
	}
	return false
}

// Permits reports whether name is allowed and not denied. A nil Targets
// defers to def.
func (t *Targets) Permits(name string, def bool, match func(item, name string) bool) bool {
	if t == nil {
		return def
	}
	allowed := def
	if t.Allow != nil {
		allowed = t.Allow.Matches(name, match)
	}
	if t.Deny != nil && t.Deny.Matches(name, match) {
		return false
	}
	return allowed
}

// MatchFunction reports whether a function target covers a function name.
// A target is either a family ("string") or a full name ("string::len").
func MatchFunction(item, name string) bool {
	return item == name || strings.HasPrefix(name, item+"::")
}

// MatchNetwork reports whether a network target covers host or host:port.
func MatchNetwork(item, target string) bool {
	if item == target {
		return true
	}
	host := target
	if h, _, err := net.SplitHostPort(target); err == nil {
		host = h
	}
	if item == host {
		return true
	}
	if _, cidr, err := net.ParseCIDR(item); err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return cidr.Contains(ip)
		}
	}
	return false
}

// Validate parses every target, the way the engine does when it applies the
// capabilities.
func (c *Capabilities) Validate() error {
	var errs []error
	check := func(field string, t *Targets, valid func(string) error) {
		if t == nil {
			return
		}
		for _, l := range []*TargetList{t.Allow, t.Deny} {
			if l == nil {
				continue
			}
			for _, item := range l.Items {
				if err := valid(item); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", field, err))
				}
			}
		}
	}
	check("functions", c.Functions, ValidateFunctionTarget)
	check("network_targets", c.NetworkTargets, ValidateNetworkTarget)
	return errors.Join(errs...)
}

// ValidateFunctionTarget accepts "family" or "family::name[::...]".
func ValidateFunctionTarget(s string) error {
	if s == "" {
		return errors.New("empty function target")
	}
	for _, part := range strings.Split(s, "::") {
		if !isIdent(part) {
			return fmt.Errorf("invalid function target %q", s)
		}
	}
	return nil
}

// ValidateNetworkTarget accepts a host, host:port, IP address or CIDR range.
func ValidateNetworkTarget(s string) error {
	if s == "" {
		return errors.New("empty network target")
	}
	if _, _, err := net.ParseCIDR(s); err == nil {
		return nil
	}
	if net.ParseIP(s) != nil {
		return nil
	}
	host := s
	if h, port, err := net.SplitHostPort(s); err == nil {
		if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
			return fmt.Errorf("invalid port in network target %q", s)
		}
		host = h
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || strings.Trim(label, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-") != "" {
			return fmt.Errorf("invalid network target %q", s)
		}
	}
	return nil
}

// UnmarshalYAML accepts a bool or a map of toggles.
func (c *Capabilities) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var b bool
		if err := value.Decode(&b); err != nil {
			return fmt.Errorf("capabilities: %w", err)
		}
		*c = Capabilities{All: &b}
		return nil
	}
	var raw struct {
		Scripting              *bool    `yaml:"scripting"`
		GuestAccess            *bool    `yaml:"guest_access"`
		LiveQueryNotifications *bool    `yaml:"live_query_notifications"`
		Functions              *Targets `yaml:"functions"`
		NetworkTargets         *Targets `yaml:"network_targets"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*c = Capabilities{
		Scripting:              raw.Scripting,
		GuestAccess:            raw.GuestAccess,
		LiveQueryNotifications: raw.LiveQueryNotifications,
		Functions:              raw.Functions,
		NetworkTargets:         raw.NetworkTargets,
	}
	return nil
}

// UnmarshalYAML accepts a bool, a list of names or {allow, deny}.
func (t *Targets) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		l, err := decodeTargetList(value)
		if err != nil {
			return err
		}
		*t = Targets{Allow: l}
		return nil
	}
	var raw struct {
		Allow yaml.Node `yaml:"allow"`
		Deny  yaml.Node `yaml:"deny"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	var out Targets
	if raw.Allow.Kind != 0 {
		l, err := decodeTargetList(&raw.Allow)
		if err != nil {
			return fmt.Errorf("allow: %w", err)
		}
		out.Allow = l
	}
	if raw.Deny.Kind != 0 {
		l, err := decodeTargetList(&raw.Deny)
		if err != nil {
			return fmt.Errorf("deny: %w", err)
		}
		out.Deny = l
	}
	*t = out
	return nil
}

func decodeTargetList(value *yaml.Node) (*TargetList, error) {
	switch value.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := value.Decode(&b); err != nil {
			return nil, fmt.Errorf("expected bool or list: %w", err)
		}
		if b {
			return AllTargets(), nil
		}
		return NoTargets(), nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return nil, err
		}
		return SomeTargets(items...), nil
	}
	return nil, fmt.Errorf("expected bool or list, got %s", value.Tag)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
