package opt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// YAML decoding
// =============================================================================

func TestOptions_UnmarshalYAML_Full(t *testing.T) {
	t.Parallel()

	src := `
strict: true
query_timeout: 5
transaction_timeout: 1m30s
capabilities:
  guest_access: false
  functions:
    allow: [string, math::abs]
    deny: [crypto]
  network_targets: ["example.com:443", "10.0.0.0/8"]
`
	var o Options
	require.NoError(t, yaml.Unmarshal([]byte(src), &o))

	assert.True(t, o.Strict)
	assert.Equal(t, 5*time.Second, o.QueryTimeout)
	assert.Equal(t, 90*time.Second, o.TransactionTimeout)
	require.NotNil(t, o.Capabilities)
	require.NotNil(t, o.Capabilities.GuestAccess)
	assert.False(t, *o.Capabilities.GuestAccess)
	assert.Equal(t, []string{"string", "math::abs"}, o.Capabilities.Functions.Allow.Items)
	assert.Equal(t, []string{"crypto"}, o.Capabilities.Functions.Deny.Items)
	assert.Nil(t, o.Capabilities.NetworkTargets.Deny)
	assert.NoError(t, o.Validate())
}

func TestCapabilities_UnmarshalYAML_Bool(t *testing.T) {
	t.Parallel()

	var o Options
	require.NoError(t, yaml.Unmarshal([]byte("capabilities: true"), &o))
	require.NotNil(t, o.Capabilities.All)
	assert.True(t, *o.Capabilities.All)
}

func TestTargets_UnmarshalYAML_Bool(t *testing.T) {
	t.Parallel()

	var c Capabilities
	require.NoError(t, yaml.Unmarshal([]byte("functions: false"), &c))
	assert.False(t, c.Functions.Allow.All)
	assert.Empty(t, c.Functions.Allow.Items)
	assert.False(t, c.Functions.Permits("string::len", true, MatchFunction))
}

func TestParseTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"2", 2 * time.Second, false},
		{"0.5", 500 * time.Millisecond, false},
		{"250ms", 250 * time.Millisecond, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTimeout(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

// =============================================================================
// Matching and validation
// =============================================================================

func TestTargets_Permits_DenyWins(t *testing.T) {
	t.Parallel()

	targets := &Targets{Allow: AllTargets(), Deny: SomeTargets("crypto::bcrypt")}
	assert.True(t, targets.Permits("string::len", false, MatchFunction))
	assert.True(t, targets.Permits("crypto::argon2::generate", false, MatchFunction))
	assert.False(t, targets.Permits("crypto::bcrypt::generate", true, MatchFunction))
}

func TestTargets_Permits_NilUsesDefault(t *testing.T) {
	t.Parallel()

	var targets *Targets
	assert.True(t, targets.Permits("x", true, MatchFunction))
	assert.False(t, targets.Permits("x", false, MatchFunction))
}

func TestMatchNetwork(t *testing.T) {
	t.Parallel()

	assert.True(t, MatchNetwork("example.com", "example.com:443"))
	assert.True(t, MatchNetwork("example.com:443", "example.com:443"))
	assert.False(t, MatchNetwork("example.com:80", "example.com:443"))
	assert.True(t, MatchNetwork("10.0.0.0/8", "10.1.2.3"))
	assert.False(t, MatchNetwork("10.0.0.0/8", "192.168.0.1:80"))
}

func TestCapabilities_Validate_InvalidTargets(t *testing.T) {
	t.Parallel()

	c := &Capabilities{
		Functions:      &Targets{Allow: SomeTargets("string", "bad name")},
		NetworkTargets: &Targets{Deny: SomeTargets("host:99999", "")},
	}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "functions")
	assert.Contains(t, err.Error(), "network_targets")
}

func TestValidateNetworkTarget(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"localhost", "example.com:8000", "127.0.0.1", "::1", "10.0.0.0/8"} {
		assert.NoError(t, ValidateNetworkTarget(ok), ok)
	}
	for _, bad := range []string{"", "exa mple.com", "host:0", "a..b"} {
		assert.Error(t, ValidateNetworkTarget(bad), bad)
	}
}

// =============================================================================
// Export options
// =============================================================================

func TestExportOptions_MapRoundTrip(t *testing.T) {
	t.Parallel()

	in := ExportOptions{Users: false, Accesses: true, Records: true, Tables: SomeTargets("person")}
	out, err := ExportOptionsFromMap(in.Map())
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.True(t, out.IncludesTable("person"))
	assert.False(t, out.IncludesTable("post"))
}

func TestExportOptionsFromMap_Defaults(t *testing.T) {
	t.Parallel()

	out, err := ExportOptionsFromMap(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultExportOptions(), out)

	_, err = ExportOptionsFromMap(map[string]any{"users": "yes"})
	assert.Error(t, err)
}
