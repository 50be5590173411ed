package timezone

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	r := New(DefaultTable())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"windows name", "GMT Standard Time", "Europe/London"},
		{"iana passthrough", "Europe/Madrid", "Europe/Madrid"},
		{"unknown passthrough", "Mars Standard Time", "Mars Standard Time"},
		{"empty", "", ""},
		{"whitespace trimmed", " Romance Standard Time ", "Europe/Paris"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.in))
		})
	}
}

func TestNilResolverPassesThrough(t *testing.T) {
	var r *Resolver
	assert.Equal(t, "GMT Standard Time", r.Resolve("GMT Standard Time"))
}

func TestLoadTableMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Office Time: Europe/Dublin\nGMT Standard Time: Europe/Jersey\n"), 0o644))

	extra, err := LoadTable(path)
	require.NoError(t, err)

	r := New(DefaultTable().Merge(extra))
	assert.Equal(t, "Europe/Dublin", r.Resolve("Office Time"))
	assert.Equal(t, "Europe/Jersey", r.Resolve("GMT Standard Time"))
	assert.Equal(t, "Asia/Tokyo", r.Resolve("Tokyo Standard Time"))
}

func TestLoadTableMissingFile(t *testing.T) {
	_, err := LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
