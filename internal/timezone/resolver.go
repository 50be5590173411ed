// Package timezone maps legacy and Windows zone names onto IANA identifiers.
package timezone

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table maps a legacy zone name to its IANA identifier.
type Table map[string]string

// Merge returns a copy of t with the entries of other added on top.
func (t Table) Merge(other Table) Table {
	out := make(Table, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// LoadTable reads a YAML mapping of legacy names to IANA ids.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timezone table: %w", err)
	}
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse timezone table %s: %w", path, err)
	}
	return table, nil
}

// Resolver normalizes zone names. The zero value and a nil *Resolver pass
// every name through unchanged.
type Resolver struct {
	table Table
}

// New returns a Resolver over table. Use DefaultTable for the built-in mapping.
func New(table Table) *Resolver {
	return &Resolver{table: table}
}

// Resolve returns name unchanged when it already looks like an IANA id
// (contains "/"), the mapped id when name is in the table, and name otherwise.
func (r *Resolver) Resolve(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "/") || r == nil {
		return name
	}
	if iana, ok := r.table[name]; ok {
		return iana
	}
	return name
}
