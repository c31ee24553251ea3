// Package schema describes the tables and columns the chat pipeline may query.
//
// A Registry is loaded once at startup and is read-only afterwards. It grounds the
// prompts sent to the language model and backs the identifier checks of the guard.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrInvalid marks a descriptor that cannot be served.
var ErrInvalid = errors.New("schema: invalid descriptor")

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

//go:embed f1.yaml
var defaultDescriptor []byte

type Column struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type Table struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Source      string   `yaml:"source,omitempty" json:"source,omitempty"`
	Columns     []Column `yaml:"columns" json:"columns"`
}

type Descriptor struct {
	Tables []Table `yaml:"tables" json:"tables"`
}

type Registry struct {
	descriptor Descriptor
	tables     map[string]map[string]struct{}
	columns    map[string]struct{}
}

// New validates d and builds the lookup indexes. Names are folded to lower case.
func New(d Descriptor) (*Registry, error) {
	if len(d.Tables) == 0 {
		return nil, fmt.Errorf("%w: no tables", ErrInvalid)
	}

	normalized := Descriptor{Tables: make([]Table, 0, len(d.Tables))}
	tables := make(map[string]map[string]struct{}, len(d.Tables))
	columns := map[string]struct{}{}
	for _, table := range d.Tables {
		name := strings.ToLower(strings.TrimSpace(table.Name))
		if !identPattern.MatchString(name) {
			return nil, fmt.Errorf("%w: table name %q", ErrInvalid, table.Name)
		}
		if _, dup := tables[name]; dup {
			return nil, fmt.Errorf("%w: duplicate table %q", ErrInvalid, name)
		}
		if len(table.Columns) == 0 {
			return nil, fmt.Errorf("%w: table %q has no columns", ErrInvalid, name)
		}

		colSet := make(map[string]struct{}, len(table.Columns))
		cols := make([]Column, 0, len(table.Columns))
		for _, column := range table.Columns {
			colName := strings.ToLower(strings.TrimSpace(column.Name))
			if !identPattern.MatchString(colName) {
				return nil, fmt.Errorf("%w: column name %q in table %q", ErrInvalid, column.Name, name)
			}
			if _, dup := colSet[colName]; dup {
				return nil, fmt.Errorf("%w: duplicate column %q in table %q", ErrInvalid, colName, name)
			}
			colSet[colName] = struct{}{}
			columns[colName] = struct{}{}
			cols = append(cols, Column{
				Name:        colName,
				Type:        strings.ToUpper(strings.TrimSpace(column.Type)),
				Description: strings.TrimSpace(column.Description),
			})
		}
		tables[name] = colSet
		normalized.Tables = append(normalized.Tables, Table{
			Name:        name,
			Description: strings.TrimSpace(table.Description),
			Source:      strings.TrimSpace(table.Source),
			Columns:     cols,
		})
	}

	return &Registry{descriptor: normalized, tables: tables, columns: columns}, nil
}

// Default returns the built-in F1 descriptor.
func Default() (*Registry, error) {
	return Parse(defaultDescriptor, FormatYAML)
}

func (r *Registry) Describe() Descriptor {
	out := Descriptor{Tables: make([]Table, len(r.descriptor.Tables))}
	for i, table := range r.descriptor.Tables {
		table.Columns = append([]Column(nil), table.Columns...)
		out.Tables[i] = table
	}
	return out
}

// AllTables returns the registered table names in sorted order.
func (r *Registry) AllTables() []string {
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ColumnsOf returns the sorted column names of table, or false when the table is unknown.
func (r *Registry) ColumnsOf(table string) ([]string, bool) {
	cols, ok := r.tables[strings.ToLower(table)]
	if !ok {
		return nil, false
	}
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, true
}

func (r *Registry) HasTable(table string) bool {
	_, ok := r.tables[strings.ToLower(table)]
	return ok
}

func (r *Registry) HasColumn(table, column string) bool {
	cols, ok := r.tables[strings.ToLower(table)]
	if !ok {
		return false
	}
	_, ok = cols[strings.ToLower(column)]
	return ok
}

// HasAnyColumn reports whether some registered table has the column.
func (r *Registry) HasAnyColumn(column string) bool {
	_, ok := r.columns[strings.ToLower(column)]
	return ok
}

// Prompt renders the descriptor in the compact form used in model prompts.
func (r *Registry) Prompt() string {
	var b strings.Builder
	for i, table := range r.descriptor.Tables {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("TABLE ")
		b.WriteString(table.Name)
		if table.Description != "" {
			b.WriteString(" -- ")
			b.WriteString(table.Description)
		}
		b.WriteByte('\n')
		for _, column := range table.Columns {
			b.WriteString("  ")
			b.WriteString(column.Name)
			b.WriteString(": ")
			b.WriteString(column.Type)
			if column.Description != "" {
				b.WriteString(" -- ")
				b.WriteString(column.Description)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
