// Package schema defines the canonical tables every source is
// normalized into. The catalog is embedded so the transform, glue, and
// load stages all work from the same declaration.
package schema

import (
	_ "embed"
	"fmt"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var catalogYAML []byte

// Kind enumerates canonical column types.
type Kind string

const (
	KindInteger  Kind = "integer"
	KindDecimal  Kind = "decimal"
	KindText     Kind = "text"
	KindDate     Kind = "date"
	KindBool     Kind = "bool"
	KindCategory Kind = "category"
)

func (k Kind) valid() bool {
	switch k {
	case KindInteger, KindDecimal, KindText, KindDate, KindBool, KindCategory:
		return true
	}
	return false
}

// Column describes one canonical column.
type Column struct {
	Name     string `yaml:"name"`
	Kind     Kind   `yaml:"kind"`
	Required bool   `yaml:"required"`
	// Scale is the number of fractional digits kept on a decimal
	// column; coercion rounds values to it.
	Scale int      `yaml:"scale"`
	Enum  []string `yaml:"enum"`
	Unit  string   `yaml:"unit"`
}

// InEnum reports whether v is a member of a category column's value set.
func (c Column) InEnum(v string) bool {
	return slices.Contains(c.Enum, v)
}

// ForeignKey declares a compound reference to another canonical table.
// Rows carrying NULL in any referencing column are exempt from the
// check.
type ForeignKey struct {
	Columns    []string `yaml:"columns"`
	RefTable   string   `yaml:"ref_table"`
	RefColumns []string `yaml:"ref_columns"`
}

// Entity annotates a source table whose rows are occurrences of a
// shared entity kind. IDColumns form the native identifier, Column is
// the nullable canonical id filled in by resolution, and NameColumn
// plus JurisdictionColumn are the match keys. Attributes maps entity
// table columns to the columns here that feed them.
type Entity struct {
	Kind               string            `yaml:"kind"`
	IDColumns          []string          `yaml:"id_columns"`
	Column             string            `yaml:"column"`
	NameColumn         string            `yaml:"name_column"`
	JurisdictionColumn string            `yaml:"jurisdiction_column"`
	Attributes         map[string]string `yaml:"attributes"`
}

// Table is one canonical output table.
type Table struct {
	Name            string       `yaml:"name"`
	Source          string       `yaml:"source"`
	EntityKind      string       `yaml:"entity_kind"`
	Columns         []Column     `yaml:"columns"`
	NaturalKey      []string     `yaml:"natural_key"`
	PartitionColumn string       `yaml:"partition_column"`
	ForeignKeys     []ForeignKey `yaml:"foreign_keys"`
	Entity          *Entity      `yaml:"entity"`
}

// Column returns the named column declaration.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table declares name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// IsEntity reports whether the table is the canonical home of an
// entity kind rather than a source table.
func (t *Table) IsEntity() bool {
	return t.EntityKind != ""
}

// Catalog is the parsed and validated table catalog.
type Catalog struct {
	Version string
	// Anchors names the source whose occurrences seed each entity
	// kind during resolution.
	Anchors map[string]string

	tables []*Table
	byName map[string]*Table
	byKind map[string]*Table
}

// Load parses and validates the embedded catalog.
func Load() (*Catalog, error) {
	return load(catalogYAML)
}

func load(raw []byte) (*Catalog, error) {
	var doc struct {
		Version string            `yaml:"version"`
		Anchors map[string]string `yaml:"anchors"`
		Tables  []*Table          `yaml:"tables"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing table catalog: %w", err)
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("table catalog has no version")
	}
	c := &Catalog{
		Version: doc.Version,
		Anchors: doc.Anchors,
		tables:  doc.Tables,
		byName:  make(map[string]*Table, len(doc.Tables)),
		byKind:  make(map[string]*Table),
	}
	for _, t := range c.tables {
		if t.Name == "" {
			return nil, fmt.Errorf("table catalog contains an unnamed table")
		}
		if _, ok := c.byName[t.Name]; ok {
			return nil, fmt.Errorf("table %s declared twice", t.Name)
		}
		c.byName[t.Name] = t
		if t.EntityKind != "" {
			if prev, ok := c.byKind[t.EntityKind]; ok {
				return nil, fmt.Errorf("entity kind %s claimed by both %s and %s", t.EntityKind, prev.Name, t.Name)
			}
			c.byKind[t.EntityKind] = t
		}
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Tables returns every table in declaration order.
func (c *Catalog) Tables() []*Table {
	return c.tables
}

// Table returns the named table.
func (c *Catalog) Table(name string) (*Table, error) {
	t, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown canonical table %q", name)
	}
	return t, nil
}

// SourceTables returns the tables fed by one source, in declaration
// order.
func (c *Catalog) SourceTables(source string) []*Table {
	var out []*Table
	for _, t := range c.tables {
		if t.Source == source {
			out = append(out, t)
		}
	}
	return out
}

// Sources returns the distinct source ids feeding the catalog, sorted.
func (c *Catalog) Sources() []string {
	seen := make(map[string]bool)
	for _, t := range c.tables {
		if t.Source != "" {
			seen[t.Source] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Annotated returns the tables carrying an entity annotation, in
// declaration order.
func (c *Catalog) Annotated() []*Table {
	var out []*Table
	for _, t := range c.tables {
		if t.Entity != nil {
			out = append(out, t)
		}
	}
	return out
}

// EntityTable returns the canonical table for an entity kind.
func (c *Catalog) EntityTable(kind string) (*Table, error) {
	t, ok := c.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("no entity table for kind %q", kind)
	}
	return t, nil
}

// Anchor returns the anchor source for an entity kind.
func (c *Catalog) Anchor(kind string) string {
	return c.Anchors[kind]
}

func (c *Catalog) validate() error {
	for _, t := range c.tables {
		if err := c.validateTable(t); err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
	}
	for kind := range c.Anchors {
		if _, ok := c.byKind[kind]; !ok {
			return fmt.Errorf("anchor declared for unknown entity kind %q", kind)
		}
	}
	for kind := range c.byKind {
		if c.Anchors[kind] == "" {
			return fmt.Errorf("entity kind %s has no anchor source", kind)
		}
	}
	return nil
}

func (c *Catalog) validateTable(t *Table) error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("no columns")
	}
	if t.Source != "" && t.EntityKind != "" {
		return fmt.Errorf("cannot be both a source table and an entity table")
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, col := range t.Columns {
		if col.Name == "" {
			return fmt.Errorf("unnamed column")
		}
		if seen[col.Name] {
			return fmt.Errorf("column %s declared twice", col.Name)
		}
		seen[col.Name] = true
		if !col.Kind.valid() {
			return fmt.Errorf("column %s: unknown kind %q", col.Name, col.Kind)
		}
		if col.Kind == KindCategory && len(col.Enum) == 0 {
			return fmt.Errorf("column %s: category without enum values", col.Name)
		}
		if col.Kind != KindCategory && len(col.Enum) > 0 {
			return fmt.Errorf("column %s: enum values on non-category kind %s", col.Name, col.Kind)
		}
		if col.Scale < 0 {
			return fmt.Errorf("column %s: negative scale", col.Name)
		}
		if col.Kind != KindDecimal && col.Scale != 0 {
			return fmt.Errorf("column %s: scale on non-decimal kind %s", col.Name, col.Kind)
		}
	}
	if len(t.NaturalKey) == 0 {
		return fmt.Errorf("no natural key")
	}
	for _, name := range t.NaturalKey {
		col, ok := t.Column(name)
		if !ok {
			return fmt.Errorf("natural key column %s not declared", name)
		}
		if !col.Required {
			return fmt.Errorf("natural key column %s must be required", name)
		}
	}
	if t.PartitionColumn != "" {
		col, ok := t.Column(t.PartitionColumn)
		if !ok {
			return fmt.Errorf("partition column %s not declared", t.PartitionColumn)
		}
		if col.Kind != KindInteger {
			return fmt.Errorf("partition column %s must be an integer", t.PartitionColumn)
		}
	}
	for _, fk := range t.ForeignKeys {
		if err := c.validateForeignKey(t, fk); err != nil {
			return err
		}
	}
	if t.Entity != nil {
		if err := c.validateEntity(t, t.Entity); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) validateForeignKey(t *Table, fk ForeignKey) error {
	if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) {
		return fmt.Errorf("foreign key to %s: column count mismatch", fk.RefTable)
	}
	ref, ok := c.byName[fk.RefTable]
	if !ok {
		return fmt.Errorf("foreign key references unknown table %s", fk.RefTable)
	}
	for _, name := range fk.Columns {
		if !t.HasColumn(name) {
			return fmt.Errorf("foreign key column %s not declared", name)
		}
	}
	for _, name := range fk.RefColumns {
		if !ref.HasColumn(name) {
			return fmt.Errorf("foreign key target column %s.%s not declared", fk.RefTable, name)
		}
	}
	return nil
}

func (c *Catalog) validateEntity(t *Table, e *Entity) error {
	if t.Source == "" {
		return fmt.Errorf("entity annotation on non-source table")
	}
	ent, ok := c.byKind[e.Kind]
	if !ok {
		return fmt.Errorf("entity annotation names unknown kind %q", e.Kind)
	}
	if len(e.IDColumns) == 0 {
		return fmt.Errorf("entity annotation has no id columns")
	}
	for _, name := range e.IDColumns {
		if !t.HasColumn(name) {
			return fmt.Errorf("entity id column %s not declared", name)
		}
	}
	col, ok := t.Column(e.Column)
	if !ok {
		return fmt.Errorf("entity column %s not declared", e.Column)
	}
	if col.Kind != KindInteger || col.Required {
		return fmt.Errorf("entity column %s must be a nullable integer", e.Column)
	}
	if name, ok := t.Column(e.NameColumn); !ok || name.Kind != KindText {
		return fmt.Errorf("entity name column %s must be a text column", e.NameColumn)
	}
	if e.JurisdictionColumn != "" && !t.HasColumn(e.JurisdictionColumn) {
		return fmt.Errorf("entity jurisdiction column %s not declared", e.JurisdictionColumn)
	}
	for entCol, srcCol := range e.Attributes {
		if !ent.HasColumn(entCol) {
			return fmt.Errorf("entity attribute %s not declared on %s", entCol, ent.Name)
		}
		if !t.HasColumn(srcCol) {
			return fmt.Errorf("entity attribute source column %s not declared", srcCol)
		}
	}
	return nil
}
