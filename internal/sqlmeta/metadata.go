// Package sqlmeta introspects relational data sources and infers the
// foreign keys behind configured relationships.
//
// Objects live in an arena keyed by entity name. Relationship metadata
// refers to other objects by entity name and TableRef, never by pointer.
package sqlmeta

import (
	"strings"

	"datagate/internal/config"
	"datagate/internal/odata"
)

// Column is one column of a database object.
type Column struct {
	Name          string // backing name
	Exposed       string
	DataType      string
	Kind          odata.Kind
	Nullable      bool
	HasDefault    bool
	AutoGenerated bool
}

// RelationshipPair orders two objects: the referencing one holds the
// foreign key columns pointing at the referenced one.
type RelationshipPair struct {
	ReferencingEntity string
	ReferencingTable  TableRef
	ReferencedEntity  string
	ReferencedTable   TableRef
}

// ForeignKeyDefinition is one possible direction of a relationship. The
// entity strings of a linking object pair hold the linking object name.
type ForeignKeyDefinition struct {
	Pair               RelationshipPair
	ReferencingColumns []string
	ReferencedColumns  []string
	// Inferred is set when a database constraint confirmed the definition.
	Inferred bool
}

// RelationshipMetadata is keyed by target entity on the source object.
type RelationshipMetadata struct {
	TargetEntity string
	ForeignKeys  []ForeignKeyDefinition
}

// DatabaseObject is the introspected shape of one entity's source.
type DatabaseObject struct {
	Entity        string
	Table         TableRef
	SourceType    config.SourceType
	Columns       []Column
	PrimaryKey    []string // backing names
	Parameters    []ParameterInfo
	Relationships map[string]*RelationshipMetadata
	// Schemaless objects accept any field name; documents carry no fixed
	// column set.
	Schemaless bool

	byBacking map[string]int
	byExposed map[string]int
}

// NewObject assembles an object from known columns, e.g. for a data
// source that is not introspected.
func NewObject(entity string, table TableRef, sourceType config.SourceType, cols []Column, pk []string) *DatabaseObject {
	o := &DatabaseObject{
		Entity:        entity,
		Table:         table,
		SourceType:    sourceType,
		Columns:       cols,
		PrimaryKey:    pk,
		Relationships: map[string]*RelationshipMetadata{},
	}
	o.index()
	return o
}

// NewDocumentContainer describes a document container whose items are
// keyed by id. A missing id is generated on insert.
func NewDocumentContainer(entity, container string) *DatabaseObject {
	o := NewObject(entity, TableRef{Name: container}, config.Table,
		[]Column{{Name: "id", Exposed: "id", DataType: "string", Kind: odata.KindString, HasDefault: true}}, []string{"id"})
	o.Schemaless = true
	return o
}

func (o *DatabaseObject) index() {
	o.byBacking = make(map[string]int, len(o.Columns))
	o.byExposed = make(map[string]int, len(o.Columns))
	for i, c := range o.Columns {
		o.byBacking[c.Name] = i
		o.byExposed[c.Exposed] = i
	}
}

// Column looks a column up by backing name.
func (o *DatabaseObject) Column(backing string) (Column, bool) {
	i, ok := o.byBacking[backing]
	if !ok {
		return Column{}, false
	}
	return o.Columns[i], true
}

// Field looks a column up by exposed name.
func (o *DatabaseObject) Field(exposed string) (Column, bool) {
	i, ok := o.byExposed[exposed]
	if !ok {
		if o.Schemaless && exposed != "" {
			return Column{Name: exposed, Exposed: exposed, Nullable: true}, true
		}
		return Column{}, false
	}
	return o.Columns[i], true
}

// ExposedFields lists exposed names in column order.
func (o *DatabaseObject) ExposedFields() []string {
	out := make([]string, len(o.Columns))
	for i, c := range o.Columns {
		out[i] = c.Exposed
	}
	return out
}

// PrimaryKeyFields lists the primary key by exposed name.
func (o *DatabaseObject) PrimaryKeyFields() []string {
	out := make([]string, 0, len(o.PrimaryKey))
	for _, b := range o.PrimaryKey {
		if c, ok := o.Column(b); ok {
			out = append(out, c.Exposed)
		}
	}
	return out
}

// ODataColumns is the column map filters are translated against.
func (o *DatabaseObject) ODataColumns() map[string]odata.Column {
	if o.Schemaless {
		return nil
	}
	out := make(map[string]odata.Column, len(o.Columns))
	for _, c := range o.Columns {
		out[c.Exposed] = odata.Column{Backing: c.Name, Kind: c.Kind}
	}
	return out
}

// sameTable compares two refs, ignoring the schema when either side lacks
// one (MySQL reports the database name where the config has none).
func sameTable(a, b TableRef) bool {
	if !strings.EqualFold(a.Name, b.Name) {
		return false
	}
	return a.Schema == "" || b.Schema == "" || strings.EqualFold(a.Schema, b.Schema)
}
