package sqlmeta

import (
	"context"
	"slices"
	"strings"

	"datagate/internal/apierr"
	"datagate/internal/config"
)

func (p *Provider) foreignKeys(ctx context.Context, t TableRef) ([]ForeignKeyInfo, error) {
	if fks, ok := p.fks[t]; ok {
		return fks, nil
	}
	fks, err := p.reader.ForeignKeys(ctx, t)
	if err != nil {
		return nil, apierr.Wrap(err, apierr.ErrorInInitialization, "Cannot read foreign keys of %s.", t)
	}
	p.fks[t] = fks
	return fks, nil
}

// columnsMatch reports whether configured is empty or names the same
// columns as actual, in order.
func columnsMatch(actual, configured []string) bool {
	if len(configured) == 0 {
		return true
	}
	return slices.EqualFunc(actual, configured, strings.EqualFold)
}

func (p *Provider) addDefinition(source, target string, def ForeignKeyDefinition) {
	obj := p.objects[source]
	rm := obj.Relationships[target]
	if rm == nil {
		rm = &RelationshipMetadata{TargetEntity: target}
		obj.Relationships[target] = rm
	}
	for _, existing := range rm.ForeignKeys {
		if existing.Pair == def.Pair &&
			slices.Equal(existing.ReferencingColumns, def.ReferencingColumns) &&
			slices.Equal(existing.ReferencedColumns, def.ReferencedColumns) {
			return
		}
	}
	rm.ForeignKeys = append(rm.ForeignKeys, def)
}

func (p *Provider) inferRelationship(ctx context.Context, source string, rel config.Relationship) error {
	target := rel.TargetEntity
	src := p.objects[source]
	tgt, ok := p.objects[target]
	if !ok || src.SourceType == config.StoredProcedure || tgt.SourceType == config.StoredProcedure {
		// cross data source and procedure relationships are rejected by validation
		return nil
	}
	if rel.LinkingObject != "" {
		return p.inferLinking(ctx, source, src, target, tgt, rel)
	}

	srcFKs, err := p.foreignKeys(ctx, src.Table)
	if err != nil {
		return err
	}
	tgtFKs, err := p.foreignKeys(ctx, tgt.Table)
	if err != nil {
		return err
	}
	found := false
	for _, fk := range srcFKs {
		if sameTable(fk.Referenced, tgt.Table) &&
			columnsMatch(fk.ReferencingColumns, rel.SourceFields) &&
			columnsMatch(fk.ReferencedColumns, rel.TargetFields) {
			p.addDefinition(source, target, ForeignKeyDefinition{
				Pair:               RelationshipPair{source, src.Table, target, tgt.Table},
				ReferencingColumns: fk.ReferencingColumns,
				ReferencedColumns:  fk.ReferencedColumns,
				Inferred:           true,
			})
			found = true
		}
	}
	for _, fk := range tgtFKs {
		if sameTable(fk.Referenced, src.Table) &&
			columnsMatch(fk.ReferencingColumns, rel.TargetFields) &&
			columnsMatch(fk.ReferencedColumns, rel.SourceFields) {
			p.addDefinition(source, target, ForeignKeyDefinition{
				Pair:               RelationshipPair{target, tgt.Table, source, src.Table},
				ReferencingColumns: fk.ReferencingColumns,
				ReferencedColumns:  fk.ReferencedColumns,
				Inferred:           true,
			})
			found = true
		}
	}
	if found {
		return nil
	}

	srcFields := backingFields(p.entities[source], rel.SourceFields)
	tgtFields := backingFields(p.entities[target], rel.TargetFields)
	switch {
	case len(srcFields) > 0 && len(tgtFields) > 0:
		if len(srcFields) != len(tgtFields) {
			return apierr.New(apierr.ConfigValidationError,
				"The relationship between entities: %s and %s has mismatched source and target field counts.", source, target)
		}
		// no constraint: either side may turn out to be referencing
		p.addDefinition(source, target, ForeignKeyDefinition{
			Pair:               RelationshipPair{source, src.Table, target, tgt.Table},
			ReferencingColumns: srcFields,
			ReferencedColumns:  tgtFields,
		})
		p.addDefinition(source, target, ForeignKeyDefinition{
			Pair:               RelationshipPair{target, tgt.Table, source, src.Table},
			ReferencingColumns: tgtFields,
			ReferencedColumns:  srcFields,
		})
	case len(srcFields) > 0 && len(srcFields) == len(tgt.PrimaryKey):
		p.addDefinition(source, target, ForeignKeyDefinition{
			Pair:               RelationshipPair{source, src.Table, target, tgt.Table},
			ReferencingColumns: srcFields,
			ReferencedColumns:  slices.Clone(tgt.PrimaryKey),
		})
	case len(tgtFields) > 0 && len(tgtFields) == len(src.PrimaryKey):
		p.addDefinition(source, target, ForeignKeyDefinition{
			Pair:               RelationshipPair{target, tgt.Table, source, src.Table},
			ReferencingColumns: tgtFields,
			ReferencedColumns:  slices.Clone(src.PrimaryKey),
		})
	default:
		return apierr.New(apierr.ConfigValidationError,
			"Could not find relationship between entities: %s and %s.", source, target)
	}
	return nil
}

func (p *Provider) inferLinking(ctx context.Context, source string, src *DatabaseObject, target string, tgt *DatabaseObject, rel config.Relationship) error {
	link := p.tableRef(rel.LinkingObject)
	linkFKs, err := p.foreignKeys(ctx, link)
	if err != nil {
		return err
	}
	srcDef, err := linkDefinition(rel.LinkingObject, link, source, src, rel.LinkingSourceFields,
		backingFields(p.entities[source], rel.SourceFields), linkFKs, "")
	if err != nil {
		return err
	}
	used := ""
	if srcDef.Inferred && sameTable(src.Table, tgt.Table) {
		used = strings.Join(srcDef.ReferencingColumns, ",")
	}
	tgtDef, err := linkDefinition(rel.LinkingObject, link, target, tgt, rel.LinkingTargetFields,
		backingFields(p.entities[target], rel.TargetFields), linkFKs, used)
	if err != nil {
		return err
	}
	p.addDefinition(source, target, srcDef)
	p.addDefinition(source, target, tgtDef)
	return nil
}

// linkDefinition pairs the linking object with one side. skip excludes a
// constraint already claimed by the other side of a self relationship.
func linkDefinition(linkName string, link TableRef, entity string, obj *DatabaseObject,
	linkingFields, entityFields []string, linkFKs []ForeignKeyInfo, skip string) (ForeignKeyDefinition, error) {
	pair := RelationshipPair{linkName, link, entity, obj.Table}
	for _, fk := range linkFKs {
		if skip != "" && strings.Join(fk.ReferencingColumns, ",") == skip {
			continue
		}
		if sameTable(fk.Referenced, obj.Table) &&
			columnsMatch(fk.ReferencingColumns, linkingFields) &&
			columnsMatch(fk.ReferencedColumns, entityFields) {
			return ForeignKeyDefinition{
				Pair:               pair,
				ReferencingColumns: fk.ReferencingColumns,
				ReferencedColumns:  fk.ReferencedColumns,
				Inferred:           true,
			}, nil
		}
	}
	if len(linkingFields) > 0 {
		referenced := entityFields
		if len(referenced) == 0 {
			referenced = obj.PrimaryKey
		}
		if len(referenced) == len(linkingFields) {
			return ForeignKeyDefinition{
				Pair:               pair,
				ReferencingColumns: slices.Clone(linkingFields),
				ReferencedColumns:  slices.Clone(referenced),
			}, nil
		}
	}
	return ForeignKeyDefinition{}, apierr.New(apierr.ConfigValidationError,
		"Could not find relationship between Linking Object: %s and entity: %s.", linkName, entity)
}

// backingFields maps configured relationship fields, which may use exposed
// names, onto backing columns.
func backingFields(e config.Entity, fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = e.BackingName(f)
	}
	return out
}

// ReferencingEntity returns the entity holding the foreign key of the
// relationship from source to target. Undetermined pairs are resolved from
// the request payloads: the side that can supply every relationship value
// itself is referenced, the other one references it.
func (p *Provider) ReferencingEntity(source, target string, sourceBody, targetBody map[string]any) (string, error) {
	src, ok := p.objects[source]
	if !ok {
		return "", apierr.New(apierr.EntityNotFound, "The entity %s was not found.", source)
	}
	tgt, ok := p.objects[target]
	if !ok {
		return "", apierr.New(apierr.EntityNotFound, "The entity %s was not found.", target)
	}
	return ReferencingEntity(src, tgt, sourceBody, targetBody)
}

// ReferencingEntity is Provider.ReferencingEntity for objects at hand.
func ReferencingEntity(src, tgt *DatabaseObject, sourceBody, targetBody map[string]any) (string, error) {
	source, target := src.Entity, tgt.Entity
	rm := src.Relationships[target]
	if rm == nil || len(rm.ForeignKeys) == 0 {
		return "", apierr.New(apierr.RelationshipNotFound,
			"Could not find relationship between entities: %s and %s.", source, target)
	}
	referencing := map[string]bool{}
	for _, fk := range rm.ForeignKeys {
		referencing[fk.Pair.ReferencingEntity] = true
	}
	if len(referencing) == 1 {
		return rm.ForeignKeys[0].Pair.ReferencingEntity, nil
	}
	if !referencing[source] || !referencing[target] {
		// linking object: it references both sides
		for name := range referencing {
			if name != source && name != target {
				return name, nil
			}
		}
	}

	var def ForeignKeyDefinition
	for _, fk := range rm.ForeignKeys {
		if fk.Pair.ReferencingEntity == source {
			def = fk
			break
		}
	}
	srcContains, srcCan := supplies(src, def.ReferencingColumns, sourceBody)
	tgtContains, tgtCan := supplies(tgt, def.ReferencedColumns, targetBody)
	switch {
	case srcContains && tgtContains:
		return "", apierr.New(apierr.BadRequest,
			"The relationship fields can be present in either source entity: %s or target entity: %s, but not both.", source, target)
	case srcCan && tgtCan:
		return "", apierr.New(apierr.BadRequest,
			"Both source entity: %s and target entity: %s can provide values for all the relationship fields, so the referencing entity cannot be determined.", source, target)
	case !srcCan && !tgtCan:
		return "", apierr.New(apierr.BadRequest,
			"Neither source entity: %s nor target entity: %s provides values for all the relationship fields.", source, target)
	case srcCan:
		return target, nil
	default:
		return source, nil
	}
}

// supplies reports whether body holds any of cols, and whether every col
// is either present or generated by the database.
func supplies(obj *DatabaseObject, cols []string, body map[string]any) (contains, all bool) {
	all = true
	for _, c := range cols {
		col, ok := obj.Column(c)
		if !ok {
			all = false
			continue
		}
		if _, present := body[col.Exposed]; present {
			contains = true
			continue
		}
		if !col.AutoGenerated {
			all = false
		}
	}
	return contains, all
}
