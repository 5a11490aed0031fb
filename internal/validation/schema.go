package validation

import (
	"fmt"
	"sort"
	"strings"

	"datagate/internal/authz"
	"datagate/internal/config"
	"datagate/internal/sqlmeta"
)

// Objects yields the database object behind an entity.
type Objects interface {
	Object(entity string) (*sqlmeta.DatabaseObject, bool)
}

// CheckSchema validates the config against introspected objects: mapped
// columns, permission fields, policy fields and procedure parameters must
// all exist. Document containers have no fixed columns and are skipped.
func CheckSchema(cfg *config.RuntimeConfig, objects Objects) []Issue {
	var issues []Issue
	for _, name := range sortedEntities(cfg) {
		e := cfg.Entities[name]
		obj, ok := objects.Object(name)
		if !ok {
			issues = append(issues, Issue{Entity: name, Code: CodeSchemaMapping,
				Message: fmt.Sprintf("Entity %s has no database object.", name)})
			continue
		}
		if obj.Schemaless {
			continue
		}
		add := func(format string, args ...any) {
			issues = append(issues, Issue{Entity: name, Code: CodeSchemaMapping, Message: fmt.Sprintf(format, args...)})
		}

		backing := make([]string, 0, len(e.Mappings))
		for b := range e.Mappings {
			backing = append(backing, b)
		}
		sort.Strings(backing)
		for _, b := range backing {
			if _, ok := obj.Column(b); !ok {
				add("The column %s in mappings for entity %s does not exist in %s.", b, name, obj.Table)
			}
		}

		for _, p := range e.Permissions {
			for _, a := range p.Actions {
				if a.Fields != nil {
					for _, f := range append(append([]string(nil), a.Fields.Include...), a.Fields.Exclude...) {
						if f == "*" {
							continue
						}
						if _, ok := obj.Field(f); !ok {
							add("The field %s in the permissions of entity %s, role %s does not exist.", f, name, p.Role)
						}
					}
				}
				if !a.HasDatabasePolicy() {
					continue
				}
				for _, f := range authz.PolicyFields(a.Policy.Database) {
					if _, ok := obj.Field(f); !ok {
						add("The field %s referenced in the database policy of entity %s, role %s does not exist.", f, name, p.Role)
					}
				}
			}
		}

		if e.IsStoredProcedure() {
			params := make([]string, 0, len(e.Source.Parameters))
			for k := range e.Source.Parameters {
				params = append(params, k)
			}
			sort.Strings(params)
			for _, k := range params {
				if !hasParameter(obj, k) {
					add("The parameter %s configured for entity %s is not a parameter of %s.", k, name, obj.Table)
				}
			}
		}
	}
	return issues
}

func hasParameter(obj *sqlmeta.DatabaseObject, name string) bool {
	for _, p := range obj.Parameters {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// ValidateSchema is CheckSchema as a ConfigValidationError.
func (v *Validator) ValidateSchema(cfg *config.RuntimeConfig, objects Objects) error {
	issues := CheckSchema(cfg, objects)
	for _, is := range issues {
		v.logger.Error("config does not match database schema", "entity", is.Entity, "message", is.Message)
	}
	return firstError(issues)
}
