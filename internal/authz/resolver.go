// Package authz resolves role permissions and database policies for
// entities.
package authz

import (
	"net/http"
	"slices"
	"strings"

	"datagate/internal/apierr"
	"datagate/internal/config"
)

// Built-in roles.
const (
	RoleAnonymous     = "anonymous"
	RoleAuthenticated = "authenticated"
	RoleHeader        = "X-MS-API-ROLE"
)

// OperationPermission is the resolved permission of one role for one
// operation on one entity.
type OperationPermission struct {
	IncludeAll     bool
	ExcludeAll     bool
	Included       map[string]bool
	Excluded       map[string]bool
	DatabasePolicy string
}

// Allows reports whether field is readable/writable under this permission.
func (p *OperationPermission) Allows(field string) bool {
	if p.ExcludeAll || p.Excluded[field] {
		return false
	}
	return p.IncludeAll || p.Included[field]
}

type rolePermissions map[config.Operation]*OperationPermission

type entityPermissions struct {
	roles     map[string]rolePermissions // role name lower-cased
	roleNames map[string]string          // lower -> configured spelling
}

// Resolver answers authorization questions against one config snapshot.
type Resolver struct {
	entities      map[string]*entityPermissions
	staticWebApps bool
}

// NewResolver builds the permission tables. The authenticated role inherits
// anonymous permissions when it has none of its own.
func NewResolver(cfg *config.RuntimeConfig) *Resolver {
	r := &Resolver{
		entities:      make(map[string]*entityPermissions, len(cfg.Entities)),
		staticWebApps: cfg.IsStaticWebAppsIdentityProvider(),
	}
	for name, entity := range cfg.Entities {
		ep := &entityPermissions{roles: map[string]rolePermissions{}, roleNames: map[string]string{}}
		for _, perm := range entity.Permissions {
			role := strings.ToLower(perm.Role)
			ep.roleNames[role] = perm.Role
			rp := ep.roles[role]
			if rp == nil {
				rp = rolePermissions{}
				ep.roles[role] = rp
			}
			for _, action := range perm.Actions {
				for _, op := range ExpandAction(action, entity) {
					rp[op] = newOperationPermission(action)
				}
			}
		}
		if anon, ok := ep.roles[RoleAnonymous]; ok {
			if _, ok := ep.roles[RoleAuthenticated]; !ok {
				ep.roles[RoleAuthenticated] = anon
				ep.roleNames[RoleAuthenticated] = RoleAuthenticated
			}
		}
		r.entities[name] = ep
	}
	return r
}

// ExpandAction returns the operations an action grants. A wildcard action
// grants execute on stored procedures and CRUD elsewhere.
func ExpandAction(a config.EntityAction, e config.Entity) []config.Operation {
	if a.Kind == config.WildcardAction {
		if e.IsStoredProcedure() {
			return []config.Operation{config.OpExecute}
		}
		return config.TableOperations
	}
	if a.Op == "" {
		return nil
	}
	return []config.Operation{a.Op}
}

func newOperationPermission(a config.EntityAction) *OperationPermission {
	p := &OperationPermission{
		Included: map[string]bool{},
		Excluded: map[string]bool{},
	}
	if a.Fields == nil {
		p.IncludeAll = true
	} else {
		if a.Fields.Include == nil {
			p.IncludeAll = true
		}
		for _, f := range a.Fields.Include {
			if f == "*" {
				p.IncludeAll = true
				continue
			}
			p.Included[f] = true
		}
		for _, f := range a.Fields.Exclude {
			if f == "*" {
				p.ExcludeAll = true
				continue
			}
			p.Excluded[f] = true
		}
	}
	if a.HasDatabasePolicy() {
		p.DatabasePolicy = strings.TrimSpace(a.Policy.Database)
	}
	return p
}

func (r *Resolver) permission(entity, role string, op config.Operation) *OperationPermission {
	ep, ok := r.entities[entity]
	if !ok {
		return nil
	}
	rp, ok := ep.roles[strings.ToLower(role)]
	if !ok {
		return nil
	}
	return rp[op]
}

// requiredOps maps request classifications onto configured operations.
func requiredOps(op config.Operation) []config.Operation {
	switch op {
	case config.OpUpsert, config.OpUpsertIncremental:
		return []config.Operation{config.OpUpdate, config.OpCreate}
	}
	return []config.Operation{op}
}

// IsRoleDefined reports whether any permission on entity names role.
func (r *Resolver) IsRoleDefined(entity, role string) bool {
	ep, ok := r.entities[entity]
	if !ok {
		return false
	}
	_, ok = ep.roles[strings.ToLower(role)]
	return ok
}

// AreRoleAndOperationDefinedForEntity is the entity-level authorization
// check. Upsert requires both update and create.
func (r *Resolver) AreRoleAndOperationDefinedForEntity(entity, role string, op config.Operation) bool {
	for _, o := range requiredOps(op) {
		if r.permission(entity, role, o) == nil {
			return false
		}
	}
	return true
}

// AreColumnsAllowedForOperation is the field-level authorization check.
func (r *Resolver) AreColumnsAllowedForOperation(entity, role string, op config.Operation, fields []string) bool {
	for _, o := range requiredOps(op) {
		p := r.permission(entity, role, o)
		if p == nil {
			return false
		}
		for _, f := range fields {
			if !p.Allows(f) {
				return false
			}
		}
	}
	return true
}

// AllowedFields filters all down to the fields role may use for op,
// preserving order.
func (r *Resolver) AllowedFields(entity, role string, op config.Operation, all []string) []string {
	out := make([]string, 0, len(all))
	for _, f := range all {
		if r.AreColumnsAllowedForOperation(entity, role, op, []string{f}) {
			out = append(out, f)
		}
	}
	return out
}

// DBPolicy returns the raw database policy or "" when none applies.
func (r *Resolver) DBPolicy(entity, role string, op config.Operation) string {
	if p := r.permission(entity, role, op); p != nil {
		return p.DatabasePolicy
	}
	return ""
}

// ProcessDBPolicy substitutes the caller's claims into the database policy
// for op. The result is an OData predicate, or "" when no policy applies.
func (r *Resolver) ProcessDBPolicy(entity, role string, op config.Operation, claims map[string]any) (string, error) {
	policy := r.DBPolicy(entity, role, op)
	if policy == "" {
		return "", nil
	}
	return SubstituteClaims(policy, claims)
}

// RolesForOperation lists configured roles that may perform op on entity.
func (r *Resolver) RolesForOperation(entity string, op config.Operation) []string {
	ep, ok := r.entities[entity]
	if !ok {
		return nil
	}
	var out []string
	for role := range ep.roles {
		if r.AreRoleAndOperationDefinedForEntity(entity, role, op) {
			out = append(out, ep.roleNames[role])
		}
	}
	slices.Sort(out)
	return out
}

// IsStaticWebApps reports the provider restriction used for claim checks.
func (r *Resolver) IsStaticWebApps() bool { return r.staticWebApps }

// ClientRole picks the effective role of a request. An explicit role header
// must name a role the caller holds; otherwise authenticated callers act as
// "authenticated" and everyone else as "anonymous".
func ClientRole(h http.Header, authenticated bool, held []string) (string, error) {
	requested := strings.TrimSpace(h.Get(RoleHeader))
	if requested == "" {
		if authenticated {
			return RoleAuthenticated, nil
		}
		return RoleAnonymous, nil
	}
	if strings.EqualFold(requested, RoleAnonymous) {
		return RoleAnonymous, nil
	}
	if !authenticated {
		return "", apierr.New(apierr.AuthorizationCheckFailed, apierr.AuthorizationFailureMsg)
	}
	if strings.EqualFold(requested, RoleAuthenticated) {
		return RoleAuthenticated, nil
	}
	for _, r := range held {
		if strings.EqualFold(r, requested) {
			return requested, nil
		}
	}
	return "", apierr.New(apierr.AuthorizationCheckFailed, apierr.AuthorizationFailureMsg)
}
