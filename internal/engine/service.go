package engine

import (
	"sync"

	"datagate/internal/apierr"
	"datagate/internal/authz"
	"datagate/internal/config"
	"datagate/internal/executor"
	"datagate/internal/request"
)

// Service is what the REST and GraphQL surfaces share: authorization
// against the live snapshot, the object arena and the engines.
type Service struct {
	Config   executor.ConfigSource
	Metadata *Metadata
	Engines  *Factory

	mu       sync.Mutex
	snapshot *config.RuntimeConfig
	resolver *authz.Resolver
}

func NewService(cfg executor.ConfigSource, meta *Metadata, engines *Factory) *Service {
	return &Service{Config: cfg, Metadata: meta, Engines: engines}
}

// Resolver returns the permission tables of cfg, rebuilt when the
// snapshot changes.
func (s *Service) Resolver(cfg *config.RuntimeConfig) *authz.Resolver {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != cfg {
		s.snapshot = cfg
		s.resolver = authz.NewResolver(cfg)
	}
	return s.resolver
}

// policyOperation is the configured operation whose policy restricts op.
func policyOperation(op config.Operation) config.Operation {
	if op == config.OpUpsert || op == config.OpUpsertIncremental {
		return config.OpUpdate
	}
	return op
}

// Authorize checks that role may perform op on entity and resolves the
// claim-substituted database policy.
func (s *Service) Authorize(cfg *config.RuntimeConfig, entity string, op config.Operation, role string, claims map[string]any) (request.Context, error) {
	if _, ok := cfg.Entities[entity]; !ok {
		return request.Context{}, apierr.New(apierr.EntityNotFound, "Entity %s not found.", entity)
	}
	obj, ok := s.Metadata.Object(entity)
	if !ok {
		return request.Context{}, apierr.New(apierr.EntityNotFound, "Entity %s has no database object.", entity)
	}
	r := s.Resolver(cfg)
	if !r.AreRoleAndOperationDefinedForEntity(entity, role, op) {
		return request.Context{}, apierr.New(apierr.AuthorizationCheckFailed, apierr.AuthorizationFailureMsg)
	}
	policy, err := r.ProcessDBPolicy(entity, role, policyOperation(op), claims)
	if err != nil {
		return request.Context{}, err
	}
	return request.Context{
		Entity:    entity,
		Object:    obj,
		Operation: op,
		Role:      role,
		Claims:    claims,
		DBPolicy:  policy,
	}, nil
}

// InsertPolicy resolves the create policy applied when an upsert inserts.
func (s *Service) InsertPolicy(cfg *config.RuntimeConfig, rc request.Context) (string, error) {
	return s.Resolver(cfg).ProcessDBPolicy(rc.Entity, rc.Role, config.OpCreate, rc.Claims)
}

// ReadableFields lists what the caller may read. Requested fields must all
// be readable; none requested means every readable field.
func (s *Service) ReadableFields(cfg *config.RuntimeConfig, rc request.Context, requested []string) ([]string, error) {
	r := s.Resolver(cfg)
	if len(requested) > 0 {
		if !r.AreColumnsAllowedForOperation(rc.Entity, rc.Role, config.OpRead, requested) {
			return nil, apierr.New(apierr.AuthorizationCheckFailed, apierr.AuthorizationFailureMsg)
		}
		return requested, nil
	}
	if rc.Object.Schemaless {
		return nil, nil
	}
	return r.AllowedFields(rc.Entity, rc.Role, config.OpRead, rc.Object.ExposedFields()), nil
}

// CheckWritableFields is the field-level check of a write body.
func (s *Service) CheckWritableFields(cfg *config.RuntimeConfig, rc request.Context, body map[string]any) error {
	fields := make([]string, 0, len(body))
	for f := range body {
		fields = append(fields, f)
	}
	if !s.Resolver(cfg).AreColumnsAllowedForOperation(rc.Entity, rc.Role, rc.Operation, fields) {
		return apierr.New(apierr.AuthorizationCheckFailed, apierr.AuthorizationFailureMsg)
	}
	return nil
}
