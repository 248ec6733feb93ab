package engine

import (
	"context"
	"fmt"
	"time"
)

// Handler is implemented once per entity type. Apply performs the full
// validate → resolve → fetch → version-gate → authorize → encrypt → persist
// sequence for a single push operation; Collect returns the actor-visible
// wire projections changed strictly after since, decrypted, ordered ascending
// by the entity's filtering timestamp and capped at limit rows.
type Handler interface {
	Entity() EntityType
	Apply(ctx context.Context, actor Actor, op Operation) (AppliedResult, error)
	Collect(ctx context.Context, actor Actor, since *time.Time, limit int) ([]interface{}, error)
}

// Registry is the closed dispatch table over entity types. Adding an entity
// means adding a Handler implementation and registering it at wiring time.
type Registry struct {
	handlers map[EntityType]Handler
}

func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[EntityType]Handler, len(handlers))}
	for _, h := range handlers {
		entity := h.Entity()
		if !entity.Valid() {
			return nil, fmt.Errorf("register handler: unknown entity type %q", entity)
		}
		if _, dup := r.handlers[entity]; dup {
			return nil, fmt.Errorf("register handler: duplicate entity type %q", entity)
		}
		r.handlers[entity] = h
	}
	return r, nil
}

// Get returns the handler for an entity type.
func (r *Registry) Get(entity EntityType) (Handler, bool) {
	h, ok := r.handlers[entity]
	return h, ok
}

// Ordered returns the registered handlers in AllEntities order, skipping any
// entity with no handler (only possible in tests with partial registries).
func (r *Registry) Ordered() []Handler {
	out := make([]Handler, 0, len(r.handlers))
	for _, entity := range AllEntities {
		if h, ok := r.handlers[entity]; ok {
			out = append(out, h)
		}
	}
	return out
}
