package entity

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

// Store is the persistence surface the resolver needs.
type Store interface {
	GetEntityByNormalizedName(ctx context.Context, kind model.EntityKind, normalized string) (*model.Entity, error)
	CreateEntity(ctx context.Context, e *model.Entity) error
}

// Resolver maps display names to entity records, creating them on first
// sight. It holds no locks; concurrent creators are reconciled through the
// store's unique key on (kind, normalized_name).
type Resolver struct {
	store Store
}

// NewResolver creates an entity resolver.
func NewResolver(s Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the entity for displayName, and whether this call created it.
func (r *Resolver) Resolve(ctx context.Context, kind model.EntityKind, displayName string) (*model.Entity, bool, error) {
	displayName = strings.TrimSpace(displayName)
	normalized := Normalize(displayName)
	if normalized == "" {
		return nil, false, eris.Errorf("entity: %s name %q normalizes to empty key", kind, displayName)
	}

	existing, err := r.store.GetEntityByNormalizedName(ctx, kind, normalized)
	if err != nil {
		return nil, false, eris.Wrapf(err, "entity: lookup %s %q", kind, normalized)
	}
	if existing != nil {
		return existing, false, nil
	}

	e := &model.Entity{
		Kind:           kind,
		DisplayName:    displayName,
		NormalizedName: normalized,
	}
	err = r.store.CreateEntity(ctx, e)
	if err == nil {
		zap.L().Debug("entity: created",
			zap.String("kind", string(kind)),
			zap.String("name", displayName),
			zap.String("entity_id", e.ID),
		)
		return e, true, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return nil, false, eris.Wrapf(err, "entity: create %s %q", kind, normalized)
	}

	// Lost the race to a concurrent resolver; the winner's row is now visible.
	winner, err := r.store.GetEntityByNormalizedName(ctx, kind, normalized)
	if err != nil {
		return nil, false, eris.Wrapf(err, "entity: re-read %s %q", kind, normalized)
	}
	if winner == nil {
		return nil, false, eris.Errorf("entity: %s %q reported duplicate but not found", kind, normalized)
	}
	return winner, false, nil
}
