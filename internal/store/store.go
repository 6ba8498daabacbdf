// Package store persists the canonical Design/Build registry that entity
// snapshots are built from.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assay-cli/internal/entity"
	"github.com/sells-group/assay-cli/internal/model"
)

// Store defines the persistence interface for canonical entities.
type Store interface {
	// ListEntities returns every stored entity ordered by id.
	ListEntities(ctx context.Context) ([]model.Entity, error)
	// UpsertEntities inserts or replaces entities by id and returns the
	// number of rows written.
	UpsertEntities(ctx context.Context, entities []model.Entity) (int64, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Snapshot loads every stored entity and builds an indexed snapshot for the
// matcher. Lineage is validated here, so a broken registry fails fast.
func Snapshot(ctx context.Context, s Store) (*entity.Store, error) {
	entities, err := s.ListEntities(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "store: load entities")
	}
	snap, err := entity.New(entities)
	if err != nil {
		return nil, eris.Wrap(err, "store: build snapshot")
	}
	zap.L().Info("store: entity snapshot loaded", zap.Int("entities", snap.Len()))
	return snap, nil
}

// Import validates entities as a snapshot before writing them, so the stored
// registry never holds a dangling parent or an unparsable mutation list.
func Import(ctx context.Context, s Store, entities []model.Entity) (int64, error) {
	existing, err := s.ListEntities(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "store: load entities")
	}

	merged := make(map[string]model.Entity, len(existing)+len(entities))
	order := make([]string, 0, len(existing)+len(entities))
	for _, e := range append(existing, entities...) {
		id := strings.TrimSpace(e.ID)
		if _, seen := merged[id]; !seen {
			order = append(order, id)
		}
		merged[id] = e
	}
	all := make([]model.Entity, 0, len(order))
	for _, id := range order {
		all = append(all, merged[id])
	}

	snap, err := entity.New(all)
	if err != nil {
		return 0, eris.Wrap(err, "store: validate import")
	}

	// Write the normalized form of the imported records only.
	normalized := make([]model.Entity, 0, len(entities))
	written := make(map[string]bool, len(entities))
	for _, e := range entities {
		id := strings.TrimSpace(e.ID)
		if written[id] {
			continue
		}
		if n, ok := snap.Get(id); ok {
			normalized = append(normalized, *n)
			written[id] = true
		}
	}
	n, err := s.UpsertEntities(ctx, normalized)
	if err != nil {
		return 0, eris.Wrap(err, "store: import entities")
	}
	return n, nil
}
