// Package entity holds the canonical Design/Build snapshot the matcher runs
// against, with lineage and lookup indexes computed once at build time.
package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assay-cli/internal/model"
)

// Store is an immutable, indexed snapshot of canonical entities. All
// candidate lists are pre-sorted by (generation, id), so the first
// acceptable candidate in a list is the tie-break winner.
type Store struct {
	ordered     []*model.Entity
	byID        map[string]*model.Entity
	bySequence  map[string][]*model.Entity
	byMutations map[string][]*model.Entity
	labels      []entityLabels
}

type entityLabels struct {
	entity *model.Entity
	name   string
	alias  string
}

// New validates entities, computes generation and lineage hash for each, and
// builds the lookup indexes. Input slices are copied.
func New(entities []model.Entity) (*Store, error) {
	s := &Store{
		byID:        make(map[string]*model.Entity, len(entities)),
		bySequence:  make(map[string][]*model.Entity),
		byMutations: make(map[string][]*model.Entity),
	}

	for i := range entities {
		e := entities[i]
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			return nil, eris.Errorf("entity: record %d has no id", i)
		}
		if _, dup := s.byID[e.ID]; dup {
			return nil, eris.Errorf("entity: duplicate id %q", e.ID)
		}
		if e.Kind == "" {
			e.Kind = model.EntityDesign
		}
		if !e.Kind.Valid() {
			return nil, eris.Errorf("entity: %s has unknown kind %q", e.ID, e.Kind)
		}
		if e.ParentID == e.ID {
			return nil, eris.Errorf("entity: %s references itself as a parent", e.ID)
		}

		tokens, invalid := ParseMutations(strings.Join(e.Mutations, ","))
		if len(invalid) > 0 {
			return nil, eris.Errorf("entity: %s has invalid mutation tokens %v", e.ID, invalid)
		}
		e.Mutations = tokens
		e.Sequence = NormalizeSequence(e.Sequence)
		e.LineageHash = LineageHash(e.Sequence, e.Mutations)
		s.byID[e.ID] = &e
	}

	for id, e := range s.byID {
		if e.ParentID != "" {
			if _, ok := s.byID[e.ParentID]; !ok {
				return nil, eris.Errorf("entity: %s references missing parent %s", id, e.ParentID)
			}
		}
	}

	if err := s.computeGenerations(); err != nil {
		return nil, err
	}

	s.ordered = make([]*model.Entity, 0, len(s.byID))
	for _, e := range s.byID {
		s.ordered = append(s.ordered, e)
	}
	sort.Slice(s.ordered, func(i, j int) bool { return less(s.ordered[i], s.ordered[j]) })

	for _, e := range s.ordered {
		if e.Sequence != "" {
			s.bySequence[e.Sequence] = append(s.bySequence[e.Sequence], e)
		}
		if len(e.Mutations) > 0 {
			key := MutationKey(e.Mutations)
			s.byMutations[key] = append(s.byMutations[key], e)
		}
		s.labels = append(s.labels, entityLabels{
			entity: e,
			name:   normalizeLabel(e.Name),
			alias:  normalizeLabel(e.Alias),
		})
	}

	zap.L().Debug("entity: snapshot built",
		zap.Int("entities", len(s.ordered)),
		zap.Int("sequences", len(s.bySequence)),
		zap.Int("mutation_sets", len(s.byMutations)),
	)
	return s, nil
}

// computeGenerations assigns each entity its distance from the root of its
// lineage tree and rejects parent cycles.
func (s *Store) computeGenerations() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(s.byID))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return eris.Errorf("entity: lineage cycle %s", strings.Join(append(path, id), " -> "))
		}
		state[id] = visiting
		e := s.byID[id]
		if e.ParentID == "" {
			e.Generation = 0
		} else {
			if err := visit(e.ParentID, append(path, id)); err != nil {
				return err
			}
			e.Generation = s.byID[e.ParentID].Generation + 1
		}
		state[id] = done
		return nil
	}

	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}

// less orders entities by generation, then id.
func less(a, b *model.Entity) bool {
	if a.Generation != b.Generation {
		return a.Generation < b.Generation
	}
	return a.ID < b.ID
}

// Len returns the number of entities.
func (s *Store) Len() int { return len(s.ordered) }

// Get returns the entity with id.
func (s *Store) Get(id string) (*model.Entity, bool) {
	e, ok := s.byID[id]
	return e, ok
}

// Entities returns a copy of all entities ordered by generation, then id.
func (s *Store) Entities() []model.Entity {
	out := make([]model.Entity, len(s.ordered))
	for i, e := range s.ordered {
		out[i] = *e
		out[i].Mutations = append([]string(nil), e.Mutations...)
	}
	return out
}

// BySequence returns entities whose normalized sequence equals seq.
func (s *Store) BySequence(seq string) []*model.Entity {
	return s.bySequence[NormalizeSequence(seq)]
}

// ByMutations returns entities whose canonical mutation set equals tokens.
// tokens must already be canonical (see ParseMutations).
func (s *Store) ByMutations(tokens []string) []*model.Entity {
	if len(tokens) == 0 {
		return nil
	}
	return s.byMutations[MutationKey(tokens)]
}

// Parent returns the declared parent of e.
func (s *Store) Parent(e *model.Entity) (*model.Entity, bool) {
	if e.ParentID == "" {
		return nil, false
	}
	return s.Get(e.ParentID)
}

// ParentMatches reports whether e's declared parent is identified by ref,
// compared case-insensitively against the parent's id, name and alias.
func (s *Store) ParentMatches(e *model.Entity, ref string) bool {
	p, ok := s.Parent(e)
	if !ok {
		return false
	}
	ref = normalizeLabel(ref)
	if ref == "" {
		return false
	}
	return ref == normalizeLabel(p.ID) || ref == normalizeLabel(p.Name) ||
		(p.Alias != "" && ref == normalizeLabel(p.Alias))
}

// FindLabel returns the first entity, in (generation, id) order, whose name
// or alias satisfies match. Terms are passed in normalized form.
func (s *Store) FindLabel(match func(label string) bool) (*model.Entity, bool) {
	for _, l := range s.labels {
		if (l.name != "" && match(l.name)) || (l.alias != "" && match(l.alias)) {
			return l.entity, true
		}
	}
	return nil, false
}

// NormalizeLabel exposes the label comparison form used by FindLabel.
func NormalizeLabel(s string) string { return normalizeLabel(s) }

func (s *Store) String() string {
	return fmt.Sprintf("entity.Store{%d entities}", len(s.ordered))
}
