// Package matcher links uploaded assay rows to canonical entities using a
// fixed cascade of match tiers.
package matcher

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assay-cli/internal/entity"
	"github.com/sells-group/assay-cli/internal/model"
)

// LineagePolicy controls how a row's parent reference constrains mutation
// matches.
type LineagePolicy string

const (
	// LineageLenient accepts candidates whose declared parent matches the
	// reference, and candidates with no declared parent.
	LineageLenient LineagePolicy = "lenient"
	// LineageStrict accepts only candidates whose declared parent matches.
	LineageStrict LineagePolicy = "strict"
	// LineageIgnore does not consult the parent reference.
	LineageIgnore LineagePolicy = "ignore"
)

// ParseLineagePolicy validates a configured policy name. Empty means lenient.
func ParseLineagePolicy(s string) (LineagePolicy, error) {
	switch p := LineagePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return LineageLenient, nil
	case LineageLenient, LineageStrict, LineageIgnore:
		return p, nil
	default:
		return "", eris.Errorf("matcher: unknown lineage policy %q", s)
	}
}

// Config configures the matcher.
type Config struct {
	LineagePolicy LineagePolicy `mapstructure:"lineage_policy"`
	// MinAliasSubstring is the shortest term allowed to match as a substring
	// in the alias tier. Shorter terms must match exactly.
	MinAliasSubstring int `mapstructure:"min_alias_substring"`
}

// Query is the identifying content of one uploaded row.
type Query struct {
	Name      string
	Alias     string
	Sequence  string
	Mutations string
	Parent    string
}

// Matcher resolves queries against an entity snapshot. It has no mutable
// state and is safe for concurrent use.
type Matcher struct {
	store *entity.Store
	cfg   Config
}

// New creates a matcher over store.
func New(store *entity.Store, cfg Config) *Matcher {
	if cfg.LineagePolicy == "" {
		cfg.LineagePolicy = LineageLenient
	}
	if cfg.MinAliasSubstring <= 0 {
		cfg.MinAliasSubstring = 3
	}
	return &Matcher{store: store, cfg: cfg}
}

// Store returns the entity snapshot the matcher runs against.
func (m *Matcher) Store() *entity.Store { return m.store }

// Match tries the sequence, mutation and alias tiers in order and returns on
// the first hit. A miss on every tier yields an unmatched result whose reason
// lists what was tried.
func (m *Matcher) Match(q Query) model.MatchResult {
	var misses []string

	// Tier 1: exact normalized sequence.
	if seq := entity.NormalizeSequence(q.Sequence); seq != "" {
		if cands := m.store.BySequence(seq); len(cands) > 0 {
			return m.hit(cands[0], model.TierSequence, q)
		}
		misses = append(misses, "sequence not found")
	}

	// Tier 2: order-independent mutation set, filtered by lineage policy.
	if strings.TrimSpace(q.Mutations) != "" {
		tokens, invalid := entity.ParseMutations(q.Mutations)
		switch {
		case len(invalid) > 0:
			misses = append(misses, fmt.Sprintf("invalid mutation tokens %s", strings.Join(invalid, ",")))
		case len(tokens) > 0:
			if e, ok := m.matchMutations(tokens, q.Parent); ok {
				return m.hit(e, model.TierMutation, q)
			}
			misses = append(misses, fmt.Sprintf("mutation set [%s] not found", entity.MutationKey(tokens)))
		}
	}

	// Tier 3: case-insensitive name/alias equality or substring.
	terms := aliasTerms(q)
	if len(terms) > 0 {
		if e, ok := m.matchAlias(terms); ok {
			return m.hit(e, model.TierAlias, q)
		}
		misses = append(misses, fmt.Sprintf("name/alias %q not found", strings.Join(terms, "|")))
	}

	if len(misses) == 0 {
		misses = append(misses, "no identifying fields")
	}
	reason := strings.Join(misses, "; ")
	zap.L().Debug("matcher: unmatched", zap.String("name", q.Name), zap.String("reason", reason))
	return model.Unmatched(reason)
}

func (m *Matcher) hit(e *model.Entity, tier model.Tier, q Query) model.MatchResult {
	zap.L().Debug("matcher: matched",
		zap.String("method", string(tier.Method())),
		zap.String("entity_id", e.ID),
		zap.String("name", q.Name),
	)
	return model.MatchResult{
		EntityID:   e.ID,
		EntityKind: e.Kind,
		EntityName: e.Name,
		Generation: e.Generation,
		Tier:       tier,
	}
}

// matchMutations returns the first candidate with an equal mutation set that
// the lineage policy accepts. Candidates are already in tie-break order.
func (m *Matcher) matchMutations(tokens []string, parentRef string) (*model.Entity, bool) {
	parentRef = strings.TrimSpace(parentRef)
	for _, e := range m.store.ByMutations(tokens) {
		if m.lineageAccepts(e, parentRef) {
			return e, true
		}
	}
	return nil, false
}

func (m *Matcher) lineageAccepts(e *model.Entity, parentRef string) bool {
	if parentRef == "" || m.cfg.LineagePolicy == LineageIgnore {
		return true
	}
	if m.store.ParentMatches(e, parentRef) {
		return true
	}
	return m.cfg.LineagePolicy == LineageLenient && e.ParentID == ""
}

func (m *Matcher) matchAlias(terms []string) (*model.Entity, bool) {
	minSub := m.cfg.MinAliasSubstring
	return m.store.FindLabel(func(label string) bool {
		for _, term := range terms {
			if term == label {
				return true
			}
			if utf8.RuneCountInString(term) >= minSub && strings.Contains(label, term) {
				return true
			}
			if utf8.RuneCountInString(label) >= minSub && strings.Contains(term, label) {
				return true
			}
		}
		return false
	})
}

func aliasTerms(q Query) []string {
	var terms []string
	for _, s := range []string{q.Name, q.Alias} {
		if t := entity.NormalizeLabel(s); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}
