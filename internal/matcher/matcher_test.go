package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assay-cli/internal/entity"
	"github.com/sells-group/assay-cli/internal/model"
)

func newTestStore(t *testing.T, entities []model.Entity) *entity.Store {
	t.Helper()
	s, err := entity.New(entities)
	require.NoError(t, err)
	return s
}

func scenarioStore(t *testing.T) *entity.Store {
	return newTestStore(t, []model.Entity{
		{ID: "D-1", Kind: model.EntityDesign, Name: "Clone_7", Sequence: "MGTLFK"},
		{ID: "B-1", Kind: model.EntityBuild, Name: "Build L72F", Alias: "bld-72", Mutations: []string{"L72F"}, ParentID: "D-1"},
	})
}

func TestMatch_ExampleScenario(t *testing.T) {
	m := New(scenarioStore(t), Config{})

	seq := m.Match(Query{Name: "Clone_7", Sequence: "MGTLFK", Mutations: "L72F"})
	assert.Equal(t, "D-1", seq.EntityID)
	assert.Equal(t, model.MethodSequence, seq.Method())
	assert.Equal(t, model.ConfidenceHigh, seq.Confidence())
	assert.Equal(t, 1.0, seq.Score())

	mut := m.Match(Query{Name: "X9", Mutations: "L72F"})
	assert.Equal(t, "B-1", mut.EntityID)
	assert.Equal(t, model.EntityBuild, mut.EntityKind)
	assert.Equal(t, model.MethodMutation, mut.Method())
	assert.Equal(t, model.ConfidenceMedium, mut.Confidence())
	assert.Equal(t, 0.8, mut.Score())

	none := m.Match(Query{Name: "totally_unknown"})
	assert.False(t, none.Matched())
	assert.Empty(t, none.EntityID)
	assert.Equal(t, model.MethodUnmatched, none.Method())
	assert.Equal(t, 0.0, none.Score())
	assert.Contains(t, none.Reason, `name/alias "totally_unknown" not found`)
}

func TestMatch_SequenceBeatsMutationOnDifferentEntity(t *testing.T) {
	// The mutation list alone would resolve to B-1; the sequence wins.
	m := New(scenarioStore(t), Config{})
	got := m.Match(Query{Sequence: "mgt lfk", Mutations: "L72F"})
	assert.Equal(t, "D-1", got.EntityID)
	assert.Equal(t, model.TierSequence, got.Tier)
}

func TestMatch_MutationBeatsAlias(t *testing.T) {
	m := New(scenarioStore(t), Config{})
	got := m.Match(Query{Name: "Clone_7", Mutations: "l72f"})
	assert.Equal(t, "B-1", got.EntityID)
	assert.Equal(t, model.TierMutation, got.Tier)
}

func TestMatch_FallsThroughMissingSequence(t *testing.T) {
	m := New(scenarioStore(t), Config{})
	got := m.Match(Query{Name: "bld-72", Sequence: "NOPE"})
	assert.Equal(t, "B-1", got.EntityID)
	assert.Equal(t, model.TierAlias, got.Tier)
}

func TestMatch_TieBreakGenerationThenID(t *testing.T) {
	s := newTestStore(t, []model.Entity{
		{ID: "R", Name: "root"},
		{ID: "C-2", Name: "child two", Mutations: []string{"A10V"}, ParentID: "R"},
		{ID: "C-1", Name: "child one", Mutations: []string{"A10V"}, ParentID: "R"},
		{ID: "A-0", Name: "other root", Mutations: []string{"A10V"}},
		{ID: "S-2", Name: "seq b", Sequence: "MKV"},
		{ID: "S-1", Name: "seq a", Sequence: "MKV"},
	})
	m := New(s, Config{})

	// Smallest generation wins: A-0 is a root.
	assert.Equal(t, "A-0", m.Match(Query{Mutations: "A10V"}).EntityID)
	// Same generation: smallest id.
	assert.Equal(t, "S-1", m.Match(Query{Sequence: "MKV"}).EntityID)
	// Alias substring hits both children; same generation, smallest id.
	assert.Equal(t, "C-1", m.Match(Query{Name: "child"}).EntityID)
}

func lineageStore(t *testing.T) *entity.Store {
	return newTestStore(t, []model.Entity{
		{ID: "P-1", Name: "Parent One"},
		{ID: "P-2", Name: "Parent Two", Alias: "p2"},
		{ID: "A-1", Name: "orphan", Mutations: []string{"G5S"}},
		{ID: "B-1", Name: "child of two", Mutations: []string{"G5S"}, ParentID: "P-2"},
		{ID: "B-2", Name: "child of one", Mutations: []string{"G5S"}, ParentID: "P-1"},
	})
}

func TestMatch_LineagePolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy LineagePolicy
		parent string
		want   string
	}{
		{"no parent ref uses tie-break", LineageLenient, "", "A-1"},
		{"lenient accepts parentless candidate", LineageLenient, "p2", "A-1"},
		{"lenient rejects mismatched parent", LineageLenient, "Parent One", "A-1"},
		{"strict requires declared parent", LineageStrict, "p2", "B-1"},
		{"strict matches parent by name", LineageStrict, "parent one", "B-2"},
		{"strict matches parent by id", LineageStrict, "P-1", "B-2"},
		{"ignore skips lineage", LineageIgnore, "P-1", "A-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(lineageStore(t), Config{LineagePolicy: tt.policy})
			got := m.Match(Query{Mutations: "G5S", Parent: tt.parent})
			assert.Equal(t, tt.want, got.EntityID)
			assert.Equal(t, 0.8, got.Score())
		})
	}
}

func TestMatch_StrictRejectsUnknownParent(t *testing.T) {
	m := New(lineageStore(t), Config{LineagePolicy: LineageStrict})
	got := m.Match(Query{Mutations: "G5S", Parent: "nobody"})
	assert.False(t, got.Matched())
	assert.Contains(t, got.Reason, "mutation set [G5S] not found")
}

func TestMatch_LenientRejectsWhenOnlyMismatchedParents(t *testing.T) {
	s := newTestStore(t, []model.Entity{
		{ID: "P-1", Name: "Parent One"},
		{ID: "B-1", Name: "child", Mutations: []string{"G5S"}, ParentID: "P-1"},
	})
	m := New(s, Config{LineagePolicy: LineageLenient})
	got := m.Match(Query{Mutations: "G5S", Parent: "someone else"})
	assert.False(t, got.Matched())
}

func TestMatch_InvalidMutationTokensSkipTier(t *testing.T) {
	m := New(scenarioStore(t), Config{})
	got := m.Match(Query{Mutations: "L72F, junk"})
	assert.False(t, got.Matched())
	assert.Contains(t, got.Reason, "invalid mutation tokens JUNK")
}

func TestMatch_ShortTermsMustMatchExactly(t *testing.T) {
	s := newTestStore(t, []model.Entity{
		{ID: "E-1", Name: "AB12 construct"},
		{ID: "E-2", Name: "ab"},
	})
	m := New(s, Config{MinAliasSubstring: 3})

	// "ab" is too short for substring search but equals E-2's name.
	assert.Equal(t, "E-2", m.Match(Query{Name: "AB"}).EntityID)
	// "ab12" is long enough to match inside E-1's name.
	assert.Equal(t, "E-1", m.Match(Query{Alias: "ab12"}).EntityID)
	// "a" matches nothing.
	assert.False(t, m.Match(Query{Name: "a"}).Matched())
}

func TestMatch_NoIdentifyingFields(t *testing.T) {
	m := New(scenarioStore(t), Config{})
	got := m.Match(Query{})
	assert.Equal(t, "no identifying fields", got.Reason)
}

func TestMatch_ScoresAreExactTierValues(t *testing.T) {
	m := New(scenarioStore(t), Config{})
	queries := []Query{
		{Sequence: "MGTLFK"},
		{Mutations: "L72F"},
		{Name: "clone"},
		{Name: "zzz"},
		{Mutations: "bad"},
		{},
	}
	allowed := map[float64]bool{1.0: true, 0.8: true, 0.7: true, 0.0: true}
	for _, q := range queries {
		got := m.Match(q)
		assert.True(t, allowed[got.Score()], "score %v", got.Score())
	}
}

func TestMatch_Deterministic(t *testing.T) {
	q := Query{Name: "child", Mutations: "G5S", Parent: "p2"}
	first := New(lineageStore(t), Config{}).Match(q)
	for range 20 {
		assert.Equal(t, first, New(lineageStore(t), Config{}).Match(q))
	}
}

func TestParseLineagePolicy(t *testing.T) {
	p, err := ParseLineagePolicy("")
	require.NoError(t, err)
	assert.Equal(t, LineageLenient, p)

	p, err = ParseLineagePolicy("STRICT")
	require.NoError(t, err)
	assert.Equal(t, LineageStrict, p)

	_, err = ParseLineagePolicy("fuzzy")
	require.Error(t, err)
}
