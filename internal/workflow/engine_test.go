package workflow

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assay-cli/internal/entity"
	"github.com/sells-group/assay-cli/internal/matcher"
	"github.com/sells-group/assay-cli/internal/metrics"
	"github.com/sells-group/assay-cli/internal/model"
	"github.com/sells-group/assay-cli/internal/session"
	"github.com/sells-group/assay-cli/internal/tabular"
	"github.com/sells-group/assay-cli/internal/views"
)

const (
	fileA = "name,sequence,result_value\nClone_7,MGTLFK,1.5\ntotally_unknown,,9\n"
	fileB = "name,mutations,od600\nX9,L72F,0.5\nClone_7,,0.2\n"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	return newTestEngineWithConfig(t, Config{}, opts...)
}

func newTestEngineWithConfig(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	store, err := entity.New([]model.Entity{
		{ID: "D-1", Kind: model.EntityDesign, Name: "Clone_7", Sequence: "MGTLFK"},
		{ID: "B-1", Kind: model.EntityBuild, Name: "Build L72F", Alias: "bld-72", Mutations: []string{"L72F"}, ParentID: "D-1"},
	})
	require.NoError(t, err)

	t0 := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
	return New(session.New(session.WithClock(clock)), matcher.New(store, matcher.Config{}), cfg, opts...)
}

func upload(t *testing.T, e *Engine, id, name, content string) *UploadResult {
	t.Helper()
	res, err := e.Upload(context.Background(), id, name, []byte(content))
	require.NoError(t, err)
	return res
}

func sessionWithFiles(t *testing.T, e *Engine) string {
	t.Helper()
	id := e.CreateSession()
	upload(t, e, id, "a.csv", fileA)
	upload(t, e, id, "b.csv", fileB)
	return id
}

func TestUpload(t *testing.T) {
	e := newTestEngine(t)
	id := e.CreateSession()

	res := upload(t, e, id, "a.csv", fileA)
	assert.True(t, res.Accepted)
	assert.NotEmpty(t, res.FileID)
	assert.Equal(t, 2, res.RowCount)
	require.Len(t, res.DetectedColumns, 3)
	assert.Equal(t, model.RoleSequence, res.DetectedColumns[1].Role)

	sum, err := e.Session(id)
	require.NoError(t, err)
	require.Len(t, sum.Files, 1)
	assert.Equal(t, ContentHash([]byte(fileA)), sum.Files[0].ContentHash)
	assert.Equal(t, len(fileA), sum.Files[0].Size)
	require.Len(t, sum.Steps, 1)
	assert.Equal(t, model.StepUpload, sum.Steps[0].Name)
}

func TestUpload_RejectedFileLeavesSessionUnchanged(t *testing.T) {
	e := newTestEngine(t)
	id := e.CreateSession()

	_, err := e.Upload(context.Background(), id, "a.pdf", []byte("%PDF"))
	require.Error(t, err)
	assert.Equal(t, model.KindFormat, model.KindOf(err))

	_, err = e.Upload(context.Background(), id, "a.csv", []byte("od600\n0.5\n"))
	require.Error(t, err)
	assert.Equal(t, model.KindSchema, model.KindOf(err))

	sum, err := e.Session(id)
	require.NoError(t, err)
	assert.Empty(t, sum.Files)
	assert.Empty(t, sum.Steps)
}

func TestUpload_UnknownSession(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Upload(context.Background(), "nope", "a.csv", []byte(fileA))
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestMerge_ExampleScenario(t *testing.T) {
	e := newTestEngine(t)
	id := sessionWithFiles(t, e)

	res, err := e.Merge(context.Background(), id, false)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 1, res.Unmatched)

	wantHeaders := append(append([]string(nil), model.MergeMetaHeaders...), "name", "sequence", "result_value", "mutations", "od600")
	assert.Equal(t, wantHeaders, res.Headers)

	assert.Equal(t, []string{"D-1", "design", "Clone_7", "sequence", "high", "1.00", "", "a.csv:1;b.csv:2", "Clone_7", "MGTLFK", "1.5", "", "0.2"}, res.Rows[0])
	assert.Equal(t, []string{"B-1", "build", "Build L72F", "mutation", "medium", "0.80", "", "b.csv:1", "X9", "", "", "L72F", "0.5"}, res.Rows[1])

	unmatched := res.Rows[2]
	assert.Equal(t, "", unmatched[0])
	assert.Equal(t, "unmatched", unmatched[3])
	assert.Equal(t, "none", unmatched[4])
	assert.Equal(t, "0.00", unmatched[5])
	assert.Contains(t, unmatched[6], `name/alias "totally_unknown" not found`)
	assert.Equal(t, "a.csv:2", unmatched[7])
	assert.Equal(t, "9", unmatched[10])
}

func TestMerge_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	id := sessionWithFiles(t, e)
	ctx := context.Background()

	first, err := e.Merge(ctx, id, false)
	require.NoError(t, err)
	second, err := e.Merge(ctx, id, false)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Headers, second.Headers)
	assert.Equal(t, first.Rows, second.Rows)

	sum, err := e.Session(id)
	require.NoError(t, err)
	assert.Len(t, sum.Steps, 3) // two uploads, one merge
	assert.True(t, sum.HasMerge)
}

func TestMerge_ForceRecomputes(t *testing.T) {
	e := newTestEngine(t)
	id := sessionWithFiles(t, e)
	ctx := context.Background()

	_, err := e.Merge(ctx, id, false)
	require.NoError(t, err)
	forced, err := e.Merge(ctx, id, true)
	require.NoError(t, err)
	assert.False(t, forced.Cached)

	sum, err := e.Session(id)
	require.NoError(t, err)
	assert.Len(t, sum.Steps, 4)
	assert.Equal(t, model.StepMerge, sum.Steps[3].Name)
}

func TestMerge_NewFileInvalidatesCache(t *testing.T) {
	e := newTestEngine(t)
	id := sessionWithFiles(t, e)
	ctx := context.Background()

	first, err := e.Merge(ctx, id, false)
	require.NoError(t, err)

	upload(t, e, id, "c.csv", "alias,score\nbld-72,7\n")
	second, err := e.Merge(ctx, id, false)
	require.NoError(t, err)
	assert.False(t, second.Cached)
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
	assert.Contains(t, second.Headers, "score")
}

func TestFingerprint_Sensitivity(t *testing.T) {
	a := model.UploadedFile{Name: "a.csv", Size: 10, ContentHash: ContentHash([]byte("one"))}
	b := model.UploadedFile{Name: "b.csv", Size: 10, ContentHash: ContentHash([]byte("two"))}
	sameNameNewBytes := model.UploadedFile{Name: "a.csv", Size: 10, ContentHash: ContentHash([]byte("uno"))}

	base := Fingerprint([]model.UploadedFile{a, b})
	assert.Equal(t, base, Fingerprint([]model.UploadedFile{a, b}))
	assert.NotEqual(t, base, Fingerprint([]model.UploadedFile{b, a}))
	assert.NotEqual(t, base, Fingerprint([]model.UploadedFile{sameNameNewBytes, b}))
	assert.NotEqual(t, base, Fingerprint([]model.UploadedFile{a, b, b}))
	assert.Len(t, base, 64)
}

func TestMerge_InsufficientInputs(t *testing.T) {
	e := newTestEngine(t)
	id := e.CreateSession()
	upload(t, e, id, "a.csv", fileA)

	_, err := e.Merge(context.Background(), id, false)
	require.Error(t, err)
	assert.Equal(t, model.KindInsufficientInputs, model.KindOf(err))
	assert.Contains(t, err.Error(), "merge needs at least 2 files, session has 1")

	_, err = e.Analyze(context.Background(), id)
	assert.Equal(t, model.KindInsufficientInputs, model.KindOf(err))
}

func TestMerge_UnknownSession(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Merge(context.Background(), "missing", false)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestMerge_CartesianPerEntity(t *testing.T) {
	e := newTestEngine(t)
	id := e.CreateSession()
	upload(t, e, id, "a.csv", "sequence,run\nMGTLFK,1\nMGTLFK,2\n")
	upload(t, e, id, "b.csv", "name,plate\nClone_7,P1\nClone_7,P2\n")

	res, err := e.Merge(context.Background(), id, false)
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)

	var sources []string
	for _, r := range res.Rows {
		assert.Equal(t, "D-1", r[0])
		assert.Equal(t, "sequence", r[3])
		sources = append(sources, r[7])
	}
	assert.Equal(t, []string{"a.csv:1;b.csv:1", "a.csv:1;b.csv:2", "a.csv:2;b.csv:1", "a.csv:2;b.csv:2"}, sources)
}

func TestMerge_RowLimit(t *testing.T) {
	tests := []struct {
		name    string
		maxRows int
		wantErr bool
	}{
		{name: "product plus unmatched within limit", maxRows: 5},
		{name: "product over limit", maxRows: 4, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngineWithConfig(t, Config{Merge: MergeOptions{MaxRows: tt.maxRows}})
			id := e.CreateSession()
			upload(t, e, id, "a.csv", "sequence,run\nMGTLFK,1\nMGTLFK,2\nGGGGGG,3\n")
			upload(t, e, id, "b.csv", "name,plate\nClone_7,P1\nClone_7,P2\n")

			res, err := e.Merge(context.Background(), id, false)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, 5, res.Total)
				return
			}
			require.Error(t, err)
			assert.Equal(t, model.KindMergeTooLarge, model.KindOf(err))
			assert.Contains(t, err.Error(), "more than 4 rows")

			sum, err := e.Session(id)
			require.NoError(t, err)
			assert.False(t, sum.HasMerge)
			for _, step := range sum.Steps {
				assert.NotEqual(t, model.StepMerge, step.Name)
			}
		})
	}
}

func TestMerge_ReplicateBlowupRejected(t *testing.T) {
	e := newTestEngine(t)
	id := e.CreateSession()

	var b strings.Builder
	b.WriteString("sequence,run\n")
	for i := 0; i < 1500; i++ {
		b.WriteString("MGTLFK,1\n")
	}
	upload(t, e, id, "a.csv", b.String())
	upload(t, e, id, "b.csv", b.String())

	_, err := e.Merge(context.Background(), id, false)
	require.Error(t, err)
	assert.Equal(t, model.KindMergeTooLarge, model.KindOf(err))
}

func TestProductSize(t *testing.T) {
	refs := func(n int) []rowRef { return make([]rowRef, n) }

	assert.Equal(t, 0, productSize(nil, 10))
	assert.Equal(t, 6, productSize([][]rowRef{refs(2), refs(3)}, 10))
	assert.Equal(t, 11, productSize([][]rowRef{refs(4), refs(3)}, 10))
	assert.Equal(t, 1_000_001, productSize([][]rowRef{refs(1500), refs(1500), refs(1500)}, 1_000_000))
	assert.Equal(t, 11, boundedAdd(6, 11, 10))
	assert.Equal(t, 9, boundedAdd(6, 3, 10))
}

func TestMerge_MatchedOrderedByGenerationThenID(t *testing.T) {
	e := newTestEngine(t)
	id := e.CreateSession()
	upload(t, e, id, "a.csv", "alias,v\nbld-72,1\n")
	upload(t, e, id, "b.csv", "name,w\nClone_7,2\n")

	res, err := e.Merge(context.Background(), id, false)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "D-1", res.Rows[0][0])
	assert.Equal(t, "B-1", res.Rows[1][0])
}

func TestMerge_MetaHeaderCollisionRenamed(t *testing.T) {
	e := newTestEngine(t)
	id := e.CreateSession()
	upload(t, e, id, "a.csv", "name,entity_id\nClone_7,LIMS-1\n")
	upload(t, e, id, "b.csv", "name\nX9\n")

	res, err := e.Merge(context.Background(), id, false)
	require.NoError(t, err)
	assert.Contains(t, res.Headers, "source_entity_id")
	assert.Equal(t, "D-1", res.Rows[0][0])
}

func TestMerge_Deterministic(t *testing.T) {
	run := func() *model.MergeResult {
		e := newTestEngine(t)
		id := sessionWithFiles(t, e)
		upload(t, e, id, "c.csv", "alias,score\nbld-72,7\nclone,3\n")
		res, err := e.Merge(context.Background(), id, false)
		require.NoError(t, err)
		return res
	}
	first := run()
	for i := 0; i < 5; i++ {
		again := run()
		assert.Equal(t, first.Fingerprint, again.Fingerprint)
		assert.Equal(t, first.Rows, again.Rows)
	}
}

func TestMerge_ConcurrentCallsComputeOnce(t *testing.T) {
	e := newTestEngine(t)
	id := sessionWithFiles(t, e)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Merge(context.Background(), id, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sum, err := e.Session(id)
	require.NoError(t, err)
	merges := 0
	for _, s := range sum.Steps {
		if s.Name == model.StepMerge {
			merges++
		}
	}
	assert.Equal(t, 1, merges)
}

func TestMerge_CanceledContext(t *testing.T) {
	e := newTestEngine(t)
	id := sessionWithFiles(t, e)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Merge(ctx, id, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	sum, err := e.Session(id)
	require.NoError(t, err)
	assert.False(t, sum.HasMerge)
}

func TestViews_AppendStepsWithoutTouchingCache(t *testing.T) {
	e := newTestEngine(t)
	id := sessionWithFiles(t, e)
	ctx := context.Background()

	merged, err := e.Merge(ctx, id, false)
	require.NoError(t, err)

	spec, err := e.Visualize(ctx, id, views.PlotRequest{PlotType: model.PlotBar, Y: "result_value"})
	require.NoError(t, err)
	assert.Equal(t, "entity_id", spec.Spec.X)

	rep, err := e.Analyze(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.DatasetInfo.Rows)

	q, err := e.Query(ctx, id, "entity_id IS NOT NULL")
	require.NoError(t, err)
	assert.Equal(t, 2, q.FilteredShape[0])

	again, err := e.Merge(ctx, id, false)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, merged.Rows, again.Rows)

	sum, err := e.Session(id)
	require.NoError(t, err)
	var names []model.StepName
	for _, s := range sum.Steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []model.StepName{
		model.StepUpload, model.StepUpload, model.StepMerge,
		model.StepVisualize, model.StepAnalyze, model.StepQuery,
	}, names)
}

func TestViews_ImplicitMerge(t *testing.T) {
	e := newTestEngine(t)
	id := sessionWithFiles(t, e)

	_, err := e.Analyze(context.Background(), id)
	require.NoError(t, err)

	sum, err := e.Session(id)
	require.NoError(t, err)
	assert.True(t, sum.HasMerge)
	assert.Equal(t, model.StepMerge, sum.Steps[2].Name)
	assert.Equal(t, model.StepAnalyze, sum.Steps[3].Name)
}

func TestViews_InvalidRequestAppendsNoStep(t *testing.T) {
	e := newTestEngine(t)
	id := sessionWithFiles(t, e)
	ctx := context.Background()

	_, err := e.Query(ctx, id, "this is not a predicate")
	assert.Equal(t, model.KindInvalidRequest, model.KindOf(err))
	_, err = e.Visualize(ctx, id, views.PlotRequest{PlotType: "pie"})
	assert.Equal(t, model.KindInvalidRequest, model.KindOf(err))

	sum, err := e.Session(id)
	require.NoError(t, err)
	assert.Equal(t, model.StepMerge, sum.Steps[len(sum.Steps)-1].Name)
}

func TestMatchFile(t *testing.T) {
	e := newTestEngine(t)
	id := e.CreateSession()
	res := upload(t, e, id, "b.csv", fileB)

	rep, err := e.MatchFile(context.Background(), id, res.FileID)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Total)
	assert.Equal(t, 2, rep.Matched)
	assert.Equal(t, 1, rep.ByMethod["mutation"])
	assert.Equal(t, 1, rep.ByMethod["alias"])
	assert.Equal(t, "B-1", rep.Tests[0].Match.EntityID)

	_, err = e.MatchFile(context.Background(), id, "nope")
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestExport(t *testing.T) {
	e := newTestEngine(t)
	id := sessionWithFiles(t, e)
	ctx := context.Background()

	var csvOut bytes.Buffer
	require.NoError(t, e.Export(ctx, id, "csv", &csvOut))
	assert.True(t, strings.HasPrefix(csvOut.String(), "entity_id,entity_kind,entity_name,match_method"))

	var xlsxOut bytes.Buffer
	require.NoError(t, e.Export(ctx, id, "XLSX", &xlsxOut))
	rows, err := tabular.ReadXLSX(xlsxOut.Bytes(), tabular.XLSXOptions{SheetName: "merged"})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, "D-1", rows[1][0])

	err = e.Export(ctx, id, "parquet", &bytes.Buffer{})
	assert.Equal(t, model.KindInvalidRequest, model.KindOf(err))
}

func TestClearSession(t *testing.T) {
	e := newTestEngine(t)
	id := sessionWithFiles(t, e)

	require.NoError(t, e.ClearSession(id))
	_, err := e.Session(id)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
	assert.Equal(t, model.KindNotFound, model.KindOf(e.ClearSession(id)))
	assert.Empty(t, e.ListSessions())
}

func TestEngine_RecordsMetrics(t *testing.T) {
	m, err := metrics.NewWorkflowMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	e := newTestEngine(t, WithMetrics(m))
	id := sessionWithFiles(t, e)
	ctx := context.Background()

	_, err = e.Merge(ctx, id, false)
	require.NoError(t, err)
	_, err = e.Merge(ctx, id, false)
	require.NoError(t, err)

	assert.Equal(t, 1, testutil.CollectAndCount(m, "assay_sessions_created_total"))
	count, err := testutil.GatherAndCount(m.Registry(), "assay_merge_cache_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count) // hit and miss series
}
