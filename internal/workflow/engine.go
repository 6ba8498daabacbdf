// Package workflow runs the session-scoped assay workflow: uploads, the
// cached merge, per-file match reports and derived views.
package workflow

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assay-cli/internal/ingest"
	"github.com/sells-group/assay-cli/internal/matcher"
	"github.com/sells-group/assay-cli/internal/metrics"
	"github.com/sells-group/assay-cli/internal/model"
	"github.com/sells-group/assay-cli/internal/session"
	"github.com/sells-group/assay-cli/internal/tabular"
	"github.com/sells-group/assay-cli/internal/views"
)

// MinMergeFiles is the smallest file count a merge accepts.
const MinMergeFiles = 2

// DefaultMaxMergeRows bounds the joined table when MergeOptions leaves it unset.
const DefaultMaxMergeRows = 1_000_000

// MergeOptions bounds merge output.
type MergeOptions struct {
	MaxRows int `yaml:"max_rows" mapstructure:"max_rows"`
}

func (o MergeOptions) withDefaults() MergeOptions {
	if o.MaxRows <= 0 {
		o.MaxRows = DefaultMaxMergeRows
	}
	return o
}

// Config configures the engine.
type Config struct {
	Ingest ingest.Options
	Views  views.Options
	Merge  MergeOptions
}

// Engine executes workflow operations against a session store and an
// entity matcher. It is safe for concurrent use.
type Engine struct {
	sessions *session.Store
	matcher  *matcher.Matcher
	metrics  *metrics.WorkflowMetrics
	cfg      Config
}

// Option configures the Engine.
type Option func(*Engine)

// WithMetrics records workflow metrics.
func WithMetrics(m *metrics.WorkflowMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an engine.
func New(sessions *session.Store, m *matcher.Matcher, cfg Config, opts ...Option) *Engine {
	e := &Engine{sessions: sessions, matcher: m, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sessions returns the engine's session store.
func (e *Engine) Sessions() *session.Store { return e.sessions }

// CreateSession starts a new empty session.
func (e *Engine) CreateSession() string {
	id := e.sessions.Create()
	e.metrics.RecordSessionCreated()
	return id
}

// Session returns a summary of the session.
func (e *Engine) Session(id string) (model.SessionSummary, error) {
	sess, err := e.sessions.Get(id)
	if err != nil {
		return model.SessionSummary{}, err
	}
	return sess.Summary(), nil
}

// ListSessions returns summaries of all sessions.
func (e *Engine) ListSessions() []model.SessionSummary {
	return e.sessions.List()
}

// ClearSession deletes a session.
func (e *Engine) ClearSession(id string) error {
	if err := e.sessions.Clear(id); err != nil {
		return e.fail("clear", err)
	}
	e.metrics.RecordSessionCleared()
	return nil
}

// UploadResult acknowledges an accepted upload.
type UploadResult struct {
	Accepted        bool             `json:"accepted"`
	FileID          string           `json:"file_id"`
	Filename        string           `json:"filename"`
	DetectedColumns []model.Column   `json:"detected_columns"`
	RowCount        int              `json:"row_count"`
	Issues          []model.RowIssue `json:"issues,omitempty"`
}

// Upload ingests a file and attaches it to the session. Files that fail to
// parse are rejected and the session is left unchanged.
func (e *Engine) Upload(ctx context.Context, id, filename string, data []byte) (*UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := e.sessions.Get(id); err != nil {
		return nil, e.fail("upload", err)
	}

	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, e.fail("upload", model.InvalidRequestError("filename is required"))
	}

	table, err := ingest.Ingest(filename, data, e.cfg.Ingest)
	if err != nil {
		format, _ := ingest.DetectFormat(filename)
		e.metrics.RecordUpload(string(format), "error", len(data))
		return nil, e.fail("upload", eris.Wrapf(err, "workflow: upload %s", filename))
	}

	f := model.UploadedFile{
		ID:          uuid.New().String(),
		Name:        filename,
		Data:        append([]byte(nil), data...),
		Size:        len(data),
		ContentHash: ContentHash(data),
		Format:      table.Format,
		Columns:     table.Columns,
		RowCount:    len(table.Rows),
		UploadedAt:  e.sessions.Now(),
	}
	if err := e.sessions.AddFile(id, f); err != nil {
		return nil, e.fail("upload", err)
	}
	e.metrics.RecordUpload(string(f.Format), "success", f.Size)

	zap.L().Info("workflow: file uploaded",
		zap.String("session_id", id),
		zap.String("file_id", f.ID),
		zap.String("filename", filename),
		zap.Int("rows", f.RowCount),
		zap.Int("issues", len(table.Issues)),
	)

	return &UploadResult{
		Accepted:        true,
		FileID:          f.ID,
		Filename:        f.Name,
		DetectedColumns: f.Columns,
		RowCount:        f.RowCount,
		Issues:          table.Issues,
	}, nil
}

// Merge returns the session's merged table. Unless force is set, a cached
// merge whose fingerprint matches the current files is returned as is, with
// no recomputation and no new step.
func (e *Engine) Merge(ctx context.Context, id string, force bool) (*model.MergeResult, error) {
	m, cached, err := e.merge(ctx, id, force)
	if err != nil {
		return nil, e.fail("merge", err)
	}
	return model.NewMergeResult(m, cached), nil
}

// merge holds the session lock from fingerprinting until the new cache is
// stored.
func (e *Engine) merge(ctx context.Context, id string, force bool) (*model.CachedMerge, bool, error) {
	var (
		out    *model.CachedMerge
		cached bool
	)
	err := e.sessions.WithSession(id, func(sess *model.WorkflowSession) error {
		fp := Fingerprint(sess.Files)
		if !force && sess.Merge != nil && sess.Merge.Fingerprint == fp {
			out, cached = sess.Merge, true
			e.metrics.RecordMergeCache("hit")
			zap.L().Debug("workflow: merge cache hit", zap.String("session_id", id), zap.String("fingerprint", fp))
			return nil
		}
		if len(sess.Files) < MinMergeFiles {
			return model.InsufficientInputsError(len(sess.Files), MinMergeFiles)
		}

		if force {
			e.metrics.RecordMergeCache("forced")
		} else {
			e.metrics.RecordMergeCache("miss")
		}

		start := time.Now()
		files, err := e.matchFiles(ctx, sess.Files)
		if err != nil {
			return err
		}
		m, err := join(files, e.cfg.Merge.withDefaults().MaxRows)
		if err != nil {
			return err
		}
		m.Fingerprint = fp
		m.CreatedAt = e.sessions.Now()

		for _, f := range files {
			for _, t := range f.tests {
				e.metrics.RecordMatch(string(t.Match.Method()))
			}
		}
		e.metrics.RecordMergeComputed(time.Since(start), len(m.Rows))

		sess.Merge = m
		sess.Steps = append(sess.Steps, model.Step{
			Name:      model.StepMerge,
			Timestamp: m.CreatedAt,
			Summary: fmt.Sprintf("merged %d files into %d rows (%d matched, %d unmatched)",
				len(sess.Files), len(m.Rows), m.MatchedCount, m.UnmatchedCount),
		})
		out = m

		zap.L().Info("workflow: merge computed",
			zap.String("session_id", id),
			zap.String("fingerprint", fp),
			zap.Int("files", len(sess.Files)),
			zap.Int("rows", len(m.Rows)),
			zap.Int("matched", m.MatchedCount),
			zap.Int("unmatched", m.UnmatchedCount),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil
	})
	return out, cached, err
}

// FileMatchReport is the matching engine applied to one uploaded file.
type FileMatchReport struct {
	FileID    string         `json:"file_id"`
	Filename  string         `json:"filename"`
	Total     int            `json:"total"`
	Matched   int            `json:"matched"`
	Unmatched int            `json:"unmatched"`
	ByMethod  map[string]int `json:"by_method"`
	Tests     []model.Test   `json:"tests"`
}

// MatchFile matches every row of one uploaded file.
func (e *Engine) MatchFile(ctx context.Context, id, fileID string) (*FileMatchReport, error) {
	sess, err := e.sessions.Get(id)
	if err != nil {
		return nil, e.fail("match_file", err)
	}
	for _, f := range sess.Files {
		if f.ID != fileID {
			continue
		}
		files, err := e.matchFiles(ctx, []model.UploadedFile{f})
		if err != nil {
			return nil, e.fail("match_file", err)
		}
		return newFileMatchReport(f, files[0].tests), nil
	}
	return nil, e.fail("match_file", model.NotFoundError("file", fileID))
}

func newFileMatchReport(f model.UploadedFile, tests []model.Test) *FileMatchReport {
	rep := &FileMatchReport{
		FileID:   f.ID,
		Filename: f.Name,
		Total:    len(tests),
		ByMethod: make(map[string]int),
		Tests:    tests,
	}
	for _, t := range tests {
		rep.ByMethod[string(t.Match.Method())]++
		if t.Match.Matched() {
			rep.Matched++
		}
	}
	rep.Unmatched = rep.Total - rep.Matched
	return rep
}

// Visualize builds a plot of the merged table.
func (e *Engine) Visualize(ctx context.Context, id string, req views.PlotRequest) (*model.PlotSpec, error) {
	m, _, err := e.merge(ctx, id, false)
	if err != nil {
		return nil, e.fail("visualize", err)
	}
	spec, err := views.Visualize(m, req, e.cfg.Views)
	if err != nil {
		return nil, e.fail("visualize", err)
	}
	summary := fmt.Sprintf("%s plot of %s", spec.PlotType, spec.Spec.X)
	if spec.Spec.Y != "" {
		summary += " vs " + spec.Spec.Y
	}
	if err := e.recordView(id, model.StepVisualize, string(spec.PlotType), summary); err != nil {
		return nil, err
	}
	return spec, nil
}

// Analyze summarizes the merged table.
func (e *Engine) Analyze(ctx context.Context, id string) (*model.AnalysisReport, error) {
	m, _, err := e.merge(ctx, id, false)
	if err != nil {
		return nil, e.fail("analyze", err)
	}
	rep := views.Analyze(m, e.cfg.Views)
	summary := fmt.Sprintf("%d rows, %d quality issues, %d correlations",
		rep.DatasetInfo.Rows, len(rep.QualityIssues), len(rep.Correlations))
	if err := e.recordView(id, model.StepAnalyze, "analyze", summary); err != nil {
		return nil, err
	}
	return rep, nil
}

// Query filters the merged table.
func (e *Engine) Query(ctx context.Context, id, predicate string) (*model.QueryResult, error) {
	m, _, err := e.merge(ctx, id, false)
	if err != nil {
		return nil, e.fail("query", err)
	}
	res, err := views.Query(m, predicate, e.cfg.Views)
	if err != nil {
		return nil, e.fail("query", err)
	}
	summary := fmt.Sprintf("%s kept %d of %d rows", res.Predicate, res.FilteredShape[0], res.FilteredShape[0]+res.RowsRemoved)
	if err := e.recordView(id, model.StepQuery, "query", summary); err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Engine) recordView(id string, step model.StepName, view, summary string) error {
	if err := e.sessions.AppendStep(id, step, summary); err != nil {
		return e.fail(string(step), err)
	}
	e.metrics.RecordView(view)
	return nil
}

// Export formats supported by Export.
const (
	ExportCSV  = "csv"
	ExportXLSX = "xlsx"
)

// Export writes the merged table to w as CSV or XLSX.
func (e *Engine) Export(ctx context.Context, id, format string, w io.Writer) error {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportCSV
	}
	if format != ExportCSV && format != ExportXLSX {
		return e.fail("export", model.InvalidRequestError("unknown export format %q (supported: csv, xlsx)", format))
	}

	m, _, err := e.merge(ctx, id, false)
	if err != nil {
		return e.fail("export", err)
	}
	if format == ExportXLSX {
		err = tabular.WriteXLSX(w, "merged", m.Headers, m.Rows)
	} else {
		err = tabular.WriteCSV(w, m.Headers, m.Rows)
	}
	if err != nil {
		return e.fail("export", eris.Wrap(err, "workflow: export"))
	}
	return nil
}

// fail records an operation error and returns it unchanged.
func (e *Engine) fail(op string, err error) error {
	kind := model.KindOf(err)
	e.metrics.RecordError(op, string(kind))
	if kind == model.KindInternal {
		zap.L().Error("workflow: operation failed", zap.String("operation", op), zap.Error(err))
	} else {
		zap.L().Debug("workflow: operation rejected", zap.String("operation", op), zap.Error(err))
	}
	return err
}
