package model

import "time"

// StepName identifies a workflow step recorded in a session's history.
type StepName string

const (
	StepUpload    StepName = "upload"
	StepMerge     StepName = "merge"
	StepVisualize StepName = "visualize"
	StepAnalyze   StepName = "analyze"
	StepQuery     StepName = "query"
)

// Step is one entry of a session's step history.
type Step struct {
	Name      StepName  `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary"`
}

// UploadedFile is an ingested upload. It is immutable once added to a session.
type UploadedFile struct {
	ID          string     `json:"id"`
	Name        string     `json:"filename"`
	Data        []byte     `json:"-"`
	Size        int        `json:"size"`
	ContentHash string     `json:"content_hash"`
	Format      FileFormat `json:"format"`
	Columns     []Column   `json:"detected_columns"`
	RowCount    int        `json:"row_count"`
	UploadedAt  time.Time  `json:"uploaded_at"`
}

// CachedMerge is the memoized merge output of a session. It is valid only
// while Fingerprint equals the fingerprint of the session's current files.
type CachedMerge struct {
	Fingerprint    string     `json:"input_fingerprint"`
	Headers        []string   `json:"headers"`
	Rows           [][]string `json:"rows"`
	MatchedCount   int        `json:"matched_count"`
	UnmatchedCount int        `json:"unmatched_count"`
	Issues         []RowIssue `json:"issues,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// WorkflowSession holds one user's uploads, derived merge and step history.
type WorkflowSession struct {
	ID        string         `json:"session_id"`
	CreatedAt time.Time      `json:"created_at"`
	Files     []UploadedFile `json:"files"`
	Steps     []Step         `json:"step_history"`
	Merge     *CachedMerge   `json:"-"`
}

// Clone returns a copy whose slices can be modified without affecting s.
// Files and the cached merge are immutable and shared.
func (s *WorkflowSession) Clone() *WorkflowSession {
	c := *s
	c.Files = append([]UploadedFile(nil), s.Files...)
	c.Steps = append([]Step(nil), s.Steps...)
	return &c
}

// SessionSummary is a compact view of a session for listings and status.
type SessionSummary struct {
	ID               string         `json:"session_id"`
	CreatedAt        time.Time      `json:"created_at"`
	Files            []UploadedFile `json:"files"`
	Steps            []Step         `json:"step_history"`
	HasMerge         bool           `json:"has_merge"`
	MergeFingerprint string         `json:"merge_fingerprint,omitempty"`
}

// Summary builds the session summary.
func (s *WorkflowSession) Summary() SessionSummary {
	out := SessionSummary{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Files:     append([]UploadedFile(nil), s.Files...),
		Steps:     append([]Step(nil), s.Steps...),
	}
	if s.Merge != nil {
		out.HasMerge = true
		out.MergeFingerprint = s.Merge.Fingerprint
	}
	return out
}

// MergeResult is returned by a merge request.
type MergeResult struct {
	Fingerprint string     `json:"input_fingerprint"`
	Headers     []string   `json:"headers"`
	Rows        [][]string `json:"rows"`
	Total       int        `json:"total"`
	Matched     int        `json:"matched"`
	Unmatched   int        `json:"unmatched"`
	Cached      bool       `json:"cached"`
	Issues      []RowIssue `json:"issues,omitempty"`
}

// NewMergeResult wraps a cached merge as a merge result.
func NewMergeResult(m *CachedMerge, cached bool) *MergeResult {
	return &MergeResult{
		Fingerprint: m.Fingerprint,
		Headers:     m.Headers,
		Rows:        m.Rows,
		Total:       len(m.Rows),
		Matched:     m.MatchedCount,
		Unmatched:   m.UnmatchedCount,
		Cached:      cached,
		Issues:      m.Issues,
	}
}

// Leading columns of every merged table.
const (
	ColEntityID        = "entity_id"
	ColEntityKind      = "entity_kind"
	ColEntityName      = "entity_name"
	ColMatchMethod     = "match_method"
	ColMatchConfidence = "match_confidence"
	ColMatchScore      = "match_score"
	ColMatchReason     = "match_reason"
	ColSources         = "sources"
)

// MergeMetaHeaders lists the leading merged-table columns in output order.
var MergeMetaHeaders = []string{
	ColEntityID,
	ColEntityKind,
	ColEntityName,
	ColMatchMethod,
	ColMatchConfidence,
	ColMatchScore,
	ColMatchReason,
	ColSources,
}

// IsMergeMeta reports whether h is one of the leading merged-table columns.
func IsMergeMeta(h string) bool {
	for _, m := range MergeMetaHeaders {
		if h == m {
			return true
		}
	}
	return false
}
