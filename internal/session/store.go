// Package session holds in-memory workflow sessions.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/assay-cli/internal/model"
)

// entry guards one session. Operations on different sessions never share mu.
type entry struct {
	mu      sync.Mutex
	sess    *model.WorkflowSession
	cleared bool
}

// Store is a process-wide map of sessions. The map lock is held only for
// lookups; all work on a session happens under that session's own lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	now   func() time.Time
	newID func() string
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// New creates an empty session store.
func New(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.now() }

// Create starts a new empty session and returns its id.
func (s *Store) Create() string {
	sess := &model.WorkflowSession{CreatedAt: s.now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	for s.sessions[id] != nil {
		id = s.newID()
	}
	sess.ID = id
	s.sessions[id] = &entry{sess: sess}

	zap.L().Info("session: created", zap.String("session_id", id))
	return id
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, model.NotFoundError("session", id)
	}
	return e, nil
}

// WithSession runs fn with exclusive access to the live session. fn may
// modify the session; it must not retain it after returning.
func (s *Store) WithSession(id string, fn func(*model.WorkflowSession) error) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cleared {
		return model.NotFoundError("session", id)
	}
	return fn(e.sess)
}

// AddFile appends an uploaded file and records an upload step. The cached
// merge is left as is; it is invalidated by fingerprint on the next merge.
func (s *Store) AddFile(id string, f model.UploadedFile) error {
	return s.WithSession(id, func(sess *model.WorkflowSession) error {
		sess.Files = append(sess.Files, f)
		sess.Steps = append(sess.Steps, model.Step{
			Name:      model.StepUpload,
			Timestamp: s.now(),
			Summary:   fmt.Sprintf("uploaded %s (%d rows, %d bytes)", f.Name, f.RowCount, f.Size),
		})
		return nil
	})
}

// AppendStep records a step in the session's history.
func (s *Store) AppendStep(id string, name model.StepName, summary string) error {
	return s.WithSession(id, func(sess *model.WorkflowSession) error {
		sess.Steps = append(sess.Steps, model.Step{Name: name, Timestamp: s.now(), Summary: summary})
		return nil
	})
}

// Get returns a snapshot of the session.
func (s *Store) Get(id string) (*model.WorkflowSession, error) {
	var out *model.WorkflowSession
	err := s.WithSession(id, func(sess *model.WorkflowSession) error {
		out = sess.Clone()
		return nil
	})
	return out, err
}

// Clear deletes a session and everything it holds.
func (s *Store) Clear(id string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cleared {
		return model.NotFoundError("session", id)
	}
	e.cleared = true
	e.sess = nil

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	zap.L().Info("session: cleared", zap.String("session_id", id))
	return nil
}

// List returns summaries of all sessions ordered by creation time, then id.
func (s *Store) List() []model.SessionSummary {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]model.SessionSummary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.cleared {
			out = append(out, e.sess.Summary())
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
