package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/natural-query/webapp/internal/backend"
	"github.com/natural-query/webapp/internal/models"
)

// DefaultMaxSessions bounds memory when no limit is configured.
const DefaultMaxSessions = 1000

var (
	ErrNotFound = errors.New("session not found")
	ErrBusy     = errors.New("a request of this kind is already in flight")
)

// Manager holds the query-view state of every visitor.
type Manager struct {
	sessions    map[string]*SessionState
	mu          sync.RWMutex
	maxSessions int
	logger      *slog.Logger
}

// SessionState holds a view state and its bookkeeping.
type SessionState struct {
	View         *models.ViewState
	LastAccessed time.Time
}

// NewManager creates a session manager. maxSessions <= 0 uses DefaultMaxSessions.
func NewManager(maxSessions int, logger *slog.Logger) *Manager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:    make(map[string]*SessionState),
		maxSessions: maxSessions,
		logger:      logger,
	}
}

// Create starts a fresh, empty view state and returns a snapshot of it.
func (m *Manager) Create() models.ViewState {
	view := models.NewViewState(uuid.New().String())

	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictIfNeededLocked()
	m.sessions[view.ID] = &SessionState{
		View:         view,
		LastAccessed: time.Now(),
	}
	return *view
}

// Get returns a snapshot of a session's view state.
func (m *Manager) Get(id string) (models.ViewState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return models.ViewState{}, false
	}
	return *state.View, true
}

// Touch updates the LastAccessed timestamp for a session.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// Delete drops a session.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// BeginUpload marks an upload of fileName as in flight.
func (m *Manager) BeginUpload(id, fileName string) error {
	return m.update(id, func(v *models.ViewState) error {
		if v.Uploading {
			return ErrBusy
		}
		v.Uploading = true
		v.PendingFile = fileName
		v.UploadError = ""
		return nil
	})
}

// FinishUpload clears the upload flag. On success the pending file becomes
// the current one and its receipt is stored; on failure only the error
// message changes.
func (m *Manager) FinishUpload(id string, receipt *models.UploadReceipt, err error) error {
	return m.update(id, func(v *models.ViewState) error {
		v.Uploading = false
		pending := v.PendingFile
		v.PendingFile = ""
		if err != nil {
			v.UploadError = backend.UserMessage(err)
			return nil
		}
		v.FileName = pending
		v.UploadSuccess = true
		v.UploadError = ""
		v.Receipt = receipt
		return nil
	})
}

// RejectUpload records a failure that happened before any upload started.
func (m *Manager) RejectUpload(id string, message string) error {
	return m.update(id, func(v *models.ViewState) error {
		v.UploadError = message
		return nil
	})
}

// BeginQuery marks a query as in flight.
func (m *Manager) BeginQuery(id, text string) error {
	return m.update(id, func(v *models.ViewState) error {
		if v.Querying {
			return ErrBusy
		}
		v.Querying = true
		v.Query = text
		v.QueryError = ""
		return nil
	})
}

// FinishQuery clears the query flag. A successful response replaces the
// previous result set wholesale; a failure leaves it untouched.
func (m *Manager) FinishQuery(id string, resp *models.QueryResponse, err error) error {
	return m.update(id, func(v *models.ViewState) error {
		v.Querying = false
		if err != nil {
			v.QueryError = backend.UserMessage(err)
			return nil
		}
		v.Result = resp.Result
		v.SQL = resp.SQL
		v.QueryError = ""
		return nil
	})
}

// RejectQuery records a failure that happened before any query started.
func (m *Manager) RejectQuery(id, text, message string) error {
	return m.update(id, func(v *models.ViewState) error {
		v.Query = text
		v.QueryError = message
		return nil
	})
}

// CleanupOldSessions removes idle sessions older than maxAge. Sessions with a
// request in flight are kept. It returns the number removed.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, state := range m.sessions {
		if state.View.Uploading || state.View.Querying {
			continue
		}
		if state.LastAccessed.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Info("cleaned up idle sessions", "removed", removed, "remaining", len(m.sessions))
	}
	return removed
}

// RunCleanup calls CleanupOldSessions every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupOldSessions(maxAge)
		}
	}
}

func (m *Manager) update(id string, fn func(*models.ViewState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(state.View); err != nil {
		return err
	}
	now := time.Now()
	state.View.UpdatedAt = now
	state.LastAccessed = now
	return nil
}

// evictIfNeededLocked frees room for one more session by dropping the least
// recently used idle ones.
func (m *Manager) evictIfNeededLocked() {
	if len(m.sessions) < m.maxSessions {
		return
	}

	ids := make([]string, 0, len(m.sessions))
	for id, state := range m.sessions {
		if state.View.Uploading || state.View.Querying {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.sessions[ids[i]].LastAccessed.Before(m.sessions[ids[j]].LastAccessed)
	})

	toFree := len(m.sessions) - m.maxSessions + 1
	for _, id := range ids {
		if toFree <= 0 {
			break
		}
		delete(m.sessions, id)
		toFree--
	}
}
