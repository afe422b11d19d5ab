// Package registry tracks per-user session state in a single JSON file:
// the active conversation, the in-flight flag, the status message and the
// daily message quota.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/apexion-ai/threadline/internal/conversation"
)

// DateLayout keys daily usage counters.
const DateLayout = "2006-01-02"

// Entry is the persisted state of one user.
type Entry struct {
	UserID          string         `json:"user_id"`
	ConversationID  string         `json:"conversation_id,omitempty"`
	StatusMessageID *int           `json:"status_message_id"`
	InFlight        bool           `json:"in_flight"`
	InFlightSince   *time.Time     `json:"in_flight_since,omitempty"`
	DailyUsage      map[string]int `json:"daily_usage,omitempty"`
	FullName        string         `json:"full_name,omitempty"`
	Username        string         `json:"username,omitempty"`
	ProfileURL      string         `json:"profile_url,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Registry is a file-backed map of user id to Entry. Every mutation is a
// locked read-modify-write that replaces the file atomically.
type Registry struct {
	path   string
	locker Locker
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Registry stored at path. The parent directory is created.
func New(path string, locker Locker, logger *slog.Logger) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	if locker == nil {
		locker = &MutexLocker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{path: path, locker: locker, logger: logger, now: time.Now}, nil
}

// Path returns the registry file location.
func (r *Registry) Path() string { return r.path }

func (r *Registry) today() string {
	return r.now().UTC().Format(DateLayout)
}

// GetOrCreateActiveConversation returns the user's active conversation,
// creating one if the user has none.
func (r *Registry) GetOrCreateActiveConversation(userID string) (string, error) {
	var id string
	err := r.mutate(userID, func(e *Entry) bool {
		if e.ConversationID != "" {
			id = e.ConversationID
			return false
		}
		e.ConversationID = conversation.NewID()
		id = e.ConversationID
		return true
	})
	return id, err
}

// StartNewConversation replaces the user's active conversation with a new one.
// The old conversation's log is left untouched.
func (r *Registry) StartNewConversation(userID string) (string, error) {
	id := conversation.NewID()
	err := r.mutate(userID, func(e *Entry) bool {
		e.ConversationID = id
		return true
	})
	return id, err
}

// BeginInFlight marks a turn as running. It reports false, without writing,
// when a turn is already running for the user.
func (r *Registry) BeginInFlight(userID string) (bool, error) {
	started := false
	err := r.mutate(userID, func(e *Entry) bool {
		if e.InFlight {
			return false
		}
		now := r.now().UTC()
		e.InFlight = true
		e.InFlightSince = &now
		started = true
		return true
	})
	return started, err
}

// SetStatus records the id of the transport message showing progress.
func (r *Registry) SetStatus(userID string, messageID int) error {
	return r.mutate(userID, func(e *Entry) bool {
		e.StatusMessageID = &messageID
		return true
	})
}

// ClearStatus ends the running turn and forgets the status message.
// Every successful BeginInFlight must be paired with a ClearStatus.
func (r *Registry) ClearStatus(userID string) error {
	return r.mutate(userID, func(e *Entry) bool {
		e.InFlight = false
		e.InFlightSince = nil
		e.StatusMessageID = nil
		return true
	})
}

// StatusMessageID returns the recorded status message, if any.
func (r *Registry) StatusMessageID(userID string) (int, bool, error) {
	e, ok, err := r.Get(userID)
	if err != nil || !ok || e.StatusMessageID == nil {
		return 0, false, err
	}
	return *e.StatusMessageID, true, nil
}

// CanConsumeMessage reports whether the user is below dailyLimit today.
// A limit <= 0 disables the quota.
func (r *Registry) CanConsumeMessage(userID string, dailyLimit int) (bool, error) {
	if dailyLimit <= 0 {
		return true, nil
	}
	e, _, err := r.Get(userID)
	if err != nil {
		return false, err
	}
	return e.DailyUsage[r.today()] < dailyLimit, nil
}

// ConsumeMessage counts one message against today's quota.
func (r *Registry) ConsumeMessage(userID string) error {
	day := r.today()
	return r.mutate(userID, func(e *Entry) bool {
		if e.DailyUsage == nil {
			e.DailyUsage = make(map[string]int)
		}
		e.DailyUsage[day]++
		return true
	})
}

// UpdateProfile stores display details for the user.
func (r *Registry) UpdateProfile(userID, fullName, username string) error {
	return r.mutate(userID, func(e *Entry) bool {
		e.FullName = fullName
		e.Username = username
		e.ProfileURL = ""
		if username != "" {
			e.ProfileURL = "https://t.me/" + username
		}
		return true
	})
}

// Get returns the user's entry without taking the lock.
func (r *Registry) Get(userID string) (Entry, bool, error) {
	m, err := r.read()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := m[userID]
	if !ok {
		return Entry{UserID: userID}, false, nil
	}
	return *e, true, nil
}

// List returns every entry without taking the lock.
func (r *Registry) List() (map[string]Entry, error) {
	m, err := r.read()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(m))
	for k, e := range m {
		out[k] = *e
	}
	return out, nil
}

// ReleaseStale clears in-flight flags held longer than olderThan and returns
// the affected user ids. Entries without a start time are treated as stale.
func (r *Registry) ReleaseStale(olderThan time.Duration) ([]string, error) {
	now := r.now().UTC()
	var released []string
	err := r.mutateAll(func(m map[string]*Entry) bool {
		for id, e := range m {
			if !e.InFlight {
				continue
			}
			if e.InFlightSince != nil && now.Sub(*e.InFlightSince) < olderThan {
				continue
			}
			e.InFlight = false
			e.InFlightSince = nil
			e.StatusMessageID = nil
			e.UpdatedAt = now
			released = append(released, id)
		}
		return len(released) > 0
	})
	sort.Strings(released)
	return released, err
}

// PruneUsage drops daily counters older than keepDays and returns how many
// were removed.
func (r *Registry) PruneUsage(keepDays int) (int, error) {
	if keepDays < 1 {
		keepDays = 1
	}
	cutoff := r.now().UTC().AddDate(0, 0, -keepDays).Format(DateLayout)
	removed := 0
	err := r.mutateAll(func(m map[string]*Entry) bool {
		for _, e := range m {
			for day := range e.DailyUsage {
				// Dates in DateLayout sort lexically.
				if day < cutoff {
					delete(e.DailyUsage, day)
					removed++
				}
			}
		}
		return removed > 0
	})
	return removed, err
}

// mutate applies fn to the user's entry under the lock. The file is
// rewritten only when fn reports a change.
func (r *Registry) mutate(userID string, fn func(e *Entry) bool) error {
	if userID == "" {
		return errors.New("registry: empty user id")
	}
	return r.mutateAll(func(m map[string]*Entry) bool {
		e, ok := m[userID]
		if !ok {
			e = &Entry{UserID: userID}
		}
		if !fn(e) {
			return false
		}
		e.UpdatedAt = r.now().UTC()
		m[userID] = e
		return true
	})
}

func (r *Registry) mutateAll(fn func(m map[string]*Entry) bool) error {
	unlock, err := r.locker.Lock()
	if err != nil {
		return err
	}
	defer unlock()

	m, err := r.read()
	if err != nil {
		return err
	}
	if !fn(m) {
		return nil
	}
	return r.write(m)
}

func (r *Registry) read() (map[string]*Entry, error) {
	m := make(map[string]*Entry)
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", r.path, err)
	}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("registry %s is corrupt: %w", r.path, err)
	}
	for id, e := range m {
		if e == nil {
			m[id] = &Entry{UserID: id}
		} else if e.UserID == "" {
			e.UserID = id
		}
	}
	return m, nil
}

func (r *Registry) write(m map[string]*Entry) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := writeFileAtomic(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write registry %s: %w", r.path, err)
	}
	return nil
}

// writeFileAtomic writes to a temp file in the same directory and renames it
// over path. The rename is retried briefly since Windows refuses to replace a
// file another process has open.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		err = os.Rename(tmpName, path)
		if err == nil || attempt == 5 {
			return err
		}
		time.Sleep(time.Duration(attempt) * 20 * time.Millisecond)
	}
}
