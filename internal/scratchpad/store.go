package scratchpad

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ad-sdlc/pipeline-core/internal/config"
)

// Watcher backs the watch() notification primitive. Implemented by
// internal/eventbridge so this package stays dependency-light; Store
// publishes change notifications and forwards Subscribe calls rather than
// owning fsnotify directly.
type Watcher interface {
	Publish(projectID, sectionID string)
	Subscribe(projectID, sectionID string) (events <-chan Notification, cancel func())
}

// Notification is one change event delivered to a watch() subscriber.
type Notification struct {
	ProjectID string
	SectionID string
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithClock overrides the Store's time source for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.now = clock }
}

// WithHistoryLimit overrides the default 50-entry history ring.
func WithHistoryLimit(limit int) Option {
	return func(s *Store) { s.historyLimit = limit }
}

// WithLockWait overrides the default 5s lock-acquisition timeout.
func WithLockWait(wait time.Duration) Option {
	return func(s *Store) { s.lockWait = wait }
}

// WithWatcher attaches a Watcher so Set/Update/Transition publish change
// notifications for watch() subscribers.
func WithWatcher(w Watcher) Option {
	return func(s *Store) { s.watcher = w }
}

// Store is the typed, validated, lockable scratchpad state manager.
type Store struct {
	cfg          *config.Config
	now          func() time.Time
	historyLimit int
	lockWait     time.Duration
	watcher      Watcher
}

// NewStore constructs a Store rooted at the given config's scratchpad tree.
func NewStore(cfg *config.Config, opts ...Option) *Store {
	s := &Store{
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
		historyLimit: DefaultHistoryLimit,
		lockWait:     DefaultLockWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) sectionPath(sec Section, projectID string) string {
	return filepath.Join(s.cfg.ScratchpadRoot(), filepath.FromSlash(sec.Path(projectID)))
}

// Get returns a section's current body and envelope metadata, or
// (Envelope{}, "", false, nil) if absent. It fails with NotFoundError only
// when required is true and the section is absent.
func (s *Store) Get(sec Section, projectID string) (Envelope, string, bool, error) {
	path := s.sectionPath(sec, projectID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if sec.Required {
				return Envelope{}, "", false, &NotFoundError{Section: sec.ID, ProjectID: projectID}
			}
			return Envelope{}, "", false, nil
		}
		return Envelope{}, "", false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	env, err := decodeEnvelope(sec.Format, data)
	if err != nil {
		return Envelope{}, "", false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	body, version, err := migrate(sec.ID, env.SchemaVersion, env.Body)
	if err != nil {
		return Envelope{}, "", false, err
	}
	env.SchemaVersion, env.Body = version, body
	return env, body, true, nil
}

// Set performs an atomic, schema-validated write and appends a history
// entry for the superseded value when history is enabled (limit > 0).
func (s *Store) Set(sec Section, projectID, body string, notes map[string]string) (Envelope, error) {
	if err := validate(sec.ID, body); err != nil {
		return Envelope{}, err
	}
	path := s.sectionPath(sec, projectID)
	lock := newFileLock(path)
	release, err := lock.Acquire("set:"+sec.ID, s.lockWait)
	if err != nil {
		return Envelope{}, err
	}
	defer release()

	now := s.now()
	prior, _, hadPrior, _ := s.Get(sec, projectID)
	env := Envelope{
		SchemaVersion: CurrentSchemaVersion,
		ProjectID:     projectID,
		SectionID:     sec.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Notes:         notes,
		Body:          body,
	}
	if hadPrior {
		env.CreatedAt = prior.CreatedAt
	}
	data, err := encodeEnvelope(sec.Format, env)
	if err != nil {
		return Envelope{}, err
	}
	if err := atomicWrite(path, data); err != nil {
		return Envelope{}, err
	}
	if s.historyLimit > 0 && hadPrior {
		if err := appendHistory(s.cfg.HistoryDir(sec.ID+"/"+projectID), prior, "set", s.historyLimit); err != nil {
			return Envelope{}, err
		}
	}
	s.publish(projectID, sec.ID)
	return env, nil
}

// UpdateFunc mutates a section's current body (or "" if absent) and
// returns the new body.
type UpdateFunc func(current string, existed bool) (string, error)

// Update performs a read-modify-write with the write-lock held for the
// whole operation.
func (s *Store) Update(sec Section, projectID string, fn UpdateFunc) (Envelope, error) {
	path := s.sectionPath(sec, projectID)
	lock := newFileLock(path)
	release, err := lock.Acquire("update:"+sec.ID, s.lockWait)
	if err != nil {
		return Envelope{}, err
	}
	defer release()

	prior, body, existed, err := s.getLocked(sec, projectID)
	if err != nil {
		return Envelope{}, err
	}
	next, err := fn(body, existed)
	if err != nil {
		return Envelope{}, fmt.Errorf("scratchpad: update %s: %w", sec.ID, err)
	}
	if err := validate(sec.ID, next); err != nil {
		return Envelope{}, err
	}
	now := s.now()
	env := Envelope{
		SchemaVersion: CurrentSchemaVersion,
		ProjectID:     projectID,
		SectionID:     sec.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Body:          next,
	}
	if existed {
		env.CreatedAt = prior.CreatedAt
	}
	data, err := encodeEnvelope(sec.Format, env)
	if err != nil {
		return Envelope{}, err
	}
	if err := atomicWrite(path, data); err != nil {
		return Envelope{}, err
	}
	if s.historyLimit > 0 && existed {
		if err := appendHistory(s.cfg.HistoryDir(sec.ID+"/"+projectID), prior, "update", s.historyLimit); err != nil {
			return Envelope{}, err
		}
	}
	s.publish(projectID, sec.ID)
	return env, nil
}

// getLocked is Get without re-acquiring the lock (caller already holds it).
func (s *Store) getLocked(sec Section, projectID string) (Envelope, string, bool, error) {
	path := s.sectionPath(sec, projectID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Envelope{}, "", false, nil
		}
		return Envelope{}, "", false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	env, err := decodeEnvelope(sec.Format, data)
	if err != nil {
		return Envelope{}, "", false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return env, env.Body, true, nil
}

func (s *Store) publish(projectID, sectionID string) {
	if s.watcher != nil {
		s.watcher.Publish(projectID, sectionID)
	}
}

func decodeEnvelope(format Format, data []byte) (Envelope, error) {
	switch format {
	case FormatJSON:
		var env Envelope
		if err := jsonUnmarshal(data, &env); err != nil {
			return Envelope{}, err
		}
		return env, nil
	case FormatMarkdown:
		return decodeMarkdown(data)
	default:
		var env Envelope
		if err := yaml.Unmarshal(data, &env); err != nil {
			return Envelope{}, err
		}
		return env, nil
	}
}

func encodeEnvelope(format Format, env Envelope) ([]byte, error) {
	switch format {
	case FormatJSON:
		return jsonMarshalIndent(env)
	case FormatMarkdown:
		return encodeMarkdown(env)
	default:
		return yaml.Marshal(env)
	}
}
