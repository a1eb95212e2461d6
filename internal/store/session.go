package store

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/resilience"
)

const sessionFileVersion = 1

type sessionFile struct {
	Version int                    `json:"version"`
	Session *model.PipelineSession `json:"session"`
}

// SessionStore persists the pipeline session with the same backup-then-
// atomic-replace discipline as the property store.
type SessionStore struct {
	path string
}

// NewSessionStore creates a session store over the given file path.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// Path returns the backing file path.
func (s *SessionStore) Path() string { return s.path }

// Exists reports whether a persisted session is present.
func (s *SessionStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the persisted session in its entirety. Returns nil when no
// session file exists. Corruption or a version mismatch is an
// IntegrityError carrying a loss estimate, so the caller can offer the
// abort-vs-discard choice instead of guessing.
func (s *SessionStore) Load() (*model.PipelineSession, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: read session file %s", s.path)
	}

	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &resilience.IntegrityError{
			Err:  eris.Wrapf(err, "store: session file %s is corrupt", s.path),
			Path: s.path,
		}
	}
	if file.Version != sessionFileVersion || file.Session == nil {
		ie := &resilience.IntegrityError{
			Err:  eris.Errorf("store: session file %s has version %d, want %d", s.path, file.Version, sessionFileVersion),
			Path: s.path,
		}
		if file.Session != nil {
			file.Session.Recount()
			ie.CompletedLost = file.Session.Summary.Completed
		}
		return nil, ie
	}

	return file.Session, nil
}

// Save checkpoints the full session atomically, keeping a dated backup of
// the previous state first.
func (s *SessionStore) Save(session *model.PipelineSession) error {
	now := time.Now().UTC()
	session.LastCheckpoint = now
	session.Recount()

	data, err := json.MarshalIndent(sessionFile{Version: sessionFileVersion, Session: session}, "", "  ")
	if err != nil {
		return eris.Wrap(err, "store: marshal session")
	}
	return saveWithBackup(s.path, data, now)
}

// Discard removes the persisted session file. Used by fresh start after the
// operator has seen the loss estimate.
func (s *SessionStore) Discard() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return eris.Wrapf(err, "store: discard session file %s", s.path)
}
