package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/resilience"
)

func sampleSession() *model.PipelineSession {
	s := &model.PipelineSession{
		SessionID: "sess-1",
		Mode:      model.ModeFresh,
		WorkItems: []*model.WorkItem{
			model.NewWorkItem("123 Main St"),
			model.NewWorkItem("456 Oak Ave"),
		},
	}
	for _, name := range model.PhaseNames {
		s.WorkItems[0].Phase(name).Status = model.PhaseCompleted
	}
	return s
}

func TestSessionLoadMissingReturnsNil(t *testing.T) {
	s := NewSessionStore(filepath.Join(t.TempDir(), "session.json"))
	assert.False(t, s.Exists())

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSessionSaveLoadRoundTrip(t *testing.T) {
	store := NewSessionStore(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, store.Save(sampleSession()))
	assert.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "sess-1", loaded.SessionID)
	assert.Len(t, loaded.WorkItems, 2)
	assert.False(t, loaded.LastCheckpoint.IsZero())
	// Save recounts before writing.
	assert.Equal(t, 1, loaded.Summary.Completed)
	assert.Equal(t, 1, loaded.Summary.Pending)
}

func TestSessionLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("}{"), 0o644))

	_, err := NewSessionStore(path).Load()
	var ie *resilience.IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, path, ie.Path)
}

func TestSessionLoadVersionMismatchEstimatesLoss(t *testing.T) {
	store := NewSessionStore(filepath.Join(t.TempDir(), "session.json"))

	// A future-version file with an intact payload.
	data, err := json.Marshal(sessionFile{Version: 99, Session: sampleSession()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path(), data, 0o644))

	_, err = store.Load()
	var ie *resilience.IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 1, ie.CompletedLost, "loss estimate counts completed properties")
}

func TestSessionDiscard(t *testing.T) {
	store := NewSessionStore(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, store.Save(sampleSession()))
	require.NoError(t, store.Discard())
	assert.False(t, store.Exists())

	// Discarding twice is fine.
	require.NoError(t, store.Discard())
}
