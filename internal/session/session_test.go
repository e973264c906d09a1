package session_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/crewmap/internal/domain/model"
	"github.com/okian/crewmap/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() model.Session {
	return model.Session{
		CrewID: "c1", CrewName: "Hikers", InviteCode: "ABC234",
		MemberID: "m1", MemberName: "Ana", MemberColor: "#ef4444",
		DeviceUniqueID: "m1", DeviceID: "7",
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.yaml")
	s := session.NewFileStore(path)

	_, ok, err := s.Get()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(sample()))
	got, ok, err := s.Get()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sample(), got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, s.Clear())
	_, ok, err = s.Get()
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Clear())
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crew_id: [unterminated"), 0o600))

	_, _, err := session.NewFileStore(path).Get()
	assert.True(t, errors.Is(err, session.ErrCorrupt))
}

func TestFileStoreIncompleteSessionIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crew_id: c1\n"), 0o600))

	_, ok, err := session.NewFileStore(path).Get()
	require.NoError(t, err)
	assert.False(t, ok)
}
