package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/confidant/internal/storage"
)

func TestLayoutPaths(t *testing.T) {
	dir := t.TempDir()
	layout := storage.NewLayout(dir)

	tests := []struct {
		name    string
		userID  string
		wantLog string
		wantErr bool
	}{
		{name: "plain", userID: "12345", wantLog: "12345.txt"},
		{name: "phone number", userID: "+15551234567", wantLog: "+15551234567.txt"},
		{name: "slash escaped", userID: "a/b", wantLog: "a%2Fb.txt"},
		{name: "dot dot escaped", userID: "..", wantLog: "%2E%2E.txt"},
		{name: "empty", userID: "", wantErr: true},
		{name: "blank", userID: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logPath, err := layout.LogPath(tt.userID)
			if tt.wantErr {
				require.ErrorIs(t, err, storage.ErrInvalidUserID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.wantLog), logPath)

			factsPath, err := layout.FactsPath(tt.userID)
			require.NoError(t, err)
			assert.Equal(t, filepath.Dir(logPath), filepath.Dir(factsPath))
		})
	}
}

func TestLayoutUserIDs(t *testing.T) {
	dir := t.TempDir()
	layout := storage.NewLayout(dir)

	for _, id := range []string{"bob", "a/b", "alice"} {
		p, err := layout.LogPath(id)
		require.NoError(t, err)
		require.NoError(t, storage.AppendLine(p, "x"))

		f, err := layout.FactsPath(id)
		require.NoError(t, err)
		require.NoError(t, storage.WriteFileAtomic(f, []byte("{}")))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.txt"), 0o750))

	ids, err := layout.UserIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b", "alice", "bob"}, ids)
}

func TestLayoutUserIDsMissingDir(t *testing.T) {
	layout := storage.NewLayout(filepath.Join(t.TempDir(), "absent"))
	ids, err := layout.UserIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.txt")
	require.NoError(t, storage.RemoveIfExists(path))

	require.NoError(t, storage.WriteFileAtomic(path, []byte("data")))
	require.NoError(t, storage.RemoveIfExists(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
