// Package storage maps users onto the on-disk files that hold their
// conversation log and fact record.
package storage

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DirPerm is the permission used for the storage directory.
	DirPerm = 0750
	// FilePerm is the permission used for every file written.
	FilePerm = 0600

	logSuffix   = ".txt"
	factsSuffix = "_context.json"
)

// ErrInvalidUserID is returned for user IDs that cannot be mapped to a file.
var ErrInvalidUserID = errors.New("invalid user id")

// Layout resolves per-user paths inside a single directory. A user's log
// and fact record share the same escaped base name.
type Layout struct {
	dir string
}

// NewLayout returns a layout rooted at dir.
func NewLayout(dir string) *Layout {
	return &Layout{dir: dir}
}

// Dir returns the root directory.
func (l *Layout) Dir() string {
	return l.dir
}

// EnsureDir creates the root directory if needed.
func (l *Layout) EnsureDir() error {
	if err := os.MkdirAll(l.dir, DirPerm); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	return nil
}

// LogPath returns the path of the user's exchange log.
func (l *Layout) LogPath(userID string) (string, error) {
	name, err := fileName(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.dir, name+logSuffix), nil
}

// FactsPath returns the path of the user's fact record.
func (l *Layout) FactsPath(userID string) (string, error) {
	name, err := fileName(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.dir, name+factsSuffix), nil
}

// UserIDs lists every user with an exchange log, sorted.
func (l *Layout) UserIDs() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, logSuffix) {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, logSuffix))
		if err != nil || id == "" {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func fileName(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrInvalidUserID
	}
	name := url.PathEscape(userID)
	// PathEscape leaves dots alone, which would let "." and ".." through.
	if strings.Trim(name, ".") == "" {
		name = strings.ReplaceAll(name, ".", "%2E")
	}
	return name, nil
}
