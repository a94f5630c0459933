// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/KingAli2wq/socialsync/internal/jsonfile"
)

// Media error sentinels
var (
	ErrPathEscapesRoot = errors.New("path_escapes_root")
	ErrMediaNotFound   = errors.New("media_not_found")
)

// MaxMediaBytes caps a single media blob at 200 MiB.
const MaxMediaBytes = 200 << 20

// MediaStore reads and writes binary attachments under a fixed root
// directory. Every path is containment-checked before any filesystem access;
// this is the one security boundary in the subsystem.
type MediaStore struct {
	root string
}

// NewMediaStore creates root if needed and returns a store rooted there.
func NewMediaStore(root string) (*MediaStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &MediaStore{root: abs}, nil
}

// Resolve validates relPath and returns its absolute location under the
// media root. Absolute paths, backslashes, ".." segments, and anything whose
// cleaned form is not a descendant of the root are rejected.
func (m *MediaStore) Resolve(relPath string) (string, error) {
	if err := CheckPathContainment(relPath); err != nil {
		return "", err
	}
	full := filepath.Join(m.root, filepath.FromSlash(relPath))
	rel, err := filepath.Rel(m.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, relPath)
	}
	return full, nil
}

// CheckPathContainment rejects media paths that could traverse outside the
// media root, before any path resolution happens. Backslashes are rejected
// outright so Windows-style traversal ("..\\..\\secrets") cannot sneak past
// slash-based segment checks.
func CheckPathContainment(relPath string) error {
	if strings.TrimSpace(relPath) == "" {
		return fmt.Errorf("%w: empty path", ErrPathEscapesRoot)
	}
	if strings.ContainsRune(relPath, '\\') {
		return fmt.Errorf("%w: %q", ErrPathEscapesRoot, relPath)
	}
	if strings.HasPrefix(relPath, "/") || filepath.IsAbs(relPath) {
		return fmt.Errorf("%w: %q", ErrPathEscapesRoot, relPath)
	}
	for _, seg := range strings.Split(relPath, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %q", ErrPathEscapesRoot, relPath)
		}
	}
	return nil
}

// Save writes a blob atomically at relPath under the media root.
func (m *MediaStore) Save(relPath string, data []byte) error {
	full, err := m.Resolve(relPath)
	if err != nil {
		return err
	}
	if len(data) > MaxMediaBytes {
		return fmt.Errorf("blob too large: %d bytes", len(data))
	}
	return jsonfile.WriteBytesAtomic(full, data)
}

// SaveStream writes a blob from r, enforcing MaxMediaBytes while copying.
func (m *MediaStore) SaveStream(relPath string, r io.Reader) (int64, error) {
	full, err := m.Resolve(relPath)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, io.LimitReader(r, MaxMediaBytes+1))
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if n > MaxMediaBytes {
		tmp.Close()
		return 0, fmt.Errorf("blob too large: exceeds %d bytes", MaxMediaBytes)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, full); err != nil {
		return 0, err
	}
	return n, nil
}

// Load reads the blob at relPath. ErrMediaNotFound is returned when the file
// is absent after the containment check passes.
func (m *MediaStore) Load(relPath string) ([]byte, error) {
	full, err := m.Resolve(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %q", ErrMediaNotFound, relPath)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Open returns a reader over the blob at relPath, for streaming downloads.
func (m *MediaStore) Open(relPath string) (io.ReadCloser, int64, error) {
	full, err := m.Resolve(relPath)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, 0, fmt.Errorf("%w: %q", ErrMediaNotFound, relPath)
	}
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}
