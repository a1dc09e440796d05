// Package store persists resolved artifact bytes.
//
// The ledger records artifact metadata; the bytes themselves land here,
// keyed by day and session id, and the ledger references them by the
// storage path this package returns.
package store

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/sluice/ledger"
	"github.com/justapithecus/sluice/types"
)

// Store persists artifact bytes and returns the storage path they landed at.
type Store interface {
	// Put writes one artifact. The filename must not contain path
	// separators or "..".
	Put(ctx context.Context, sessionID, day, filename, contentType string, data []byte) (string, error)
}

// artifactPath computes the partitioned storage path for an artifact file.
func artifactPath(sessionID, day, filename string) string {
	return fmt.Sprintf("artifacts/day=%s/session_id=%s/%s", day, sessionID, filename)
}

// Dir stores artifacts under a local directory.
type Dir struct {
	root string
}

var _ Store = (*Dir)(nil)

// NewDir creates a directory-backed store rooted at root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) Put(_ context.Context, sessionID, day, filename, _ string, data []byte) (string, error) {
	if err := validateFilename(filename); err != nil {
		return "", err
	}
	path := filepath.Join(d.root, filepath.FromSlash(artifactPath(sessionID, day, filename)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", filename, err)
	}
	return path, nil
}

// Lode stores artifacts through a Lode store, which covers S3 and
// S3-compatible backends. The store initializes lazily from the factory.
type Lode struct {
	factory  lode.StoreFactory
	once     sync.Once
	store    lode.Store
	storeErr error
}

var _ Store = (*Lode)(nil)

// NewLode creates a store over the given Lode store factory.
func NewLode(factory lode.StoreFactory) *Lode {
	return &Lode{factory: factory}
}

// NewS3 creates an S3-backed store. Credentials come from the AWS SDK
// default chain.
func NewS3(ctx context.Context, s3cfg ledger.S3Config) (*Lode, error) {
	factory, err := ledger.NewS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewLode(factory), nil
}

func (l *Lode) Put(ctx context.Context, sessionID, day, filename, _ string, data []byte) (string, error) {
	if err := validateFilename(filename); err != nil {
		return "", err
	}
	store, err := l.getOrCreateStore()
	if err != nil {
		return "", fmt.Errorf("artifact store init failed: %w", err)
	}
	path := artifactPath(sessionID, day, filename)
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to store artifact %s: %w", filename, err)
	}
	return path, nil
}

func (l *Lode) getOrCreateStore() (lode.Store, error) {
	l.once.Do(func() {
		l.store, l.storeErr = l.factory()
	})
	return l.store, l.storeErr
}

// Stub records Put calls for testing.
type Stub struct {
	mu    sync.Mutex
	Files []StubRecord
	// PutErr, when set, is returned by every Put.
	PutErr error
}

// StubRecord is one recorded Put call.
type StubRecord struct {
	SessionID   string
	Day         string
	Filename    string
	ContentType string
	Data        []byte
}

var _ Store = (*Stub)(nil)

func (s *Stub) Put(_ context.Context, sessionID, day, filename, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return "", s.PutErr
	}
	s.Files = append(s.Files, StubRecord{
		SessionID:   sessionID,
		Day:         day,
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
	})
	return artifactPath(sessionID, day, filename), nil
}

// SaveAll persists every successfully resolved artifact and returns storage
// paths aligned with the input. Failed or unsaved entries get an empty path.
// A storage failure on one artifact does not stop the rest; the first error
// is returned after all artifacts are attempted.
func SaveAll(ctx context.Context, s Store, sessionID, day string, resolved []types.ResolvedArtifact) ([]string, error) {
	paths := make([]string, len(resolved))
	used := make(map[string]int)
	var firstErr error
	for i, ra := range resolved {
		if ra.Err != nil || len(ra.Data) == 0 {
			continue
		}
		name := artifactFilename(ra, i, used)
		path, err := s.Put(ctx, sessionID, day, name, ra.MediaType, ra.Data)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		paths[i] = path
	}
	return paths, firstErr
}

// artifactFilename picks a safe unique filename for a resolved artifact.
// Upstream names are sanitized; unnamed artifacts get a positional name
// with an extension derived from the media type. Repeated names within a
// session get a numeric suffix.
func artifactFilename(ra types.ResolvedArtifact, index int, used map[string]int) string {
	name := sanitizeFilename(ra.Ref.Name)
	if name == "" {
		name = fmt.Sprintf("artifact-%d%s", index+1, extensionFor(ra.MediaType))
	}
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}

// sanitizeFilename strips path components and rejects traversal sequences,
// keeping only the base name.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.ToSlash(name))
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}

// validateFilename rejects names that would escape the artifact prefix.
func validateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("artifact filename must not be empty")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return fmt.Errorf("artifact filename %q must not contain path separators or \"..\"", name)
	}
	return nil
}

// extensionFor maps a media type to a file extension, falling back to .bin.
func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "text/plain":
		return ".txt"
	case "application/json":
		return ".json"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
