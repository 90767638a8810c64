package course

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mind-engage/mindengage-player/internal/scorm/parser"
)

var (
	ErrNotFound = errors.New("course: not found")
	// ErrConflict marks a second tracking record for the same package,
	// item and user.
	ErrConflict = errors.New("course: conflicting tracking record")
)

// Package is an imported content package. The archive itself lives in blob
// storage under BlobKey; the parsed manifest is kept alongside.
type Package struct {
	ID         string                `json:"id"`
	Title      string                `json:"title"`
	ManifestID string                `json:"manifest_id"`
	Version    string                `json:"version"`
	BlobKey    string                `json:"blob_key"`
	SizeBytes  int64                 `json:"size_bytes"`
	FileCount  int                   `json:"file_count"`
	Manifest   parser.CourseManifest `json:"manifest"`
	ImportedBy string                `json:"imported_by,omitempty"`
	CreatedAt  int64                 `json:"created_at"`
}

type Summary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Version   string `json:"version"`
	FileCount int    `json:"file_count"`
	CreatedAt int64  `json:"created_at"`
}

func (p Package) Summary() Summary {
	return Summary{ID: p.ID, Title: p.Title, Version: p.Version, FileCount: p.FileCount, CreatedAt: p.CreatedAt}
}

// Tracking is the committed runtime state of one learner on one item.
type Tracking struct {
	ID        string            `json:"id"`
	PackageID string            `json:"package_id"`
	ItemID    string            `json:"item_id"`
	UserID    string            `json:"user_id"`
	Status    string            `json:"status"`
	Values    map[string]string `json:"values"`
	UpdatedAt int64             `json:"updated_at"`
}

type ListOpts struct {
	Q      string
	Limit  int
	Offset int
}

type Store interface {
	PutPackage(ctx context.Context, p Package) error
	GetPackage(ctx context.Context, id string) (Package, error)
	ListPackages(ctx context.Context, opts ListOpts) ([]Summary, error)
	DeletePackage(ctx context.Context, id string) error

	GetTracking(ctx context.Context, id string) (Tracking, error)
	FindTracking(ctx context.Context, packageID, itemID, userID string) (Tracking, error)
	SaveTracking(ctx context.Context, t Tracking) error
}

func (o ListOpts) window() (limit, offset int) {
	limit, offset = o.Limit, o.Offset
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type memoryStore struct {
	mu       sync.RWMutex
	packages map[string]Package
	tracking map[string]Tracking
}

func NewInMemoryStore() Store {
	return &memoryStore{
		packages: map[string]Package{},
		tracking: map[string]Tracking{},
	}
}

func (m *memoryStore) PutPackage(_ context.Context, p Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packages[p.ID] = p
	return nil
}

func (m *memoryStore) GetPackage(_ context.Context, id string) (Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.packages[id]
	if !ok {
		return Package{}, ErrNotFound
	}
	return p, nil
}

func (m *memoryStore) ListPackages(_ context.Context, opts ListOpts) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(opts.Q))
	out := []Summary{}
	for _, p := range m.packages {
		if q != "" && !strings.Contains(strings.ToLower(p.Title), q) {
			continue
		}
		out = append(out, p.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	limit, offset := opts.window()
	if offset >= len(out) {
		return []Summary{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) DeletePackage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.packages[id]; !ok {
		return ErrNotFound
	}
	delete(m.packages, id)
	for tid, t := range m.tracking {
		if t.PackageID == id {
			delete(m.tracking, tid)
		}
	}
	return nil
}

func (m *memoryStore) GetTracking(_ context.Context, id string) (Tracking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tracking[id]
	if !ok {
		return Tracking{}, ErrNotFound
	}
	return t, nil
}

func (m *memoryStore) FindTracking(_ context.Context, packageID, itemID, userID string) (Tracking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tracking {
		if t.PackageID == packageID && t.ItemID == itemID && t.UserID == userID {
			return t, nil
		}
	}
	return Tracking{}, ErrNotFound
}

func (m *memoryStore) SaveTracking(_ context.Context, t Tracking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.packages[t.PackageID]; !ok {
		return ErrNotFound
	}
	for id, cur := range m.tracking {
		if id != t.ID && cur.PackageID == t.PackageID && cur.ItemID == t.ItemID && cur.UserID == t.UserID {
			return fmt.Errorf("%w: %s holds %s/%s/%s", ErrConflict, id, t.PackageID, t.ItemID, t.UserID)
		}
	}
	m.tracking[t.ID] = t
	return nil
}
