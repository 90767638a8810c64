// Package player turns imported content packages into viewable content:
// it owns the package library, per-viewer views and tracking sessions.
package player

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-player/internal/course"
	"github.com/mind-engage/mindengage-player/internal/scorm"
	"github.com/mind-engage/mindengage-player/internal/storage"
	syncx "github.com/mind-engage/mindengage-player/internal/sync"
)

// EventRecorder receives audit events. *syncx.EventRepo implements it.
type EventRecorder interface {
	Record(ctx context.Context, typ, key string, data any) error
}

// Library imports packages and keeps recently used ones extracted in memory.
type Library struct {
	store     course.Store
	blobs     storage.BlobStore
	extractor *scorm.Extractor
	events    EventRecorder

	mu       sync.Mutex
	cache    map[string]*scorm.Package
	order    []string
	maxCache int

	now func() time.Time
}

func NewLibrary(store course.Store, blobs storage.BlobStore, ex *scorm.Extractor, events EventRecorder) *Library {
	if ex == nil {
		ex = &scorm.Extractor{}
	}
	return &Library{
		store:     store,
		blobs:     blobs,
		extractor: ex,
		events:    events,
		cache:     map[string]*scorm.Package{},
		maxCache:  16,
		now:       time.Now,
	}
}

// Import extracts and parses the archive, then stores it. Nothing is
// stored when extraction or parsing fails.
func (l *Library) Import(ctx context.Context, r io.Reader, importedBy string) (course.Package, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return course.Package{}, fmt.Errorf("%w: read upload: %v", scorm.ErrPackage, err)
	}
	pkg, err := l.extractor.Extract(ctx, bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return course.Package{}, err
	}

	id := uuid.NewString()
	key, err := l.blobs.Put("packages/"+id+".zip", bytes.NewReader(b))
	if err != nil {
		return course.Package{}, fmt.Errorf("store archive: %w", err)
	}
	rec := course.Package{
		ID:         id,
		Title:      pkg.Manifest.Title,
		ManifestID: pkg.Manifest.ID,
		Version:    pkg.Manifest.Version,
		BlobKey:    key,
		SizeBytes:  int64(len(b)),
		FileCount:  len(pkg.Files),
		Manifest:   pkg.Manifest,
		ImportedBy: importedBy,
		CreatedAt:  l.now().Unix(),
	}
	if err := l.store.PutPackage(ctx, rec); err != nil {
		_ = l.blobs.Delete(key)
		return course.Package{}, err
	}
	l.remember(id, pkg)
	l.record(ctx, syncx.TypePackageImported, id, map[string]any{
		"title": rec.Title, "manifest_id": rec.ManifestID, "files": rec.FileCount, "by": importedBy,
	})
	return rec, nil
}

func (l *Library) Get(ctx context.Context, id string) (course.Package, error) {
	return l.store.GetPackage(ctx, id)
}

func (l *Library) List(ctx context.Context, opts course.ListOpts) ([]course.Summary, error) {
	return l.store.ListPackages(ctx, opts)
}

// Open returns the package record and its extracted files, re-extracting
// the stored archive when it is not cached.
func (l *Library) Open(ctx context.Context, id string) (course.Package, *scorm.Package, error) {
	rec, err := l.store.GetPackage(ctx, id)
	if err != nil {
		return course.Package{}, nil, err
	}
	l.mu.Lock()
	pkg, ok := l.cache[id]
	l.mu.Unlock()
	if ok {
		return rec, pkg, nil
	}

	rc, err := l.blobs.Get(rec.BlobKey)
	if err != nil {
		return course.Package{}, nil, fmt.Errorf("load archive %s: %w", rec.BlobKey, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return course.Package{}, nil, fmt.Errorf("load archive %s: %w", rec.BlobKey, err)
	}
	pkg, err = l.extractor.Extract(ctx, bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return course.Package{}, nil, err
	}
	l.remember(id, pkg)
	return rec, pkg, nil
}

// Delete removes the record, its tracking and the stored archive.
func (l *Library) Delete(ctx context.Context, id string) error {
	rec, err := l.store.GetPackage(ctx, id)
	if err != nil {
		return err
	}
	if err := l.store.DeletePackage(ctx, id); err != nil {
		return err
	}
	if err := l.blobs.Delete(rec.BlobKey); err != nil {
		log.Printf("player: delete archive %s: %v", rec.BlobKey, err)
	}
	l.forget(id)
	l.record(ctx, syncx.TypePackageDeleted, id, map[string]any{"title": rec.Title})
	return nil
}

func (l *Library) remember(id string, pkg *scorm.Package) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cache[id]; !ok {
		l.order = append(l.order, id)
	}
	l.cache[id] = pkg
	for len(l.order) > l.maxCache {
		delete(l.cache, l.order[0])
		l.order = l.order[1:]
	}
}

func (l *Library) forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, id)
	for i, k := range l.order {
		if k == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func (l *Library) record(ctx context.Context, typ, key string, data any) {
	if l.events == nil {
		return
	}
	if err := l.events.Record(ctx, typ, key, data); err != nil {
		log.Printf("player: event %s %s: %v", typ, key, err)
	}
}
