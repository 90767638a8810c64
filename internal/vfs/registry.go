// Package vfs maps the path spellings found inside a content package to
// addressable references for the extracted files.
package vfs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mind-engage/mindengage-player/internal/scorm/paths"
)

// Handles issues and revokes addressable references.
type Handles interface {
	Create(name string, data []byte, mimeType string) (string, error)
	Replace(ref string, data []byte) error
	Revoke(ref string)
}

// Entry is a registered file as seen by callers.
type Entry struct {
	Path     string `json:"path"`
	Ref      string `json:"ref"`
	MimeType string `json:"mime_type"`
}

type file struct {
	Entry
	data      []byte
	lowerBase string
}

// Registry holds one content load's files. It is not safe for concurrent
// mutation; a load builds it, then only reads it until Clear.
type Registry struct {
	handles Handles
	files   map[string]*file
	order   []*file
	issued  []string
}

func New(h Handles) *Registry {
	return &Registry{handles: h, files: map[string]*file{}}
}

var ErrEmptyPath = errors.New("vfs: empty path")

// Register stores data under the normalized path and returns a new
// reference. Re-registering a path replaces the entry but keeps its place
// in registration order; the previous reference stays live until Clear.
func (r *Registry) Register(p string, data []byte) (string, error) {
	n := paths.Normalize(p)
	if n == "" {
		return "", fmt.Errorf("%w: %q", ErrEmptyPath, p)
	}
	mt := paths.MimeType(n)
	ref, err := r.handles.Create(paths.Base(n), data, mt)
	if err != nil {
		return "", fmt.Errorf("vfs: register %s: %w", n, err)
	}
	r.issued = append(r.issued, ref)

	if f, ok := r.files[n]; ok {
		f.Ref, f.MimeType, f.data = ref, mt, data
		return ref, nil
	}
	f := &file{
		Entry:     Entry{Path: n, Ref: ref, MimeType: mt},
		data:      data,
		lowerBase: strings.ToLower(paths.Base(n)),
	}
	r.files[n] = f
	r.order = append(r.order, f)
	return ref, nil
}

// Rewrite replaces the content behind an already registered path without
// issuing a new reference.
func (r *Registry) Rewrite(p string, data []byte) error {
	f, ok := r.files[paths.Normalize(p)]
	if !ok {
		return fmt.Errorf("vfs: rewrite %s: not registered", p)
	}
	if err := r.handles.Replace(f.Ref, data); err != nil {
		return err
	}
	f.data = data
	return nil
}

// Resolve runs the general resolution chain. Query strings and fragments
// are ignored. A miss returns false, never an error.
func (r *Registry) Resolve(p string) (Entry, bool) {
	return r.run(r.Chain(), p)
}

// ResolveEntryPoint is Resolve plus the document entry-point fallback, for
// callers that need something renderable.
func (r *Registry) ResolveEntryPoint(p string) (Entry, bool) {
	return r.run(append(r.Chain(), EntryPointFallback(r)), p)
}

// Chain returns the general resolvers in the order they are tried.
func (r *Registry) Chain() []Resolver {
	return []Resolver{
		ExactMatch(r),
		FilenameMatch(r),
		VariationMatch(r),
		ContainsMatch(r),
	}
}

func (r *Registry) run(chain []Resolver, p string) (Entry, bool) {
	clean, _ := paths.SplitSuffix(strings.TrimSpace(p))
	for _, res := range chain {
		if e, ok := res.TryResolve(clean); ok {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries lists registered files in registration order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, f := range r.order {
		out = append(out, f.Entry)
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }

// Clear revokes every reference this registry ever issued, including ones
// orphaned by re-registration, and empties it.
func (r *Registry) Clear() {
	for _, ref := range r.issued {
		r.handles.Revoke(ref)
	}
	r.issued = nil
	r.files = map[string]*file{}
	r.order = nil
}
