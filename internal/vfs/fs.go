package vfs

import (
	"bytes"
	"io/fs"
	"time"

	"github.com/mind-engage/mindengage-player/internal/scorm/paths"
)

// Open exposes registered files through io/fs by exact normalized path, so
// callers can use fs.ReadFile on a Registry.
func (r *Registry) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	f, ok := r.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &memFile{
		r:    bytes.NewReader(f.data),
		info: fileInfo{name: paths.Base(f.Path), size: int64(len(f.data))},
	}, nil
}

// memFile implements fs.File for a registered payload.
type memFile struct {
	r    *bytes.Reader
	info fileInfo
}

func (f *memFile) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *memFile) Close() error               { return nil }
func (f *memFile) Stat() (fs.FileInfo, error) { return f.info, nil }

type fileInfo struct {
	name string
	size int64
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() any           { return nil }
