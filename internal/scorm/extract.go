// Package scorm unpacks content packages: a zip archive with an
// imsmanifest.xml at its root plus the assets it describes.
package scorm

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/mindengage-player/internal/scorm/parser"
)

// ManifestName is the manifest entry, matched case-sensitively at the root.
const ManifestName = "imsmanifest.xml"

var ErrPackage = errors.New("package: invalid archive")

// Package is a fully extracted archive.
type Package struct {
	Manifest parser.CourseManifest
	// Files is keyed by the entry name exactly as stored in the archive.
	Files map[string][]byte
	// Order lists the Files keys in archive order.
	Order []string
}

type Extractor struct {
	// Workers bounds concurrent entry reads. <= 0 means 8.
	Workers int
	// MaxFileSize rejects single entries larger than this. <= 0 means no limit.
	MaxFileSize int64

	open func(f *zip.File) (io.ReadCloser, error)
}

// Extract uses an Extractor with default limits.
func Extract(ctx context.Context, r io.ReaderAt, size int64) (*Package, error) {
	return (&Extractor{}).Extract(ctx, r, size)
}

// ExtractBytes is Extract over an in-memory archive.
func ExtractBytes(ctx context.Context, b []byte) (*Package, error) {
	return Extract(ctx, bytes.NewReader(b), int64(len(b)))
}

func (e *Extractor) Extract(ctx context.Context, r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackage, err)
	}

	manifestAt := -1
	for i, f := range zr.File {
		if f.Name == ManifestName {
			manifestAt = i
			break
		}
	}
	if manifestAt < 0 {
		return nil, fmt.Errorf("%w: no %s at archive root", ErrPackage, ManifestName)
	}

	mb, err := e.read(zr.File[manifestAt])
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrPackage, ManifestName, err)
	}
	m, err := parser.Parse(mb)
	if err != nil {
		return nil, err
	}

	type result struct {
		data []byte
		ok   bool
	}
	results := make([]result, len(zr.File))
	results[manifestAt] = result{data: mb, ok: true}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	content := 0
	for i, f := range zr.File {
		if i == manifestAt || isDir(f) {
			continue
		}
		content++
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := e.read(f)
			if err != nil {
				log.Printf("scorm: skip entry %s: %v", f.Name, err)
				return nil
			}
			results[i] = result{data: b, ok: true}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pkg := &Package{Manifest: m, Files: make(map[string][]byte, len(zr.File))}
	extracted := 0
	for i, f := range zr.File {
		if !results[i].ok {
			continue
		}
		if _, dup := pkg.Files[f.Name]; !dup {
			pkg.Order = append(pkg.Order, f.Name)
		}
		pkg.Files[f.Name] = results[i].data
		if i != manifestAt {
			extracted++
		}
	}
	if extracted == 0 {
		if content == 0 {
			return nil, fmt.Errorf("%w: no files besides %s", ErrPackage, ManifestName)
		}
		return nil, fmt.Errorf("%w: all %d entries failed to extract", ErrPackage, content)
	}
	return pkg, nil
}

func (e *Extractor) workers() int {
	if e.Workers <= 0 {
		return 8
	}
	return e.Workers
}

func (e *Extractor) read(f *zip.File) ([]byte, error) {
	open := e.open
	if open == nil {
		open = func(f *zip.File) (io.ReadCloser, error) { return f.Open() }
	}
	rc, err := open(f)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var src io.Reader = rc
	if e.MaxFileSize > 0 {
		src = io.LimitReader(rc, e.MaxFileSize+1)
	}
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if e.MaxFileSize > 0 && int64(len(b)) > e.MaxFileSize {
		return nil, fmt.Errorf("entry larger than %d bytes", e.MaxFileSize)
	}
	return b, nil
}

func isDir(f *zip.File) bool {
	return strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir()
}
