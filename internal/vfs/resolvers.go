package vfs

import (
	"strings"

	"github.com/mind-engage/mindengage-player/internal/scorm/paths"
)

// Resolver is one stage of the resolution chain.
type Resolver interface {
	TryResolve(p string) (Entry, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(p string) (Entry, bool)

func (f ResolverFunc) TryResolve(p string) (Entry, bool) { return f(p) }

// ExactMatch looks the normalized path up directly.
func ExactMatch(r *Registry) Resolver {
	return ResolverFunc(func(p string) (Entry, bool) {
		if f, ok := r.files[paths.Normalize(p)]; ok {
			return f.Entry, true
		}
		return Entry{}, false
	})
}

// FilenameMatch compares the bare file name case-insensitively; the
// earliest registration wins.
func FilenameMatch(r *Registry) Resolver {
	return ResolverFunc(func(p string) (Entry, bool) {
		return r.byName(strings.ToLower(paths.Base(paths.Normalize(p))))
	})
}

// VariationMatch tries the alternate spellings from paths.Variations.
func VariationMatch(r *Registry) Resolver {
	return ResolverFunc(func(p string) (Entry, bool) {
		for _, v := range paths.Variations(p) {
			if f, ok := r.files[v]; ok {
				return f.Entry, true
			}
			if f, ok := r.files[paths.Normalize(v)]; ok {
				return f.Entry, true
			}
		}
		return Entry{}, false
	})
}

// ContainsMatch accepts any registered path containing the requested file
// name.
func ContainsMatch(r *Registry) Resolver {
	return ResolverFunc(func(p string) (Entry, bool) {
		name := strings.ToLower(paths.Base(paths.Normalize(p)))
		if name == "" {
			return Entry{}, false
		}
		for _, f := range r.order {
			if strings.Contains(strings.ToLower(f.Path), name) {
				return f.Entry, true
			}
		}
		return Entry{}, false
	})
}

var entryNames = []string{
	"index.html", "index.htm",
	"main.html", "main.htm",
	"start.html", "start.htm",
	"launch.html", "launch.htm",
	"default.html", "default.htm",
}

// EntryPointFallback ignores the request and returns a conventional entry
// document, or the first registered document.
func EntryPointFallback(r *Registry) Resolver {
	return ResolverFunc(func(string) (Entry, bool) {
		for _, name := range entryNames {
			if e, ok := r.byName(name); ok {
				return e, true
			}
		}
		for _, f := range r.order {
			if paths.IsDocument(f.Path) {
				return f.Entry, true
			}
		}
		return Entry{}, false
	})
}

func (r *Registry) byName(lowerName string) (Entry, bool) {
	if lowerName == "" {
		return Entry{}, false
	}
	for _, f := range r.order {
		if f.lowerBase == lowerName {
			return f.Entry, true
		}
	}
	return Entry{}, false
}
