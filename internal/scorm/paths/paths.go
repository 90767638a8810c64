// Package paths holds the pure path-string helpers used to match the
// inconsistent relative paths found inside content packages.
package paths

import (
	"mime"
	"path"
	"strings"
)

// Normalize converts backslashes to slashes, strips leading slashes and
// resolves "." and ".." segments left to right. A ".." with nothing left to
// pop is dropped. Empty segments are collapsed.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")

	resolved := make([]string, 0, strings.Count(p, "/")+1)
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(resolved) > 0 {
				resolved = resolved[:len(resolved)-1]
			}
		default:
			resolved = append(resolved, seg)
		}
	}
	return strings.Join(resolved, "/")
}

// Join resolves rel against the directory dir with the same rules as
// Normalize. A rel starting with a slash is package-root relative.
func Join(dir, rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if strings.HasPrefix(rel, "/") || dir == "" {
		return Normalize(rel)
	}
	return Normalize(dir + "/" + rel)
}

// Dir returns everything before the last slash of the normalized path, or ""
// for a top-level file.
func Dir(p string) string {
	p = Normalize(p)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i]
	}
	return ""
}

// Base returns the last path segment.
func Base(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// SplitSuffix separates a reference into its path and its "?query" / "#fragment"
// suffix, whichever comes first.
func SplitSuffix(ref string) (p, suffix string) {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i], ref[i:]
	}
	return ref, ""
}

// Variations returns deduplicated alternate spellings of p, the normalized
// form first. They are only meant as a resolution fallback.
func Variations(p string) []string {
	n := Normalize(p)
	raw := strings.ReplaceAll(p, "\\", "/")

	candidates := []string{n, raw, "./" + n}
	if strings.HasPrefix(raw, "./") {
		candidates = append(candidates, strings.TrimPrefix(raw, "./"))
	}
	if n != "" && path.Ext(Base(n)) == "" {
		candidates = append(candidates, n+".html", n+".htm")
	}
	if stripped := strings.ReplaceAll(raw, "../", ""); stripped != raw {
		candidates = append(candidates, stripped, Normalize(stripped))
	}

	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// IsDocument reports whether p names an HTML document.
func IsDocument(p string) bool {
	switch strings.ToLower(path.Ext(Base(p))) {
	case ".html", ".htm", ".xhtml":
		return true
	}
	return false
}

// IsStylesheet reports whether p names a CSS file.
func IsStylesheet(p string) bool {
	return strings.EqualFold(path.Ext(Base(p)), ".css")
}

var mimeTypes = map[string]string{
	".html":  "text/html",
	".htm":   "text/html",
	".xhtml": "application/xhtml+xml",
	".css":   "text/css",
	".js":    "application/javascript",
	".json":  "application/json",
	".xml":   "application/xml",
	".xsd":   "application/xml",
	".txt":   "text/plain",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".webp":  "image/webp",
	".ico":   "image/x-icon",
	".mp3":   "audio/mpeg",
	".wav":   "audio/wav",
	".ogg":   "audio/ogg",
	".mp4":   "video/mp4",
	".webm":  "video/webm",
	".pdf":   "application/pdf",
	".swf":   "application/x-shockwave-flash",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
}

// MimeType guesses a content type from the file extension.
func MimeType(p string) string {
	ext := strings.ToLower(path.Ext(Base(p)))
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
