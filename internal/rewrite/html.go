// Package rewrite points the resource references inside package documents
// at their resolved addressable references and injects the runtime shim.
package rewrite

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/mind-engage/mindengage-player/internal/scorm/paths"
)

var ErrEmptyDocument = errors.New("rewrite: empty document")

// ResolveFunc maps a package path to an addressable reference.
type ResolveFunc func(p string) (string, bool)

type Options struct {
	// BasePath is the package path of the document being rewritten.
	BasePath string
	Resolve  ResolveFunc
	// Shim is markup inserted once, as early as possible. Empty skips it.
	Shim string
}

// attributes whose whole value is a single reference
var refAttrs = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"background": true,
	"poster":     true,
	"data":       true,
	"xlink:href": true,
}

// HTML rewrites doc. Bytes outside rewritten attribute values and CSS
// references are copied through unchanged.
func HTML(doc string, opts Options) (string, error) {
	if strings.TrimSpace(doc) == "" {
		return "", ErrEmptyDocument
	}

	z := html.NewTokenizer(strings.NewReader(doc))
	var out strings.Builder
	out.Grow(len(doc) + len(opts.Shim))

	// output offsets just past the first <head>, <body> and <html> start tags
	anchors := map[string]int{}
	inStyle := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return "", fmt.Errorf("rewrite: tokenize %s: %w", opts.BasePath, z.Err())
		}
		raw := string(z.Raw())

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if hasAttr {
				raw = opts.rewriteTag(raw)
			}
			out.WriteString(raw)
			if tt == html.StartTagToken {
				switch tag {
				case "head", "body", "html":
					if _, seen := anchors[tag]; !seen {
						anchors[tag] = out.Len()
					}
				case "style":
					inStyle = true
				}
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "style" {
				inStyle = false
			}
			out.WriteString(raw)
		case html.TextToken:
			if inStyle {
				raw = opts.rewriteCSS(raw)
			}
			out.WriteString(raw)
		default:
			out.WriteString(raw)
		}
	}

	return inject(out.String(), opts.Shim, anchors), nil
}

func inject(doc, shim string, anchors map[string]int) string {
	if shim == "" {
		return doc
	}
	for _, tag := range []string{"head", "body", "html"} {
		if at, ok := anchors[tag]; ok {
			return doc[:at] + shim + doc[at:]
		}
	}
	return shim + doc
}

func (o Options) rewriteTag(raw string) string {
	spans := scanAttrs(raw)
	if len(spans) == 0 {
		return raw
	}
	var sb strings.Builder
	last := 0
	for _, s := range spans {
		if !s.hasValue {
			continue
		}
		val := html.UnescapeString(raw[s.start:s.end])
		var next string
		switch {
		case refAttrs[s.name]:
			next = o.rewriteRef(val)
		case s.name == "srcset":
			next = o.rewriteSrcset(val)
		case s.name == "style":
			next = o.rewriteCSS(val)
		default:
			continue
		}
		if next == val {
			continue
		}
		sb.WriteString(raw[last:s.start])
		if s.quote == 0 {
			// unquoted values are re-emitted quoted
			sb.WriteByte('"')
			sb.WriteString(html.EscapeString(next))
			sb.WriteByte('"')
		} else {
			sb.WriteString(html.EscapeString(next))
		}
		last = s.end
	}
	if last == 0 {
		return raw
	}
	sb.WriteString(raw[last:])
	return sb.String()
}

var schemeRE = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)

// external reports references that are never rewritten: anything with a
// scheme (http, data, mailto, javascript, blob, ...), protocol-relative
// URLs and in-page fragments.
func external(ref string) bool {
	return ref == "" ||
		strings.HasPrefix(ref, "#") ||
		strings.HasPrefix(ref, "//") ||
		schemeRE.MatchString(ref)
}

// rewriteRef returns the resolved reference with the original query and
// fragment re-appended, or v unchanged when it cannot be resolved.
func (o Options) rewriteRef(v string) string {
	ref := strings.TrimSpace(v)
	if external(ref) || o.Resolve == nil {
		return v
	}
	p, suffix := paths.SplitSuffix(ref)
	if p == "" {
		return v
	}
	target := paths.Join(paths.Dir(o.BasePath), p)
	resolved, ok := o.Resolve(target)
	if !ok && strings.Contains(target, "%") {
		if unescaped, err := url.PathUnescape(target); err == nil {
			resolved, ok = o.Resolve(unescaped)
		}
	}
	if !ok {
		return v
	}
	return resolved + suffix
}

// rewriteSrcset handles "a.png 1x, b.png 2x" candidate lists.
func (o Options) rewriteSrcset(v string) string {
	parts := strings.Split(v, ",")
	for i, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		fields[0] = o.rewriteRef(fields[0])
		parts[i] = strings.Join(fields, " ")
	}
	out := strings.Join(parts, ", ")
	if out == normalizeSrcset(v) {
		return v
	}
	return out
}

func normalizeSrcset(v string) string {
	parts := strings.Split(v, ",")
	for i, part := range parts {
		parts[i] = strings.Join(strings.Fields(part), " ")
	}
	return strings.Join(parts, ", ")
}
