package rewrite

import (
	"regexp"
	"strings"
)

var (
	cssURLRE    = regexp.MustCompile(`url\(\s*(['"]?)([^'")]*)(['"]?)\s*\)`)
	cssImportRE = regexp.MustCompile(`@import\s+(['"])([^'"]+)(['"])`)
)

// CSS rewrites url() and @import references in a stylesheet. Relative
// references resolve against opts.BasePath, the stylesheet's own path.
func CSS(css string, opts Options) (string, error) {
	if strings.TrimSpace(css) == "" {
		return "", ErrEmptyDocument
	}
	return opts.rewriteCSS(css), nil
}

func (o Options) rewriteCSS(css string) string {
	if !strings.Contains(css, "url(") && !strings.Contains(css, "@import") {
		return css
	}
	css = replaceGroup(cssURLRE, css, o.rewriteRef)
	return replaceGroup(cssImportRE, css, o.rewriteRef)
}

// replaceGroup applies fn to the second capture group of every match and
// leaves the rest of the match as written.
func replaceGroup(re *regexp.Regexp, s string, fn func(string) string) string {
	idx := re.FindAllStringSubmatchIndex(s, -1)
	if idx == nil {
		return s
	}
	var sb strings.Builder
	last := 0
	for _, m := range idx {
		start, end := m[4], m[5]
		val := s[start:end]
		next := fn(val)
		if next == val {
			continue
		}
		sb.WriteString(s[last:start])
		sb.WriteString(next)
		last = end
	}
	if last == 0 {
		return s
	}
	sb.WriteString(s[last:])
	return sb.String()
}
