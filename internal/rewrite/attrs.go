package rewrite

import "strings"

// attrSpan locates one attribute value inside a raw start tag.
type attrSpan struct {
	name       string
	start, end int
	quote      byte
	hasValue   bool
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// scanAttrs walks the attributes of a raw "<tag ...>" the way the HTML
// tokenizer does, recording value offsets so they can be replaced in place.
func scanAttrs(raw string) []attrSpan {
	n := len(raw)
	i := 1
	for i < n && !isSpace(raw[i]) && raw[i] != '>' && raw[i] != '/' {
		i++
	}

	var spans []attrSpan
	for i < n {
		for i < n && (isSpace(raw[i]) || raw[i] == '/') {
			i++
		}
		if i >= n || raw[i] == '>' {
			break
		}

		ns := i
		i++ // a leading '=' belongs to the name
		for i < n && !isSpace(raw[i]) && raw[i] != '=' && raw[i] != '>' && raw[i] != '/' {
			i++
		}
		span := attrSpan{name: strings.ToLower(raw[ns:i])}

		j := i
		for j < n && isSpace(raw[j]) {
			j++
		}
		if j >= n || raw[j] != '=' {
			spans = append(spans, span)
			continue
		}
		j++
		for j < n && isSpace(raw[j]) {
			j++
		}
		span.hasValue = true
		if j < n && (raw[j] == '"' || raw[j] == '\'') {
			span.quote = raw[j]
			span.start = j + 1
			if k := strings.IndexByte(raw[span.start:], span.quote); k >= 0 {
				span.end = span.start + k
				i = span.end + 1
			} else {
				span.end = n
				i = n
			}
		} else {
			span.start = j
			for j < n && !isSpace(raw[j]) && raw[j] != '>' {
				j++
			}
			span.end = j
			i = j
		}
		spans = append(spans, span)
	}
	return spans
}
