package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Node is the narrow view of a markup element the parser works against.
type Node interface {
	Name() string
	// Attr returns the value of the attribute with the given local name, or "".
	Attr(name string) string
	// Children returns the direct child elements with the given local name
	// (case-insensitive), or every child element when name is "".
	Children(name string) []Node
	// Text returns the concatenated character data of the subtree.
	Text() string
}

type element struct {
	name     string
	attrs    []xml.Attr
	children []*element
	text     strings.Builder
}

func (e *element) Name() string { return e.name }

func (e *element) Attr(name string) string {
	for _, a := range e.attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

func (e *element) Children(name string) []Node {
	var out []Node
	for _, c := range e.children {
		if name == "" || strings.EqualFold(c.name, name) {
			out = append(out, c)
		}
	}
	return out
}

func (e *element) Text() string {
	var sb strings.Builder
	e.writeText(&sb)
	return sb.String()
}

func (e *element) writeText(sb *strings.Builder) {
	sb.WriteString(e.text.String())
	for _, c := range e.children {
		c.writeText(sb)
	}
}

// parseTree decodes data into an element tree. Interleaved text and child
// order are not preserved beyond what Text needs.
func parseTree(data []byte) (*element, error) {
	// BOM sniffing turns UTF-16 input into UTF-8; input without a BOM is
	// passed through so the XML declaration decides.
	r := transform.NewReader(bytes.NewReader(data), unicode.BOMOverride(transform.Nop))

	dec := xml.NewDecoder(r)
	dec.Strict = true
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		l := strings.ToLower(strings.TrimSpace(label))
		if l == "utf-8" || strings.HasPrefix(l, "utf-16") {
			return input, nil
		}
		return charset.NewReaderLabel(label, input)
	}

	var (
		root  *element
		stack []*element
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrManifest, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{name: t.Name.Local, attrs: t.Attr}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("%w: multiple root elements", ErrManifest)
				}
				root = el
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("%w: document has no root element", ErrManifest)
	}
	return root, nil
}

// descendants returns every element below n named name, in document order.
func descendants(n Node, name string) []Node {
	var out []Node
	for _, c := range n.Children("") {
		if strings.EqualFold(c.Name(), name) {
			out = append(out, c)
		}
		out = append(out, descendants(c, name)...)
	}
	return out
}

// selectFirst walks a descendant chain like the CSS selector "a b c" and
// returns the first match with non-blank text.
func selectFirst(n Node, chain ...string) (Node, bool) {
	if len(chain) == 0 {
		return nil, false
	}
	for _, d := range descendants(n, chain[0]) {
		if len(chain) == 1 {
			if strings.TrimSpace(d.Text()) != "" {
				return d, true
			}
			continue
		}
		if found, ok := selectFirst(d, chain[1:]...); ok {
			return found, true
		}
	}
	return nil, false
}

// firstChildText returns the trimmed text of the first direct child named name.
func firstChildText(n Node, name string) string {
	for _, c := range n.Children(name) {
		if s := strings.TrimSpace(c.Text()); s != "" {
			return s
		}
	}
	return ""
}
