package rewrite

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// DecodeText turns document bytes into a string, honoring a BOM, the
// charset parameter of contentType and an in-document <meta charset>.
// Undeclared bytes that are valid UTF-8 are taken as UTF-8.
func DecodeText(b []byte, contentType string) (string, error) {
	enc, name, certain := charset.DetermineEncoding(b, contentType)
	if name == "utf-8" || (!certain && utf8.Valid(b)) {
		return strings.TrimPrefix(string(b), "\ufeff"), nil
	}
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(b), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("rewrite: decode %s: %w", name, err)
	}
	return strings.TrimPrefix(string(out), "\ufeff"), nil
}
