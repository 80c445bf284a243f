package exchange

import (
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

var prettyOptions = ojg.Options{Sort: true, Indent: 2}

// FormatBody renders persisted body bytes for display. Pretty-printing is
// applied only here, at read time, and only for the JSON classification;
// everything else comes back as raw text. Binary content (image bodies are
// persisted base64-encoded) is summarized by length instead of rendered.
//
// Formatting is idempotent: formatting already-formatted JSON produces the
// same output, because the value is re-parsed and printed with sorted keys
// and fixed indentation each time.
func FormatBody(stored []byte, class Classification) string {
	if len(stored) == 0 {
		return ""
	}

	if class == ClassificationImage {
		if decoded, err := base64.StdEncoding.DecodeString(string(stored)); err == nil {
			return binaryPlaceholder(len(decoded))
		}
		return binaryPlaceholder(len(stored))
	}

	if !utf8.Valid(stored) {
		return binaryPlaceholder(len(stored))
	}

	if class == ClassificationJSON {
		if v, err := oj.Parse(stored); err == nil {
			return oj.JSON(v, &prettyOptions)
		}
	}

	return string(stored)
}

func binaryPlaceholder(n int) string {
	return fmt.Sprintf("<binary body: %d bytes>", n)
}
