package ndv

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// Names servers use for EBCDIC code pages that the IANA registry spells
// differently.
var codePageAliases = map[string]encoding.Encoding{
	"IBM037":   charmap.CodePage037,
	"IBM-037":  charmap.CodePage037,
	"CP037":    charmap.CodePage037,
	"IBM1047":  charmap.CodePage1047,
	"IBM01047": charmap.CodePage1047,
	"IBM-1047": charmap.CodePage1047,
	"CP1047":   charmap.CodePage1047,
	"IBM1140":  charmap.CodePage1140,
	"IBM01140": charmap.CodePage1140,
	"IBM-1140": charmap.CodePage1140,
	"CP1140":   charmap.CodePage1140,
	"CP1252":   charmap.Windows1252,
}

// LookupCodePage returns the encoding for a code page name. The empty name
// and UTF-8 return nil, which leaves text untouched.
func LookupCodePage(name string) (encoding.Encoding, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	switch n {
	case "", "UTF-8", "UTF8":
		return nil, nil
	}
	if enc, ok := codePageAliases[n]; ok {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(strings.TrimSpace(name))
	if err != nil || enc == nil {
		return nil, invalidArgument(fmt.Sprintf("unsupported code page %q", name))
	}
	return enc, nil
}

// encodeStrict converts s to enc and fails on characters enc cannot hold.
func encodeStrict(enc encoding.Encoding, s string) ([]byte, error) {
	if enc == nil {
		return []byte(s), nil
	}
	return enc.NewEncoder().Bytes([]byte(s))
}

func decode(enc encoding.Encoding, b []byte) (string, error) {
	if enc == nil {
		return string(b), nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
