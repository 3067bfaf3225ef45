package pal

import (
	"strconv"

	"golang.org/x/text/encoding"
)

// Dialect carries the negotiated session attributes that change how some
// records are laid out.
type Dialect struct {
	// Mainframe is set for OS/390 style servers.
	Mainframe bool

	// Version is the negotiated protocol version.
	Version int

	// CodePage converts code-page strings. Nil passes bytes through.
	CodePage encoding.Encoding
}

// Writer serializes record fields. Strings and integers are null
// terminated, integers in decimal. Bytes and booleans take one byte.
type Writer struct {
	Dialect
	buf []byte
}

// NewWriter returns a Writer for the given dialect.
func NewWriter(d Dialect) *Writer {
	return &Writer{Dialect: d}
}

// String writes s followed by a null byte.
func (w *Writer) String(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// CodePageString writes s converted to the session code page. Characters
// that cannot be represented are replaced by the encoder.
func (w *Writer) CodePageString(s string) {
	w.buf = append(w.buf, EncodeString(w.CodePage, s)...)
	w.buf = append(w.buf, 0)
}

// EncodeString converts s to enc, replacing unsupported characters.
// A nil encoding returns the UTF-8 bytes unchanged.
func EncodeString(enc encoding.Encoding, s string) []byte {
	if enc == nil {
		return []byte(s)
	}
	b, err := encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}

// DecodeString converts b from enc to UTF-8.
func DecodeString(enc encoding.Encoding, b []byte) string {
	if enc == nil {
		return string(b)
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// Int writes v in decimal followed by a null byte.
func (w *Writer) Int(v int) {
	w.buf = strconv.AppendInt(w.buf, int64(v), 10)
	w.buf = append(w.buf, 0)
}

// Byte writes b.
func (w *Writer) Byte(b byte) {
	w.buf = append(w.buf, b)
}

// Bool writes 1 or 0.
func (w *Writer) Bool(b bool) {
	if b {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// Raw writes p without framing.
func (w *Writer) Raw(p []byte) {
	w.buf = append(w.buf, p...)
}

// Bytes returns the serialized record.
func (w *Writer) Bytes() []byte { return w.buf }

// Reader decodes record fields written by Writer. The first decoding
// failure sticks and is returned by Err; later reads return zero values.
type Reader struct {
	Dialect
	data []byte
	pos  int
	err  error
	tag  int
}

// NewReader returns a Reader over a single record body.
func NewReader(d Dialect, tag int, data []byte) *Reader {
	return &Reader{Dialect: d, data: data, tag: tag}
}

// More reports whether unread bytes remain. Trailing fields added by later
// protocol versions are read only when More is true.
func (r *Reader) More() bool {
	return r.err == nil && r.pos < len(r.data)
}

// Err returns the first decoding error.
func (r *Reader) Err() error { return r.err }

func (r *Reader) fail(msg string) {
	if r.err == nil {
		r.err = NewRecordError(ErrProtocol, msg, r.tag)
	}
}

func (r *Reader) field() []byte {
	if r.err != nil {
		return nil
	}
	if r.pos >= len(r.data) {
		r.fail("record truncated")
		return nil
	}
	start := r.pos
	for r.pos < len(r.data) && r.data[r.pos] != 0 {
		r.pos++
	}
	f := r.data[start:r.pos]
	if r.pos < len(r.data) {
		r.pos++ // terminator
	}
	return f
}

// String reads a null terminated string.
func (r *Reader) String() string {
	return string(r.field())
}

// CodePageString reads a null terminated string in the session code page.
func (r *Reader) CodePageString() string {
	return DecodeString(r.CodePage, r.field())
}

// Int reads a null terminated decimal integer. An empty field reads as 0.
func (r *Reader) Int() int {
	f := r.field()
	if len(f) == 0 {
		return 0
	}
	v, err := strconv.Atoi(string(f))
	if err != nil {
		r.fail("invalid integer field " + strconv.Quote(string(f)))
		return 0
	}
	return v
}

// Byte reads one byte.
func (r *Reader) Byte() byte {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.data) {
		r.fail("record truncated")
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

// Bool reads one byte; any nonzero value is true.
func (r *Reader) Bool() bool {
	return r.Byte() != 0
}

// Fixed reads exactly n bytes without a terminator.
func (r *Reader) Fixed(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.fail("record truncated")
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+n])
	r.pos += n
	return out
}

// Rest returns all unread bytes.
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	rest := r.data[r.pos:]
	r.pos = len(r.data)
	out := make([]byte, len(rest))
	copy(out, rest)
	return out
}
