// Package bcd implements fixed-width packed-decimal integers.
//
// A Decimal of n digits occupies n/2+1 bytes. Digits are stored one per
// nibble, most significant first, with the sign in the low nibble of the
// last byte. Odd widths fill the first byte completely; even widths leave
// the high nibble of the first byte unused.
package bcd

import (
	"errors"
	"fmt"
	"strings"
)

// Sign nibbles.
const (
	SignPlus       = 0x0C
	SignMinus      = 0x0D
	SignAltMinus   = 0x0B
	signMask       = 0x0F
	highNibbleMask = 0xF0
)

// Status codes reported by the server-side packed-decimal routines. They are
// kept so that errors can be correlated with host messages.
const (
	CodeOverflow       = 1305
	CodeDivisionByZero = 1302
)

// MaxDigits is the widest Decimal supported.
const MaxDigits = 39

var (
	// ErrOverflow is returned when a result does not fit the operand width.
	ErrOverflow = errors.New("bcd: overflow")

	// ErrDivisionByZero is returned by Div when the divisor is zero.
	ErrDivisionByZero = errors.New("bcd: division by zero")

	// ErrWidth is returned when operands of different widths are combined
	// or a width outside 1..MaxDigits is requested.
	ErrWidth = errors.New("bcd: invalid width")
)

// Decimal is a signed packed-decimal integer of fixed width.
type Decimal struct {
	buf    []byte
	digits int
}

// New returns a positive zero of the given width.
func New(digits int) (*Decimal, error) {
	if digits < 1 || digits > MaxDigits {
		return nil, fmt.Errorf("%w: %d digits", ErrWidth, digits)
	}
	d := &Decimal{
		buf:    make([]byte, digits/2+1),
		digits: digits,
	}
	d.setSign(false)
	return d, nil
}

// FromInt returns v packed into a Decimal of the given width.
func FromInt(digits int, v int64) (*Decimal, error) {
	d, err := New(digits)
	if err != nil {
		return nil, err
	}
	if err := d.SetInt(v); err != nil {
		return nil, err
	}
	return d, nil
}

// Parse decodes a packed buffer produced by Bytes.
func Parse(digits int, packed []byte) (*Decimal, error) {
	d, err := New(digits)
	if err != nil {
		return nil, err
	}
	if len(packed) != len(d.buf) {
		return nil, fmt.Errorf("%w: %d bytes for %d digits", ErrWidth, len(packed), digits)
	}
	copy(d.buf, packed)
	for i := 0; i < digits; i++ {
		if d.Digit(i) > 9 {
			return nil, fmt.Errorf("bcd: invalid digit nibble %#x at %d", d.Digit(i), i)
		}
	}
	return d, nil
}

// Digits returns the width.
func (d *Decimal) Digits() int { return d.digits }

func (d *Decimal) offset() int { return 1 - d.digits%2 }

func (d *Decimal) signIndex() int { return d.digits + d.offset() }

func (d *Decimal) nibble(i int) int {
	b := d.buf[i>>1]
	if i%2 != 0 {
		return int(b & signMask)
	}
	return int(b>>4) & signMask
}

func (d *Decimal) setNibble(i int, v int) {
	b := d.buf[i>>1]
	if i%2 != 0 {
		d.buf[i>>1] = (b & highNibbleMask) | byte(v&signMask)
	} else {
		d.buf[i>>1] = byte(v<<4)&highNibbleMask | (b & signMask)
	}
}

// Digit returns digit i, counted from the most significant digit.
func (d *Decimal) Digit(i int) int { return d.nibble(i + d.offset()) }

// SetDigit stores v (0..9) as digit i.
func (d *Decimal) SetDigit(i int, v int) { d.setNibble(i+d.offset(), v) }

// Sign returns the raw sign nibble.
func (d *Decimal) Sign() int { return d.nibble(d.signIndex()) }

// IsNegative reports whether the sign nibble is one of the minus codes.
func (d *Decimal) IsNegative() bool {
	s := d.Sign()
	return s == SignMinus || s == SignAltMinus
}

// IsZero reports whether every digit is zero, regardless of sign.
func (d *Decimal) IsZero() bool {
	for i := 0; i < d.digits; i++ {
		if d.Digit(i) != 0 {
			return false
		}
	}
	return true
}

func (d *Decimal) setSign(negative bool) {
	if negative {
		d.setNibble(d.signIndex(), SignMinus)
	} else {
		d.setNibble(d.signIndex(), SignPlus)
	}
}

// SetInt replaces the value with v.
func (d *Decimal) SetInt(v int64) error {
	negative := v < 0
	// Work on the unsigned magnitude so that math.MinInt64 is representable.
	mag := uint64(v)
	if negative {
		mag = uint64(-(v + 1)) + 1
	}
	for i := d.digits - 1; i >= 0; i-- {
		d.SetDigit(i, int(mag%10))
		mag /= 10
	}
	if mag != 0 {
		return ErrOverflow
	}
	d.setSign(negative && !d.IsZero())
	return nil
}

// Int returns the value as an int64.
func (d *Decimal) Int() (int64, error) {
	var mag uint64
	for i := 0; i < d.digits; i++ {
		next := mag*10 + uint64(d.Digit(i))
		if next/10 != mag || next > 1<<63 {
			return 0, ErrOverflow
		}
		mag = next
	}
	if d.IsNegative() {
		return -int64(mag-1) - 1, nil
	}
	if mag > 1<<63-1 {
		return 0, ErrOverflow
	}
	return int64(mag), nil
}

// Bytes returns a copy of the packed representation.
func (d *Decimal) Bytes() []byte {
	out := make([]byte, len(d.buf))
	copy(out, d.buf)
	return out
}

// Clone returns an independent copy.
func (d *Decimal) Clone() *Decimal {
	return &Decimal{buf: d.Bytes(), digits: d.digits}
}

// Set copies the value of o into d. Both must have the same width.
func (d *Decimal) Set(o *Decimal) error {
	if d.digits != o.digits {
		return ErrWidth
	}
	copy(d.buf, o.buf)
	return nil
}

func (d *Decimal) String() string {
	var sb strings.Builder
	if d.IsNegative() && !d.IsZero() {
		sb.WriteByte('-')
	}
	started := false
	for i := 0; i < d.digits; i++ {
		v := d.Digit(i)
		if v == 0 && !started {
			continue
		}
		started = true
		sb.WriteByte(byte('0' + v))
	}
	if !started {
		sb.WriteByte('0')
	}
	return sb.String()
}

func (d *Decimal) magnitude() []int {
	m := make([]int, d.digits)
	for i := range m {
		m[i] = d.Digit(i)
	}
	return m
}

func (d *Decimal) setMagnitude(m []int) {
	for i, v := range m {
		d.SetDigit(i, v)
	}
}
