// Package password derives the logon token sent in the NDV connect record.
//
// The token is not a hash; the server reverses it using the clock stamp that
// travels in clear text inside the token.
package password

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drunlade/go-ndv/bcd"
)

// TokenSize is the length of an encoded token.
const TokenSize = 74

// FieldSize is the maximum length in bytes of each encoded field.
const FieldSize = 8

// Platform selects the marker byte identifying the client's character set.
type Platform int

const (
	// ASCII marks a client using an ASCII based code page.
	ASCII Platform = iota
	// EBCDIC marks a client using an EBCDIC code page.
	EBCDIC
)

func (p Platform) marker() byte {
	if p == EBCDIC {
		return 'E'
	}
	return 'C'
}

const (
	multiplier = 455470314
	modulus    = 2147483647
	rounds     = 8
	width      = 20
	absent     = 0xFF
)

// Token layout offsets.
const (
	offStamp    = 1
	offUser     = 9
	offPassword = 25
	offLibrary  = 41
	offNew      = 57
)

var (
	// ErrFieldTooLong is returned when a field exceeds FieldSize bytes.
	ErrFieldTooLong = errors.New("field exceeds 8 bytes")

	// ErrInvalidStamp is returned when a clock stamp is not HH0mm0ss.
	ErrInvalidStamp = errors.New("invalid clock stamp")
)

// Stamp formats t as the HH0mm0ss clock stamp embedded in tokens.
func Stamp(t time.Time) string {
	return fmt.Sprintf("%02d0%02d0%02d", t.Hour(), t.Minute(), t.Second())
}

// Encode builds a token for an ASCII client using the clock stamp of at.
func Encode(userID, pw, library, newPassword string, at time.Time) ([]byte, error) {
	return EncodeStamp(userID, pw, library, newPassword, Stamp(at), ASCII)
}

// EncodeStamp builds a token from an explicit clock stamp.
//
// The new-password block is always present; an empty newPassword is mixed
// as a blank field. The token ends with the 0xFF terminator.
func EncodeStamp(userID, pw, library, newPassword, stamp string, platform Platform) ([]byte, error) {
	for _, f := range []struct{ name, value string }{
		{"user id", userID},
		{"password", pw},
		{"library", library},
		{"new password", newPassword},
	} {
		if len(f.value) > FieldSize {
			return nil, fmt.Errorf("the %s %s: %w", f.name, f.value, ErrFieldTooLong)
		}
	}
	seed, err := seedFromStamp(stamp)
	if err != nil {
		return nil, err
	}

	out := make([]byte, TokenSize)
	for i := range out {
		out[i] = ' '
	}
	out[0] = platform.marker()
	copy(out[offStamp:], stamp)

	for _, f := range []struct {
		off   int
		value string
	}{
		{offUser, userID},
		{offPassword, pw},
		{offLibrary, library},
		{offNew, newPassword},
	} {
		if err := mixInto(out[f.off:f.off+2*FieldSize], f.value, seed); err != nil {
			return nil, err
		}
	}
	out[TokenSize-1] = absent
	return out, nil
}

func seedFromStamp(stamp string) (int64, error) {
	if len(stamp) != 8 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidStamp, stamp)
	}
	for i := 0; i < len(stamp); i++ {
		if stamp[i] < '0' || stamp[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidStamp, stamp)
		}
	}
	var seed int64
	for _, i := range []int{4, 1, 3, 6, 7, 0} {
		seed = seed*10 + int64(stamp[i]-'0')
	}
	return seed, nil
}

// mixInto writes the upper-case hex of the mixed field into dst.
func mixInto(dst []byte, field string, seed int64) error {
	mixed, err := mix(field, seed)
	if err != nil {
		return err
	}
	copy(dst, strings.ToUpper(hex.EncodeToString(mixed)))
	return nil
}

// mix adds the low three decimal digits of a Lehmer sequence to each byte of
// the zero padded field. The sequence is evaluated in 20 digit packed decimal.
func mix(field string, seed int64) ([]byte, error) {
	var buf [FieldSize]byte
	copy(buf[:], field)

	k, err := bcd.FromInt(width, multiplier)
	if err != nil {
		return nil, err
	}
	m, _ := bcd.FromInt(width, modulus)
	thousand, _ := bcd.FromInt(width, 1000)
	x, _ := bcd.FromInt(width, seed)

	out := make([]byte, FieldSize)
	for i := 0; i < rounds; i++ {
		// x = k*x mod m
		p := k.Clone()
		if err := p.Mul(x); err != nil {
			return nil, err
		}
		if err := p.Mod(m); err != nil {
			return nil, err
		}
		x = p

		v := x.Clone()
		if err := v.Mod(thousand); err != nil {
			return nil, err
		}
		n, err := v.Int()
		if err != nil {
			return nil, err
		}
		out[i] = buf[i] + byte(n)
	}
	return out, nil
}
