package ndv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drunlade/go-ndv/pal"
)

func TestParseTimeStamp(t *testing.T) {
	tests := []struct {
		in      string
		compact string
		user    string
	}{
		{"202401021530", "202401021530", ""},
		{"20240102153045", "20240102153045", ""},
		{"202401021530457 DEV", "202401021530457", "DEV"},
		{"timecheck:202401021530", "202401021530", ""},
		{"2024-01-02 15:30", "202401021530", ""},
		{"2024-01-02 15:30:45.7", "202401021530457", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ts, err := ParseTimeStamp(tt.in, TimeStampCheck)
			require.NoError(t, err)
			assert.Equal(t, tt.compact, ts.Compact())
			assert.Equal(t, tt.user, ts.User)
			assert.Equal(t, TimeStampCheck, ts.Flags)
		})
	}

	_, err := ParseTimeStamp("yesterday", 0)
	assert.True(t, IsKind(err, KindInvalidArgument))
}

func TestTimeStampDisplay(t *testing.T) {
	ts := NewTimeStamp(0, 24, 1, 2, 15, 30, -1, -1, "DEV")
	assert.Equal(t, 2024, ts.Year)
	assert.Equal(t, "2024-01-02 15:30", ts.Display())
	assert.Equal(t, 1999, NewTimeStamp(0, 99, 1, 1, 0, 0, 0, 0, "").Year)
}

func TestTimeStampString(t *testing.T) {
	assert.Equal(t, "<invalid>", EmptyTimeStamp().String())
	assert.Equal(t, "CHECK|GET:<empty>", (&TimeStamp{Flags: TimeStampCheck | TimeStampGet}).String())

	ts := NewTimeStamp(TimeStampGet, 2024, 1, 2, 15, 30, -1, -1, "DEV")
	assert.Equal(t, "GET:202401021530 DEV", ts.String())
}

func TestEmptyTimeStampRoundTrip(t *testing.T) {
	empty := EmptyTimeStamp()
	assert.Equal(t, "000000000000000", empty.Compact())
	assert.Equal(t, "0000-00-00 00:00:00.0", empty.Display())

	for _, s := range []string{empty.Compact(), empty.Display()} {
		ts, err := ParseTimeStamp(s, 0)
		require.NoError(t, err)
		assert.True(t, ts.IsEmpty())
		assert.Equal(t, empty, ts)
	}
}

func TestTimeStampRecord(t *testing.T) {
	assert.Empty(t, EmptyTimeStamp().record().Stamp)

	ts := timeStampFromRecord(&pal.TimeStamp{Flags: TimeStampCheck, Stamp: "202401021530", User: " DEV "})
	assert.Equal(t, "DEV", ts.User)
	assert.Equal(t, "202401021530", ts.record().Stamp)

	assert.True(t, timeStampFromRecord(nil).IsEmpty())
	assert.True(t, timeStampFromRecord(&pal.TimeStamp{Stamp: "garbage"}).IsEmpty())
}

func TestErrorClassification(t *testing.T) {
	err := &Error{Kind: KindRuntime, Number: 82, ShortText: "not found"}
	assert.Equal(t, "ndv runtime error 82: not found", err.Error())

	wrapped := &CompileError{Err: &Error{Kind: KindCompile, Number: 1234, ShortText: "bad"}, Row: 3, Column: 1}
	assert.True(t, IsKind(wrapped, KindCompile))
	assert.True(t, IsNumber(wrapped, 1234))
	assert.False(t, IsWarning(wrapped))

	assert.Equal(t, "short", detailMessage("short", nil))
	assert.Equal(t, `line 1\nline 2.`, detailMessage("short", []string{"line 1", "line 2"}))
	assert.Equal(t, "line 1.", (&Error{ShortText: "short", LongText: []string{"line 1"}}).Detail())
}

func TestFromTransport(t *testing.T) {
	assert.Nil(t, fromTransport(nil))
	assert.True(t, IsKind(fromTransport(errors.New("broken pipe")), KindConnection))
	assert.True(t, IsKind(fromTransport(&pal.Error{Type: pal.ErrTimeout, Message: "read"}), KindTimeout))
	assert.True(t, IsTimeout(fromTransport(&pal.Error{Type: pal.ErrTimeout, Message: "read"})))
	assert.False(t, IsTimeout(fromTransport(errors.New("broken pipe"))))
	assert.True(t, IsKind(fromTransport(&pal.Error{Type: pal.ErrProtocol, Message: "bad header"}), KindProtocol))

	own := illegalState("busy")
	assert.Same(t, own, fromTransport(own))
}
