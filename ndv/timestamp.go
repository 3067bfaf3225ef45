package ndv

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/drunlade/go-ndv/pal"
)

// TimeStamp flags
const (
	TimeStampCheck       = pal.TimeStampCheck
	TimeStampGet         = pal.TimeStampGet
	TimeStampNoOperation = pal.TimeStampNoOperation
)

// TimeStamp is the modification stamp of an object. Second and Tenth are
// -1 when the stamp does not carry them.
type TimeStamp struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
	Tenth  int
	User   string
	Flags  int
}

const timeCheckPrefix = "timecheck:"

var (
	compactStamp = regexp.MustCompile(`^([0-9]{4})([0-9]{2})([0-9]{2})([0-9]{2})([0-9]{2})([0-9]{2})?([0-9])?( .+)?$`)
	displayStamp = regexp.MustCompile(`^([0-9]{4})-([0-9]{2})-([0-9]{2}) ([0-9]{2}):([0-9]{2})(:[0-9]{2})?(\.[0-9])?$`)
)

// NewTimeStamp returns a stamp with two digit years mapped to 19xx or 20xx.
func NewTimeStamp(flags, year, month, day, hour, minute, second, tenth int, user string) *TimeStamp {
	return &TimeStamp{
		Year:   normalizeYear(year),
		Month:  month,
		Day:    day,
		Hour:   hour,
		Minute: minute,
		Second: second,
		Tenth:  tenth,
		User:   user,
		Flags:  flags,
	}
}

// EmptyTimeStamp returns the stamp of an object that has none.
func EmptyTimeStamp() *TimeStamp {
	return &TimeStamp{}
}

func normalizeYear(y int) int {
	switch {
	case y < 70:
		return y + 2000
	case y < 100:
		return y + 1900
	}
	return y
}

// ParseTimeStamp reads the compact form YYYYMMDDhhmm[ss[t]][ user] or the
// display form YYYY-MM-DD hh:mm[:ss[.t]]. A leading "timecheck:" is
// ignored.
func ParseTimeStamp(s string, flags int) (*TimeStamp, error) {
	s = strings.TrimPrefix(s, timeCheckPrefix)
	if m := compactStamp.FindStringSubmatch(s); m != nil {
		ts := &TimeStamp{Flags: flags, Second: -1, Tenth: -1}
		ts.Year, _ = strconv.Atoi(m[1])
		ts.Month, _ = strconv.Atoi(m[2])
		ts.Day, _ = strconv.Atoi(m[3])
		ts.Hour, _ = strconv.Atoi(m[4])
		ts.Minute, _ = strconv.Atoi(m[5])
		if m[6] != "" {
			ts.Second, _ = strconv.Atoi(m[6])
		}
		if m[7] != "" {
			ts.Tenth, _ = strconv.Atoi(m[7])
		}
		if m[8] != "" {
			ts.User = m[8][1:]
		}
		return ts, nil
	}
	if m := displayStamp.FindStringSubmatch(s); m != nil {
		ts := &TimeStamp{Flags: flags, Second: -1, Tenth: -1}
		ts.Year, _ = strconv.Atoi(m[1])
		ts.Month, _ = strconv.Atoi(m[2])
		ts.Day, _ = strconv.Atoi(m[3])
		ts.Hour, _ = strconv.Atoi(m[4])
		ts.Minute, _ = strconv.Atoi(m[5])
		if m[6] != "" {
			ts.Second, _ = strconv.Atoi(m[6][1:])
		}
		if m[7] != "" {
			ts.Tenth, _ = strconv.Atoi(m[7][1:])
		}
		return ts, nil
	}
	return nil, invalidArgument(fmt.Sprintf("invalid time stamp %q", s))
}

// Compact returns YYYYMMDDhhmm[ss[t]].
func (t *TimeStamp) Compact() string {
	s := fmt.Sprintf("%04d%02d%02d%02d%02d", t.Year, t.Month, t.Day, t.Hour, t.Minute)
	if t.Second >= 0 {
		s += fmt.Sprintf("%02d", t.Second)
		if t.Tenth >= 0 {
			s += strconv.Itoa(t.Tenth)
		}
	}
	return s
}

// Display returns YYYY-MM-DD hh:mm[:ss[.t]].
func (t *TimeStamp) Display() string {
	s := fmt.Sprintf("%04d-%02d-%02d %02d:%02d", t.Year, t.Month, t.Day, t.Hour, t.Minute)
	if t.Second >= 0 {
		s += fmt.Sprintf(":%02d", t.Second)
		if t.Tenth >= 0 {
			s += "." + strconv.Itoa(t.Tenth)
		}
	}
	return s
}

// IsEmpty reports whether the stamp carries no date.
func (t *TimeStamp) IsEmpty() bool {
	return t.Month == 0 || t.Day == 0
}

// CopyFrom replaces all fields of t with those of other.
func (t *TimeStamp) CopyFrom(other *TimeStamp) {
	*t = *other
}

func (t *TimeStamp) String() string {
	if t.Flags == 0 && t.IsEmpty() {
		return "<invalid>"
	}
	var b strings.Builder
	for _, f := range []struct {
		bit  int
		name string
	}{
		{TimeStampCheck, "CHECK"},
		{TimeStampGet, "GET"},
		{TimeStampNoOperation, "NOOPERATION"},
	} {
		if t.Flags&f.bit != 0 {
			b.WriteString(f.name)
			b.WriteString("|")
		}
	}
	s := b.String()
	if s != "" {
		s = s[:len(s)-1] + ":"
	}
	if t.IsEmpty() {
		return s + "<empty>"
	}
	return s + t.Compact() + " " + t.User
}

func (t *TimeStamp) record() *pal.TimeStamp {
	rec := &pal.TimeStamp{Flags: t.Flags, User: t.User}
	if !t.IsEmpty() {
		rec.Stamp = t.Compact()
	}
	return rec
}

// timeStampFromRecord converts the server's stamp. A missing or unreadable
// stamp yields the empty stamp.
func timeStampFromRecord(rec *pal.TimeStamp) *TimeStamp {
	if rec == nil || rec.Stamp == "" {
		return EmptyTimeStamp()
	}
	ts, err := ParseTimeStamp(rec.Stamp, rec.Flags)
	if err != nil {
		return EmptyTimeStamp()
	}
	if u := strings.TrimSpace(rec.User); u != "" {
		ts.User = u
	}
	return ts
}
