package ndv

import (
	"fmt"
	"regexp"

	"github.com/drunlade/go-ndv/pal"
)

// Result numbers with a meaning of their own.
const (
	resultWarning   = 7000
	resultProtocol  = 9999
	resultNoObjects = 82

	// resultUnmappable is reported for source lines the server code page
	// cannot represent.
	resultUnmappable = 3422
)

var leadingLength = regexp.MustCompile(`^[ \s]*[0-9]*[ \s]*`)

// removeLeadingLength strips the length prefix some servers put in front
// of warning texts.
func removeLeadingLength(s string) string {
	return leadingLength.ReplaceAllString(s, "")
}

// classify returns the error number and severity of the last reply.
// A zero Natural result with a short text is a protocol failure; a zero
// Natural result with a system result reports the system result.
func (s *Session) classify() (int, Severity) {
	res, _ := first[*pal.Result](s, pal.TagResult)
	number := 0
	if res != nil {
		number = res.Natural
	}
	switch {
	case number == resultWarning:
		return number, SeverityWarning
	case number != 0:
		return number, SeverityError
	}

	severity := SeverityNone
	if ex, _ := first[*pal.ResultEx](s, pal.TagResultEx); ex != nil && ex.ShortText != "" {
		number, severity = resultProtocol, SeverityFatal
	}
	if res != nil && res.System != 0 {
		number = res.System
		if severity == SeverityNone {
			severity = SeverityError
		}
	}
	return number, severity
}

// resultTexts returns the short and long text of the last reply.
func (s *Session) resultTexts(number int) (string, []string) {
	var short string
	if ex, _ := first[*pal.ResultEx](s, pal.TagResultEx); ex != nil {
		short = ex.ShortText
		if short == "" {
			short = ex.SystemText
		}
	}
	long := s.longText()
	if short == "" {
		if len(long) > 0 {
			short = fmt.Sprintf("Nat%d: %s", number, long[0])
		} else {
			short = fmt.Sprintf("NAT%04d", number)
		}
	}
	return short, long
}

// longText returns the explanation lines sent as code-page sources.
func (s *Session) longText() []string {
	recs, _ := retrieve[*pal.Source](s, pal.TagSourceCodePage)
	if len(recs) == 0 {
		return nil
	}
	lines := make([]string, len(recs))
	for i, r := range recs {
		lines[i] = r.Line
	}
	return lines
}

// resultError returns the classified error of the last reply, or nil.
func (s *Session) resultError() error {
	number, severity := s.classify()
	if number == 0 {
		return nil
	}
	short, long := s.resultTexts(number)
	kind := KindRuntime
	if severity == SeverityFatal {
		kind = KindProtocol
	}
	err := &Error{
		Kind:      kind,
		Number:    number,
		Severity:  severity,
		ShortText: short,
		LongText:  long,
	}
	s.logger.Error("server result: %s", err.Detail())
	return err
}

// compileError is resultError with the source position of the reply.
func (s *Session) compileError(natType int, object, library string, dbid, fnr int) error {
	err := s.resultError()
	if err == nil {
		return nil
	}
	e := err.(*Error)
	if e.Kind != KindRuntime {
		return e
	}
	e.Kind = KindCompile
	ce := &CompileError{Err: e, NatType: natType, Object: object, Library: library, DBID: dbid, FNR: fnr}
	if ex, _ := first[*pal.ResultEx](s, pal.TagResultEx); ex != nil {
		ce.Row, ce.Column = ex.Row, ex.Column
		if ex.Object != "" {
			ce.Object = ex.Object
		}
		if ex.Library != "" {
			ce.Library = ex.Library
		}
	}
	return ce
}
