package ndv

import (
	"errors"
	"fmt"
	"strings"

	"github.com/drunlade/go-ndv/pal"
)

// Kind categorizes session errors.
type Kind int

const (
	// KindConnection indicates the server could not be reached or refused the session
	KindConnection Kind = iota

	// KindAuthentication indicates the logon credentials were rejected
	KindAuthentication

	// KindProtocol indicates unexpected records or I/O where none was allowed
	KindProtocol

	// KindRuntime indicates a nonzero Natural result code
	KindRuntime

	// KindCompile indicates a Natural compile error with a source position
	KindCompile

	// KindTimeout indicates the server did not answer in time
	KindTimeout

	// KindIllegalState indicates an operation was called out of sequence
	KindIllegalState

	// KindInvalidArgument indicates a caller supplied an unusable value
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindAuthentication:
		return "authentication error"
	case KindProtocol:
		return "protocol error"
	case KindRuntime:
		return "runtime error"
	case KindCompile:
		return "compile error"
	case KindTimeout:
		return "timeout"
	case KindIllegalState:
		return "illegal state"
	case KindInvalidArgument:
		return "invalid argument"
	default:
		return "unknown error"
	}
}

// Severity is the server's classification of a result.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is returned by every Session operation.
type Error struct {
	// Kind is the error category
	Kind Kind

	// Number is the Natural error number, 0 for client side errors
	Number int

	// Severity is the server's classification
	Severity Severity

	// ShortText is the one-line message
	ShortText string

	// LongText holds the explanation lines the server sent
	LongText []string

	// Err is the underlying cause, if any
	Err error
}

func (e *Error) Error() string {
	var msg string
	switch {
	case e.Number != 0:
		msg = fmt.Sprintf("ndv %s %d: %s", e.Kind, e.Number, e.ShortText)
	default:
		msg = fmt.Sprintf("ndv %s: %s", e.Kind, e.ShortText)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsWarning reports whether the server flagged the result as a warning.
func (e *Error) IsWarning() bool { return e.Severity == SeverityWarning }

// Detail returns the long text lines joined by a literal backslash-n
// sequence and closed with a period. Without long text it is the short
// text.
func (e *Error) Detail() string {
	return detailMessage(e.ShortText, e.LongText)
}

func detailMessage(short string, long []string) string {
	if len(long) == 0 {
		return short
	}
	return strings.Join(long, `\n`) + "."
}

// ConnectReason refines a connect failure.
type ConnectReason int

const (
	ConnectFailed ConnectReason = iota
	ConnectInvalidCredentials
	ConnectPasswordExpired
	ConnectLibraryNotAvailable
	ConnectNewPasswordRejected
	ConnectUserLocked
)

func (r ConnectReason) String() string {
	switch r {
	case ConnectFailed:
		return "connect failed"
	case ConnectInvalidCredentials:
		return "invalid credentials"
	case ConnectPasswordExpired:
		return "password expired"
	case ConnectLibraryNotAvailable:
		return "library not available"
	case ConnectNewPasswordRejected:
		return "new password rejected"
	case ConnectUserLocked:
		return "user locked"
	default:
		return "unknown reason"
	}
}

// connectReasons maps logon result numbers to connect reasons.
var connectReasons = map[int]ConnectReason{
	873: ConnectInvalidCredentials,
	838: ConnectPasswordExpired,
	829: ConnectLibraryNotAvailable,
	876: ConnectNewPasswordRejected,
	855: ConnectUserLocked,
}

// ConnectError is returned by Connect when the server rejects the logon.
// A warning still leaves the session connected. errors.As finds the
// underlying *Error.
type ConnectError struct {
	Err    *Error
	Reason ConnectReason
}

func (e *ConnectError) Error() string {
	if e.Reason == ConnectFailed {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (%s)", e.Err.Error(), e.Reason)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IsWarning reports whether the session was established despite the error.
func (e *ConnectError) IsWarning() bool { return e.Err.IsWarning() }

func newConnectError(number int, severity Severity, short string, long []string) *ConnectError {
	reason, ok := connectReasons[number]
	kind := KindConnection
	if ok {
		kind = KindAuthentication
	}
	if severity == SeverityFatal {
		kind = KindProtocol
	}
	return &ConnectError{
		Err: &Error{
			Kind:      kind,
			Number:    number,
			Severity:  severity,
			ShortText: short,
			LongText:  long,
		},
		Reason: reason,
	}
}

// CompileError is a runtime error that points at a source position.
type CompileError struct {
	Err     *Error
	Row     int
	Column  int
	NatType int
	Object  string
	Library string
	DBID    int
	FNR     int
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s (%s/%s line %d column %d)", e.Err.Error(), e.Library, e.Object, e.Row, e.Column)
}

func (e *CompileError) Unwrap() error { return e.Err }

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Severity: SeverityError, ShortText: message}
}

func illegalState(message string) *Error {
	return newError(KindIllegalState, message)
}

func invalidArgument(message string) *Error {
	return newError(KindInvalidArgument, message)
}

// fromTransport maps a transport error onto the session taxonomy.
func fromTransport(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var pe *pal.Error
	if !errors.As(err, &pe) {
		return &Error{Kind: KindConnection, Severity: SeverityFatal, ShortText: "transport failure", Err: err}
	}
	kind := KindConnection
	switch pe.Type {
	case pal.ErrTimeout:
		kind = KindTimeout
	case pal.ErrProtocol:
		kind = KindProtocol
	case pal.ErrIllegalState:
		kind = KindIllegalState
	case pal.ErrInvalidArgument:
		kind = KindInvalidArgument
	}
	return &Error{Kind: kind, Severity: SeverityFatal, ShortText: pe.Message, Err: err}
}

// IsKind reports whether err is a session error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return IsKind(err, KindTimeout) || pal.IsTimeout(err)
}

// IsWarning checks if an error is a server warning
func IsWarning(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsWarning()
	}
	return false
}

// IsNumber reports whether err carries the given Natural error number.
func IsNumber(err error, number int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Number == number
	}
	return false
}
