package ndv

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/drunlade/go-ndv/pal"
)

// DebugState is the debugger state of a session.
type DebugState int

const (
	DebugInactive DebugState = iota
	DebugSuspended
	DebugRunning
)

func (d DebugState) String() string {
	switch d {
	case DebugInactive:
		return "inactive"
	case DebugSuspended:
		return "suspended"
	case DebugRunning:
		return "running"
	default:
		return fmt.Sprintf("DebugState(%d)", int(d))
	}
}

// Operation 62 sub codes
const (
	stepInto   = 1
	stepOver   = 2
	stepReturn = 3
	stepResume = 4
)

// Operation 63 sub codes
const (
	spySet    = 1
	spyDelete = 2
	spyModify = 3
)

// defaultDecimalChar is used when the reply carries no character
// assignments.
const defaultDecimalChar = '.'

// SuspendResult is the state of a program after it stopped, either in the
// debugger, for terminal I/O or because it ended.
type SuspendResult struct {
	// Status is nil when the program did not stop in the debugger.
	Status *pal.DbgStatus
	Frames []*pal.DbgStackFrame
	Stack  []*pal.DbgNatStack
	Spy    *pal.DbgSpy

	// Screen holds the terminal output of a program waiting for input.
	Screen *pal.Stream
	Notify *pal.Notify

	// DecimalChar is the decimal character of the server session.
	DecimalChar byte

	// Err is the classified result of the reply.
	Err error
}

// Suspended reports whether the program stopped in the debugger.
func (r *SuspendResult) Suspended() bool {
	return r.Status != nil && r.Status.Status != pal.DbgStatusTerminated
}

// DebugState returns the debugger state of the session.
func (s *Session) DebugState() DebugState { return s.debug }

func (s *Session) requireSuspended() error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if s.debug != DebugSuspended {
		return illegalState("no program is suspended in the debugger")
	}
	return nil
}

// suspendResult answers the server's SQL logon and library search order
// challenges until a regular reply arrives, then collects it.
func (s *Session) suspendResult(ctx context.Context) (*SuspendResult, error) {
	for {
		resErr := s.resultError()
		if resErr != nil {
			return s.collect(resErr)
		}
		handled, err := s.answerSQLAuthentication(ctx)
		if err != nil {
			return nil, err
		}
		if handled {
			continue
		}
		if handled, err = s.answerSearchOrder(ctx); err != nil {
			return nil, err
		}
		if !handled {
			return s.collect(nil)
		}
	}
}

func (s *Session) answerSQLAuthentication(ctx context.Context) (bool, error) {
	if s.sqlAuth == nil {
		return false, nil
	}
	challenge, err := first[*pal.SQLAuthentication](s, pal.TagSQLAuthentication)
	if err != nil || challenge == nil {
		return false, err
	}
	s.logger.Debug("sql authentication requested: %s", challenge.Title)
	if authErr := s.sqlAuth.Authenticate(ctx, challenge); authErr != nil {
		if err := s.send(ctx, &pal.Notify{Code: pal.NotifyTerminate}); err != nil {
			s.logger.Error("cancel sql authentication: %v", err)
		}
		s.debug = DebugInactive
		return false, &Error{Kind: KindRuntime, Severity: SeverityError, ShortText: "sql authentication cancelled", Err: authErr}
	}
	return true, s.send(ctx, challenge)
}

func (s *Session) answerSearchOrder(ctx context.Context) (bool, error) {
	if s.searchOrder == nil {
		return false, nil
	}
	challenge, err := first[*pal.LibID](s, pal.TagLibIDSearchOrder)
	if err != nil || challenge == nil {
		return false, err
	}
	ids, scope := s.searchOrder.SearchOrder(challenge.Library)
	s.logger.Debug("library search order requested for %s: %d libraries", challenge.Library, len(ids))
	if len(ids) == 0 {
		ids = []*LibID{{}}
	}
	recs := make([]pal.Record, 0, len(ids)+1)
	for _, id := range ids {
		recs = append(recs, id)
	}
	recs = append(recs, &pal.Notify{Code: int(scope)})
	return true, s.send(ctx, recs...)
}

func (s *Session) collect(resErr error) (*SuspendResult, error) {
	res := &SuspendResult{DecimalChar: defaultDecimalChar, Err: resErr}
	var err error
	if res.Status, err = first[*pal.DbgStatus](s, pal.TagDbgStatus); err != nil {
		return nil, err
	}
	if res.Frames, err = retrieve[*pal.DbgStackFrame](s, pal.TagDbgStackFrame); err != nil {
		return nil, err
	}
	if res.Stack, err = retrieve[*pal.DbgNatStack](s, pal.TagDbgNatStack); err != nil {
		return nil, err
	}
	if res.Spy, err = first[*pal.DbgSpy](s, pal.TagDbgSpy); err != nil {
		return nil, err
	}
	if res.Screen, err = first[*pal.Stream](s, pal.TagStream); err != nil {
		return nil, err
	}
	if res.Notify, err = first[*pal.Notify](s, pal.TagNotify); err != nil {
		return nil, err
	}
	parms, err := retrieve[*pal.NatParm](s, pal.TagNatParm)
	if err != nil {
		return nil, err
	}
	for _, p := range parms {
		if p.Index == pal.ParmCharAssign {
			res.DecimalChar = p.CharAssign.DecimalChar
			break
		}
	}

	switch {
	case res.Suspended():
		s.debug = DebugSuspended
		s.event(EventDebugSuspended, fmt.Sprintf("%s/%s line %d", res.Status.Library, res.Status.Object, res.Status.Line), 0)
	case res.Status != nil:
		s.debug = DebugInactive
	}
	return res, nil
}

// run sends a command that lets the program continue and waits until it
// stops again.
func (s *Session) run(ctx context.Context, recs ...pal.Record) (*SuspendResult, error) {
	prev := s.debug
	if prev == DebugSuspended {
		s.debug = DebugRunning
	}
	if err := s.send(ctx, recs...); err != nil {
		if s.debug == DebugRunning {
			s.debug = prev
		}
		return nil, err
	}
	res, err := s.suspendResult(ctx)
	if err != nil {
		return nil, err
	}
	if s.debug == DebugRunning && !res.Suspended() {
		s.debug = DebugInactive
	}
	return res, nil
}

// DebugStart starts object of library in the debugger. program names the
// program that is executed. A result error is returned both as error and
// in the result.
func (s *Session) DebugStart(ctx context.Context, program, library, object string) (res *SuspendResult, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if s.debug != DebugInactive {
		return nil, illegalState("a debug session is already active")
	}
	if library == "" || object == "" {
		return nil, invalidArgument("library and object must not be empty")
	}
	ctx, end := s.start(ctx, "debug_start",
		attribute.String("ndv.program", program),
		attribute.String("ndv.library", library),
		attribute.String("ndv.object", object))
	defer end(&err)

	cmd := "RDEBUGON " + library + " " + object
	if s.props.Platform.IsMainframe() {
		cmd = "TEST " + cmd
	} else {
		cmd = "DEBUG " + cmd
	}
	res, err = s.run(ctx,
		&pal.Operation{Code: opCommand, SubKey: cmdDebug},
		&pal.Stack{Command: cmd},
	)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		s.debug = DebugInactive
		return res, res.Err
	}
	if res.Suspended() {
		s.debug = DebugSuspended
	}
	return res, nil
}

func (s *Session) step(ctx context.Context, name string, sub int) (res *SuspendResult, err error) {
	if err := s.requireSuspended(); err != nil {
		return nil, err
	}
	ctx, end := s.start(ctx, name)
	defer end(&err)
	return s.run(ctx, &pal.Operation{Code: opDebugStep, SubKey: sub})
}

// StepInto executes the next statement, entering called objects.
func (s *Session) StepInto(ctx context.Context) (*SuspendResult, error) {
	return s.step(ctx, "debug_step_into", stepInto)
}

// StepOver executes the next statement without stopping in called objects.
func (s *Session) StepOver(ctx context.Context) (*SuspendResult, error) {
	return s.step(ctx, "debug_step_over", stepOver)
}

// StepReturn runs until the current object returns.
func (s *Session) StepReturn(ctx context.Context) (*SuspendResult, error) {
	return s.step(ctx, "debug_step_return", stepReturn)
}

// Resume runs until the next breakpoint or the end of the program.
func (s *Session) Resume(ctx context.Context) (*SuspendResult, error) {
	return s.step(ctx, "debug_resume", stepResume)
}

// DebugExit ends the debug session.
func (s *Session) DebugExit(ctx context.Context) (err error) {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if s.debug == DebugInactive {
		return illegalState("no debug session is active")
	}
	ctx, end := s.start(ctx, "debug_exit")
	defer end(&err)

	err = s.call(ctx, &pal.Operation{Code: opDebugExit})
	if !IsKind(err, KindConnection) {
		s.debug = DebugInactive
	}
	return err
}

func (s *Session) spy(ctx context.Context, name string, sub int, spy *pal.DbgSpy, desc *pal.DbgVarDesc, value *pal.DbgVarValue) (out *pal.DbgSpy, err error) {
	if err := s.requireSuspended(); err != nil {
		return nil, err
	}
	if spy == nil {
		return nil, invalidArgument("spy must not be nil")
	}
	ctx, end := s.start(ctx, name, attribute.Int("ndv.spy", spy.ID))
	defer end(&err)

	recs := []pal.Record{&pal.Operation{Code: opSpy, SubKey: sub}, spy}
	if desc != nil {
		recs = append(recs, desc)
	}
	if value != nil {
		recs = append(recs, value)
	}
	if err := s.send(ctx, recs...); err != nil {
		return nil, err
	}
	if out, err = first[*pal.DbgSpy](s, pal.TagDbgSpy); err != nil {
		return nil, err
	}
	return out, s.resultError()
}

// SpySet sets a breakpoint or watchpoint. desc and value are optional and
// give the variable and value of a watchpoint.
func (s *Session) SpySet(ctx context.Context, spy *pal.DbgSpy, desc *pal.DbgVarDesc, value *pal.DbgVarValue) (*pal.DbgSpy, error) {
	return s.spy(ctx, "spy_set", spySet, spy, desc, value)
}

// SpyModify changes an existing spy.
func (s *Session) SpyModify(ctx context.Context, spy *pal.DbgSpy, desc *pal.DbgVarDesc, value *pal.DbgVarValue) (*pal.DbgSpy, error) {
	return s.spy(ctx, "spy_modify", spyModify, spy, desc, value)
}

// SpyDelete removes a spy.
func (s *Session) SpyDelete(ctx context.Context, spy *pal.DbgSpy) (*pal.DbgSpy, error) {
	return s.spy(ctx, "spy_delete", spyDelete, spy, nil, nil)
}

// SymbolTable lists the variables of a program level.
func (s *Session) SymbolTable(ctx context.Context, c *pal.DbgVarContainer) (syms []*pal.DbgSyt, err error) {
	if err := s.requireSuspended(); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, invalidArgument("container must not be nil")
	}
	ctx, end := s.start(ctx, "symbol_table", attribute.String("ndv.object", c.Object))
	defer end(&err)

	if err := s.call(ctx, &pal.Operation{Code: opSymbolTable}, c); err != nil {
		return nil, err
	}
	return retrieve[*pal.DbgSyt](s, pal.TagDbgSyt)
}

// Value returns the value of a variable.
func (s *Session) Value(ctx context.Context, c *pal.DbgVarContainer, desc *pal.DbgVarDesc) (values []*pal.DbgVarValue, err error) {
	if err := s.requireSuspended(); err != nil {
		return nil, err
	}
	if c == nil || desc == nil {
		return nil, invalidArgument("container and description must not be nil")
	}
	ctx, end := s.start(ctx, "get_value", attribute.String("ndv.variable", desc.Variable))
	defer end(&err)

	if err := s.call(ctx, &pal.Operation{Code: opGetValue}, c, desc); err != nil {
		return nil, err
	}
	return retrieve[*pal.DbgVarValue](s, pal.TagDbgVarValue)
}

// ModifyValue assigns value to a variable.
func (s *Session) ModifyValue(ctx context.Context, c *pal.DbgVarContainer, desc *pal.DbgVarDesc, value *pal.DbgVarValue) (err error) {
	if err := s.requireSuspended(); err != nil {
		return err
	}
	if c == nil || desc == nil || value == nil {
		return invalidArgument("container, description and value must not be nil")
	}
	ctx, end := s.start(ctx, "modify_value", attribute.String("ndv.variable", desc.Variable))
	defer end(&err)

	return s.call(ctx, &pal.Operation{Code: opModifyValue}, c, desc, value)
}

// SetNextStatement moves the execution position of frame and returns the
// new call stack.
func (s *Session) SetNextStatement(ctx context.Context, frame *pal.DbgStackFrame) (frames []*pal.DbgStackFrame, err error) {
	if err := s.requireSuspended(); err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, invalidArgument("stack frame must not be nil")
	}
	ctx, end := s.start(ctx, "set_next_statement", attribute.Int("ndv.line", frame.ExecPos))
	defer end(&err)

	if err := s.call(ctx, &pal.Operation{Code: opNextStatement}, frame); err != nil {
		return nil, err
	}
	return retrieve[*pal.DbgStackFrame](s, pal.TagDbgStackFrame)
}

// Execute runs a program. The result carries its screen output when it
// waits for input.
func (s *Session) Execute(ctx context.Context, program string) (*SuspendResult, error) {
	if program == "" {
		return nil, invalidArgument("program must not be empty")
	}
	return s.Command(ctx, "EXECUTE "+program, cmdExecute)
}

// Command sends a Natural system command with the given operation sub code.
func (s *Session) Command(ctx context.Context, command string, sub int) (res *SuspendResult, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if command == "" {
		return nil, invalidArgument("command must not be empty")
	}
	ctx, end := s.start(ctx, "command", attribute.String("ndv.command", command))
	defer end(&err)

	return s.run(ctx, &pal.Operation{Code: opCommand, SubKey: sub}, &pal.Stack{Command: command})
}

// ExecuteWithoutIO runs a command that must not write to the terminal.
func (s *Session) ExecuteWithoutIO(ctx context.Context, command string) (err error) {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if command == "" {
		return invalidArgument("command must not be empty")
	}
	ctx, end := s.start(ctx, "execute_without_io", attribute.String("ndv.command", command))
	defer end(&err)

	if err := s.send(ctx, &pal.Operation{Code: opCommand, SubKey: cmdExecute}, &pal.Stack{Command: command}); err != nil {
		return err
	}
	if s.tr.Has(pal.TagStream) {
		return illegalState("the program displays data which cannot be processed")
	}
	return s.resultError()
}

// NextScreen continues a program that waits after screen output.
func (s *Session) NextScreen(ctx context.Context) (res *SuspendResult, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	ctx, end := s.start(ctx, "next_screen")
	defer end(&err)

	return s.run(ctx, &pal.Notify{Code: pal.NotifyMore})
}

// TerminateIO cancels a program that waits for terminal input.
func (s *Session) TerminateIO(ctx context.Context) (err error) {
	if err := s.requireConnected(); err != nil {
		return err
	}
	ctx, end := s.start(ctx, "terminate_io")
	defer end(&err)

	return s.call(ctx, &pal.Notify{Code: pal.NotifyTerminate})
}
