package ndv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drunlade/go-ndv/internal/ndvtest"
	"github.com/drunlade/go-ndv/pal"
)

type sqlAuthFunc func(ctx context.Context, c *pal.SQLAuthentication) error

func (f sqlAuthFunc) Authenticate(ctx context.Context, c *pal.SQLAuthentication) error {
	return f(ctx, c)
}

type staticSearchOrder struct {
	ids   []*LibID
	scope SearchOrderScope
	asked []string
}

func (o *staticSearchOrder) SearchOrder(library string) ([]*LibID, SearchOrderScope) {
	o.asked = append(o.asked, library)
	return o.ids, o.scope
}

func breakpoint(line int) []pal.Record {
	return []pal.Record{
		&pal.DbgStatus{Status: pal.DbgStatusBreakpoint, Object: "PGM1", Library: "LIB", Line: line, Level: 1},
		&pal.DbgStackFrame{Level: 1, Object: "PGM1", Library: "LIB"},
	}
}

// suspend starts PGM1 in the debugger and stops at its first breakpoint.
func suspend(t *testing.T, srv *ndvtest.Server, s *Session) {
	t.Helper()
	srv.Script(ndvtest.Reply(breakpoint(10)...))
	res, err := s.DebugStart(context.Background(), "PGM1", "LIB", "PGM1")
	require.NoError(t, err)
	require.True(t, res.Suspended())
}

func TestDebugStartAnswersSQLAuthentication(t *testing.T) {
	srv := ndvtest.NewServer(t)
	var titles []string
	s := connect(t, srv, WithSQLAuthenticator(sqlAuthFunc(func(_ context.Context, c *pal.SQLAuthentication) error {
		titles = append(titles, c.Title)
		c.UID, c.Password = "DBUSER", "DBPASS"
		return nil
	})))

	suspended := append(breakpoint(100), &pal.NatParm{Index: pal.ParmCharAssign, CharAssign: pal.CharAssign{DecimalChar: ','}})
	srv.Script(
		ndvtest.Reply(&pal.SQLAuthentication{Title: "DB2 logon"}),
		ndvtest.Reply(suspended...),
	)
	var events []EventType
	s.callbacks.OnEvent = func(e Event) { events = append(events, e.Type) }

	res, err := s.DebugStart(context.Background(), "PGM1", "LIB", "PGM1")
	require.NoError(t, err)
	assert.True(t, res.Suspended())
	assert.Equal(t, DebugSuspended, s.DebugState())
	assert.Equal(t, 100, res.Status.Line)
	assert.Equal(t, byte(','), res.DecimalChar)
	require.Len(t, res.Frames, 1)
	assert.Equal(t, "PGM1", res.Frames[0].Object)
	assert.Equal(t, []string{"DB2 logon"}, titles)
	assert.Contains(t, events, EventDebugSuspended)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, &pal.Operation{Code: opCommand, SubKey: cmdDebug}, stripIDs(reqs[0].Operation()))
	stack := records[*pal.Stack](t, reqs[0], pal.TagStack)
	assert.Equal(t, "DEBUG RDEBUGON LIB PGM1", stack[0].Command)
	answers := records[*pal.SQLAuthentication](t, reqs[1], pal.TagSQLAuthentication)
	require.Len(t, answers, 1)
	assert.Equal(t, "DBUSER", answers[0].UID)
	assert.Equal(t, "DBPASS", answers[0].Password)
}

func TestSQLAuthenticationCancelled(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv, WithSQLAuthenticator(sqlAuthFunc(func(context.Context, *pal.SQLAuthentication) error {
		return errors.New("cancelled by user")
	})))

	srv.Script(
		ndvtest.Reply(&pal.SQLAuthentication{Title: "DB2 logon"}),
		ndvtest.Reply(),
	)
	_, err := s.DebugStart(context.Background(), "PGM1", "LIB", "PGM1")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRuntime))
	assert.Equal(t, DebugInactive, s.DebugState())
	assert.Equal(t, pal.NotifyTerminate, srv.Last().Notify())
}

func TestDebugStartMainframeCommand(t *testing.T) {
	srv := ndvtest.NewServer(t, ndvtest.Mainframe())
	s := connect(t, srv)
	suspend(t, srv, s)

	stack := records[*pal.Stack](t, srv.Last(), pal.TagStack)
	assert.Equal(t, "TEST RDEBUGON LIB PGM1", stack[0].Command)
}

func TestDebugStartError(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	srv.Script(ndvtest.Reply(&pal.Result{Natural: resultNoObjects}))
	res, err := s.DebugStart(context.Background(), "PGM1", "LIB", "PGM1")
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, err, res.Err)
	assert.True(t, IsNumber(err, resultNoObjects))
	assert.Equal(t, DebugInactive, s.DebugState())
}

func TestDebugStepping(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)
	ctx := context.Background()
	suspend(t, srv, s)

	_, err := s.DebugStart(ctx, "PGM1", "LIB", "PGM1")
	assert.True(t, IsKind(err, KindIllegalState))

	srv.Script(ndvtest.Reply(breakpoint(20)...))
	res, err := s.StepOver(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Status.Line)
	assert.Equal(t, DebugSuspended, s.DebugState())
	assert.Equal(t, &pal.Operation{Code: opDebugStep, SubKey: stepOver}, stripIDs(srv.Last().Operation()))

	srv.Script(ndvtest.Reply(breakpoint(30)...))
	_, err = s.StepInto(ctx)
	require.NoError(t, err)
	assert.Equal(t, stepInto, srv.Last().Operation().SubKey)

	srv.Script(ndvtest.Reply(&pal.DbgStatus{Status: pal.DbgStatusTerminated}))
	res, err = s.Resume(ctx)
	require.NoError(t, err)
	assert.False(t, res.Suspended())
	assert.Equal(t, DebugInactive, s.DebugState())
	assert.Equal(t, stepResume, srv.Last().Operation().SubKey)

	_, err = s.StepReturn(ctx)
	assert.True(t, IsKind(err, KindIllegalState))
}

func TestDebugOperationsRequireSuspended(t *testing.T) {
	s := connect(t, ndvtest.NewServer(t))
	ctx := context.Background()

	_, err := s.StepInto(ctx)
	assert.True(t, IsKind(err, KindIllegalState))
	_, err = s.SpySet(ctx, &pal.DbgSpy{}, nil, nil)
	assert.True(t, IsKind(err, KindIllegalState))
	_, err = s.SymbolTable(ctx, &pal.DbgVarContainer{})
	assert.True(t, IsKind(err, KindIllegalState))
	_, err = s.Value(ctx, &pal.DbgVarContainer{}, &pal.DbgVarDesc{})
	assert.True(t, IsKind(err, KindIllegalState))
	_, err = s.SetNextStatement(ctx, &pal.DbgStackFrame{})
	assert.True(t, IsKind(err, KindIllegalState))
	assert.True(t, IsKind(s.DebugExit(ctx), KindIllegalState))
}

func TestSpies(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)
	ctx := context.Background()
	suspend(t, srv, s)

	srv.Script(ndvtest.Reply(&pal.DbgSpy{ID: 7, Object: "PGM1", Library: "LIB"}))
	spy, err := s.SpySet(ctx, &pal.DbgSpy{Object: "PGM1", Library: "LIB"}, &pal.DbgVarDesc{Variable: "#A"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, spy.ID)
	req := srv.Last()
	assert.Equal(t, &pal.Operation{Code: opSpy, SubKey: spySet}, stripIDs(req.Operation()))
	assert.True(t, req.Has(pal.TagDbgVarDesc))
	assert.False(t, req.Has(pal.TagDbgVarValue))

	srv.Script(ndvtest.Reply(&pal.DbgSpy{ID: 7}))
	_, err = s.SpyDelete(ctx, spy)
	require.NoError(t, err)
	assert.Equal(t, spyDelete, srv.Last().Operation().SubKey)

	_, err = s.SpyModify(ctx, nil, nil, nil)
	assert.True(t, IsKind(err, KindInvalidArgument))
}

func TestVariables(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)
	ctx := context.Background()
	suspend(t, srv, s)

	c := &pal.DbgVarContainer{StackLevel: 1, NatType: TypeProgram.ID, Object: "PGM1", Library: "LIB"}
	srv.Script(ndvtest.Reply(&pal.DbgSyt{Name: "#A"}, &pal.DbgSyt{Name: "#B"}))
	syms, err := s.SymbolTable(ctx, c)
	require.NoError(t, err)
	require.Len(t, syms, 2)
	assert.Equal(t, "#B", syms[1].Name)
	assert.Equal(t, opSymbolTable, srv.Last().Operation().Code)

	desc := &pal.DbgVarDesc{Variable: "#A"}
	srv.Script(ndvtest.Reply(&pal.DbgVarValue{Value: "42"}))
	values, err := s.Value(ctx, c, desc)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "42", values[0].Value)

	srv.Script(ndvtest.Reply())
	require.NoError(t, s.ModifyValue(ctx, c, desc, &pal.DbgVarValue{Value: "43"}))
	assert.Equal(t, opModifyValue, srv.Last().Operation().Code)

	srv.Script(ndvtest.Reply(&pal.DbgStackFrame{Level: 1, Object: "PGM1", ExecPos: 40}))
	frames, err := s.SetNextStatement(ctx, &pal.DbgStackFrame{Level: 1, ExecPos: 40})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, 40, frames[0].ExecPos)

	srv.Script(ndvtest.Reply())
	require.NoError(t, s.DebugExit(ctx))
	assert.Equal(t, DebugInactive, s.DebugState())
	assert.Equal(t, opDebugExit, srv.Last().Operation().Code)
}

func TestExecuteAnswersSearchOrder(t *testing.T) {
	srv := ndvtest.NewServer(t)
	order := &staticSearchOrder{
		ids:   []*LibID{{Type: pal.TagLibIDSearchOrder, Library: "STEP1", DBID: 10, FNR: 32}},
		scope: SearchOrderShared,
	}
	s := connect(t, srv, WithLibrarySearchOrder(order))
	ctx := context.Background()

	srv.Script(
		ndvtest.Reply(&pal.LibID{Type: pal.TagLibIDSearchOrder, Library: "LIB"}),
		ndvtest.Reply(&pal.Stream{Data: []byte("HELLO")}),
	)
	res, err := s.Execute(ctx, "PGM1")
	require.NoError(t, err)
	require.NotNil(t, res.Screen)
	assert.Equal(t, []byte("HELLO"), res.Screen.Data)
	assert.False(t, res.Suspended())
	assert.Equal(t, []string{"LIB"}, order.asked)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	stack := records[*pal.Stack](t, reqs[0], pal.TagStack)
	assert.Equal(t, "EXECUTE PGM1", stack[0].Command)
	assert.Equal(t, cmdExecute, reqs[0].Operation().SubKey)
	steplibs := records[*pal.LibID](t, reqs[1], pal.TagLibIDSearchOrder)
	require.Len(t, steplibs, 1)
	assert.Equal(t, "STEP1", steplibs[0].Library)
	assert.Equal(t, int(SearchOrderShared), reqs[1].Notify())

	srv.Script(ndvtest.Reply())
	_, err = s.NextScreen(ctx)
	require.NoError(t, err)
	assert.Equal(t, pal.NotifyMore, srv.Last().Notify())

	srv.Script(ndvtest.Reply())
	require.NoError(t, s.TerminateIO(ctx))
	assert.Equal(t, pal.NotifyTerminate, srv.Last().Notify())
}

func TestExecuteWithoutIORejectsScreenOutput(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)
	ctx := context.Background()

	srv.Script(ndvtest.Reply(&pal.Stream{Data: []byte("PAGE 1")}), ndvtest.Reply())
	err := s.ExecuteWithoutIO(ctx, "PGM1")
	assert.True(t, IsKind(err, KindIllegalState))

	require.NoError(t, s.ExecuteWithoutIO(ctx, "PGM2"))
	assert.Equal(t, "PGM2", records[*pal.Stack](t, srv.Last(), pal.TagStack)[0].Command)
}

func TestDebugStateString(t *testing.T) {
	assert.Equal(t, "inactive", DebugInactive.String())
	assert.Equal(t, "suspended", DebugSuspended.String())
	assert.Equal(t, "running", DebugRunning.String())
	assert.Equal(t, "DebugState(9)", DebugState(9).String())
}
