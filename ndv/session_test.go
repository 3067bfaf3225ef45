package ndv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/drunlade/go-ndv/internal/ndvtest"
	"github.com/drunlade/go-ndv/pal"
)

var testSystemFile = &SystemFile{DBID: 10, FNR: 32, Kind: 1}

func testConnectConfig() ConnectConfig {
	return ConnectConfig{Host: "ndv.test", Port: 8011, UserID: "DEV", Password: "SECRET"}
}

// connect logs a new session on to srv.
func connect(t *testing.T, srv *ndvtest.Server, opts ...Option) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	s := NewSession(append([]Option{WithConfig(cfg), WithDialer(srv)}, opts...)...)
	_, err := s.Connect(context.Background(), testConnectConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Disconnect() })
	return s
}

func records[T pal.Record](t *testing.T, req *ndvtest.Request, tag int) []T {
	t.Helper()
	recs, err := req.Records(tag)
	require.NoError(t, err)
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(T))
	}
	return out
}

func TestConnectOpenSystems(t *testing.T) {
	srv := ndvtest.NewServer(t, ndvtest.OpenSystems())
	var connected *ServerProperties
	var events []EventType
	cb := &Callbacks{
		OnConnect: func(p *ServerProperties) { connected = p },
		OnEvent:   func(e Event) { events = append(events, e.Type) },
	}
	s := NewSession(WithDialer(srv), WithCallbacks(cb))

	props, err := s.Connect(context.Background(), testConnectConfig())
	require.NoError(t, err)
	defer s.Disconnect()

	assert.True(t, s.Connected())
	assert.Equal(t, PlatformUnix, props.Platform)
	assert.True(t, props.Platform.IsOpenSystems())
	assert.Equal(t, "S0000001", props.SessionID)
	assert.Equal(t, 912, props.NdvMajorVersion())
	assert.Equal(t, "SYSTEM", props.LogonLibrary)
	assert.Same(t, props, connected)
	assert.Contains(t, events, EventConnected)

	pages, err := s.CodePages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"UTF-8", "IBM01140", "ISO-8859-1"}, pages)
	assert.Empty(t, srv.Requests(), "code pages are cached from logon")
}

func TestConnectMainframeLogonLibrary(t *testing.T) {
	srv := ndvtest.NewServer(t, ndvtest.Mainframe())
	s := connect(t, srv)

	props := s.ServerProperties()
	assert.True(t, props.Platform.IsMainframe())
	assert.Equal(t, "SYSTEM", props.LogonLibrary)
}

func TestConnectWarningKeepsSession(t *testing.T) {
	srv := ndvtest.NewServer(t, ndvtest.WithLogon(
		&pal.Result{Natural: 7000},
		&pal.ResultEx{ShortText: "12 password expires in 3 days"},
	))
	s := NewSession(WithDialer(srv))

	props, err := s.Connect(context.Background(), testConnectConfig())
	defer s.Disconnect()
	require.Error(t, err)
	require.NotNil(t, props)

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.IsWarning())
	assert.True(t, IsWarning(err))
	assert.Equal(t, "password expires in 3 days", ce.Err.ShortText)
	assert.True(t, s.Connected())
}

func TestConnectErrorDropsSession(t *testing.T) {
	srv := ndvtest.NewServer(t, ndvtest.WithLogon(
		&pal.Result{Natural: 838},
		&pal.ResultEx{ShortText: "Invalid password"},
	))
	s := NewSession(WithDialer(srv))

	props, err := s.Connect(context.Background(), testConnectConfig())
	require.Error(t, err)
	assert.Nil(t, props)
	assert.False(t, s.Connected())

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.False(t, ce.IsWarning())
	assert.Equal(t, 838, ce.Err.Number)
}

func TestConnectValidatesConfig(t *testing.T) {
	s := NewSession(WithDialer(ndvtest.NewServer(t)))

	for name, cc := range map[string]ConnectConfig{
		"host":     {Port: 1, UserID: "U"},
		"port":     {Host: "h", UserID: "U"},
		"user":     {Host: "h", Port: 1},
		"password": {Host: "h", Port: 1, UserID: "U", Password: "TOOLONGPW"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Connect(context.Background(), cc)
			assert.True(t, IsKind(err, KindInvalidArgument), "got %v", err)
		})
	}
}

func TestConnectTwiceIsIllegal(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	_, err := s.Connect(context.Background(), testConnectConfig())
	assert.True(t, IsKind(err, KindIllegalState))
}

func TestOperationsRequireConnection(t *testing.T) {
	s := NewSession()
	ctx := context.Background()

	_, err := s.SystemFiles(ctx)
	assert.True(t, IsKind(err, KindIllegalState))
	_, err = s.ListLibrariesFirst(ctx, testSystemFile, "*")
	assert.True(t, IsKind(err, KindIllegalState))
	_, err = s.DownloadSource(ctx, testSystemFile, "LIB", &FileProperties{Name: "PGM"}, DownloadOptions{})
	assert.True(t, IsKind(err, KindIllegalState))
	assert.NoError(t, s.Close(ctx, 0))
}

func TestLogonSkipsCurrentLibrary(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)
	ctx := context.Background()

	srv.Script(ndvtest.Reply(&pal.LibID{Library: "SYSTEM"}))
	require.NoError(t, s.Logon(ctx, "SYSTEM"))
	require.Len(t, srv.Requests(), 1)
	assert.Equal(t, opLogonLibrary, srv.Last().Operation().Code)

	srv.Script(
		ndvtest.Reply(&pal.LibID{Library: "SYSTEM"}),
		ndvtest.Reply(),
	)
	require.NoError(t, s.Logon(ctx, "DEVLIB"))
	req := srv.Last()
	assert.Equal(t, &pal.Operation{Code: opCommand, SubKey: cmdLogon}, stripIDs(req.Operation()))
	stack := records[*pal.Stack](t, req, pal.TagStack)
	require.Len(t, stack, 1)
	assert.Equal(t, "LOGON DEVLIB", stack[0].Command)
	assert.Equal(t, "DEVLIB", s.ServerProperties().LogonLibrary)
}

func stripIDs(op *pal.Operation) *pal.Operation {
	if op == nil {
		return nil
	}
	return &pal.Operation{Code: op.Code, SubKey: op.SubKey, Flags: op.Flags}
}

func TestSystemFiles(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	srv.Script(ndvtest.Reply(
		&pal.SystemFile{DBID: 10, FNR: 32, Kind: 1},
		&pal.SystemFile{DBID: 10, FNR: 33, Kind: pal.SysFileFDDM},
	))
	files, err := s.SystemFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, pal.SysFileFDDM, files[1].Kind)
	assert.Equal(t, opSystemFiles, srv.Last().Operation().Code)
}

func TestRuntimeErrorIsClassified(t *testing.T) {
	srv := ndvtest.NewServer(t)
	var failed []string
	s := connect(t, srv, WithCallbacks(&Callbacks{OnError: func(err error, op string) { failed = append(failed, op) }}))

	srv.Script(ndvtest.Reply(
		&pal.Result{Natural: 82},
		&pal.ResultEx{ShortText: "Object not found"},
		&pal.Source{Type: pal.TagSourceCodePage, Line: "The object does not exist."},
	))
	_, err := s.SystemFiles(context.Background())
	require.Error(t, err)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindRuntime, e.Kind)
	assert.Equal(t, 82, e.Number)
	assert.Equal(t, "Object not found", e.ShortText)
	assert.Equal(t, []string{"The object does not exist."}, e.LongText)
	assert.True(t, IsNumber(err, 82))
	assert.Equal(t, []string{"system_files"}, failed)
}

func TestCloseSendsCloseCode(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	srv.Script(ndvtest.Reply())
	require.NoError(t, s.Close(context.Background(), 1))
	assert.False(t, s.Connected())
	assert.Equal(t, &pal.Operation{Code: opClose, SubKey: 1}, stripIDs(srv.Last().Operation()))
}

func TestCloseAfterDisconnect(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)
	sent := len(srv.Requests())

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Close(context.Background(), 0))
	assert.False(t, s.Connected())
	assert.Nil(t, s.ServerProperties())
	assert.Len(t, srv.Requests(), sent, "no close operation after disconnect")
	require.NoError(t, s.Close(context.Background(), 0))
}

func TestReconnectMainframe(t *testing.T) {
	srv := ndvtest.NewServer(t, ndvtest.Mainframe())
	s := connect(t, srv)
	ctx := context.Background()

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Reconnect(ctx))
	assert.True(t, s.Connected())

	srv.Script(ndvtest.Reply(&pal.SystemFile{DBID: 1, FNR: 2}))
	files, err := s.SystemFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestReconnectRequiresMainframe(t *testing.T) {
	s := connect(t, ndvtest.NewServer(t, ndvtest.OpenSystems()))
	assert.True(t, IsKind(s.Reconnect(context.Background()), KindIllegalState))
}

func TestOperationSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	srv := ndvtest.NewServer(t)
	s := connect(t, srv, WithTracerProvider(tp))

	srv.Script(ndvtest.Reply(&pal.Result{Natural: 1234}))
	_, err := s.SystemFiles(context.Background())
	require.Error(t, err)

	var names []string
	var failed sdktrace.ReadOnlySpan
	for _, span := range rec.Ended() {
		names = append(names, span.Name())
		if span.Name() == "ndv.system_files" {
			failed = span
		}
	}
	assert.Contains(t, names, "ndv.connect")
	assert.Contains(t, names, "pal.commit")
	require.NotNil(t, failed)
	assert.Equal(t, codes.Error, failed.Status().Code)
}
