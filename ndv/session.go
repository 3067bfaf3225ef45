package ndv

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drunlade/go-ndv/pal"
	"github.com/drunlade/go-ndv/password"
)

const instrumentationName = "github.com/drunlade/go-ndv/ndv"

// Operation codes
const (
	opDelete         = 1
	opCommand        = 2
	opObjects        = 3
	opLibraries      = 4
	opStatistics     = 5
	opSystemFiles    = 6
	opServerConfig   = 10
	opDownload       = 11
	opUpload         = 12
	opConnect        = 18
	opClose          = 20
	opObjectsByType  = 23
	opLock           = 29
	opUnlock         = 30
	opUtilityBuffer  = 36
	opCopy           = 40
	opMove           = 41
	opDownloadDelete = 43
	opIsLocked       = 44
	opLogonLibrary   = 45
	opLibraryEmpty   = 46
	opLibraryInfo    = 56
	opSystemVars     = 57
	opReinit         = 60
	opDebugExit      = 61
	opDebugStep      = 62
	opSpy            = 63
	opSymbolTable    = 64
	opGetValue       = 67
	opModifyValue    = 69
	opCodePages      = 71
	opNextStatement  = 72
	opSetStepLibs    = 77
)

// Command sub codes of Operation 2
const (
	cmdExecute = 6
	cmdDebug   = 7
	cmdLogon   = 12
)

const msgNotConnected = "connection to ndv server not available"

// SQLAuthenticator answers the database logon prompts a program raises
// while it runs.
type SQLAuthenticator interface {
	// Authenticate fills in the user id and password of the challenge.
	// Returning an error cancels the program.
	Authenticate(ctx context.Context, challenge *pal.SQLAuthentication) error
}

// SearchOrderScope tells the server how to apply a library search order.
type SearchOrderScope int

const (
	SearchOrderNone SearchOrderScope = iota
	SearchOrderShared
	SearchOrderPrivate
)

// LibrarySearchOrder supplies the steplibs of a library when the server
// asks for them during execution.
type LibrarySearchOrder interface {
	SearchOrder(library string) ([]*LibID, SearchOrderScope)
}

// Shaper converts profile resource text between the visual order mainframe
// servers store and the logical order of the client.
type Shaper interface {
	ToLogical(s string) string
	ToVisual(s string) string
}

// Session is a connection to one Natural Development Server.
type Session struct {
	config      *Config
	callbacks   *Callbacks
	logger      pal.Logger
	dialer      pal.Dialer
	tp          trace.TracerProvider
	tracer      trace.Tracer
	sqlAuth     SQLAuthenticator
	searchOrder LibrarySearchOrder
	shaper      Shaper
	clientID    string

	tr           *pal.Transport
	addr         string
	userID       string
	props        *ServerProperties
	disconnected bool

	natParms     []*pal.NatParm
	clientConfig *pal.ClientConfig
	dbmsInfo     []*pal.DbmsInfo
	sysVars      []*pal.SysVar
	codePages    []string
	serverConfig *ServerConfiguration

	retrieval retrieval
	debug     DebugState
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the session configuration.
func WithConfig(cfg *Config) Option {
	return func(s *Session) {
		s.config = cfg
	}
}

// WithCallbacks sets the session callbacks.
func WithCallbacks(cb *Callbacks) Option {
	return func(s *Session) {
		s.callbacks = mergeCallbacks(cb)
	}
}

// WithLogger sets the session logger. It is handed down to the transport.
func WithLogger(logger pal.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithDialer sets how the server is reached.
func WithDialer(d pal.Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithTracerProvider sets the provider operation spans are created with.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) {
		s.tp = tp
	}
}

// WithSQLAuthenticator answers SQL logon prompts during execution.
func WithSQLAuthenticator(a SQLAuthenticator) Option {
	return func(s *Session) {
		s.sqlAuth = a
	}
}

// WithLibrarySearchOrder answers steplib requests during execution.
func WithLibrarySearchOrder(p LibrarySearchOrder) Option {
	return func(s *Session) {
		s.searchOrder = p
	}
}

// WithShaper sets the text shaper for mainframe profile resources.
func WithShaper(sh Shaper) Option {
	return func(s *Session) {
		s.shaper = sh
	}
}

// NewSession creates an unconnected session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		config:    DefaultConfig(),
		callbacks: defaultCallbacks(),
		logger:    &pal.NoopLogger{},
		dialer:    pal.NetDialer(),
		clientID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tp == nil {
		s.tp = otel.GetTracerProvider()
	}
	s.tracer = s.tp.Tracer(instrumentationName)
	return s
}

// ClientID returns the id this client sends in its environment record.
func (s *Session) ClientID() string { return s.clientID }

// Connected reports whether the session holds a live connection.
func (s *Session) Connected() bool { return s.tr != nil && !s.tr.ConnectionLost() }

// ServerProperties returns the properties of the connected server, or nil.
func (s *Session) ServerProperties() *ServerProperties { return s.props }

// start opens the span of one operation. The returned function ends it and
// reports the error err points at.
func (s *Session) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "ndv."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if err := *errp; err != nil {
			span.RecordError(err)
			if IsWarning(err) {
				span.SetAttributes(attribute.Bool("ndv.warning", true))
			} else {
				span.SetStatus(codes.Error, err.Error())
				s.callbacks.OnError(err, op)
				s.event(EventError, err.Error(), 0)
			}
		}
		span.End()
	}
}

func (s *Session) event(t EventType, msg string, op int) {
	s.callbacks.OnEvent(Event{Type: t, Message: msg, Operation: op, Timestamp: time.Now()})
}

func (s *Session) requireConnected() error {
	if s.tr == nil {
		return illegalState(msgNotConnected)
	}
	return nil
}

// send queues records as one batch, commits it and waits for the reply.
func (s *Session) send(ctx context.Context, recs ...pal.Record) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if err := s.tr.Add(recs...); err != nil {
		s.tr.Reset()
		return fromTransport(err)
	}
	op := 0
	for _, r := range recs {
		if o, ok := r.(*pal.Operation); ok {
			op = o.Code
			break
		}
	}
	s.logger.Debug("commit operation %d (%d records)", op, len(recs))
	s.event(EventCommit, "", op)
	if err := s.tr.Commit(ctx); err != nil {
		if s.tr.ConnectionLost() {
			s.lost(err)
		}
		return fromTransport(err)
	}
	return nil
}

// call sends recs and returns the classified result of the reply.
func (s *Session) call(ctx context.Context, recs ...pal.Record) error {
	if err := s.send(ctx, recs...); err != nil {
		return err
	}
	return s.resultError()
}

// lost tears down a session whose connection failed underneath it.
func (s *Session) lost(err error) {
	s.logger.Error("connection lost: %v", err)
	s.retrieval = retrieval{}
	s.debug = DebugInactive
	s.callbacks.OnDisconnect(err)
	s.event(EventDisconnected, err.Error(), 0)
}

func retrieve[T pal.Record](s *Session, tag int) ([]T, error) {
	if s.tr == nil {
		return nil, nil
	}
	recs, err := s.tr.Retrieve(tag)
	if err != nil {
		return nil, fromTransport(err)
	}
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		if t, ok := r.(T); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func first[T pal.Record](s *Session, tag int) (T, error) {
	var zero T
	recs, err := retrieve[T](s, tag)
	if err != nil || len(recs) == 0 {
		return zero, err
	}
	return recs[0], nil
}

func libID(sf *SystemFile, library string, tag int) *pal.LibID {
	return &pal.LibID{Type: tag, DBID: sf.DBID, FNR: sf.FNR, Library: library, Password: sf.Password, Cipher: sf.Cipher}
}

func (s *Session) transportOptions() []pal.Option {
	return []pal.Option{
		pal.WithTimeout(s.config.Timeout),
		pal.WithTimeoutHandler(s.callbacks.OnTimeout),
		pal.WithLogger(s.logger),
		pal.WithTracerProvider(s.tp),
	}
}

// Connect logs on to the server. A warning from the server leaves the
// session connected: the properties are returned together with a
// *ConnectError whose IsWarning reports true.
func (s *Session) Connect(ctx context.Context, cc ConnectConfig) (props *ServerProperties, err error) {
	if s.tr != nil {
		return nil, illegalState("connection already established")
	}
	if err := cc.validate(); err != nil {
		return nil, err
	}
	ctx, end := s.start(ctx, "connect",
		attribute.String("ndv.host", cc.Host),
		attribute.Int("ndv.port", cc.Port),
		attribute.String("ndv.client_id", s.clientID))
	defer end(&err)

	token, err := password.Encode(cc.UserID, cc.Password, "", cc.NewPassword, time.Now())
	if err != nil {
		return nil, &Error{Kind: KindInvalidArgument, Severity: SeverityError, ShortText: "invalid logon credentials", Err: err}
	}

	addr := net.JoinHostPort(cc.Host, strconv.Itoa(cc.Port))
	tr, err := pal.Dial(ctx, s.dialer, addr, s.transportOptions()...)
	if err != nil {
		return nil, fromTransport(err)
	}
	tr.SetUserID(cc.UserID)
	s.tr, s.addr, s.userID = tr, addr, cc.UserID
	s.resetCaches()

	if err := s.send(ctx, s.logonRecords(cc, token)...); err != nil {
		s.drop()
		return nil, err
	}

	var connErr *ConnectError
	if number, severity := s.classify(); number != 0 {
		short, long := s.resultTexts(number)
		if severity == SeverityWarning {
			short = removeLeadingLength(short)
		}
		connErr = newConnectError(number, severity, short, long)
	}
	if s.tr.Has(pal.TagStream) {
		s.drop()
		return nil, newConnectError(resultProtocol, SeverityFatal, "invalid I/O performed on server", nil)
	}
	if connErr != nil && !connErr.IsWarning() {
		s.drop()
		return nil, connErr
	}

	env, _ := first[*pal.Environ](s, pal.TagEnviron)
	if env == nil {
		s.drop()
		return nil, newConnectError(resultProtocol, SeverityFatal, "server did not deliver its environment", nil)
	}
	props = propertiesFromEnviron(env)
	if dev, _ := first[*pal.DevEnv](s, pal.TagDevEnv); dev != nil {
		props.DevEnv, props.DevEnvPath, props.HostName = dev.IsDevEnv, dev.Path, dev.HostName
	}
	s.props = props
	s.tr.SetSessionID(props.SessionID)
	s.tr.SetDialect(pal.Dialect{Mainframe: props.Platform.IsMainframe(), Version: props.PalVersion})

	if err := s.initSession(ctx, props); err != nil {
		if !IsWarning(err) {
			s.drop()
			var e *Error
			if errors.As(err, &e) {
				return nil, &ConnectError{Err: e}
			}
			return nil, err
		}
		if connErr == nil {
			var e *Error
			errors.As(err, &e)
			connErr = &ConnectError{Err: e}
		}
	}

	s.disconnected = false
	s.logger.Info("connected to %s (%s, ndv %d, pal %d)", addr, props.Platform, props.NdvVersion, props.PalVersion)
	s.callbacks.OnConnect(props)
	s.event(EventConnected, addr, opConnect)
	if connErr != nil {
		return props, connErr
	}
	return props, nil
}

func (s *Session) logonRecords(cc ConnectConfig, token []byte) []pal.Record {
	flags := pal.EnvironWebIO
	if cc.RichGUI {
		flags |= pal.EnvironRichGUI
	}
	if s.config.TimestampChecks {
		flags |= pal.EnvironTimestampCheck
	}
	if cc.NFNPrivateMode {
		flags |= pal.EnvironNFNPrivateMode
	}
	webIO := cc.WebIOVersion
	if webIO == 0 {
		webIO = s.config.WebIOVersion
	}
	recs := []pal.Record{
		&pal.Operation{Code: opConnect},
		&pal.Connect{UserID: cc.UserID, Token: token, Parameters: strings.TrimSpace(cc.parameters())},
		&pal.Environ{
			PalVersion:       pal.ClientPalVersion,
			SessionID:        s.clientID,
			LogonCounter:     cc.LogonCounter,
			Flags:            flags,
			WebVersion:       webIO,
			NdvClientVersion: s.config.ClientVersion,
		},
		&pal.CP{CodePage: s.config.ClientCodePage},
	}
	if cc.MonitorSessionID != "" {
		recs = append(recs, &pal.MonitorInfo{SessionID: cc.MonitorSessionID, EventFilter: cc.MonitorEventFilter})
	}
	return recs
}

// initSession loads the server configuration, the code pages and the
// logon library of a fresh session.
func (s *Session) initSession(ctx context.Context, props *ServerProperties) error {
	if err := s.loadServerConfig(ctx, true); err != nil {
		return err
	}
	if _, err := s.CodePages(ctx); err != nil {
		return err
	}
	props.LogonLibrary = logonLibraryOf(props.Platform, props.StartupCommands)
	if reg := s.parm(pal.ParmRegional); reg != nil {
		props.DefaultCodePage = strings.TrimSpace(reg.Regional.CodePage)
	}
	enc, err := LookupCodePage(props.DefaultCodePage)
	if err != nil {
		s.logger.Info("default code page %q not supported, strings pass through", props.DefaultCodePage)
		return nil
	}
	d := s.tr.Dialect()
	d.CodePage = enc
	s.tr.SetDialect(d)
	return nil
}

// logonLibraryOf derives the logon library from the startup commands.
// Mainframes send the bare name, other servers a "LOGON lib" command.
func logonLibraryOf(p Platform, startup string) string {
	var lib string
	if p.IsMainframe() {
		lib = strings.TrimSpace(startup)
	} else if i := strings.Index(startup, "LOGON"); i >= 0 && i+6 <= len(startup) {
		lib = startup[i+6:]
		if lib != "" {
			lib = lib[:len(lib)-1]
		}
	}
	if lib == "" {
		lib = "SYSTEM"
	}
	return lib
}

func (s *Session) resetCaches() {
	s.props = nil
	s.natParms = nil
	s.clientConfig = nil
	s.dbmsInfo = nil
	s.sysVars = nil
	s.codePages = nil
	s.serverConfig = nil
	s.retrieval = retrieval{}
	s.debug = DebugInactive
}

// drop closes the socket of a failed logon.
func (s *Session) drop() {
	if s.tr != nil {
		s.tr.Close()
	}
	s.tr = nil
	s.props = nil
}

// Reconnect opens a new socket to the server of a mainframe session and
// re-initializes the session the server kept.
func (s *Session) Reconnect(ctx context.Context) (err error) {
	if s.props == nil || s.addr == "" {
		return illegalState(msgNotConnected)
	}
	if !s.props.Platform.IsMainframe() {
		return illegalState("reconnect is only supported for mainframe sessions")
	}
	ctx, end := s.start(ctx, "reconnect", attribute.String("ndv.addr", s.addr))
	defer end(&err)

	old := s.tr
	tr, err := pal.Dial(ctx, s.dialer, s.addr, append(s.transportOptions(), pal.WithDialect(old.Dialect()))...)
	if err != nil {
		return fromTransport(err)
	}
	old.Close()
	tr.SetUserID(s.userID)
	tr.SetSessionID(s.props.SessionID)
	s.tr = tr
	s.disconnected = false
	s.retrieval = retrieval{}
	s.debug = DebugInactive

	if err := s.call(ctx, &pal.Operation{Code: opReinit}); err != nil {
		return err
	}
	s.logger.Info("reconnected to %s", s.addr)
	s.event(EventConnected, s.addr, opReinit)
	return nil
}

// Close ends the server session with the given close code and closes the
// connection. Closing an unconnected session is a no-op, and after
// Disconnect it only releases the session state.
func (s *Session) Close(ctx context.Context, code int) (err error) {
	if s.tr == nil {
		return nil
	}
	if s.disconnected || s.tr.Closed() {
		s.tr = nil
		s.props = nil
		return nil
	}
	ctx, end := s.start(ctx, "close", attribute.Int("ndv.close_code", code))
	defer end(&err)

	if !s.tr.ConnectionLost() {
		err = s.send(ctx, &pal.Operation{Code: opClose, SubKey: code})
	}
	if cerr := s.tr.Close(); cerr != nil && err == nil {
		err = fromTransport(cerr)
	}
	s.tr = nil
	s.props = nil
	s.logger.Info("closed session to %s", s.addr)
	s.callbacks.OnDisconnect(nil)
	s.event(EventDisconnected, s.addr, opClose)
	return err
}

// Disconnect signals the end of the session and closes the socket without
// waiting for the server. Mainframe sessions can be resumed with
// Reconnect.
func (s *Session) Disconnect() error {
	if s.tr == nil || s.disconnected {
		return nil
	}
	s.disconnected = true
	err := s.tr.Disconnect()
	s.logger.Info("disconnected from %s", s.addr)
	s.callbacks.OnDisconnect(nil)
	s.event(EventDisconnected, s.addr, 0)
	return fromTransport(err)
}

// LogonLibrary asks the server for the library the session is logged on to.
func (s *Session) LogonLibrary(ctx context.Context) (lib string, err error) {
	if err := s.requireConnected(); err != nil {
		return "", err
	}
	ctx, end := s.start(ctx, "logon_library")
	defer end(&err)

	if err := s.call(ctx, &pal.Operation{Code: opLogonLibrary}); err != nil {
		return "", err
	}
	id, err := first[*pal.LibID](s, pal.TagLibID)
	if err != nil {
		return "", err
	}
	if id == nil {
		return "", newError(KindProtocol, "server did not deliver the logon library")
	}
	s.props.LogonLibrary = id.Library
	return id.Library, nil
}

// Logon makes library the current library. Nothing is sent when the
// session is logged on to it already.
func (s *Session) Logon(ctx context.Context, library string) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if library == "" {
		return invalidArgument("library must not be empty")
	}
	current, err := s.LogonLibrary(ctx)
	if err != nil {
		return err
	}
	if current == library {
		return nil
	}
	return s.LogonWithSearchOrder(ctx, library, []*LibID{{}})
}

// LogonWithSearchOrder logs on to library with an explicit list of
// library ids.
func (s *Session) LogonWithSearchOrder(ctx context.Context, library string, ids []*LibID) (err error) {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if library == "" {
		return invalidArgument("library must not be empty")
	}
	ctx, end := s.start(ctx, "logon", attribute.String("ndv.library", library))
	defer end(&err)

	recs := []pal.Record{
		&pal.Operation{Code: opCommand, SubKey: cmdLogon},
		&pal.Stack{Command: "LOGON " + library},
	}
	for _, id := range ids {
		recs = append(recs, id)
	}
	if err := s.call(ctx, recs...); err != nil {
		return err
	}
	s.props.LogonLibrary = library
	return nil
}

// SystemFiles lists the system files of the server.
func (s *Session) SystemFiles(ctx context.Context) (files []*SystemFile, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	ctx, end := s.start(ctx, "system_files")
	defer end(&err)

	if err := s.call(ctx, &pal.Operation{Code: opSystemFiles}); err != nil {
		return nil, err
	}
	return retrieve[*pal.SystemFile](s, pal.TagSystemFile)
}

// CodePages returns the code pages the server can convert. The list is
// fetched once per connection.
func (s *Session) CodePages(ctx context.Context) (pages []string, err error) {
	if s.codePages != nil {
		return append([]string(nil), s.codePages...), nil
	}
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	ctx, end := s.start(ctx, "code_pages")
	defer end(&err)

	if err := s.call(ctx, &pal.Operation{Code: opCodePages}); err != nil {
		return nil, err
	}
	cps, err := retrieve[*pal.CP](s, pal.TagCP)
	if err != nil {
		return nil, err
	}
	s.codePages = make([]string, 0, len(cps))
	for _, cp := range cps {
		s.codePages = append(s.codePages, cp.CodePage)
	}
	return append([]string(nil), s.codePages...), nil
}

func (s *Session) knowsCodePage(name string) bool {
	for _, cp := range s.codePages {
		if strings.EqualFold(strings.TrimSpace(cp), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

// SystemVariables returns the Natural system variables of the session.
// The list is fetched once per connection.
func (s *Session) SystemVariables(ctx context.Context) (vars []*pal.SysVar, err error) {
	if s.sysVars != nil {
		return s.sysVars, nil
	}
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	ctx, end := s.start(ctx, "system_variables")
	defer end(&err)

	if err := s.send(ctx, &pal.Operation{Code: opSystemVars, SubKey: 1}); err != nil {
		return nil, err
	}
	vars, err = retrieve[*pal.SysVar](s, pal.TagSysVar)
	if err != nil {
		return nil, err
	}
	if err := s.resultError(); err != nil {
		return nil, err
	}
	s.sysVars = vars
	return vars, nil
}

// StepLibraries returns the steplibs of the current library.
func (s *Session) StepLibraries(ctx context.Context) (libs []*LibID, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	ctx, end := s.start(ctx, "step_libraries")
	defer end(&err)

	if err := s.call(ctx, &pal.Operation{Code: opLibraries, SubKey: 4}); err != nil {
		return nil, err
	}
	return retrieve[*pal.LibID](s, pal.TagLibID)
}

// SetStepLibraries replaces the steplibs of the current library.
func (s *Session) SetStepLibraries(ctx context.Context, libs []*LibID, scope SearchOrderScope) (err error) {
	if err := s.requireConnected(); err != nil {
		return err
	}
	ctx, end := s.start(ctx, "set_step_libraries", attribute.Int("ndv.libraries", len(libs)))
	defer end(&err)

	recs := []pal.Record{&pal.Operation{Code: opSetStepLibs, SubKey: int(scope)}}
	for _, l := range libs {
		recs = append(recs, l)
	}
	return s.call(ctx, recs...)
}

// CommandGuard returns the command guard settings of a library.
func (s *Session) CommandGuard(ctx context.Context, kind int, sf *SystemFile, library string) (guard *pal.CmdGuard, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, invalidArgument("system file must not be nil")
	}
	ctx, end := s.start(ctx, "command_guard", attribute.String("ndv.library", library))
	defer end(&err)

	if err := s.call(ctx, &pal.Operation{Code: opLibraryInfo, SubKey: kind}, libID(sf, library, pal.TagLibID)); err != nil {
		return nil, err
	}
	return first[*pal.CmdGuard](s, pal.TagCmdGuard)
}

// SendUtilityBuffer hands an opaque buffer to a server utility.
func (s *Session) SendUtilityBuffer(ctx context.Context, kind int, data []byte) (err error) {
	if err := s.requireConnected(); err != nil {
		return err
	}
	ctx, end := s.start(ctx, "utility_buffer", attribute.Int("ndv.utility", kind))
	defer end(&err)

	return s.call(ctx, &pal.Operation{Code: opUtilityBuffer, SubKey: kind}, &pal.Utility{Data: string(data)})
}
