package pal

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/drunlade/go-ndv/pal"

// DefaultTimeout is the read timeout used when none is configured.
const DefaultTimeout = 60 * time.Second

// Conn is the socket a Transport runs on.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(time.Time) error
}

// Transport batches outgoing records, commits them and demultiplexes the
// server's reply by tag. One Transport serves one caller at a time.
type Transport struct {
	conn    Conn
	io      *palIO
	logger  Logger
	tracer  trace.Tracer
	timeout time.Duration
	handler TimeoutHandler

	dialect   Dialect
	newHeader bool
	sessionID string
	userID    string

	pending []Block
	queued  map[int]int

	reply   map[int][][]byte
	decoded map[int][]Record

	// stale is set while the reply to a timed out commit is still owed.
	stale  bool
	lost   bool
	closed bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithTimeout sets the read timeout for server replies. Zero waits forever.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.timeout = d
	}
}

// WithTimeoutHandler sets the callback asked whether to keep waiting when
// the read timeout expires.
func WithTimeoutHandler(h TimeoutHandler) Option {
	return func(t *Transport) {
		t.handler = h
	}
}

// WithLogger sets the logger for packet traces.
func WithLogger(logger Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithTracerProvider sets the provider commit spans are created with.
// The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Transport) {
		t.tracer = tp.Tracer(instrumentationName)
	}
}

// WithDialect sets the initial record dialect.
func WithDialect(d Dialect) Option {
	return func(t *Transport) {
		t.dialect = d
	}
}

// New creates a Transport over an established connection.
func New(conn Conn, opts ...Option) *Transport {
	t := &Transport{
		conn:    conn,
		logger:  &NoopLogger{},
		timeout: DefaultTimeout,
		queued:  make(map[int]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.tracer == nil {
		t.tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}

	var reader ReaderWithTimeout = conn
	var writer io.Writer = conn
	switch t.logger.(type) {
	case NoopLogger, *NoopLogger:
	default:
		reader = &deadlineReader{LoggingReader: NewLoggingReader(conn, t.logger, "recv"), conn: conn}
		writer = NewLoggingWriter(conn, t.logger, "send")
	}
	t.io = newPalIO(reader, writer, t.timeout)
	t.io.handler = t.handler
	return t
}

// Dial connects to addr using dialer and returns a Transport on the new
// connection. A nil dialer dials TCP directly.
func Dial(ctx context.Context, dialer Dialer, addr string, opts ...Option) (*Transport, error) {
	if dialer == nil {
		dialer = NetDialer()
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, wrapError(ErrIO, fmt.Sprintf("connect to %s", addr), err)
	}
	return New(conn, opts...), nil
}

// deadlineReader keeps deadline support when reads are traced.
type deadlineReader struct {
	*LoggingReader
	conn Conn
}

func (r *deadlineReader) SetReadDeadline(t time.Time) error {
	return r.conn.SetReadDeadline(t)
}

// SetProtocolVersion sets the negotiated protocol version.
func (t *Transport) SetProtocolVersion(v int) { t.dialect.Version = v }

// ProtocolVersion returns the negotiated protocol version.
func (t *Transport) ProtocolVersion() int { return t.dialect.Version }

// SetSessionID sets the id stamped into Operation records.
func (t *Transport) SetSessionID(id string) { t.sessionID = id }

// SetUserID sets the user stamped into Operation records.
func (t *Transport) SetUserID(id string) { t.userID = id }

// SetDialect replaces the record dialect. Records already received are
// decoded again with the new dialect.
func (t *Transport) SetDialect(d Dialect) {
	t.dialect = d
	t.decoded = nil
}

// Dialect returns the current record dialect.
func (t *Transport) Dialect() Dialect { return t.dialect }

// ConnectionLost reports whether the socket failed or the peer hung up.
func (t *Transport) ConnectionLost() bool { return t.lost }

// Closed reports whether Close or Disconnect ran.
func (t *Transport) Closed() bool { return t.closed }

// Add queues records for the next commit. Records with the same tag form
// one block; a tag already queued by an earlier Add fails with
// ErrIllegalState and nothing from this call is queued.
func (t *Transport) Add(records ...Record) error {
	if t.closed || t.lost {
		return NewError(ErrConnectionLost, "transport is not connected")
	}
	own := map[int]bool{}
	for _, rec := range records {
		tag := rec.Tag()
		if !ValidTag(tag) {
			return NewRecordError(ErrInvalidArgument, fmt.Sprintf("illegal record tag %d", tag), -1)
		}
		if _, ok := t.queued[tag]; ok && !own[tag] {
			return NewRecordError(ErrIllegalState,
				fmt.Sprintf("last transaction was not committed (type %d is still in queue)", tag), tag)
		}
		own[tag] = true
	}

	if len(t.pending) == 0 {
		t.reply = nil
		t.decoded = nil
	}
	for _, rec := range records {
		if op, ok := rec.(*Operation); ok {
			op.ClientID = t.sessionID
			op.UserID = t.userID
		}
		tag := rec.Tag()
		i, ok := t.queued[tag]
		if !ok {
			i = len(t.pending)
			t.queued[tag] = i
			t.pending = append(t.pending, Block{Tag: tag})
		}
		t.pending[i].Records = append(t.pending[i].Records, Encode(t.dialect, rec))
	}
	return nil
}

// Reset discards the queued records.
func (t *Transport) Reset() {
	t.pending = nil
	t.queued = make(map[int]int)
}

// Commit sends the queued batch and blocks until the complete reply has
// arrived. On ErrTimeout the socket stays open; the late reply is drained
// by the next commit.
func (t *Transport) Commit(ctx context.Context) (err error) {
	if t.closed || t.lost {
		return NewError(ErrConnectionLost, "transport is not connected")
	}
	blocks := t.pending
	t.Reset()

	ctx, span := t.tracer.Start(ctx, "pal.commit",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("pal.tags", formatTags(blocks)),
			attribute.Int("pal.version", t.dialect.Version),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	t.io.SetContext(ctx)
	stop := context.AfterFunc(ctx, func() {
		t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if t.stale {
		if err := t.drain(); err != nil {
			return t.fail(err)
		}
	}

	sent, err := WriteBatch(t.io, t.io, blocks, t.dialect.Version, t.newHeader)
	if err != nil {
		return t.fail(err)
	}
	t.logger.Debug("%s", FormatPacketLog("send", blocks, sent))
	span.SetAttributes(attribute.Int("pal.bytes_sent", sent))

	received, pr, err := readBatch(t.io, t.io, t.dialect.Version)
	if pr.newHeader {
		t.newHeader = true
	}
	if pr.disconnected {
		t.lost = true
	}
	if err != nil {
		if IsTimeout(err) {
			t.stale = true
		}
		return t.fail(err)
	}
	t.logger.Debug("%s", FormatPacketLog("recv", received, pr.size))
	span.SetAttributes(attribute.Int("pal.bytes_received", pr.size))
	t.discardTrailing()

	t.reply = make(map[int][][]byte, len(received))
	for _, b := range received {
		t.reply[b.Tag] = b.Records
	}
	t.decoded = nil
	return nil
}

// drain discards the reply to an earlier timed out commit.
func (t *Transport) drain() error {
	blocks, size, err := ReadBatch(t.io, t.io, t.dialect.Version)
	if err != nil {
		return err
	}
	t.stale = false
	t.logger.Info("discarded late reply (%s)", FormatPacketLog("recv", blocks, size))
	t.discardTrailing()
	return nil
}

// discardTrailing drops bytes that arrived behind a complete reply. The
// server answers each commit with exactly one batch.
func (t *Transport) discardTrailing() {
	if n := t.io.discard(); n > 0 {
		t.logger.Error("discarded %d bytes after the reply", n)
	}
}

func (t *Transport) fail(err error) error {
	if IsConnectionLost(err) {
		t.lost = true
	}
	t.logger.Error("commit failed: %v", err)
	return err
}

// Retrieve returns the records of tag from the last reply, or nil when
// the reply has none.
func (t *Transport) Retrieve(tag int) ([]Record, error) {
	if !ValidTag(tag) {
		return nil, NewRecordError(ErrInvalidArgument, fmt.Sprintf("illegal record tag %d", tag), -1)
	}
	raw, ok := t.reply[tag]
	if !ok {
		return nil, nil
	}
	if recs, ok := t.decoded[tag]; ok {
		return recs, nil
	}
	recs := make([]Record, 0, len(raw))
	for _, data := range raw {
		rec, err := Decode(t.dialect, tag, data)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if t.decoded == nil {
		t.decoded = make(map[int][]Record)
	}
	t.decoded[tag] = recs
	return recs, nil
}

// Has reports whether the last reply contains records of tag.
func (t *Transport) Has(tag int) bool {
	_, ok := t.reply[tag]
	return ok
}

// Disconnect tells the server the session ends, where the protocol
// version supports it, and closes the socket. Calling it again is a no-op.
func (t *Transport) Disconnect() error {
	if t.closed {
		return nil
	}
	if !t.lost && t.dialect.Version >= VersionDisconnect {
		if _, err := t.io.Write(disconnectSignal); err != nil {
			t.logger.Error("send disconnect signal: %v", err)
		}
	}
	return t.Close()
}

// Close closes the socket without notifying the server.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.pending = nil
	t.reply = nil
	t.decoded = nil
	if err := t.conn.Close(); err != nil {
		return wrapError(ErrIO, "close connection", err)
	}
	return nil
}

func formatTags(blocks []Block) string {
	names := make([]string, 0, len(blocks))
	for _, b := range blocks {
		names = append(names, TagName(b.Tag))
	}
	return strings.Join(names, ",")
}
