// Package ndvtest provides a scripted development server for tests.
//
// The server answers the requests of a session logon itself and replies to
// every later request with the next scripted Reply:
//
//	srv := ndvtest.NewServer(t, ndvtest.OpenSystems())
//	srv.Script(ndvtest.Reply(&pal.Library{Name: "SYSTEM"}))
//	s := ndv.NewSession(ndv.WithDialer(srv))
package ndvtest

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/drunlade/go-ndv/pal"
)

// Handler builds the reply to one request.
type Handler func(req *Request) []pal.Record

// Reply returns a handler that always answers with recs.
func Reply(recs ...pal.Record) Handler {
	return func(*Request) []pal.Record { return recs }
}

// Request is one batch the client committed.
type Request struct {
	Blocks  []pal.Block
	dialect pal.Dialect
}

// Records decodes the records of tag. Undecodable records fail the test
// through the returned error.
func (r *Request) Records(tag int) ([]pal.Record, error) {
	for _, b := range r.Blocks {
		if b.Tag != tag {
			continue
		}
		out := make([]pal.Record, 0, len(b.Records))
		for _, data := range b.Records {
			rec, err := pal.Decode(r.dialect, tag, data)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	}
	return nil, nil
}

// Has reports whether the batch carries records of tag.
func (r *Request) Has(tag int) bool {
	for _, b := range r.Blocks {
		if b.Tag == tag {
			return true
		}
	}
	return false
}

// Tags lists the tags of the batch in order.
func (r *Request) Tags() []int {
	tags := make([]int, len(r.Blocks))
	for i, b := range r.Blocks {
		tags[i] = b.Tag
	}
	return tags
}

// Operation returns the operation record of the batch, or nil.
func (r *Request) Operation() *pal.Operation {
	recs, _ := r.Records(pal.TagOperation)
	if len(recs) == 0 {
		return nil
	}
	return recs[0].(*pal.Operation)
}

// Notify returns the notify code of the batch, or -1.
func (r *Request) Notify() int {
	recs, _ := r.Records(pal.TagNotify)
	if len(recs) == 0 {
		return -1
	}
	return recs[0].(*pal.Notify).Code
}

// Option configures a Server.
type Option func(*Server)

// Mainframe makes the server a mainframe server.
func Mainframe() Option {
	return func(s *Server) {
		s.Environ.OpSys = "MVS/ESA"
		s.Environ.StartupCommands = "SYSTEM"
	}
}

// OpenSystems makes the server a UNIX server.
func OpenSystems() Option {
	return func(s *Server) {
		s.Environ.OpSys = "UNIX"
		s.Environ.StartupCommands = "LOGON SYSTEM;"
	}
}

// WithEnviron replaces the environment record of the logon reply.
func WithEnviron(env pal.Environ) Option {
	return func(s *Server) {
		s.Environ = env
	}
}

// WithLogon adds records to the logon reply, for instance a warning
// result.
func WithLogon(recs ...pal.Record) Option {
	return func(s *Server) {
		s.logon = append(s.logon, recs...)
	}
}

// WithNatParms sets the session parameters the server delivers.
func WithNatParms(parms ...*pal.NatParm) Option {
	return func(s *Server) {
		s.natParms = parms
	}
}

// WithCodePages sets the code pages the server knows.
func WithCodePages(cps ...string) Option {
	return func(s *Server) {
		s.codePages = cps
	}
}

// Server is a scripted development server. It is a pal.Dialer; every dial
// opens a new connection to it.
type Server struct {
	Environ pal.Environ

	t         testing.TB
	logon     []pal.Record
	natParms  []*pal.NatParm
	codePages []string

	mu       sync.Mutex
	script   []Handler
	requests []*Request
	conns    []net.Conn
	wg       sync.WaitGroup
}

// NewServer creates a server and closes its connections when the test
// ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		Environ: pal.Environ{
			NaturalVersion: 9120,
			PalVersion:     pal.ClientPalVersion,
			OpSys:          "UNIX",
			SessionID:      "S0000001",
			NdvVersion:     9120000,
			Flags:          pal.EnvironWebIO,
		},
		t:         t,
		codePages: []string{"UTF-8", "IBM01140", "ISO-8859-1"},
	}
	for _, opt := range opts {
		opt(s)
	}
	t.Cleanup(s.Close)
	return s
}

// Script queues handlers for the requests after logon.
func (s *Server) Script(handlers ...Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, handlers...)
}

// Pending returns the number of handlers not yet used.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.script)
}

// Requests returns the batches received after logon.
func (s *Server) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Request(nil), s.requests...)
}

// Last returns the last batch received after logon.
func (s *Server) Last() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

// Dialect is the record dialect of a logged on connection.
func (s *Server) Dialect() pal.Dialect {
	return pal.Dialect{Mainframe: s.mainframe(), Version: s.Environ.PalVersion}
}

func (s *Server) mainframe() bool {
	switch s.Environ.OpSys {
	case "UNIX", "PC", "VMS":
		return false
	}
	return true
}

// DialContext connects a client to the server.
func (s *Server) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	s.mu.Lock()
	s.conns = append(s.conns, client, server)
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve(server)
	}()
	return client, nil
}

// Close closes all connections and waits for them to finish.
func (s *Server) Close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
}

func (s *Server) serve(conn net.Conn) {
	version := 0
	init := true
	for {
		blocks, _, err := pal.ReadBatch(conn, conn, version)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !pal.IsConnectionLost(err) {
				s.t.Logf("ndvtest: read batch: %v", err)
			}
			return
		}
		req := &Request{Blocks: blocks, dialect: s.Dialect()}
		if version == 0 {
			req.dialect = pal.Dialect{}
		}

		var reply []pal.Record
		op := req.Operation()
		switch {
		case init && op != nil && op.Code == 18:
			env := s.Environ
			reply = append([]pal.Record{&env}, s.logon...)
		case init && op != nil && op.Code == 10:
			for _, p := range s.natParms {
				reply = append(reply, p)
			}
		case init && op != nil && op.Code == 57:
		case init && op != nil && op.Code == 71:
			for _, cp := range s.codePages {
				reply = append(reply, &pal.CP{CodePage: cp})
			}
			init = false
		case init && op != nil && op.Code == 60:
			init = false
		default:
			init = false
			reply = s.next(req)
		}

		d := s.Dialect()
		if version == 0 {
			d = pal.Dialect{}
		}
		if _, err := pal.WriteBatch(conn, conn, encode(d, reply), version, false); err != nil {
			s.t.Logf("ndvtest: write batch: %v", err)
			return
		}
		if op != nil && (op.Code == 18 || op.Code == 60) {
			version = s.Environ.PalVersion
		}
	}
}

func (s *Server) next(req *Request) []pal.Record {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	if len(s.script) == 0 {
		s.mu.Unlock()
		s.t.Errorf("ndvtest: unexpected request with tags %v", req.Tags())
		return []pal.Record{&pal.Result{Natural: 9999}}
	}
	h := s.script[0]
	s.script = s.script[1:]
	s.mu.Unlock()
	return h(req)
}

func encode(d pal.Dialect, recs []pal.Record) []pal.Block {
	var blocks []pal.Block
	index := map[int]int{}
	for _, rec := range recs {
		data := pal.Encode(d, rec)
		i, ok := index[rec.Tag()]
		if !ok {
			i = len(blocks)
			index[rec.Tag()] = i
			blocks = append(blocks, pal.Block{Tag: rec.Tag()})
		}
		blocks[i].Records = append(blocks[i].Records, data)
	}
	return blocks
}
