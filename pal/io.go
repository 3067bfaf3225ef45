package pal

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// ReaderWithTimeout is an interface for reading with timeout support.
// It extends io.Reader with timeout capabilities.
type ReaderWithTimeout interface {
	io.Reader
	SetReadDeadline(time.Time) error
}

// TimeoutHandler is asked whether to keep waiting each time a read
// deadline expires. Returning false aborts the wait with ErrTimeout.
type TimeoutHandler func() bool

// palIO provides buffered packet I/O with read deadlines. A fresh deadline
// is armed before every socket read, so a slow but steady reply never
// times out.
type palIO struct {
	reader  ReaderWithTimeout
	writer  io.Writer
	rbuf    []byte
	rpos    int
	rleft   int
	timeout time.Duration
	handler TimeoutHandler
	ctx     context.Context
}

func newPalIO(reader ReaderWithTimeout, writer io.Writer, timeout time.Duration) *palIO {
	return &palIO{
		reader:  reader,
		writer:  writer,
		rbuf:    make([]byte, PacketSize),
		timeout: timeout,
		ctx:     context.Background(),
	}
}

// SetContext sets the context for cancellation.
func (p *palIO) SetContext(ctx context.Context) {
	p.ctx = ctx
}

func (p *palIO) fill() error {
	for {
		if p.ctx != nil {
			select {
			case <-p.ctx.Done():
				return p.ctx.Err()
			default:
			}
		}

		deadline := time.Time{}
		if p.timeout > 0 {
			deadline = time.Now().Add(p.timeout)
		}
		if err := p.reader.SetReadDeadline(deadline); err != nil {
			return err
		}

		n, err := p.reader.Read(p.rbuf)
		if n > 0 {
			p.rpos = 0
			p.rleft = n
			return nil
		}
		if err == nil {
			continue
		}
		if isDeadline(err) {
			if p.ctx != nil && p.ctx.Err() != nil {
				return p.ctx.Err()
			}
			if p.handler != nil && p.handler() {
				continue
			}
			return wrapError(ErrTimeout, "timeout occurred while waiting for server reply", err)
		}
		return err
	}
}

// Read fills buf completely.
func (p *palIO) Read(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		if p.rleft == 0 {
			if err := p.fill(); err != nil {
				return total, err
			}
		}
		n := copy(buf[total:], p.rbuf[p.rpos:p.rpos+p.rleft])
		p.rpos += n
		p.rleft -= n
		total += n
	}
	return total, nil
}

func (p *palIO) Write(buf []byte) (int, error) {
	return p.writer.Write(buf)
}

// discard drops unread input and returns how many bytes were dropped.
func (p *palIO) discard() int {
	n := p.rleft
	p.rleft = 0
	p.rpos = 0
	return n
}

func isDeadline(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
