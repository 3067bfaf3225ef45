package pal

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/net/proxy"
)

// Dialer opens the socket to a development server.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// NetDialer returns a plain TCP dialer.
func NetDialer() Dialer {
	return &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
}

// ProxyDialer returns a dialer that connects through the SOCKS5 proxy at
// addr. auth may be nil.
func ProxyDialer(addr string, auth *proxy.Auth) (Dialer, error) {
	d, err := proxy.SOCKS5("tcp", addr, auth, &net.Dialer{Timeout: 30 * time.Second})
	if err != nil {
		return nil, wrapError(ErrInvalidArgument, "socks5 proxy "+addr, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, NewError(ErrInvalidArgument, "socks5 dialer does not support contexts")
	}
	return cd, nil
}

// SSHDialer tunnels connections through an SSH jump host.
type SSHDialer struct {
	client *ssh.Client
	owned  bool
}

// NewSSHDialer tunnels through an existing SSH client. Close does not
// close the client.
func NewSSHDialer(client *ssh.Client) *SSHDialer {
	return &SSHDialer{client: client}
}

// DialSSH connects to the jump host at addr and returns a dialer that
// tunnels through it.
func DialSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (*SSHDialer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, wrapError(ErrIO, "connect to ssh host "+addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, wrapError(ErrIO, "ssh handshake with "+addr, err)
	}
	return &SSHDialer{client: ssh.NewClient(c, chans, reqs), owned: true}, nil
}

// DialContext opens a forwarded connection to addr.
func (d *SSHDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := d.client.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("ssh tunnel to %s: %w", addr, err)
	}
	return newSSHConn(conn), nil
}

// Close closes the SSH client if the dialer opened it.
func (d *SSHDialer) Close() error {
	if d.owned {
		return d.client.Close()
	}
	return nil
}

// sshConn adds read deadlines to a forwarded channel, which has none of
// its own. A background goroutine pumps the channel.
type sshConn struct {
	net.Conn

	once  sync.Once
	reads chan []byte
	err   error
	buf   []byte

	mu       sync.Mutex
	deadline time.Time
	wake     chan struct{}
}

func newSSHConn(conn net.Conn) *sshConn {
	return &sshConn{
		Conn:  conn,
		reads: make(chan []byte, 4),
		wake:  make(chan struct{}, 1),
	}
}

func (c *sshConn) pump() {
	for {
		b := make([]byte, PacketSize)
		n, err := c.Conn.Read(b)
		if n > 0 {
			c.reads <- b[:n]
		}
		if err != nil {
			c.err = err
			close(c.reads)
			return
		}
	}
}

func (c *sshConn) Read(p []byte) (int, error) {
	c.once.Do(func() { go c.pump() })
	for len(c.buf) == 0 {
		c.mu.Lock()
		deadline := c.deadline
		c.mu.Unlock()

		var timer *time.Timer
		var expired <-chan time.Time
		if !deadline.IsZero() {
			wait := time.Until(deadline)
			if wait <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(wait)
			expired = timer.C
		}

		var timedOut, closed bool
		select {
		case b, ok := <-c.reads:
			c.buf = b
			closed = !ok
		case <-expired:
			timedOut = true
		case <-c.wake:
		}
		if timer != nil {
			timer.Stop()
		}
		switch {
		case closed:
			return 0, c.err
		case timedOut:
			return 0, os.ErrDeadlineExceeded
		}
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *sshConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *sshConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}
