package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/net/proxy"
	"golang.org/x/term"

	"github.com/drunlade/go-ndv/internal/catalogcache"
	"github.com/drunlade/go-ndv/internal/telemetry"
	"github.com/drunlade/go-ndv/ndv"
	"github.com/drunlade/go-ndv/pal"
)

// app holds the global flags and the pieces tests replace.
type app struct {
	profile    string
	configPath string
	host       string
	port       int
	user       string
	params     string
	library    string

	ssh         string
	sshKey      string
	sshInsecure bool
	socks5      string

	timeout      time.Duration
	logFile      string
	verbose      bool
	otlpEndpoint string
	cachePath    string
	dbid, fnr    int

	dialer   pal.Dialer
	password func(prompt string) (string, error)
	now      func() time.Time
}

func newApp() *app {
	return &app{password: promptPassword, now: time.Now}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ndv",
		Short: "Work with Natural libraries on a development server",
		Long: `ndv lists, downloads, uploads and runs Natural objects on a
Natural Development Server.

Connection settings come from a profile file, from flags, or both:

  profiles:
    dev:
      host: mainframe.example.com
      port: 8021
      user: DEVUSER
      ssh: jump@bastion.example.com:22

The password is read from NDV_PASSWORD or asked for on the terminal.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&a.profile, "profile", "", "connection profile to use")
	f.StringVar(&a.configPath, "config", defaultConfigPath(), "profile file")
	f.StringVar(&a.host, "host", "", "server host")
	f.IntVar(&a.port, "port", 0, "server port")
	f.StringVar(&a.user, "user", "", "Natural user id")
	f.StringVar(&a.params, "params", "", "Natural session parameters")
	f.StringVar(&a.ssh, "ssh", "", "tunnel through an SSH jump host (user@host:port)")
	f.StringVar(&a.sshKey, "ssh-key", "", "private key for the SSH jump host")
	f.BoolVar(&a.sshInsecure, "ssh-insecure", false, "do not verify the SSH host key")
	f.StringVar(&a.socks5, "socks5", "", "connect through a SOCKS5 proxy (host:port)")
	f.DurationVar(&a.timeout, "timeout", 0, "reply timeout (default 60s)")
	f.StringVar(&a.logFile, "log-file", "", "write a protocol log to this file")
	f.BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")
	f.StringVar(&a.otlpEndpoint, "otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"), "export traces to this OTLP/HTTP endpoint")
	f.StringVar(&a.cachePath, "cache-file", defaultCachePath(), "listing cache database")
	f.IntVar(&a.dbid, "dbid", 0, "database id of the system file (default: the FUSER file)")
	f.IntVar(&a.fnr, "fnr", 0, "file number of the system file")

	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.AddCommand(
		newInfoCmd(a),
		newLibsCmd(a),
		newObjectsCmd(a),
		newGetCmd(a),
		newPutCmd(a),
		newDeleteCmd(a),
		newWatchCmd(a),
		newExecCmd(a),
	)
	return root
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ndv", "profiles.yaml")
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ndv", "catalog.db")
}

// applyProfile fills the connection settings not given as flags from the
// selected profile.
func (a *app) applyProfile() error {
	if a.profile == "" {
		return nil
	}
	profiles, err := ndv.LoadProfiles(a.configPath)
	if err != nil {
		return err
	}
	p, ok := profiles[a.profile]
	if !ok {
		return fmt.Errorf("profile %q not found in %s", a.profile, a.configPath)
	}
	setString(&a.host, p.Host)
	setString(&a.user, p.User)
	setString(&a.params, p.SessionParameters)
	setString(&a.ssh, p.SSH)
	setString(&a.sshKey, p.SSHKey)
	setString(&a.socks5, p.SOCKS5)
	setString(&a.library, p.Library)
	if a.port == 0 {
		a.port = p.Port
	}
	if a.timeout == 0 {
		a.timeout = p.Timeout
	}
	return nil
}

func setString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func (a *app) server() string {
	return net.JoinHostPort(a.host, strconv.Itoa(a.port))
}

func (a *app) logger(stderr io.Writer) (pal.Logger, func(), error) {
	switch {
	case a.logFile != "":
		l, err := pal.NewFileLogger(a.logFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return l, func() { l.Close() }, nil
	case a.verbose:
		return pal.NewWriterLogger(stderr), func() {}, nil
	}
	return pal.NoopLogger{}, func() {}, nil
}

// buildDialer returns how the server is reached and a func releasing it.
func (a *app) buildDialer(ctx context.Context) (pal.Dialer, func(), error) {
	if a.dialer != nil {
		return a.dialer, func() {}, nil
	}
	switch {
	case a.ssh != "" && a.socks5 != "":
		return nil, nil, errors.New("--ssh and --socks5 cannot be combined")
	case a.ssh != "":
		d, err := a.dialSSH(ctx)
		if err != nil {
			return nil, nil, err
		}
		return d, func() { d.Close() }, nil
	case a.socks5 != "":
		d, err := pal.ProxyDialer(socksAddr(a.socks5))
		if err != nil {
			return nil, nil, err
		}
		return d, func() {}, nil
	}
	return pal.NetDialer(), func() {}, nil
}

// socksAddr splits "user:password@host:port" into the proxy address and
// its credentials.
func socksAddr(v string) (string, *proxy.Auth) {
	i := strings.LastIndex(v, "@")
	if i < 0 {
		return v, nil
	}
	user, pw, _ := strings.Cut(v[:i], ":")
	return v[i+1:], &proxy.Auth{User: user, Password: pw}
}

func (a *app) dialSSH(ctx context.Context) (*pal.SSHDialer, error) {
	user, addr, ok := strings.Cut(a.ssh, "@")
	if !ok {
		return nil, fmt.Errorf("--ssh must be user@host[:port], got %q", a.ssh)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	var auth ssh.AuthMethod
	if a.sshKey != "" {
		key, err := os.ReadFile(a.sshKey)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = ssh.PublicKeys(signer)
	} else {
		pw, err := a.password(fmt.Sprintf("SSH password for %s: ", a.ssh))
		if err != nil {
			return nil, err
		}
		auth = ssh.Password(pw)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if !a.sshInsecure {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		hostKey, err = knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	}
	return pal.DialSSH(ctx, addr, &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKey,
		Timeout:         30 * time.Second,
	})
}

func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to ask for the password: set NDV_PASSWORD")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

// withSession logs on, runs fn and closes the session again.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *ndv.Session) error) (err error) {
	ctx := cmd.Context()
	if err := a.applyProfile(); err != nil {
		return err
	}
	if a.host == "" || a.port == 0 || a.user == "" {
		return errors.New("host, port and user are required: use --profile or --host, --port and --user")
	}

	logger, closeLog, err := a.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	tp, err := telemetry.New(ctx, telemetry.Config{
		Endpoint:       a.otlpEndpoint,
		ServiceName:    "ndv",
		ServiceVersion: version,
		Attributes:     []attribute.KeyValue{attribute.String("ndv.server", a.server())},
	})
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.Background())

	dialer, closeDialer, err := a.buildDialer(ctx)
	if err != nil {
		return err
	}
	defer closeDialer()

	pw := os.Getenv("NDV_PASSWORD")
	if pw == "" {
		if pw, err = a.password(fmt.Sprintf("Password for %s@%s: ", a.user, a.host)); err != nil {
			return err
		}
	}

	cfg := ndv.DefaultConfig()
	if a.timeout > 0 {
		cfg.Timeout = a.timeout
	}
	s := ndv.NewSession(
		ndv.WithConfig(cfg),
		ndv.WithLogger(logger),
		ndv.WithDialer(dialer),
		ndv.WithTracerProvider(tp),
	)
	cc := ndv.ConnectConfig{
		Host:              a.host,
		Port:              a.port,
		UserID:            a.user,
		Password:          pw,
		SessionParameters: a.params,
	}
	if _, err := s.Connect(ctx, cc); err != nil {
		if !ndv.IsWarning(err) {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("Warning: ")+err.Error())
	}
	defer func() {
		if cerr := s.Close(context.Background(), 0); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, s)
}

// systemFile picks the system file given by --dbid/--fnr or the server's
// user system file.
func (a *app) systemFile(ctx context.Context, s *ndv.Session) (*ndv.SystemFile, error) {
	if a.dbid != 0 || a.fnr != 0 {
		return &ndv.SystemFile{DBID: a.dbid, FNR: a.fnr, Kind: pal.SysFileFUSER}, nil
	}
	files, err := s.SystemFiles(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if f.Kind == pal.SysFileFUSER {
			return f, nil
		}
	}
	if len(files) == 0 {
		return nil, errors.New("the server reports no system files")
	}
	return files[0], nil
}

// cacheLocation keys cached listings by the --dbid/--fnr selection, so
// --cached needs no server.
func (a *app) cacheLocation() catalogcache.Location {
	return catalogcache.Location{Server: a.server(), DBID: a.dbid, FNR: a.fnr}
}

func (a *app) openCache() (*catalogcache.Cache, error) {
	if a.cachePath == "" {
		return nil, errors.New("no cache file: use --cache-file")
	}
	if err := os.MkdirAll(filepath.Dir(a.cachePath), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return catalogcache.Open(a.cachePath)
}
