package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drunlade/go-ndv/internal/ndvtest"
	"github.com/drunlade/go-ndv/ndv"
	"github.com/drunlade/go-ndv/pal"
)

var systemFiles = ndvtest.Reply(
	&pal.SystemFile{DBID: 10, FNR: 30, Kind: pal.SysFileFNAT},
	&pal.SystemFile{DBID: 10, FNR: 32, Kind: pal.SysFileFUSER},
)

// closed answers the close request every command ends with.
var closed = ndvtest.Reply()

type harness struct {
	srv   *ndvtest.Server
	cache string
}

func newHarness(t *testing.T) *harness {
	t.Setenv("NDV_PASSWORD", "SECRET")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	return &harness{
		srv:   ndvtest.NewServer(t),
		cache: filepath.Join(t.TempDir(), "catalog.db"),
	}
}

// run executes one ndv command line against the test server.
func (h *harness) run(args ...string) (stdout, stderr string, err error) {
	a := newApp()
	a.dialer = h.srv
	a.password = func(string) (string, error) { return "", nil }
	a.now = func() time.Time { return time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC) }

	cmd := newRootCmd(a)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--host", "ndv.test", "--port", "8011", "--user", "DEV", "--cache-file", h.cache}, args...))
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func objectListing(objs ...*pal.Object) []ndvtest.Handler {
	recs := make([]pal.Record, 0, len(objs)+1)
	for _, o := range objs {
		recs = append(recs, o)
	}
	recs = append(recs, &pal.Notify{Code: pal.NotifyEnd})
	return []ndvtest.Handler{
		ndvtest.Reply(&pal.Generic{Data: len(objs)}, &pal.Notify{Code: pal.NotifyMore}),
		ndvtest.Reply(recs...),
	}
}

func TestLibsListsAndCaches(t *testing.T) {
	h := newHarness(t)
	h.srv.Script(
		systemFiles,
		ndvtest.Reply(&pal.Generic{Data: 2}, &pal.Notify{Code: pal.NotifyMore}),
		ndvtest.Reply(&pal.Library{Name: "APPLIB"}, &pal.Library{Name: "SYSTEM"}, &pal.Notify{Code: pal.NotifyEnd}),
		closed,
	)
	out, _, err := h.run("libs")
	require.NoError(t, err)
	assert.Contains(t, out, "APPLIB")
	assert.Contains(t, out, "SYSTEM")
	assert.Equal(t, 0, h.srv.Pending())

	ids, err := h.srv.Requests()[1].Records(pal.TagLibIDSearchOrder)
	require.NoError(t, err)
	assert.Equal(t, 32, ids[0].(*pal.LibID).FNR, "the FUSER system file is listed")

	out, _, err = h.run("libs", "--cached", "APP*")
	require.NoError(t, err)
	assert.Contains(t, out, "APPLIB")
	assert.NotContains(t, out, "SYSTEM")
}

func TestObjectsCached(t *testing.T) {
	h := newHarness(t)
	h.srv.Script(systemFiles)
	h.srv.Script(objectListing(
		&pal.Object{Name: "PGM1", Kind: ndv.Source, NatType: ndv.TypeProgram.ID, User: "DEV", SourceSize: 42},
		&pal.Object{Name: "LDA1", Kind: ndv.SourceOrGP, NatType: ndv.TypeLDA.ID},
	)...)
	h.srv.Script(closed)

	out, _, err := h.run("objects", "applib")
	require.NoError(t, err)
	assert.Contains(t, out, "PGM1")
	assert.Contains(t, out, "Program")
	assert.Contains(t, out, "source+gp")

	out, stderr, err := h.run("objects", "APPLIB", "--cached", "--type", "NSL")
	require.NoError(t, err)
	assert.Contains(t, out, "LDA1")
	assert.NotContains(t, out, "PGM1")
	assert.Contains(t, stderr, "cached")

	_, _, err = h.run("objects", "OTHER", "--cached")
	assert.ErrorContains(t, err, "OTHER is not cached")
}

func TestFilteredListingIsNotCached(t *testing.T) {
	h := newHarness(t)
	h.srv.Script(systemFiles)
	h.srv.Script(objectListing(&pal.Object{Name: "PGM1", Kind: ndv.Source, NatType: ndv.TypeProgram.ID})...)
	h.srv.Script(closed)

	_, _, err := h.run("objects", "APPLIB", "PGM*")
	require.NoError(t, err)
	_, _, err = h.run("objects", "APPLIB", "--cached")
	assert.ErrorContains(t, err, "not cached")
}

func TestGetWritesFile(t *testing.T) {
	h := newHarness(t)
	h.srv.Script(systemFiles)
	h.srv.Script(objectListing(&pal.Object{Name: "PGM1", Kind: ndv.Source, NatType: ndv.TypeProgram.ID})...)
	h.srv.Script(
		ndvtest.Reply(),
		ndvtest.Reply(
			&pal.Notify{Code: pal.NotifyMore},
			&pal.Source{Type: pal.TagSourceUnicode, Line: "0010 WRITE 'A' "},
			&pal.Source{Type: pal.TagSourceUnicode, Line: "0020 END "},
			&pal.TimeStamp{Stamp: "202401021530", User: "DEV"},
		),
		ndvtest.Reply(&pal.Notify{Code: pal.NotifyEnd}),
		closed,
	)

	path := filepath.Join(t.TempDir(), "PGM1.NSP")
	_, stderr, err := h.run("get", "APPLIB", "pgm1", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "APPLIB.PGM1")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "WRITE 'A'\nEND\n", string(data))
}

func TestGetUnknownObject(t *testing.T) {
	h := newHarness(t)
	h.srv.Script(systemFiles)
	h.srv.Script(objectListing(&pal.Object{Name: "PGM10", Kind: ndv.Source, NatType: ndv.TypeProgram.ID})...)
	h.srv.Script(closed)

	_, _, err := h.run("get", "APPLIB", "PGM1")
	assert.ErrorContains(t, err, "object PGM1 not found in library APPLIB")
}

func TestPutUploadsSource(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "pgm1.NSP")
	require.NoError(t, os.WriteFile(path, []byte("WRITE 'A'\r\nEND\n"), 0o644))

	h.srv.Script(
		systemFiles,
		ndvtest.Reply(),
		ndvtest.Reply(&pal.Notify{Code: pal.NotifyReadyForUpload}),
		ndvtest.Reply(&pal.Notify{Code: pal.NotifyEnd}),
		closed,
	)
	out, _, err := h.run("put", "APPLIB", path)
	require.NoError(t, err)
	assert.Contains(t, out, "saved APPLIB.PGM1")

	reqs := h.srv.Requests()
	require.Len(t, reqs, 5)
	fids, err := reqs[2].Records(pal.TagFileID)
	require.NoError(t, err)
	assert.Equal(t, "PGM1", fids[0].(*pal.FileID).Object)
	assert.Equal(t, ndv.TypeProgram.ID, fids[0].(*pal.FileID).NatType)

	srcs, err := reqs[3].Records(pal.TagSourceUnicode)
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	assert.Equal(t, "0010 WRITE 'A' ", srcs[0].(*pal.Source).Line)
}

func TestPutNeedsType(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))
	h.srv.Script(systemFiles, closed)

	_, _, err := h.run("put", "APPLIB", path)
	assert.ErrorContains(t, err, "unknown object type")
}

func TestDeleteObject(t *testing.T) {
	h := newHarness(t)
	h.srv.Script(systemFiles)
	h.srv.Script(objectListing(&pal.Object{Name: "PGM1", Kind: ndv.SourceOrGP, NatType: ndv.TypeProgram.ID})...)
	h.srv.Script(ndvtest.Reply(), ndvtest.Reply(&pal.Notify{Code: pal.NotifyEnd}), closed)

	out, _, err := h.run("delete", "APPLIB", "PGM1")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted APPLIB.PGM1")

	fids, err := h.srv.Requests()[4].Records(pal.TagFileID)
	require.NoError(t, err)
	assert.Equal(t, ndv.SourceOrGP, fids[0].(*pal.FileID).Kind)
}

func TestInfo(t *testing.T) {
	h := newHarness(t)
	h.srv.Script(closed)

	out, _, err := h.run("info")
	require.NoError(t, err)
	assert.Contains(t, out, "Connected to ndv.test:8011")
	assert.Contains(t, out, "NDV version")
}

func TestExecLogsOnFirst(t *testing.T) {
	h := newHarness(t)
	h.srv.Script(
		ndvtest.Reply(&pal.LibID{Library: "APPLIB"}),
		ndvtest.Reply(),
		closed,
	)
	out, _, err := h.run("exec", "-l", "APPLIB", "BATCH1")
	require.NoError(t, err)
	assert.Contains(t, out, "BATCH1 finished")

	stacks, err := h.srv.Requests()[1].Records(pal.TagStack)
	require.NoError(t, err)
	assert.Equal(t, "BATCH1", stacks[0].(*pal.Stack).Command)
}

func TestMissingConnectionSettings(t *testing.T) {
	a := newApp()
	cmd := newRootCmd(a)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"info"})
	err := cmd.ExecuteContext(context.Background())
	assert.ErrorContains(t, err, "host, port and user are required")
}

func TestApplyProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`profiles:
  dev:
    host: mainframe.example.com
    port: 8021
    user: DEVUSER
    library: APPLIB
    timeout: 30s
`), 0o644))

	a := &app{profile: "dev", configPath: path, user: "OTHER"}
	require.NoError(t, a.applyProfile())
	assert.Equal(t, "mainframe.example.com", a.host)
	assert.Equal(t, 8021, a.port)
	assert.Equal(t, "OTHER", a.user, "flags win over the profile")
	assert.Equal(t, "APPLIB", a.library)
	assert.Equal(t, 30*time.Second, a.timeout)

	a = &app{profile: "prod", configPath: path}
	assert.ErrorContains(t, a.applyProfile(), `profile "prod" not found`)
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", ndv.TypeAll},
		{"NSP", ndv.TypeProgram.ID},
		{".nsn", ndv.TypeSubprogram.ID},
		{"program", ndv.TypeProgram.ID},
		{"Copycode", ndv.TypeCopycode.ID},
	}
	for _, tt := range tests {
		got, err := parseType(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := parseType("TXT")
	assert.Error(t, err)

	k, err := parseKind("GP")
	require.NoError(t, err)
	assert.Equal(t, ndv.GP, k)
	_, err = parseKind("binary")
	assert.Error(t, err)
}

func TestSocksAddr(t *testing.T) {
	addr, auth := socksAddr("proxy:1080")
	assert.Equal(t, "proxy:1080", addr)
	assert.Nil(t, auth)

	addr, auth = socksAddr("me:p@ss@proxy:1080")
	assert.Equal(t, "proxy:1080", addr)
	require.NotNil(t, auth)
	assert.Equal(t, "me", auth.User)
	assert.Equal(t, "p@ss", auth.Password)
}

func TestColumns(t *testing.T) {
	lines := columns([]string{"A", "BB", "CCC", "D"}, 10)
	assert.Equal(t, []string{"A    BB", "CCC  D"}, lines)
	assert.Len(t, columns([]string{"LONGNAME"}, 3), 1)
	assert.True(t, strings.HasPrefix(columns([]string{"X"}, 80)[0], "X"))
}
