package ndv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drunlade/go-ndv/internal/ndvtest"
	"github.com/drunlade/go-ndv/pal"
)

var messageFileLines = []string{
	"E01",
	"0001",
	"0002",
	"0001E First message",
	"#TEXT:",
	"#  long one",
	"#EXPL:",
	"#  explains",
	"#ACTN:",
	"#  do it",
	separatorLine,
	"0002E Second",
	"#TEXT:",
	"#EXPL:",
	"#ACTN:",
	separatorLine,
}

func TestParseMessageFile(t *testing.T) {
	f, err := ParseMessageFile("E01", messageFileLines)
	require.NoError(t, err)
	assert.Equal(t, "E01", f.Name)
	assert.Equal(t, 1, f.First)
	assert.Equal(t, 2, f.Last)
	require.Len(t, f.Messages, 2)
	assert.Equal(t, Message{
		Number:      1,
		Short:       "First message",
		Long:        []string{"long one"},
		Explanation: []string{"explains"},
		Action:      []string{"do it"},
	}, f.Messages[0])
	assert.Equal(t, "Second", f.Messages[1].Short)
	assert.Empty(t, f.Messages[1].Long)

	assert.Equal(t, messageFileLines, f.Lines())
}

func TestParseMessageFileStopsAtLast(t *testing.T) {
	lines := append([]string{"E01", "0001", "0001"}, messageFileLines[3:]...)
	f, err := ParseMessageFile("E01", lines)
	require.NoError(t, err)
	assert.Len(t, f.Messages, 1)
}

func TestParseMessageFileInvalid(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		line  string
	}{
		{"long name", []string{"TOOLONGNAME", "0001", "0002"}, "line 1"},
		{"missing first", []string{"E01"}, "line 2"},
		{"bad first", []string{"E01", "x", "0002"}, "line 2"},
		{"last before first", []string{"E01", "0005", "0002"}, "line 3"},
		{"bad header", []string{"E01", "0001", "0002", "0001X text"}, "line 4"},
		{"comment after block", []string{"E01", "0001", "0002", "0001E text", "#TEXT:", "; note"}, "line 6"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessageFile("E01.txt", tt.lines)
			require.Error(t, err)
			assert.True(t, IsKind(err, KindInvalidArgument))
			assert.Contains(t, err.Error(), "Error message file E01.txt contains invalid format in "+tt.line)
		})
	}
}

func TestMessageServerLayout(t *testing.T) {
	m := Message{
		Number:      5,
		Short:       "Short",
		Long:        []string{"L1"},
		Explanation: []string{"E1", "", "E3"},
		Action:      []string{"A1"},
	}
	lines := m.serverLines(".")
	require.Len(t, lines, errorMessageLines)
	assert.Equal(t, "Short", lines[0])
	assert.Equal(t, "L1", lines[1])
	assert.Equal(t, ".", lines[2])
	assert.Equal(t, "E1", lines[longTextEnd])
	assert.Equal(t, "A1", lines[explanationEnd])

	assert.Equal(t, m, messageFromServer(5, lines, "."))
}

func TestMessageFileID(t *testing.T) {
	fid := messageFileID(&FileProperties{Name: "E01", Type: TypeErrMsg}, 100)
	assert.Equal(t, "E01.MSG", fid.NewObject)
	assert.Equal(t, "1", fid.Object)
	assert.Equal(t, ErrorMessage, fid.Kind)
	assert.Equal(t, 100, fid.SourceSize)
}

func TestDownloadErrorMessages(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	reply := []pal.Record{&pal.Notify{Code: pal.NotifyMore}, &pal.FileID{NewObject: "0001"}}
	m := Message{Short: "First message", Long: []string{"long one"}}
	for _, l := range m.serverLines("") {
		reply = append(reply, &pal.Source{Type: pal.TagSourceCodePage, Line: l})
	}
	srv.Script(
		ndvtest.Reply(),
		ndvtest.Reply(reply...),
		ndvtest.Reply(&pal.Notify{Code: pal.NotifyEnd}),
	)
	res, err := s.DownloadSource(context.Background(), testSystemFile, "LIB",
		&FileProperties{Name: "E01", Type: TypeErrMsg}, DownloadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"E01", "0001", "0001",
		"0001E First message",
		"#TEXT:", "#  long one",
		"#EXPL:",
		"#ACTN:",
		separatorLine,
	}, res.Lines)
	assert.Equal(t, 1, res.LineIncrement)

	fids := records[*pal.FileID](t, srv.Requests()[1], pal.TagFileID)
	assert.Equal(t, 0, fids[0].Kind)
}

func TestUploadErrorMessages(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	srv.Script(
		ndvtest.Reply(),
		ndvtest.Reply(&pal.Notify{Code: pal.NotifyReadyForUpload}),
		ndvtest.Reply(),
		ndvtest.Reply(&pal.Notify{Code: pal.NotifyEnd}),
	)
	err := s.UploadSource(context.Background(), testSystemFile, "LIB",
		&FileProperties{Name: "E01", Kind: Source, Type: TypeErrMsg}, UploadOptions{}, messageFileLines)
	require.NoError(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 4)
	described := records[*pal.FileID](t, reqs[1], pal.TagFileID)
	assert.Equal(t, "E01.MSG", described[0].NewObject)

	first := records[*pal.FileID](t, reqs[2], pal.TagFileID)
	require.Len(t, first, 1)
	assert.Equal(t, "0001", first[0].NewObject)
	assert.Equal(t, "1", first[0].Object)
	srcs := records[*pal.Source](t, reqs[2], pal.TagSourceCodePage)
	require.Len(t, srcs, errorMessageLines)
	assert.Equal(t, "First message", srcs[0].Line)
	assert.Equal(t, "long one", srcs[1].Line)

	last := records[*pal.FileID](t, reqs[3], pal.TagFileID)
	assert.Equal(t, "0002", last[0].NewObject)
	assert.Equal(t, "9999", last[0].Object)
}

func TestUploadErrorMessagesRejectsInvalidFile(t *testing.T) {
	srv := ndvtest.NewServer(t)
	s := connect(t, srv)

	err := s.UploadSource(context.Background(), testSystemFile, "LIB",
		&FileProperties{Name: "E01", Kind: Source, Type: TypeErrMsg}, UploadOptions{}, []string{"E01", "x"})
	assert.True(t, IsKind(err, KindInvalidArgument))
	assert.Empty(t, srv.Requests())
}
