package ndv

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/drunlade/go-ndv/pal"
)

// Layout of one error message on the server: line 0 is the short text,
// lines 1-3 the long text, lines 4-17 the explanation and lines 18-24 the
// action.
const (
	errorMessageLines = 25
	longTextEnd       = 4
	explanationEnd    = 18

	// maxMessageBlock bounds the lines of one message in a file.
	maxMessageBlock = 100
)

// Error message file markers
const (
	textSection        = "#TEXT:"
	explanationSection = "#EXPL:"
	actionSection      = "#ACTN:"
	sectionLead        = "#"
	commentLead        = ";"
)

var separatorLine = "#" + strings.Repeat("-", 79)

// Message is one message of an error message file.
type Message struct {
	Number      int
	Short       string
	Long        []string
	Explanation []string
	Action      []string
}

// MessageFile is the text form of the error messages of a library:
// a name line, the first and last message number, then one block per
// message.
type MessageFile struct {
	Name     string
	First    int
	Last     int
	Messages []Message
}

func invalidMessageFile(name string, line int) error {
	return invalidArgument(fmt.Sprintf("Error message file %s contains invalid format in line %d", name, line))
}

// ParseMessageFile parses the text form of an error message file.
// Errors name the 1-based line of the first malformed line.
func ParseMessageFile(name string, lines []string) (*MessageFile, error) {
	if len(lines) == 0 || len(lines[0]) > 8 {
		return nil, invalidMessageFile(name, 1)
	}
	f := &MessageFile{Name: lines[0]}
	var err error
	if len(lines) < 2 {
		return nil, invalidMessageFile(name, 2)
	}
	if f.First, err = strconv.Atoi(strings.TrimSpace(lines[1])); err != nil {
		return nil, invalidMessageFile(name, 2)
	}
	if len(lines) < 3 {
		return nil, invalidMessageFile(name, 3)
	}
	if f.Last, err = strconv.Atoi(strings.TrimSpace(lines[2])); err != nil || f.Last < f.First {
		return nil, invalidMessageFile(name, 3)
	}

	for i := 3; i < len(lines); {
		msg, ok := parseMessageHeader(lines[i])
		if !ok {
			return nil, invalidMessageFile(name, i+1)
		}
		i++
		section := -1
		for n := 1; i < len(lines) && n < maxMessageBlock && (lines[i] == "" || strings.HasPrefix(lines[i], sectionLead)); i++ {
			line := lines[i]
			if line == "" || line == separatorLine {
				continue
			}
			n++
			switch line {
			case textSection:
				section = 0
				continue
			case explanationSection:
				section = 1
				continue
			case actionSection:
				section = 2
				continue
			}
			text := line[1:]
			if len(line) > 3 {
				text = line[3:]
			}
			switch {
			case section == 0 && len(msg.Long) < longTextEnd-1:
				msg.Long = append(msg.Long, text)
			case section == 1 && len(msg.Explanation) < explanationEnd-longTextEnd:
				msg.Explanation = append(msg.Explanation, text)
			case section == 2 && len(msg.Action) < errorMessageLines-explanationEnd:
				msg.Action = append(msg.Action, text)
			}
		}
		if i < len(lines) && strings.HasPrefix(lines[i], commentLead) {
			return nil, invalidMessageFile(name, i+1)
		}
		f.Messages = append(f.Messages, msg)
		if msg.Number == f.Last {
			break
		}
	}
	return f, nil
}

// parseMessageHeader parses a "NNNNE short text" line.
func parseMessageHeader(line string) (Message, bool) {
	if len(line) <= 6 || line[4] != 'E' {
		return Message{}, false
	}
	for _, c := range line[:4] {
		if c < '0' || c > '9' {
			return Message{}, false
		}
	}
	n, _ := strconv.Atoi(line[:4])
	return Message{Number: n, Short: line[6:]}, true
}

// Lines returns the text form of f.
func (f *MessageFile) Lines() []string {
	out := []string{f.Name, fmt.Sprintf("%04d", f.First), fmt.Sprintf("%04d", f.Last)}
	for _, m := range f.Messages {
		out = append(out, fmt.Sprintf("%04dE %s", m.Number, m.Short))
		for _, sec := range []struct {
			head  string
			lines []string
		}{{textSection, m.Long}, {explanationSection, m.Explanation}, {actionSection, m.Action}} {
			out = append(out, sec.head)
			for _, l := range sec.lines {
				out = append(out, sectionLead+"  "+l)
			}
		}
		out = append(out, separatorLine)
	}
	return out
}

// serverLines lays a message out the way the server stores it. empty fills
// unused lines.
func (m *Message) serverLines(empty string) []string {
	lines := make([]string, errorMessageLines)
	for i := range lines {
		lines[i] = empty
	}
	lines[0] = m.Short
	copy(lines[1:longTextEnd], m.Long)
	copy(lines[longTextEnd:explanationEnd], m.Explanation)
	copy(lines[explanationEnd:], m.Action)
	return lines
}

// messageFromServer is the inverse of serverLines.
func messageFromServer(number int, lines []string, empty string) Message {
	section := func(from, to int) []string {
		if from >= len(lines) {
			return nil
		}
		to = min(to, len(lines))
		out := append([]string(nil), lines[from:to]...)
		for len(out) > 0 && (out[len(out)-1] == empty || strings.TrimSpace(out[len(out)-1]) == "") {
			out = out[:len(out)-1]
		}
		for i, l := range out {
			if l == empty {
				out[i] = ""
			}
		}
		return out
	}
	m := Message{Number: number}
	if len(lines) > 0 {
		m.Short = lines[0]
	}
	m.Long = section(1, longTextEnd)
	m.Explanation = section(longTextEnd, explanationEnd)
	m.Action = section(explanationEnd, errorMessageLines)
	return m
}

// emptyMessageLine is the filler of unused message lines.
func (s *Session) emptyMessageLine() string {
	if s.props.Platform.IsMainframe() {
		return "."
	}
	return ""
}

// downloadErrorMessages reads the messages of the reply. Each FileID
// record numbers the message whose 25 lines follow in order.
func (s *Session) downloadErrorMessages(fp *FileProperties, notify int) (*DownloadResult, error) {
	f := &MessageFile{Name: fp.Name}
	if len(f.Name) > 8 {
		f.Name = f.Name[:8]
	}
	if notify == pal.NotifyMore {
		ids, err := retrieve[*pal.FileID](s, pal.TagFileID)
		if err != nil {
			return nil, err
		}
		srcs, err := retrieve[*pal.Source](s, pal.TagSourceCodePage)
		if err != nil {
			return nil, err
		}
		empty := s.emptyMessageLine()
		for i, id := range ids {
			n, err := strconv.Atoi(strings.TrimSpace(id.NewObject))
			if err != nil {
				return nil, newError(KindProtocol, fmt.Sprintf("invalid error message number %q", id.NewObject))
			}
			from := min(i*errorMessageLines, len(srcs))
			to := min(from+errorMessageLines, len(srcs))
			lines := make([]string, 0, to-from)
			for _, src := range srcs[from:to] {
				lines = append(lines, src.Line)
			}
			f.Messages = append(f.Messages, messageFromServer(n, lines, empty))
		}
	}
	if len(f.Messages) > 0 {
		f.First = f.Messages[0].Number
		f.Last = f.Messages[len(f.Messages)-1].Number
	}
	return &DownloadResult{Lines: f.Lines(), LineIncrement: 1}, nil
}

// messageFileID returns the file id of an error message upload. Files of
// a library are named like "E01" and stored under the language number.
func messageFileID(fp *FileProperties, size int) *pal.FileID {
	fid := &pal.FileID{
		Kind:       ErrorMessage,
		NatType:    fp.Type,
		Object:     fp.Name,
		NewObject:  fp.Name,
		User:       fp.User,
		DBID:       fp.DBID,
		FNR:        fp.FNR,
		SourceSize: size,
	}
	if len(fp.Name) > 2 {
		fid.NewObject = fp.Name + ".MSG"
		fid.Object = strings.TrimPrefix(fp.Name[1:3], "0")
	}
	return fid
}

// uploadErrorMessages validates an error message file and sends it one
// message per commit. The last message is flagged with object 9999.
func (s *Session) uploadErrorMessages(ctx context.Context, sf *SystemFile, library string, fp *FileProperties, lines []string) (err error) {
	f, err := ParseMessageFile(fp.Name, lines)
	if err != nil {
		return err
	}
	ctx, end := s.start(ctx, "upload_error_messages", attribute.String("ndv.library", library), attribute.String("ndv.object", fp.Name))
	defer end(&err)

	size := fp.Size
	if size == 0 {
		size = sourceSize(lines)
	}
	fid := messageFileID(fp, size)
	if err := s.initiate(ctx, opUpload, sf, library, fp.BaseLibrary); err != nil {
		return err
	}
	xfer := s.beginTransfer(fp.Name, opUpload, len(f.Messages))
	notify, err := s.describe(ctx, fid)
	if err != nil {
		return err
	}
	if notify != pal.NotifyReadyForUpload {
		return nil
	}

	empty := s.emptyMessageLine()
	pre := stampRecords(fp)
	for i, m := range f.Messages {
		id := &pal.FileID{NatType: fid.NatType, Kind: fid.Kind, NewObject: fmt.Sprintf("%04d", m.Number), Object: fid.Object}
		if m.Number == f.Last || i == len(f.Messages)-1 {
			id.Object = "9999"
		}
		recs := make([]pal.Record, 0, len(pre)+1+errorMessageLines)
		recs = append(recs, pre...)
		recs = append(recs, id)
		for _, l := range m.serverLines(empty) {
			recs = append(recs, &pal.Source{Type: pal.TagSourceCodePage, Line: l})
		}
		pre = nil
		if err := s.send(ctx, recs...); err != nil {
			return err
		}
		xfer.add(1)
		if i < len(f.Messages)-1 {
			if err := s.resultError(); err != nil {
				return err
			}
		}
	}
	if err := s.finishUpload(ctx, fp); err != nil {
		return err
	}
	xfer.done(len(f.Messages))
	return nil
}
