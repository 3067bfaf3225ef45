package ndv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/encoding"

	"github.com/drunlade/go-ndv/pal"
	"github.com/drunlade/go-ndv/renumber"
)

// DownloadOptions tune DownloadSource.
type DownloadOptions struct {
	// KeepLineNumbers returns the lines with their server line numbers.
	KeepLineNumbers bool

	// DeleteOnTarget removes the object from the server after the download.
	DeleteOnTarget bool
}

// DownloadResult is a downloaded source.
type DownloadResult struct {
	Lines []string

	// LineIncrement is the step between the server's line numbers.
	LineIncrement int
}

// UploadOptions tune UploadSource.
type UploadOptions struct {
	// Unchanged sends the lines as they are, without adding line numbers.
	Unchanged bool
}

// transferLibrary returns the library of a file operation. DDMs of the
// FDDM system file live in SYSTEM on open systems and in no library on
// mainframes.
func (s *Session) transferLibrary(sf *SystemFile, library string) string {
	if sf.Kind == pal.SysFileFDDM {
		if s.props.Platform.IsOpenSystems() {
			return "SYSTEM"
		}
		return ""
	}
	return library
}

// initiate opens a file operation on the server.
func (s *Session) initiate(ctx context.Context, op int, sf *SystemFile, library, base string) error {
	recs := []pal.Record{&pal.Operation{Code: op}, libID(sf, library, pal.TagLibID)}
	if op == opDelete && s.props.Platform.IsMainframe() {
		recs = append(recs, libID(sf, library, pal.TagLibID))
	}
	if base != "" {
		recs = append(recs, libID(sf, base, pal.TagLibIDSearchOrder))
	}
	return s.call(ctx, recs...)
}

// describe sends the description of the transferred object and returns
// the notify code of the reply.
func (s *Session) describe(ctx context.Context, fid *pal.FileID, pre ...pal.Record) (int, error) {
	if err := s.send(ctx, append(pre, fid)...); err != nil {
		return 0, err
	}
	return s.replyNotify()
}

// replyNotify returns the notify code of the last reply together with its
// result. A reply without notify and without error is a protocol failure.
func (s *Session) replyNotify() (int, error) {
	n, err := first[*pal.Notify](s, pal.TagNotify)
	if err != nil {
		return 0, err
	}
	resErr := s.resultError()
	if n == nil {
		if resErr == nil {
			resErr = newError(KindProtocol, "server did not answer the file operation")
		}
		return 0, resErr
	}
	return n.Code, resErr
}

// abortTransfer closes the file operation on the server.
func (s *Session) abortTransfer(ctx context.Context, deleteOnTarget bool) error {
	code := pal.NotifyTerminate
	if deleteOnTarget {
		code = pal.NotifyAbortDelete
	}
	if err := s.send(ctx, &pal.Notify{Code: code}); err != nil {
		return err
	}
	if n, _ := first[*pal.Notify](s, pal.TagNotify); n == nil {
		if err := s.resultError(); err != nil {
			return err
		}
		return newError(KindProtocol, "server did not confirm the end of the file operation")
	}
	return nil
}

func stampRecords(fp *FileProperties) []pal.Record {
	if fp.TimeStamp == nil {
		return nil
	}
	return []pal.Record{fp.TimeStamp.record()}
}

// updateStamp copies the server's time stamp into fp. A reply without a
// stamp yields the empty stamp.
func (s *Session) updateStamp(fp *FileProperties) {
	if fp.TimeStamp == nil {
		return
	}
	rec, _ := first[*pal.TimeStamp](s, pal.TagTimeStamp)
	fp.TimeStamp.CopyFrom(timeStampFromRecord(rec))
}

// sourceTag returns the source record variant the server understands.
func (s *Session) sourceTag() int {
	major := s.props.NdvMajorVersion()
	if s.props.Platform.IsMainframe() {
		switch {
		case s.props.UnicodeSourcePossible:
			return pal.TagSourceUnicode
		case major >= 224:
			return pal.TagSourceCP
		default:
			return pal.TagSourceCodePage
		}
	}
	if major >= 220 {
		return pal.TagSourceUnicode
	}
	return pal.TagSourceCodePage
}

func (s *Session) sourceCodePage(fp *FileProperties) string {
	if fp != nil && strings.TrimSpace(fp.CodePage) != "" {
		return strings.TrimSpace(fp.CodePage)
	}
	return s.props.DefaultCodePage
}

func isIBM420(cp string) bool { return strings.TrimSpace(cp) == "IBM420" }

func (s *Session) shaping(cp string) bool { return s.shaper != nil && isIBM420(cp) }

// labelFormat turns a caller label format into one that ends in a period.
func labelFormat(f string) string {
	if strings.Contains(f, "{count}") {
		return f + "."
	}
	return f + "{count}."
}

// unmappable returns the 1-based column of the first rune of line enc
// cannot represent.
func unmappable(enc encoding.Encoding, line string) (int, bool) {
	if enc == nil {
		return 0, false
	}
	e := enc.NewEncoder()
	col := 0
	for _, r := range line {
		col++
		if _, err := e.Bytes([]byte(string(r))); err != nil {
			return col, true
		}
	}
	return 0, false
}

// sourceRecords packs lines into source records. Unless unchanged is set
// the lines get line numbers first.
func (s *Session) sourceRecords(lines []string, fp *FileProperties, unchanged bool, object, library string, sf *SystemFile) ([]pal.Record, error) {
	cp := s.sourceCodePage(fp)
	if s.shaping(cp) {
		shaped := make([]string, len(lines))
		for i, l := range lines {
			shaped[i] = s.shaper.ToVisual(l)
		}
		lines = shaped
	}

	openSystems := s.props.Platform.IsOpenSystems()
	if unchanged {
		if openSystems {
			padded := make([]string, len(lines))
			for i, l := range lines {
				padded[i] = l + " "
			}
			lines = padded
		}
	} else {
		prefix := s.internalLabelPrefix()
		if strings.TrimSpace(fp.LabelPrefix) != "" {
			prefix = fp.LabelPrefix
		}
		if strings.TrimSpace(prefix) == "" {
			prefix = ""
		}
		numbered, err := renumber.AddLineNumbers(lines, renumber.AddOptions{
			Step:        fp.LineIncrement,
			LabelPrefix: prefix,
			UpdateRefs:  hasLineNumberReferences(fp.Type),
			OpenSystems: openSystems,
			RenConst:    s.renumberConstants(),
		})
		if err != nil {
			return nil, &Error{Kind: KindInvalidArgument, Severity: SeverityError, ShortText: "source cannot be numbered", Err: err}
		}
		lines = numbered
	}

	tag := s.sourceTag()
	var enc encoding.Encoding
	switch tag {
	case pal.TagSourceCodePage:
		enc = s.tr.Dialect().CodePage
	case pal.TagSourceCP:
		var err error
		if enc, err = LookupCodePage(cp); err != nil {
			return nil, err
		}
	}
	recs := make([]pal.Record, 0, len(lines))
	for i, l := range lines {
		if col, bad := unmappable(enc, l); bad {
			return nil, s.unmappableError(i+1, col, l, fp.Type, object, library, sf)
		}
		src := &pal.Source{Type: tag, Line: l}
		if tag == pal.TagSourceCP {
			src.Data, _ = encodeStrict(enc, l)
		}
		recs = append(recs, src)
	}
	return recs, nil
}

func (s *Session) unmappableError(row, col int, line string, natType int, object, library string, sf *SystemFile) *CompileError {
	r := []rune(line)[col-1]
	return &CompileError{
		Err: &Error{
			Kind:      KindCompile,
			Number:    resultUnmappable,
			Severity:  SeverityError,
			ShortText: fmt.Sprintf("Conversion error in line %d: character %q cannot be converted", row, r),
		},
		Row:     row,
		Column:  col,
		NatType: natType,
		Object:  object,
		Library: library,
		DBID:    sf.DBID,
		FNR:     sf.FNR,
	}
}

// sourceLines reads the source records of the last reply.
func (s *Session) sourceLines() ([]string, error) {
	for _, tag := range []int{pal.TagSourceUnicode, pal.TagSourceCodePage, pal.TagSourceCP} {
		recs, err := retrieve[*pal.Source](s, tag)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			continue
		}
		var enc encoding.Encoding
		if tag == pal.TagSourceCP {
			cp := s.props.DefaultCodePage
			if rec, _ := first[*pal.CP](s, pal.TagCP); rec != nil && strings.TrimSpace(rec.CodePage) != "" {
				cp = strings.TrimSpace(rec.CodePage)
			}
			if enc, err = LookupCodePage(cp); err != nil {
				return nil, err
			}
		}
		lines := make([]string, len(recs))
		for i, r := range recs {
			if tag != pal.TagSourceCP {
				lines[i] = r.Line
				continue
			}
			line, err := decode(enc, r.Data)
			if err != nil {
				return nil, &Error{
					Kind:      KindRuntime,
					Number:    resultUnmappable,
					Severity:  SeverityError,
					ShortText: fmt.Sprintf("Conversion error in line %d: %v", i+1, err),
					Err:       err,
				}
			}
			lines[i] = line
		}
		return lines, nil
	}
	return []string{}, nil
}

// downloadedSource turns raw source lines into a download result.
func (s *Session) downloadedSource(lines []string, strip, refs, shaping bool) (*DownloadResult, error) {
	openSystems := s.props.Platform.IsOpenSystems()
	increment, firstNumber := 0, 0
	for i, l := range lines {
		if shaping && l != "" {
			l = s.shaper.ToLogical(l)
		}
		if strip && openSystems && len(l) > 1 {
			l = l[:len(l)-1]
		}
		lines[i] = l
		if increment != 0 {
			continue
		}
		if len(l) < 4 {
			continue
		}
		n, err := strconv.Atoi(l[:4])
		switch {
		case err != nil && strip:
			increment = 1
		case err != nil:
			return nil, &Error{Kind: KindProtocol, Severity: SeverityError, ShortText: "illegal Natural source", Err: renumber.ErrInvalidSource}
		case firstNumber == 0:
			firstNumber = n
		default:
			increment = n - firstNumber
		}
	}
	if increment <= 0 {
		increment = 1
	}
	if !strip {
		return &DownloadResult{Lines: lines, LineIncrement: increment}, nil
	}
	opts := renumber.RemoveOptions{UpdateRefs: refs, RenConst: s.renumberConstants(), PrefixLength: renumber.PrefixLength}
	if s.config.LabelFormat != "" {
		opts.Labels = &renumber.Labels{Format: labelFormat(s.config.LabelFormat), NewLine: s.config.LabelsOnOwnLine}
	}
	return &DownloadResult{Lines: renumber.RemoveLineNumbers(lines, opts), LineIncrement: increment}, nil
}

func (s *Session) requireFile(sf *SystemFile, library string, fp *FileProperties) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	switch {
	case sf == nil:
		return invalidArgument("system file must not be nil")
	case fp == nil:
		return invalidArgument("file properties must not be nil")
	case fp.Name == "":
		return invalidArgument("object name must not be empty")
	case library == "" && sf.Kind != pal.SysFileFDDM && fp.Type != TypeDDM.ID:
		return invalidArgument("library must not be empty")
	}
	return nil
}

// DownloadSource reads the source of an object. The server's time stamp
// is stored in fp.TimeStamp, also when the download fails.
func (s *Session) DownloadSource(ctx context.Context, sf *SystemFile, library string, fp *FileProperties, opts DownloadOptions) (res *DownloadResult, err error) {
	if err := s.requireFile(sf, library, fp); err != nil {
		return nil, err
	}
	library = s.transferLibrary(sf, library)
	ctx, end := s.start(ctx, "download_source", attribute.String("ndv.library", library), attribute.String("ndv.object", fp.Name))
	defer end(&err)

	fid := &pal.FileID{Object: fp.Name, NewObject: fp.LongName, Kind: Source, NatType: fp.Type, Structured: fp.Structured}
	if fp.Type == TypeErrMsg {
		fid.Kind = 0
	}
	if sf.Kind == pal.SysFileFDDM {
		fid.Kind, fid.NatType = Source, TypeDDM.ID
	}

	op := opDownload
	if opts.DeleteOnTarget {
		op = opDownloadDelete
	}
	if err := s.initiate(ctx, op, sf, library, fp.BaseLibrary); err != nil {
		return nil, err
	}
	xfer := s.beginTransfer(fp.Name, op, 0)

	notify, err := s.describe(ctx, fid, stampRecords(fp)...)
	s.updateStamp(fp)
	if err != nil {
		return nil, err
	}

	switch {
	case fid.NatType == TypeErrMsg:
		res, err = s.downloadErrorMessages(fp, notify)
	case notify == pal.NotifyMore:
		cp := s.sourceCodePage(fp)
		var lines []string
		if lines, err = s.sourceLines(); err == nil {
			res, err = s.downloadedSource(lines, !opts.KeepLineNumbers, hasLineNumberReferences(fid.NatType), s.shaping(cp))
		}
	default:
		res = &DownloadResult{Lines: []string{}}
	}
	if abortErr := s.abortTransfer(ctx, opts.DeleteOnTarget); err == nil {
		err = abortErr
	}
	if err != nil {
		return nil, err
	}
	xfer.done(len(res.Lines))
	return res, nil
}

// sourceSize is the size servers expect for lines without a given size.
func sourceSize(lines []string) int {
	n := 0
	for _, l := range lines {
		n += len(l) + 4
	}
	return n
}

// UploadSource saves lines as the source of an object. fp.Kind must be
// Source. Error message files (TypeErrMsg) are parsed and sent message by
// message. The server's time stamp is stored in fp.TimeStamp, also when
// the upload fails.
func (s *Session) UploadSource(ctx context.Context, sf *SystemFile, library string, fp *FileProperties, opts UploadOptions, lines []string) (err error) {
	if err := s.requireFile(sf, library, fp); err != nil {
		return err
	}
	if len(lines) == 0 {
		return invalidArgument("lines must not be empty")
	}
	if fp.Kind != Source {
		return invalidArgument("the file properties kind must be Source")
	}
	if fp.Type == TypeErrMsg {
		return s.uploadErrorMessages(ctx, sf, library, fp, lines)
	}
	library = s.transferLibrary(sf, library)
	ctx, end := s.start(ctx, "upload_source", attribute.String("ndv.library", library), attribute.String("ndv.object", fp.Name))
	defer end(&err)

	fid := &pal.FileID{
		Object:     fp.Name,
		Kind:       fp.Kind,
		NatType:    fp.Type,
		Structured: fp.Structured,
		User:       fp.User,
		DBID:       fp.DBID,
		FNR:        fp.FNR,
		SourceSize: fp.Size,
	}
	if fp.Type == TypeDDM.ID {
		fid.Object, fid.NewObject, fid.Structured = fp.LongName, fp.Name, true
	}
	if fid.SourceSize == 0 {
		fid.SourceSize = sourceSize(lines)
	}
	if fp.OldDataArea {
		fid.Options = pal.FileOptionOldDataArea
	}

	if err := s.initiate(ctx, opUpload, sf, library, fp.BaseLibrary); err != nil {
		return err
	}
	xfer := s.beginTransfer(fp.Name, opUpload, len(lines))
	notify, err := s.describe(ctx, fid)
	if err != nil {
		return err
	}
	if notify != pal.NotifyReadyForUpload {
		return nil
	}

	recs, err := s.sourceRecords(lines, fp, opts.Unchanged, fid.Object, library, sf)
	if err != nil {
		if abortErr := s.abortTransfer(ctx, false); abortErr != nil {
			s.logger.Error("abort upload: %v", abortErr)
		}
		return err
	}
	if fp.CodePage != "" {
		recs = append(recs, &pal.CP{CodePage: fp.CodePage})
	}
	recs = append(recs, stampRecords(fp)...)
	if err := s.send(ctx, recs...); err != nil {
		return err
	}
	if err := s.finishUpload(ctx, fp); err != nil {
		return err
	}
	xfer.done(len(lines))
	return nil
}

// finishUpload evaluates the reply to the uploaded data.
func (s *Session) finishUpload(ctx context.Context, fp *FileProperties) error {
	s.updateStamp(fp)
	notify, err := s.replyNotify()
	if notify == pal.NotifyUploadAbort || notify == pal.NotifyMore {
		if abortErr := s.abortTransfer(ctx, false); err == nil {
			err = abortErr
		}
	}
	return err
}

// isProfileResource reports whether name is a profile or coverage
// resource, which mainframes store in the default code page.
func (s *Session) isProfileResource(name string) bool {
	if !s.props.Platform.IsMainframe() {
		return false
	}
	i := strings.IndexByte(name, '.')
	if i < 0 {
		return false
	}
	switch strings.ToLower(name[i+1:]) {
	case "ncvf", "nprf", "nprc":
		return true
	}
	return false
}

func binaryKind(natType int) int {
	if natType == TypeResource {
		return Resource
	}
	return GP
}

// DownloadBinary reads a resource or generated program.
func (s *Session) DownloadBinary(ctx context.Context, sf *SystemFile, library string, fp *FileProperties) (data []byte, err error) {
	if err := s.requireFile(sf, library, fp); err != nil {
		return nil, err
	}
	ctx, end := s.start(ctx, "download_binary", attribute.String("ndv.library", library), attribute.String("ndv.object", fp.Name))
	defer end(&err)

	fid := &pal.FileID{Object: fp.Name, NewObject: fp.LongName, NatType: fp.Type, Kind: binaryKind(fp.Type)}
	if err := s.initiate(ctx, opDownload, sf, library, fp.BaseLibrary); err != nil {
		return nil, err
	}
	xfer := s.beginTransfer(fp.Name, opDownload, 0)
	notify, err := s.describe(ctx, fid, stampRecords(fp)...)
	s.updateStamp(fp)
	if err != nil {
		return nil, err
	}

	switch notify {
	case pal.NotifyMore:
		streams, err := retrieve[*pal.Stream](s, pal.TagStream)
		if err != nil {
			return nil, err
		}
		data = []byte{}
		for _, st := range streams {
			data = append(data, st.Data...)
		}
		if s.isProfileResource(fp.Name) {
			if data, err = s.fromDefaultCodePage(data); err != nil {
				return nil, err
			}
		}
		if err := s.abortTransfer(ctx, false); err != nil {
			return nil, err
		}
	case pal.NotifyEmptyBinary:
		data = []byte{}
	}
	xfer.done(len(data))
	return data, nil
}

func (s *Session) fromDefaultCodePage(data []byte) ([]byte, error) {
	enc, err := LookupCodePage(s.props.DefaultCodePage)
	if err != nil {
		return nil, err
	}
	text := pal.DecodeString(enc, data)
	if s.shaping(s.props.DefaultCodePage) {
		text = s.shaper.ToLogical(text)
	}
	return []byte(text), nil
}

func (s *Session) toDefaultCodePage(data []byte) ([]byte, error) {
	enc, err := LookupCodePage(s.props.DefaultCodePage)
	if err != nil {
		return nil, err
	}
	text := string(data)
	if s.shaping(s.props.DefaultCodePage) {
		text = s.shaper.ToVisual(text)
	}
	return pal.EncodeString(enc, text), nil
}

// binaryRecords packs data into stream records: 253 byte chunks on
// mainframes, one record elsewhere, and an empty-binary notify for no data.
func (s *Session) binaryRecords(data []byte, name string) ([]pal.Record, error) {
	if !s.props.Platform.IsMainframe() {
		if len(data) == 0 {
			return []pal.Record{&pal.Notify{Code: pal.NotifyEmptyBinary}}, nil
		}
		return []pal.Record{&pal.Stream{Data: data}}, nil
	}
	if s.isProfileResource(name) {
		var err error
		if data, err = s.toDefaultCodePage(data); err != nil {
			return nil, err
		}
	}
	recs := make([]pal.Record, 0, len(data)/pal.StreamChunkSize+1)
	for len(data) > 0 {
		n := min(len(data), pal.StreamChunkSize)
		recs = append(recs, &pal.Stream{Data: data[:n]})
		data = data[n:]
	}
	return recs, nil
}

// UploadBinary saves a resource (kind Resource) or a generated program
// (kind GP).
func (s *Session) UploadBinary(ctx context.Context, sf *SystemFile, library string, fp *FileProperties, data []byte) (err error) {
	if err := s.requireFile(sf, library, fp); err != nil {
		return err
	}
	if data == nil {
		return invalidArgument("contents must not be nil")
	}
	if fp.Kind != Resource && fp.Kind != GP {
		return invalidArgument("the file properties kind must be Resource or GP")
	}
	ctx, end := s.start(ctx, "upload_binary", attribute.String("ndv.library", library), attribute.String("ndv.object", fp.Name))
	defer end(&err)

	size := fp.Size
	if size == 0 {
		size = len(data)
	}
	fid := &pal.FileID{
		Object:    fp.Name,
		NewObject: fp.LongName,
		Kind:      fp.Kind,
		NatType:   fp.Type,
		User:      fp.User,
		DBID:      fp.DBID,
		FNR:       fp.FNR,
	}
	if fp.Kind == GP {
		fid.Structured, fid.GPSize = fp.Structured, size
	} else {
		fid.SourceSize = size
	}

	if err := s.initiate(ctx, opUpload, sf, library, fp.BaseLibrary); err != nil {
		return err
	}
	xfer := s.beginTransfer(fp.Name, opUpload, len(data))
	notify, err := s.describe(ctx, fid)
	if err != nil {
		return err
	}
	if notify != pal.NotifyReadyForUpload {
		return nil
	}
	recs, err := s.binaryRecords(data, fp.Name)
	if err != nil {
		if abortErr := s.abortTransfer(ctx, false); abortErr != nil {
			s.logger.Error("abort upload: %v", abortErr)
		}
		return err
	}
	recs = append(recs, stampRecords(fp)...)
	if err := s.send(ctx, recs...); err != nil {
		return err
	}
	if err := s.finishUpload(ctx, fp); err != nil {
		return err
	}
	xfer.done(len(data))
	return nil
}

// Delete removes an object. fp.Kind selects what is deleted: the source,
// the generated program, both, an error message file or a resource.
func (s *Session) Delete(ctx context.Context, sf *SystemFile, library string, fp *FileProperties) (err error) {
	if err := s.requireFile(sf, library, fp); err != nil {
		return err
	}
	if fp.Type == TypeDDM.ID && fp.Kind != Source && fp.Kind != SourceOrGP && s.props.Platform.IsMainframe() {
		return invalidArgument("kind must be Source for DDMs on mainframe servers")
	}
	switch fp.Kind {
	case Source, GP, SourceOrGP, ErrorMessage, Resource:
	default:
		return invalidArgument("kind must be Source, GP, SourceOrGP, ErrorMessage or Resource")
	}
	if library == "" && s.props.Platform.IsOpenSystems() {
		library = "SYSTEM"
	}
	ctx, end := s.start(ctx, "delete", attribute.String("ndv.library", library), attribute.String("ndv.object", fp.Name))
	defer end(&err)

	fid := &pal.FileID{Object: fp.Name, Kind: fp.Kind, NatType: fp.Type}
	switch {
	case fp.Kind == ErrorMessage:
		fid.NatType = TypeErrMsg
	case fp.Kind == Resource:
		fid.NatType = TypeResource
	case sf.Kind == pal.SysFileFDDM:
		fid.NatType = TypeDDM.ID
	}
	if err := s.initiate(ctx, opDelete, sf, library, fp.BaseLibrary); err != nil {
		return err
	}
	notify, err := s.describe(ctx, fid)
	if err != nil {
		return err
	}
	if notify == pal.NotifyMore {
		return s.abortTransfer(ctx, false)
	}
	return nil
}

// Copy copies an object to another library, possibly in another system
// file. obj supplies kind, type, sizes and dates of the object.
func (s *Session) Copy(ctx context.Context, from *SystemFile, fromLib, name string, to *SystemFile, toLib string, obj *Object) (err error) {
	return s.serverLocal(ctx, "copy", opCopy, from, fromLib, name, to, toLib, name, obj)
}

// Move moves an object to another library and renames it to newName.
func (s *Session) Move(ctx context.Context, from *SystemFile, fromLib, name string, to *SystemFile, toLib, newName string, obj *Object) (err error) {
	return s.serverLocal(ctx, "move", opMove, from, fromLib, name, to, toLib, newName, obj)
}

func (s *Session) serverLocal(ctx context.Context, what string, op int, from *SystemFile, fromLib, name string, to *SystemFile, toLib, newName string, obj *Object) (err error) {
	if err := s.requireConnected(); err != nil {
		return err
	}
	switch {
	case from == nil || to == nil:
		return invalidArgument("system file must not be nil")
	case fromLib == "" || toLib == "":
		return invalidArgument("library must not be empty")
	case name == "" || newName == "":
		return invalidArgument("object name must not be empty")
	case obj == nil:
		return invalidArgument("object must not be nil")
	}
	ctx, end := s.start(ctx, what,
		attribute.String("ndv.library", fromLib),
		attribute.String("ndv.object", name),
		attribute.String("ndv.target", toLib))
	defer end(&err)

	if err := s.call(ctx, &pal.Operation{Code: op}, libID(from, fromLib, pal.TagLibID), libID(to, toLib, pal.TagLibID)); err != nil {
		return err
	}
	fid := &pal.FileID{
		Object:     name,
		NewObject:  newName,
		Kind:       obj.Kind,
		NatType:    obj.NatType,
		User:       obj.User,
		SourceSize: obj.SourceSize,
		SourceDate: obj.SourceDate,
		GPSize:     obj.GPSize,
		GPUser:     obj.GPUser,
		GPDate:     obj.GPDate,
	}
	notify, err := s.describe(ctx, fid)
	if err != nil {
		return err
	}
	if notify == pal.NotifyMore {
		return s.abortTransfer(ctx, false)
	}
	return nil
}

// Lock locks an object for the session's user.
func (s *Session) Lock(ctx context.Context, sf *SystemFile, library, name string, kind, natType int) error {
	return s.locking(ctx, "lock", opLock, sf, library, name, kind, natType)
}

// Unlock releases a lock taken with Lock.
func (s *Session) Unlock(ctx context.Context, sf *SystemFile, library, name string, kind, natType int) error {
	return s.locking(ctx, "unlock", opUnlock, sf, library, name, kind, natType)
}

// IsLocked returns nil when the object is not locked. A lock held by
// another user is reported as the server's error.
func (s *Session) IsLocked(ctx context.Context, sf *SystemFile, library, name string, kind, natType int) error {
	return s.locking(ctx, "is_locked", opIsLocked, sf, library, name, kind, natType)
}

// locking sends a lock request. Resources cannot be locked and are
// skipped.
func (s *Session) locking(ctx context.Context, what string, op int, sf *SystemFile, library, name string, kind, natType int) (err error) {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if kind < 0 {
		return invalidArgument("kind must be a combination of the object kinds")
	}
	if natType != TypeAll && natType != TypeAny {
		if _, ok := LookupObjectType(natType); !ok {
			return invalidArgument("type must be one of the object types")
		}
	}
	if natType == TypeResource {
		return nil
	}
	switch {
	case sf == nil:
		return invalidArgument("system file must not be nil")
	case library == "":
		return invalidArgument("library must not be empty")
	case name == "":
		return invalidArgument("name must not be empty")
	}
	ctx, end := s.start(ctx, what, attribute.String("ndv.library", library), attribute.String("ndv.object", name))
	defer end(&err)

	if natType == TypeDDM.ID && s.props.Platform.IsMainframe() {
		library = ""
	}
	return s.call(ctx,
		&pal.Operation{Code: op},
		libID(sf, library, pal.TagLibID),
		&pal.ObjDesc{NatType: natType, Kind: kind, Name: name},
	)
}

// ReadMode selects the command Read sends.
type ReadMode int

const (
	ReadSource ReadMode = 10
	ReadDDM    ReadMode = 11
	ListSource ReadMode = 8
	ListDDM    ReadMode = 24
	EditSource ReadMode = 21
	EditDDM    ReadMode = 23
)

// Read returns the source lines of an object as the READ, LIST and EDIT
// commands show them. Line numbers are removed.
func (s *Session) Read(ctx context.Context, sf *SystemFile, library, name string, mode ReadMode) (lines []string, err error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, invalidArgument("object name must not be empty")
	}
	if library == "" && mode != ReadDDM && mode != ListDDM && mode != EditDDM {
		return nil, invalidArgument("library must not be empty")
	}
	ctx, end := s.start(ctx, "read", attribute.String("ndv.library", library), attribute.String("ndv.object", name))
	defer end(&err)

	return s.read(ctx, library, name, mode, true)
}

func (s *Session) read(ctx context.Context, library, name string, mode ReadMode, strip bool) ([]string, error) {
	if err := s.call(ctx,
		&pal.Operation{Code: opCommand, SubKey: int(mode)},
		&pal.Stack{Command: "READ " + name + " " + library},
	); err != nil {
		return nil, err
	}
	raw, err := s.sourceLines()
	if err != nil {
		return nil, err
	}
	res, err := s.downloadedSource(raw, strip, false, false)
	if err != nil {
		if errors.Is(err, renumber.ErrInvalidSource) {
			return raw, nil
		}
		return nil, err
	}
	return res.Lines, nil
}
