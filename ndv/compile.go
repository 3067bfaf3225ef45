package ndv

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/drunlade/go-ndv/pal"
)

// Operation 2 sub keys of the compile commands
const (
	subCommandStored = 28
	subCommandSource = 2
	subCommandSave   = 4
)

// compileCommand describes one CAT, CHECK, STOW or SAVE request.
type compileCommand struct {
	verb      string
	increment bool
	codePage  bool
	location  bool
	oldFormat bool
}

var (
	cmdCatalog = compileCommand{verb: "CAT", location: true}
	cmdCheck   = compileCommand{verb: "CHECK", increment: true}
	cmdStow    = compileCommand{verb: "STOW", increment: true, codePage: true, location: true, oldFormat: true}
	cmdSave    = compileCommand{verb: "SAVE", increment: true, codePage: true, location: true, oldFormat: true}
)

// Catalog compiles an object. Given lines are compiled instead of the
// stored source and are not saved. Compilation errors are returned as
// *CompileError.
func (s *Session) Catalog(ctx context.Context, sf *SystemFile, library string, fp *FileProperties, lines []string) error {
	return s.compile(ctx, cmdCatalog, sf, library, fp, lines)
}

// Check checks the syntax of an object or of the given lines.
func (s *Session) Check(ctx context.Context, sf *SystemFile, library string, fp *FileProperties, lines []string) error {
	return s.compile(ctx, cmdCheck, sf, library, fp, lines)
}

// Stow saves and catalogs an object.
func (s *Session) Stow(ctx context.Context, sf *SystemFile, library string, fp *FileProperties, lines []string) error {
	return s.compile(ctx, cmdStow, sf, library, fp, lines)
}

// Save stores lines as the source of an object without compiling it.
func (s *Session) Save(ctx context.Context, sf *SystemFile, library string, fp *FileProperties, lines []string) error {
	return s.compile(ctx, cmdSave, sf, library, fp, lines)
}

func (s *Session) compile(ctx context.Context, cmd compileCommand, sf *SystemFile, library string, fp *FileProperties, lines []string) (err error) {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if sf == nil {
		return invalidArgument("system file must not be nil")
	}
	if fp == nil {
		return invalidArgument("file properties must not be nil")
	}
	if _, ok := LookupObjectType(fp.Type); !ok {
		return invalidArgument("unknown object type")
	}
	name := fp.Name
	if fp.Type == TypeDDM.ID {
		name = fp.LongName
	}
	if name == "" {
		return invalidArgument("object name must not be empty")
	}
	library = s.transferLibrary(sf, library)
	ctx, end := s.start(ctx, strings.ToLower(cmd.verb),
		attribute.String("ndv.library", library), attribute.String("ndv.object", name))
	defer end(&err)

	props := *fp
	if !cmd.increment {
		props.LineIncrement = 0
	}
	if !cmd.codePage {
		props.CodePage = ""
	} else if props.CodePage != "" && !s.knowsCodePage(props.CodePage) {
		props.CodePage = s.props.DefaultCodePage
	}

	sub := subCommandStored
	var recs []pal.Record
	switch {
	case lines != nil:
		src, err := s.sourceRecords(lines, &props, false, name, library, sf)
		if err != nil {
			return err
		}
		recs = append(recs, src...)
		if props.CodePage != "" {
			recs = append(recs, &pal.CP{CodePage: props.CodePage})
		}
		sub = subCommandSource
	case fp.Type == TypeDDM.ID:
		from := library
		if fp.LinkedDDM {
			from = ""
		}
		ddm, err := s.read(ctx, from, name, ReadDDM, false)
		if err != nil {
			return err
		}
		if s.props.Platform.IsMainframe() {
			src, err := s.sourceRecords(ddm, &props, true, name, library, sf)
			if err != nil {
				return err
			}
			recs = append(recs, src...)
		}
	}
	if cmd.verb == cmdSave.verb {
		sub = subCommandSave
	}

	recs = append(recs,
		&pal.Operation{Code: opCommand, SubKey: sub},
		&pal.Stack{Command: cmd.verb},
		libID(sf, library, pal.TagLibID),
	)
	if fp.BaseLibrary != "" {
		recs = append(recs, libID(sf, fp.BaseLibrary, pal.TagLibIDSearchOrder))
	}
	desc := &pal.SrcDesc{NatType: fp.Type, Name: name, Structured: fp.Structured}
	if fp.Type == TypeDDM.ID {
		if cmd.location {
			desc.DBID, desc.FNR = fp.DBID, fp.FNR
		}
	} else if cmd.oldFormat && fp.OldDataArea {
		desc.Options = pal.FileOptionOldDataArea
	}
	recs = append(recs, desc)
	recs = append(recs, stampRecords(fp)...)

	if err := s.send(ctx, recs...); err != nil {
		return err
	}
	cerr := s.compileError(fp.Type, name, library, sf.DBID, sf.FNR)
	s.updateStamp(fp)
	return cerr
}
