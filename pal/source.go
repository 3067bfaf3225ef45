package pal

import (
	"encoding/hex"
	"strings"
)

// Source is one source line. Three tags share the layout and differ in the
// character set of the line: SourceCodePage (12) uses the session code
// page, SourceUnicode (42) carries UTF-8, and SourceCP (48) carries bytes in
// a code page named by a separate CP record, kept undecoded in Data.
type Source struct {
	Type int
	Line string
	Data []byte
}

func (s *Source) Tag() int {
	if s.Type == 0 {
		return TagSourceCodePage
	}
	return s.Type
}

func (s *Source) Serialize(w *Writer) {
	switch s.Tag() {
	case TagSourceUnicode:
		w.String(s.Line)
	case TagSourceCP:
		if s.Data != nil {
			w.Raw(s.Data)
			w.Byte(0)
		} else {
			w.String(s.Line)
		}
	default:
		w.CodePageString(s.Line)
	}
}

func (s *Source) Restore(r *Reader) error {
	switch s.Tag() {
	case TagSourceUnicode:
		s.Line = r.String()
	case TagSourceCP:
		s.Data = []byte(r.String())
		s.Line = string(s.Data)
	default:
		s.Line = r.CodePageString()
	}
	return r.Err()
}

// Stream carries binary data. Mainframe servers exchange it hex encoded.
type Stream struct {
	Type int
	Data []byte
}

// StreamChunkSize is the largest payload of one mainframe stream record.
const StreamChunkSize = 253

func (s *Stream) Tag() int {
	if s.Type == 0 {
		return TagStream
	}
	return s.Type
}

func (s *Stream) Serialize(w *Writer) {
	if w.Mainframe {
		w.Raw([]byte(strings.ToUpper(hex.EncodeToString(s.Data))))
		return
	}
	w.Raw(s.Data)
}

func (s *Stream) Restore(r *Reader) error {
	data := r.Rest()
	if r.Mainframe {
		data = decodeHex(data)
	}
	s.Data = data
	return r.Err()
}

// decodeHex decodes complete digit pairs. Invalid input yields no data.
func decodeHex(src []byte) []byte {
	src = src[:len(src)/2*2]
	out := make([]byte, len(src)/2)
	if _, err := hex.Decode(out, src); err != nil {
		return []byte{}
	}
	return out
}

// FileID options
const (
	FileOptionOldDataArea = 1
)

// FileID describes the object of a transfer.
type FileID struct {
	Object     string
	NewObject  string
	User       string
	SourceSize int
	GPSize     int
	Kind       int
	NatType    int
	Structured bool
	SourceDate Date
	GPDate     Date
	GPUser     string
	DBID       int
	FNR        int
	Options    int
}

func (f *FileID) Tag() int { return TagFileID }

func (f *FileID) Serialize(w *Writer) {
	w.String(f.Object)
	w.String(f.NewObject)
	w.String(f.User)
	w.Int(f.SourceSize)
	w.Int(f.GPSize)
	w.Int(f.Kind)
	w.Int(f.NatType)
	if f.Structured {
		w.Int(1)
	} else {
		w.Int(0)
	}
	f.SourceDate.write(w)
	f.GPDate.write(w)
	w.String(f.GPUser)
	w.Int(f.DBID)
	w.Int(f.FNR)
	w.Int(f.Options)
}

func (f *FileID) Restore(r *Reader) error {
	f.Object = r.String()
	f.NewObject = r.String()
	f.User = r.String()
	f.SourceSize = r.Int()
	f.GPSize = r.Int()
	f.Kind = r.Int()
	f.NatType = r.Int()
	f.Structured = r.Int() != 0
	f.SourceDate = readDate(r)
	f.GPDate = readDate(r)
	f.GPUser = r.String()
	f.DBID = r.Int()
	f.FNR = r.Int()
	if r.More() {
		f.Options = r.Int()
	}
	return r.Err()
}

// SrcDesc describes the source a compile or catalog command works on.
type SrcDesc struct {
	NatType    int
	Name       string
	Structured bool
	Options    int
	DBID       int
	FNR        int
}

func (s *SrcDesc) Tag() int { return TagSrcDesc }

func (s *SrcDesc) Serialize(w *Writer) {
	w.Int(s.NatType)
	w.String(s.Name)
	w.Bool(s.Structured)
	w.Int(s.Options)
	w.Int(s.DBID)
	w.Int(s.FNR)
}

func (s *SrcDesc) Restore(r *Reader) error {
	s.NatType = r.Int()
	s.Name = r.String()
	s.Structured = r.Bool()
	s.Options = r.Int()
	s.DBID = r.Int()
	s.FNR = r.Int()
	return r.Err()
}
