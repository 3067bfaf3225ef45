package pal

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// Indices describes the array bounds of a debug variable.
type Indices struct {
	Dimensions  int
	Lower       [3]int
	Upper       [3]int
	Flags       int
	Occurrences int
}

func (ix *Indices) write(w *Writer) {
	w.Int(ix.Dimensions)
	for i := 0; i < 3; i++ {
		w.Int(ix.Lower[i])
		w.Int(ix.Upper[i])
	}
	w.Int(ix.Flags)
	w.Int(ix.Occurrences)
}

func (ix *Indices) read(r *Reader) {
	ix.Dimensions = r.Int()
	for i := 0; i < 3; i++ {
		ix.Lower[i] = r.Int()
		ix.Upper[i] = r.Int()
	}
	ix.Flags = r.Int()
	ix.Occurrences = r.Int()
}

// DbgStatus reports why a debugged program stopped.
type DbgStatus struct {
	Status  int
	Flags   int
	Object  string
	Library string
	Line    int
	Level   int
}

// Debug status values
const (
	DbgStatusTerminated = 0
	DbgStatusStep       = 1
	DbgStatusBreakpoint = 2
	DbgStatusWatchpoint = 3
	DbgStatusError      = 4
)

func (d *DbgStatus) Tag() int { return TagDbgStatus }

func (d *DbgStatus) Serialize(w *Writer) {
	w.Int(d.Status)
	w.Int(d.Flags)
	w.String(d.Object)
	w.String(d.Library)
	w.Int(d.Line)
	w.Int(d.Level)
}

func (d *DbgStatus) Restore(r *Reader) error {
	d.Status = r.Int()
	d.Flags = r.Int()
	d.Object = r.String()
	d.Library = r.String()
	d.Line = r.Int()
	if r.More() {
		d.Level = r.Int()
	}
	return r.Err()
}

// DbgStackFrame is one frame of the debugged program's call stack.
type DbgStackFrame struct {
	Level         int
	Object        string
	Library       string
	DBID          int
	FNR           int
	LogObject     string
	LogLibrary    string
	LogDBID       int
	LogFNR        int
	GDAObject     string
	GDALibrary    string
	GDADBID       int
	GDAFNR        int
	NatType       int
	ExecPos       int
	ExecPosLog    int
	Event         string
	LineIncrement int
}

func (f *DbgStackFrame) Tag() int { return TagDbgStackFrame }

func (f *DbgStackFrame) Serialize(w *Writer) {
	w.Int(f.Level)
	w.String(f.Object)
	w.String(f.Library)
	w.Int(f.DBID)
	w.Int(f.FNR)
	w.String(f.LogObject)
	w.String(f.LogLibrary)
	w.Int(f.LogDBID)
	w.Int(f.LogFNR)
	w.String(f.GDAObject)
	w.String(f.GDALibrary)
	w.Int(f.GDADBID)
	w.Int(f.GDAFNR)
	w.Int(f.NatType)
	w.Int(f.ExecPos)
	w.Int(f.ExecPosLog)
	w.String(f.Event)
	w.Int(f.LineIncrement)
}

func (f *DbgStackFrame) Restore(r *Reader) error {
	f.Level = r.Int()
	f.Object = r.String()
	f.Library = r.String()
	f.DBID = r.Int()
	f.FNR = r.Int()
	f.LogObject = r.String()
	f.LogLibrary = r.String()
	f.LogDBID = r.Int()
	f.LogFNR = r.Int()
	f.GDAObject = r.String()
	f.GDALibrary = r.String()
	f.GDADBID = r.Int()
	f.GDAFNR = r.Int()
	f.NatType = r.Int()
	f.ExecPos = r.Int()
	f.ExecPosLog = r.Int()
	f.Event = r.String()
	if r.More() {
		f.LineIncrement = r.Int()
	}
	return r.Err()
}

// DbgNatStack is one entry of the Natural stack of the debugged session.
type DbgNatStack struct {
	Level   int
	Command string
}

func (s *DbgNatStack) Tag() int { return TagDbgNatStack }

func (s *DbgNatStack) Serialize(w *Writer) {
	w.Int(s.Level)
	w.CodePageString(s.Command)
}

func (s *DbgNatStack) Restore(r *Reader) error {
	s.Level = r.Int()
	s.Command = r.CodePageString()
	return r.Err()
}

// DbgVarContainer selects the variables of one program level.
type DbgVarContainer struct {
	Flags      int
	StackLevel int
	NatType    int
	Object     string
	Library    string
	DBID       int
	FNR        int
}

func (c *DbgVarContainer) Tag() int { return TagDbgVarContainer }

func (c *DbgVarContainer) Serialize(w *Writer) {
	w.Int(c.Flags)
	w.Int(c.StackLevel)
	w.Int(c.NatType)
	w.String(c.Object)
	w.String(c.Library)
	w.Int(c.DBID)
	w.Int(c.FNR)
}

func (c *DbgVarContainer) Restore(r *Reader) error {
	c.Flags = r.Int()
	c.StackLevel = r.Int()
	c.NatType = r.Int()
	c.Object = r.String()
	c.Library = r.String()
	c.DBID = r.Int()
	c.FNR = r.Int()
	return r.Err()
}

// DbgSyt is one symbol table entry of a debugged object.
type DbgSyt struct {
	Flags            int
	ID               int
	NumberOfElements int
	Name             string
	Level            int
	Format           int
	OCXFormat        int
	Length           int
	Precision        int
	LineReference    int
	ConvID           int
	Indices          Indices
}

func (s *DbgSyt) Tag() int { return TagDbgSyt }

func (s *DbgSyt) Serialize(w *Writer) {
	w.Int(s.Flags)
	w.Int(s.ID)
	w.Int(s.NumberOfElements)
	w.String(s.Name)
	w.Int(s.Level)
	w.Int(s.Format)
	w.Int(s.OCXFormat)
	w.Int(s.Length)
	w.Int(s.Precision)
	w.Int(s.LineReference)
	w.Int(s.ConvID)
	s.Indices.write(w)
}

func (s *DbgSyt) Restore(r *Reader) error {
	s.Flags = r.Int()
	s.ID = r.Int()
	s.NumberOfElements = r.Int()
	s.Name = r.String()
	s.Level = r.Int()
	s.Format = r.Int()
	s.OCXFormat = r.Int()
	s.Length = r.Int()
	s.Precision = r.Int()
	s.LineReference = r.Int()
	s.ConvID = r.Int()
	s.Indices.read(r)
	return r.Err()
}

// DbgVarDesc names a variable whose value is requested or watched.
type DbgVarDesc struct {
	ID          int
	Qualifier   string
	Variable    string
	Flags       int
	OCXFormat   int
	Format      int
	Length      int
	Indices     Indices
	StartOffset int
	Range       int
	ConvID      int
}

func (d *DbgVarDesc) Tag() int { return TagDbgVarDesc }

func (d *DbgVarDesc) Serialize(w *Writer) {
	w.Int(d.ID)
	w.String(d.Qualifier)
	w.String(d.Variable)
	w.Int(d.Flags)
	w.Int(d.OCXFormat)
	w.Int(d.Format)
	w.Int(d.Length)
	d.Indices.write(w)
	w.Int(d.StartOffset)
	w.Int(d.Range)
	w.Int(d.ConvID)
}

func (d *DbgVarDesc) Restore(r *Reader) error {
	d.ID = r.Int()
	d.Qualifier = r.String()
	d.Variable = r.String()
	d.Flags = r.Int()
	d.OCXFormat = r.Int()
	d.Format = r.Int()
	d.Length = r.Int()
	d.Indices.read(r)
	d.StartOffset = r.Int()
	d.Range = r.Int()
	d.ConvID = r.Int()
	return r.Err()
}

// VarValueUnicode marks a value carried as base64 encoded UTF-8.
const VarValueUnicode = 1

// versionHexValues is the first version that hex encodes mainframe values.
const versionHexValues = 41

// DbgVarValue is the value of a debug variable. The value is preceded by
// its encoded length and may contain any byte.
type DbgVarValue struct {
	Flags         int
	CurrentLength int
	ID            int
	ReturnCode    int
	Value         string
}

func (v *DbgVarValue) Tag() int { return TagDbgVarValue }

// IsUnicode reports whether the value travels as UTF-8.
func (v *DbgVarValue) IsUnicode() bool { return v.Flags&VarValueUnicode != 0 }

func (v *DbgVarValue) Serialize(w *Writer) {
	w.Int(v.Flags)
	w.Int(v.CurrentLength)
	w.Int(v.ID)
	w.Int(v.ReturnCode)
	var data []byte
	switch {
	case v.IsUnicode():
		data = []byte(base64.StdEncoding.EncodeToString([]byte(v.Value)))
	case w.Mainframe && w.Version >= versionHexValues:
		data = []byte(strings.ToUpper(hex.EncodeToString(EncodeString(w.CodePage, v.Value))))
	default:
		data = EncodeString(w.CodePage, v.Value)
	}
	w.Int(len(data))
	w.Raw(data)
	w.Byte(0)
}

func (v *DbgVarValue) Restore(r *Reader) error {
	v.Flags = r.Int()
	v.CurrentLength = r.Int()
	v.ID = r.Int()
	v.ReturnCode = r.Int()
	n := r.Int()
	data := r.Fixed(n)
	if r.More() {
		r.Byte()
	}
	if r.Err() != nil {
		return r.Err()
	}
	switch {
	case v.IsUnicode():
		dec, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return NewRecordError(ErrProtocol, "invalid unicode variable value", TagDbgVarValue)
		}
		v.Value = string(dec)
	case r.Mainframe && r.Version >= versionHexValues:
		v.Value = DecodeString(r.CodePage, decodeHex(data))
	default:
		v.Value = DecodeString(r.CodePage, data)
	}
	return nil
}

// DbgSpy is a watchpoint or breakpoint.
type DbgSpy struct {
	ID       int
	Flags    int
	Object   string
	Library  string
	DBID     int
	FNR      int
	ConvID   int
	Count    int
	BefEx    int
	NumEx    int
	Line     int
	Operator int
	Status   byte
	NewLine  int
}

// Spy flags
const (
	SpyBreakpoint = 1
	SpyWatchpoint = 2
	SpyActive     = 4
)

func (s *DbgSpy) Tag() int { return TagDbgSpy }

func (s *DbgSpy) Serialize(w *Writer) {
	w.Int(s.ID)
	w.Int(s.Flags)
	w.String(s.Object)
	w.String(s.Library)
	w.Int(s.DBID)
	w.Int(s.FNR)
	w.Int(s.ConvID)
	w.Int(s.Count)
	w.Int(s.BefEx)
	w.Int(s.NumEx)
	w.Int(s.Line)
	w.Int(s.Operator)
	w.Byte(s.Status)
	w.Int(s.NewLine)
}

func (s *DbgSpy) Restore(r *Reader) error {
	s.ID = r.Int()
	s.Flags = r.Int()
	s.Object = r.String()
	s.Library = r.String()
	s.DBID = r.Int()
	s.FNR = r.Int()
	s.ConvID = r.Int()
	s.Count = r.Int()
	s.BefEx = r.Int()
	s.NumEx = r.Int()
	s.Line = r.Int()
	s.Operator = r.Int()
	s.Status = r.Byte()
	s.NewLine = r.Int()
	return r.Err()
}

// DbgaRecord identifies the client attached to a debug session.
type DbgaRecord struct {
	ClientID string
	Object   string
	Library  string
	Project  string
	DBID     int
	FNR      int
}

func (d *DbgaRecord) Tag() int { return TagDbgaRecord }

func (d *DbgaRecord) Serialize(w *Writer) {
	w.String(d.ClientID)
	w.String(d.Object)
	w.String(d.Library)
	w.String(d.Project)
	w.Int(d.DBID)
	w.Int(d.FNR)
}

func (d *DbgaRecord) Restore(r *Reader) error {
	d.ClientID = r.String()
	d.Object = r.String()
	d.Library = r.String()
	d.Project = r.String()
	d.DBID = r.Int()
	d.FNR = r.Int()
	return r.Err()
}

// SQLAuthentication is the server's request for database credentials and
// the client's answer to it.
type SQLAuthentication struct {
	Title        string
	Text         string
	Prompt1      string
	Prompt2      string
	UID          string
	Password     string
	Dummy1       string
	Dummy2       string
	LengthUID    int
	LengthPwd    int
	LengthDummy1 int
	LengthDummy2 int
}

func (s *SQLAuthentication) Tag() int { return TagSQLAuthentication }

func (s *SQLAuthentication) Serialize(w *Writer) {
	w.String(s.Title)
	w.String(s.Text)
	w.String(s.Prompt1)
	w.String(s.Prompt2)
	w.String(s.UID)
	w.String(s.Password)
	w.String(s.Dummy1)
	w.String(s.Dummy2)
	w.Int(s.LengthUID)
	w.Int(s.LengthPwd)
	w.Int(s.LengthDummy1)
	w.Int(s.LengthDummy2)
}

func (s *SQLAuthentication) Restore(r *Reader) error {
	s.Title = r.String()
	s.Text = r.String()
	s.Prompt1 = r.String()
	s.Prompt2 = r.String()
	s.UID = r.String()
	s.Password = r.String()
	s.Dummy1 = r.String()
	s.Dummy2 = r.String()
	s.LengthUID = r.Int()
	s.LengthPwd = r.Int()
	s.LengthDummy1 = r.Int()
	s.LengthDummy2 = r.Int()
	return r.Err()
}
