package pal

import "fmt"

// Record is one typed record of a batch.
//
// Serialize appends the record's fields to w. Restore reads them back,
// returning the reader's first decoding error. Records that the client only
// sends still implement Restore so a peer built on this package can read
// them.
type Record interface {
	Tag() int
	Serialize(w *Writer)
	Restore(r *Reader) error
}

// RawRecord holds the undecoded body of a record the client has no type for.
type RawRecord struct {
	Type int
	Data []byte
}

func (r *RawRecord) Tag() int { return r.Type }

func (r *RawRecord) Serialize(w *Writer) { w.Raw(r.Data) }

func (r *RawRecord) Restore(rd *Reader) error {
	r.Data = rd.Rest()
	return rd.Err()
}

// NewRecord returns an empty record for tag, ready for Restore.
func NewRecord(tag int) Record {
	switch tag {
	case TagEnviron:
		return &Environ{}
	case TagConnect:
		return &Connect{}
	case TagOperation:
		return &Operation{}
	case TagSystemFile:
		return &SystemFile{}
	case TagLibraryStatistics:
		return &LibraryStatistics{}
	case TagLibrary:
		return &Library{}
	case TagLibID, TagLibIDSearchOrder, TagLibIDTarget:
		return &LibID{Type: tag}
	case TagObjDesc, TagObjDesc2:
		return &ObjDesc{Type: tag}
	case TagObject:
		return &Object{}
	case TagStack:
		return &Stack{}
	case TagResult:
		return &Result{}
	case TagResultEx:
		return &ResultEx{}
	case TagSourceCodePage, TagSourceCP, TagSourceUnicode:
		return &Source{Type: tag}
	case TagStream, TagBinaryStream:
		return &Stream{Type: tag}
	case TagUtility:
		return &Utility{}
	case TagSrcDesc:
		return &SrcDesc{}
	case TagNotify:
		return &Notify{}
	case TagGeneric:
		return &Generic{}
	case TagFileID:
		return &FileID{}
	case TagNatParm:
		return &NatParm{}
	case TagSQLAuthentication:
		return &SQLAuthentication{}
	case TagCmdGuard:
		return &CmdGuard{}
	case TagSysVar:
		return &SysVar{}
	case TagDbgStackFrame:
		return &DbgStackFrame{}
	case TagDbgStatus:
		return &DbgStatus{}
	case TagDbgVarContainer:
		return &DbgVarContainer{}
	case TagDbgSyt:
		return &DbgSyt{}
	case TagDbgVarDesc:
		return &DbgVarDesc{}
	case TagDbgVarValue:
		return &DbgVarValue{}
	case TagDbgSpy:
		return &DbgSpy{}
	case TagCP:
		return &CP{}
	case TagDbmsInfo:
		return &DbmsInfo{}
	case TagClientConfig:
		return &ClientConfig{}
	case TagDevEnv:
		return &DevEnv{}
	case TagDbgNatStack:
		return &DbgNatStack{}
	case TagTimeStamp:
		return &TimeStamp{}
	case TagDbgaRecord:
		return &DbgaRecord{}
	case TagMonitorInfo:
		return &MonitorInfo{}
	default:
		return &RawRecord{Type: tag}
	}
}

// Decode restores a record of the given tag from its body.
func Decode(d Dialect, tag int, data []byte) (Record, error) {
	rec := NewRecord(tag)
	if err := rec.Restore(NewReader(d, tag, data)); err != nil {
		return nil, err
	}
	return rec, nil
}

// Encode serializes rec.
func Encode(d Dialect, rec Record) []byte {
	w := NewWriter(d)
	rec.Serialize(w)
	return w.Bytes()
}

// Environment and control records

// Operation names the server function a batch requests. The transport
// stamps ClientID and UserID before sending.
type Operation struct {
	Code     int
	SubKey   int
	Flags    int
	ClientID string
	UserID   string
}

func (o *Operation) Tag() int { return TagOperation }

func (o *Operation) Serialize(w *Writer) {
	w.Int(o.Code)
	w.Int(o.SubKey)
	w.Int(o.Flags)
	w.String(o.ClientID)
	w.String(o.UserID)
}

func (o *Operation) Restore(r *Reader) error {
	o.Code = r.Int()
	o.SubKey = r.Int()
	o.Flags = r.Int()
	o.ClientID = r.String()
	o.UserID = r.String()
	return r.Err()
}

func (o *Operation) String() string {
	return fmt.Sprintf("operation %d/%d", o.Code, o.SubKey)
}

// Environ negotiates versions and session identity during logon. The
// server's reply carries the platform name in OpSys.
type Environ struct {
	NaturalVersion   int
	PalVersion       int
	OpSys            string
	SessionID        string
	OpSysVersion     int
	StartupCommands  string
	NdvVersion       int
	TransportModel   int
	LogonCounter     int
	Flags            int
	WebVersion       int
	NdvClientVersion int
}

// Environ flag bits
const (
	EnvironWebIO          = 4
	EnvironUnicodeSource  = 8
	EnvironRichGUI        = 16
	EnvironNFNPrivateMode = 64
	EnvironTimestampCheck = 256
	EnvironAttachRPC      = 512
	EnvironAttachNAT      = 1024
	EnvironAttachNJX      = 2048
)

// ClientPalVersion is the protocol version the client announces.
const ClientPalVersion = 47

func (e *Environ) Tag() int { return TagEnviron }

func (e *Environ) Serialize(w *Writer) {
	w.Int(e.NaturalVersion)
	w.Int(e.PalVersion)
	w.String(e.OpSys)
	w.String(e.SessionID)
	w.Int(e.OpSysVersion)
	w.String(e.StartupCommands)
	w.Int(e.NdvVersion)
	w.Int(e.TransportModel)
	w.Int(e.LogonCounter)
	w.Int(e.Flags)
	w.Int(e.WebVersion)
	w.Int(e.NdvClientVersion)
}

func (e *Environ) Restore(r *Reader) error {
	e.NaturalVersion = r.Int()
	e.PalVersion = r.Int()
	e.OpSys = r.String()
	e.SessionID = r.String()
	e.OpSysVersion = r.Int()
	if r.More() {
		e.StartupCommands = r.String()
	}
	if r.More() {
		e.NdvVersion = r.Int()
	}
	if r.More() {
		e.TransportModel = r.Int()
	}
	if r.More() {
		e.LogonCounter = r.Int()
	}
	if r.More() {
		e.Flags = r.Int()
	}
	if r.More() {
		e.WebVersion = r.Int()
	}
	if r.More() {
		e.NdvClientVersion = r.Int()
	}
	return r.Err()
}

// Connect carries the user id and the encoded logon token.
type Connect struct {
	UserID     string
	Token      []byte
	Parameters string
}

func (c *Connect) Tag() int { return TagConnect }

func (c *Connect) Serialize(w *Writer) {
	w.String(c.UserID)
	w.Raw(c.Token)
	w.Byte(0)
	w.String(c.Parameters)
}

func (c *Connect) Restore(r *Reader) error {
	c.UserID = r.String()
	c.Token = []byte(r.String())
	c.Parameters = r.String()
	return r.Err()
}

// Notify codes
const (
	NotifyShared         = 1
	NotifyPrivate        = 2
	NotifyContinue       = 4
	NotifyTerminate      = 5
	NotifyMore           = 6
	NotifyEnd            = 7
	NotifyUploadAbort    = 9
	NotifyAbortDelete    = 12
	NotifyReadyForUpload = 13
	NotifyStart          = 17
	NotifyEmptyBinary    = 18
)

// Notify drives server-side continuation.
type Notify struct {
	Code int
}

func (n *Notify) Tag() int { return TagNotify }

func (n *Notify) Serialize(w *Writer) { w.Int(n.Code) }

func (n *Notify) Restore(r *Reader) error {
	n.Code = r.Int()
	return r.Err()
}

// Generic is a (kind, value) pair. Listings use it for the count hint.
type Generic struct {
	Kind int
	Data int
}

func (g *Generic) Tag() int { return TagGeneric }

func (g *Generic) Serialize(w *Writer) {
	w.Int(g.Kind)
	w.Int(g.Data)
}

func (g *Generic) Restore(r *Reader) error {
	g.Kind = r.Int()
	g.Data = r.Int()
	return r.Err()
}

// Result is the outcome of a batch. Both codes zero means success.
type Result struct {
	Natural int
	System  int
}

func (res *Result) Tag() int { return TagResult }

func (res *Result) Serialize(w *Writer) {
	w.Int(res.Natural)
	w.Int(res.System)
}

func (res *Result) Restore(r *Reader) error {
	res.Natural = r.Int()
	res.System = r.Int()
	return r.Err()
}

// ResultEx carries the texts of a failed batch and, for compile errors,
// the position of the error.
type ResultEx struct {
	ShortText  string
	SystemText string
	Row        int
	Column     int
	Object     string
	Library    string
}

func (res *ResultEx) Tag() int { return TagResultEx }

func (res *ResultEx) Serialize(w *Writer) {
	w.CodePageString(res.ShortText)
	w.CodePageString(res.SystemText)
	w.Int(res.Row)
	w.Int(res.Column)
	w.String(res.Object)
	w.String(res.Library)
}

func (res *ResultEx) Restore(r *Reader) error {
	res.ShortText = r.CodePageString()
	res.SystemText = r.CodePageString()
	if r.More() {
		res.Row = r.Int()
		res.Column = r.Int()
	}
	if r.More() {
		res.Object = r.String()
		res.Library = r.String()
	}
	return r.Err()
}

// Stack is a Natural command line placed on the server's stack.
type Stack struct {
	Command string
}

func (s *Stack) Tag() int { return TagStack }

func (s *Stack) Serialize(w *Writer) { w.CodePageString(s.Command) }

func (s *Stack) Restore(r *Reader) error {
	s.Command = r.CodePageString()
	return r.Err()
}

// Utility carries a free-form utility argument.
type Utility struct {
	Data string
}

func (u *Utility) Tag() int { return TagUtility }

func (u *Utility) Serialize(w *Writer) { w.String(u.Data) }

func (u *Utility) Restore(r *Reader) error {
	u.Data = r.String()
	return r.Err()
}

// CP names a code page. The logon batch declares the client's; the server
// answers with its default and, on request, the list it supports.
type CP struct {
	CodePage string
}

func (c *CP) Tag() int { return TagCP }

func (c *CP) Serialize(w *Writer) { w.String(c.CodePage) }

func (c *CP) Restore(r *Reader) error {
	c.CodePage = r.String()
	return r.Err()
}

// ClientConfig holds the server's identifier rules.
type ClientConfig struct {
	Ident1stValid  string
	IdentValid     string
	LabelFirstChar string
}

func (c *ClientConfig) Tag() int { return TagClientConfig }

func (c *ClientConfig) Serialize(w *Writer) {
	w.String(c.Ident1stValid)
	w.String(c.IdentValid)
	w.String(c.LabelFirstChar)
}

func (c *ClientConfig) Restore(r *Reader) error {
	c.Ident1stValid = r.String()
	if r.More() {
		c.IdentValid = r.String()
	}
	if r.More() {
		c.LabelFirstChar = r.String()
	}
	return r.Err()
}

// DevEnv reports whether the server runs a development environment.
type DevEnv struct {
	IsDevEnv bool
	Path     string
	HostName string
}

func (d *DevEnv) Tag() int { return TagDevEnv }

func (d *DevEnv) Serialize(w *Writer) {
	w.Bool(d.IsDevEnv)
	w.String(d.Path)
	w.String(d.HostName)
}

func (d *DevEnv) Restore(r *Reader) error {
	d.IsDevEnv = r.Bool()
	d.Path = r.String()
	if r.More() {
		d.HostName = r.String()
	}
	return r.Err()
}

// SysVar is one Natural system variable.
type SysVar struct {
	Kind  int
	Name  string
	Value string
}

func (s *SysVar) Tag() int { return TagSysVar }

func (s *SysVar) Serialize(w *Writer) {
	w.Int(s.Kind)
	w.String(s.Name)
	w.CodePageString(s.Value)
}

func (s *SysVar) Restore(r *Reader) error {
	s.Kind = r.Int()
	s.Name = r.String()
	s.Value = r.CodePageString()
	return r.Err()
}

// MonitorInfo attaches the session to a monitoring client.
type MonitorInfo struct {
	SessionID   string
	EventFilter string
}

func (m *MonitorInfo) Tag() int { return TagMonitorInfo }

func (m *MonitorInfo) Serialize(w *Writer) {
	w.String(m.SessionID)
	w.String(m.EventFilter)
}

func (m *MonitorInfo) Restore(r *Reader) error {
	m.SessionID = r.String()
	m.EventFilter = r.String()
	return r.Err()
}

// DbmsInfo describes one database the server can reach.
type DbmsInfo struct {
	DBID      int
	Type      int
	Parameter string
}

func (d *DbmsInfo) Tag() int { return TagDbmsInfo }

func (d *DbmsInfo) Serialize(w *Writer) {
	w.Int(d.DBID)
	w.Int(d.Type)
	w.String(d.Parameter)
}

func (d *DbmsInfo) Restore(r *Reader) error {
	d.DBID = r.Int()
	d.Type = r.Int()
	if r.More() {
		d.Parameter = r.String()
	}
	return r.Err()
}

// CmdGuard lists the command classes the server permits.
type CmdGuard struct {
	Allowed [4]int
}

func (c *CmdGuard) Tag() int { return TagCmdGuard }

func (c *CmdGuard) Serialize(w *Writer) {
	for _, v := range c.Allowed {
		w.Int(v)
	}
}

func (c *CmdGuard) Restore(r *Reader) error {
	for i := range c.Allowed {
		c.Allowed[i] = r.Int()
	}
	return r.Err()
}

// TimeStamp flag bits
const (
	TimeStampCheck       = 1
	TimeStampGet         = 2
	TimeStampNoOperation = 4
)

// TimeStamp carries an object's modification stamp for optimistic
// concurrency checks. Stamp uses the compact YYYYMMDDhhmm[ss[t]] form.
type TimeStamp struct {
	Flags int
	Stamp string
	User  string
}

func (t *TimeStamp) Tag() int { return TagTimeStamp }

func (t *TimeStamp) Serialize(w *Writer) {
	w.Int(t.Flags)
	w.String(t.Stamp)
	w.String(t.User)
}

func (t *TimeStamp) Restore(r *Reader) error {
	t.Flags = r.Int()
	t.Stamp = r.String()
	if r.More() {
		t.User = r.String()
	}
	return r.Err()
}
