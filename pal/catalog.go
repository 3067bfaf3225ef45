package pal

import "strconv"

// SystemFile kinds
const (
	SysFileFNAT   = 1
	SysFileFUSER  = 2
	SysFileInact  = 3
	SysFileFSEC   = 4
	SysFileFDIC   = 5
	SysFileFDDM   = 6
	SysFileCustom = 7
)

// SystemFile is a library container the server exposes.
type SystemFile struct {
	DBID     int
	FNR      int
	Password string
	Cipher   string
	ReadOnly bool
	Kind     int
	Location string
	Alias    string
}

func (s *SystemFile) Tag() int { return TagSystemFile }

func (s *SystemFile) Serialize(w *Writer) {
	w.Int(s.DBID)
	w.Int(s.FNR)
	w.String(s.Password)
	w.String(s.Cipher)
	if s.ReadOnly {
		w.Int(1)
	} else {
		w.Int(0)
	}
	w.Int(s.Kind)
	w.String(s.Location)
	w.String(s.Alias)
}

func (s *SystemFile) Restore(r *Reader) error {
	s.DBID = r.Int()
	s.FNR = r.Int()
	s.Password = r.String()
	s.Cipher = r.String()
	s.ReadOnly = r.Int() == 1
	s.Kind = r.Int()
	// mainframe servers report the DDM file with the FDIC kind
	if r.Mainframe && s.Kind == SysFileFDIC {
		s.Kind = SysFileFDDM
	}
	s.Location = r.String()
	if r.More() {
		s.Alias = r.String()
	}
	return r.Err()
}

// LibID addresses a library inside a system file. The same layout serves
// the primary library (tag 6), a search-order or base library (tag 30) and
// a copy target (tag 46).
type LibID struct {
	Type     int
	DBID     int
	FNR      int
	Library  string
	Password string
	Cipher   string
}

// NewLibID returns a primary library id.
func NewLibID(dbid, fnr int, library string) *LibID {
	return &LibID{Type: TagLibID, DBID: dbid, FNR: fnr, Library: library}
}

func (l *LibID) Tag() int {
	if l.Type == 0 {
		return TagLibID
	}
	return l.Type
}

func (l *LibID) Serialize(w *Writer) {
	w.Int(l.DBID)
	w.Int(l.FNR)
	w.String(l.Library)
	w.String(l.Password)
	w.String(l.Cipher)
}

func (l *LibID) Restore(r *Reader) error {
	l.DBID = r.Int()
	l.FNR = r.Int()
	l.Library = r.String()
	l.Password = r.String()
	l.Cipher = r.String()
	return r.Err()
}

// Library is one entry of a library listing.
type Library struct {
	Name  string
	Flags int
}

func (l *Library) Tag() int { return TagLibrary }

func (l *Library) Serialize(w *Writer) {
	w.String(l.Name)
	w.Int(l.Flags)
}

func (l *Library) Restore(r *Reader) error {
	l.Name = r.String()
	if r.More() {
		l.Flags = r.Int()
	}
	return r.Err()
}

// ObjDesc selects objects by type, kind and name pattern. Tag 7 is used
// for single-object requests, tag 29 for listings.
type ObjDesc struct {
	Type    int
	NatType int
	Kind    int
	Name    string
}

func (o *ObjDesc) Tag() int {
	if o.Type == 0 {
		return TagObjDesc
	}
	return o.Type
}

func (o *ObjDesc) Serialize(w *Writer) {
	w.Int(o.NatType)
	w.Int(o.Kind)
	w.String(o.Name)
}

func (o *ObjDesc) Restore(r *Reader) error {
	o.NatType = r.Int()
	o.Kind = r.Int()
	o.Name = r.String()
	return r.Err()
}

// Date is the day-first date layout of object records.
type Date struct {
	Day, Month, Year, Hour, Minute int
}

func (d Date) write(w *Writer) {
	w.Int(d.Day)
	w.Int(d.Month)
	w.Int(d.Year)
	w.Int(d.Hour)
	w.Int(d.Minute)
}

func readDate(r *Reader) Date {
	return Date{Day: r.Int(), Month: r.Int(), Year: r.Int(), Hour: r.Int(), Minute: r.Int()}
}

// Object kinds and types as the server encodes them.
const (
	KindSource     = 1
	KindGP         = 2
	KindSourceOrGP = 3
	KindResource   = 16
	KindErrMsg     = 64

	TypeDDM      = 8
	TypeErrMsg   = 32768
	TypeResource = 65536
)

// ErrorMessageLanguages names the Natural language codes that error message
// objects are stored under.
var ErrorMessageLanguages = []string{
	"English", "German", "French", "Spanish", "Italian", "Dutch", "Turkish",
	"Danish", "Norwegian", "Albanian", "Portuguese", "Chinese", "Czech",
	"Slovakian", "Hungarian", "Japanese",
}

// Object is one entry of an object listing.
type Object struct {
	Name       string
	LongName   string
	User       string
	SourceSize int
	GPSize     int
	Kind       int
	NatType    int
	DBID       int
	FNR        int
	Structured bool
	SourceDate Date
	GPDate     Date
	AccessDate Date
	GPUser     string
	CodePage   string
	Flags      int
}

func (o *Object) Tag() int { return TagObject }

func (o *Object) Serialize(w *Writer) {
	w.String(o.Name)
	w.String(o.LongName)
	w.String(o.User)
	w.Int(o.SourceSize)
	w.Int(o.GPSize)
	w.Int(o.Kind)
	w.Int(o.NatType)
	w.Int(o.DBID)
	w.Int(o.FNR)
	if o.Structured {
		w.Int(1)
	} else {
		w.Int(0)
	}
	o.SourceDate.write(w)
	o.GPDate.write(w)
	o.AccessDate.write(w)
	w.String(o.GPUser)
	w.String(o.CodePage)
	w.Int(o.Flags)
}

func (o *Object) Restore(r *Reader) error {
	o.Name = r.String()
	o.LongName = r.String()
	o.User = r.String()
	o.SourceSize = r.Int()
	o.GPSize = r.Int()
	o.Kind = r.Int()
	o.NatType = r.Int()
	o.DBID = r.Int()
	o.FNR = r.Int()
	if o.Kind == KindErrMsg || o.NatType == TypeErrMsg {
		// error message objects are named by language number
		if n, err := strconv.Atoi(o.Name); err == nil && n >= 1 && n <= len(ErrorMessageLanguages) {
			o.LongName = ErrorMessageLanguages[n-1]
		}
		if o.Kind == 0 {
			o.Kind = KindErrMsg
		}
	}
	if o.NatType == TypeResource && o.Kind == 0 {
		o.Kind = KindResource
	}
	o.Structured = r.Int() != 0
	o.SourceDate = readDate(r)
	o.GPDate = readDate(r)
	if r.More() {
		o.AccessDate = readDate(r)
	}
	if r.More() {
		o.GPUser = r.String()
	}
	if r.More() {
		o.CodePage = r.String()
	}
	if r.More() {
		o.Flags = r.Int()
	}
	return r.Err()
}

// TypeCount is the per-type part of a library statistics record.
type TypeCount struct {
	NatType int
	Count   int
	Size    int
}

// LibraryStatistics summarizes the contents of a library.
type LibraryStatistics struct {
	Library           string
	NumSources        int
	SizeSources       int
	NumGPs            int
	SizeGPs           int
	NumResources      int
	SizeResources     int
	NumErrorMessages  int
	SizeErrorMessages int
	NumBytes          int
	NumObjects        int
	Types             []TypeCount
	Modified          Date
	Flags             int
}

func (l *LibraryStatistics) Tag() int { return TagLibraryStatistics }

func (l *LibraryStatistics) Serialize(w *Writer) {
	w.String(l.Library)
	w.Int(l.NumSources)
	w.Int(l.SizeSources)
	w.Int(l.NumGPs)
	w.Int(l.SizeGPs)
	w.Int(l.NumResources)
	w.Int(l.SizeResources)
	w.Int(l.NumErrorMessages)
	w.Int(l.SizeErrorMessages)
	w.Int(l.NumBytes)
	w.Int(l.NumObjects)
	w.Int(len(l.Types))
	for _, t := range l.Types {
		w.Int(t.NatType)
		w.Int(t.Count)
		w.Int(t.Size)
	}
	l.Modified.write(w)
	w.Int(l.Flags)
}

func (l *LibraryStatistics) Restore(r *Reader) error {
	l.Library = r.String()
	l.NumSources = r.Int()
	l.SizeSources = r.Int()
	l.NumGPs = r.Int()
	l.SizeGPs = r.Int()
	l.NumResources = r.Int()
	l.SizeResources = r.Int()
	l.NumErrorMessages = r.Int()
	l.SizeErrorMessages = r.Int()
	l.NumBytes = r.Int()
	l.NumObjects = r.Int()
	n := r.Int()
	l.Types = nil
	for i := 0; i < n && r.Err() == nil; i++ {
		l.Types = append(l.Types, TypeCount{NatType: r.Int(), Count: r.Int(), Size: r.Int()})
	}
	l.Modified = readDate(r)
	if r.More() {
		l.Flags = r.Int()
	}
	return r.Err()
}
