// Package ndv is a client for Natural Development Server sessions.
//
// A Session logs on to a server, lists libraries and objects, transfers
// sources and binaries, and drives the remote debugger. Every operation
// is a single request and reply on the underlying pal.Transport; a Session
// is not safe for concurrent use.
package ndv

import (
	"strconv"
	"strings"

	"github.com/drunlade/go-ndv/pal"
)

// Records that are part of the API.
type (
	SystemFile        = pal.SystemFile
	LibID             = pal.LibID
	Library           = pal.Library
	Object            = pal.Object
	LibraryStatistics = pal.LibraryStatistics
)

// Object kinds
const (
	Source       = pal.KindSource
	GP           = pal.KindGP
	SourceOrGP   = pal.KindSourceOrGP
	Resource     = pal.KindResource
	ErrorMessage = pal.KindErrMsg
)

// Pseudo object types
const (
	// TypeAll matches every object type in listings.
	TypeAll = 0

	// TypeAny matches any type when checking for existence.
	TypeAny = 131072

	TypeErrMsg   = pal.TypeErrMsg
	TypeResource = pal.TypeResource
)

// ObjectType describes one Natural object type.
type ObjectType struct {
	ID        int
	Name      string
	Extension string
}

// Natural object types
var (
	TypeGDA         = ObjectType{1, "Global Data Area", "NSG"}
	TypeLDA         = ObjectType{2, "Local Data Area", "NSL"}
	TypePDA         = ObjectType{4, "Parameter Data Area", "NSA"}
	TypeDDM         = ObjectType{8, "DDM", "NSD"}
	TypeProgram     = ObjectType{16, "Program", "NSP"}
	TypeSubprogram  = ObjectType{32, "Subprogram", "NSN"}
	TypeMap         = ObjectType{64, "Map", "NSM"}
	TypeCopycode    = ObjectType{128, "Copycode", "NSC"}
	TypeSubroutine  = ObjectType{256, "Subroutine", "NSS"}
	TypeHelproutine = ObjectType{512, "Helproutine", "NSH"}
	TypeClass       = ObjectType{1024, "Class", "NS4"}
	TypeDialog      = ObjectType{2048, "Dialog", "NS3"}
	TypeText        = ObjectType{4096, "Text", "NST"}
	TypeFunction    = ObjectType{524288, "Function", "NS8"}
	TypeAdapter     = ObjectType{2097152, "Adapter", "NS6"}
	TypeRes         = ObjectType{65536, "Resource", "NS7"}
)

// ObjectTypes lists the object types in server order.
var ObjectTypes = []ObjectType{
	TypeGDA, TypeLDA, TypePDA, TypeDDM, TypeProgram, TypeSubprogram, TypeMap,
	TypeCopycode, TypeSubroutine, TypeHelproutine, TypeClass, TypeDialog,
	TypeText, TypeFunction, TypeAdapter, TypeRes,
}

// LookupObjectType returns the object type with the given id.
func LookupObjectType(id int) (ObjectType, bool) {
	for _, t := range ObjectTypes {
		if t.ID == id {
			return t, true
		}
	}
	return ObjectType{}, false
}

// ObjectTypeByExtension returns the object type stored in files with the
// given extension, such as "NSP".
func ObjectTypeByExtension(ext string) (ObjectType, bool) {
	for _, t := range ObjectTypes {
		if strings.EqualFold(t.Extension, ext) {
			return t, true
		}
	}
	return ObjectType{}, false
}

// hasLineNumberReferences reports whether sources of the type may refer to
// their own line numbers.
func hasLineNumberReferences(natType int) bool {
	switch natType {
	case TypeGDA.ID, TypeLDA.ID, TypePDA.ID, TypeText.ID, TypeDDM.ID:
		return false
	}
	return true
}

// Platform is the operating system family of the server.
type Platform int

const (
	PlatformMainframe Platform = iota + 1
	PlatformUnix
	PlatformWindows
	PlatformOpenVMS
)

func platformOf(opsys string) Platform {
	switch opsys {
	case "UNIX":
		return PlatformUnix
	case "PC":
		return PlatformWindows
	case "VMS":
		return PlatformOpenVMS
	}
	return PlatformMainframe
}

// IsMainframe reports whether the server runs on a mainframe.
func (p Platform) IsMainframe() bool { return p == PlatformMainframe }

// IsOpenSystems reports whether the server runs on UNIX, Windows or OpenVMS.
func (p Platform) IsOpenSystems() bool {
	return p == PlatformUnix || p == PlatformWindows || p == PlatformOpenVMS
}

func (p Platform) String() string {
	switch p {
	case PlatformMainframe:
		return "mainframe"
	case PlatformUnix:
		return "UNIX"
	case PlatformWindows:
		return "Windows"
	case PlatformOpenVMS:
		return "OpenVMS"
	default:
		return "unknown"
	}
}

// AttachType is the kind of session a server attaches to.
type AttachType int

const (
	AttachNDV AttachType = iota
	AttachRPC
	AttachNAT
	AttachNJX
)

// ServerProperties describe the server of a connected session.
type ServerProperties struct {
	Platform        Platform
	NdvVersion      int
	NaturalVersion  int
	PalVersion      int
	SessionID       string
	DefaultCodePage string
	LogonLibrary    string
	LogonCounter    int
	WebVersion      int
	StartupCommands string
	AttachType      AttachType

	UnicodeSourcePossible bool
	WebIOServer           bool
	TimestampChecks       bool

	DevEnv     bool
	DevEnvPath string
	HostName   string
}

// NdvMajorVersion returns the first three digits of the server version.
func (p *ServerProperties) NdvMajorVersion() int {
	s := strconv.Itoa(p.NdvVersion)
	if len(s) > 3 {
		s = s[:3]
	}
	v, _ := strconv.Atoi(s)
	return v
}

func propertiesFromEnviron(env *pal.Environ) *ServerProperties {
	p := &ServerProperties{
		Platform:              platformOf(env.OpSys),
		NdvVersion:            env.NdvVersion,
		NaturalVersion:        env.NaturalVersion,
		PalVersion:            env.PalVersion,
		SessionID:             env.SessionID,
		LogonCounter:          env.LogonCounter,
		WebVersion:            env.WebVersion,
		StartupCommands:       env.StartupCommands,
		UnicodeSourcePossible: env.Flags&pal.EnvironUnicodeSource != 0,
		WebIOServer:           env.Flags&pal.EnvironWebIO != 0,
		TimestampChecks:       env.Flags&pal.EnvironTimestampCheck != 0,
	}
	switch {
	case env.Flags&pal.EnvironAttachRPC != 0:
		p.AttachType = AttachRPC
	case env.Flags&pal.EnvironAttachNAT != 0:
		p.AttachType = AttachNAT
	case env.Flags&pal.EnvironAttachNJX != 0:
		p.AttachType = AttachNJX
	}
	return p
}

// FileProperties describe the object of a transfer.
type FileProperties struct {
	Name     string
	LongName string
	Kind     int
	Type     int

	// BaseLibrary is sent with uploads and compiles when set.
	BaseLibrary string

	Structured bool
	User       string
	DBID       int
	FNR        int

	// Size is the source size. Zero means it is computed from the lines.
	Size int

	// LineIncrement is the step of the line numbers added on upload and
	// is set from the server's numbering on download.
	LineIncrement int

	// LabelPrefix overrides the internal label prefix.
	LabelPrefix string

	// CodePage names the character set of the source.
	CodePage string

	// OldDataArea uploads data areas in the pre-version-2 format.
	OldDataArea bool

	// LinkedDDM marks a DDM that is read from the DDM file rather than
	// from the library.
	LinkedDDM bool

	// TimeStamp is sent for optimistic concurrency checks. The server's
	// stamp overwrites it after every transfer.
	TimeStamp *TimeStamp
}
