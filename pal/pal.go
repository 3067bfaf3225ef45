// Package pal implements the typed-record transport spoken by Natural
// Development Servers.
//
// Every request is a batch of records grouped by type tag. A batch is
// committed as one or more NATSPOD packets of at most 4000 bytes and the
// server answers with exactly one batch, which is demultiplexed by tag.
// The transport does not interpret the records it moves.
package pal

// Packet layout
const (
	// PacketSize is the maximum size of a packet including its header.
	PacketSize = 4000

	// HeaderSize is the size of the fixed packet header.
	HeaderSize = 26

	// Magic opens every packet header.
	Magic = "NATSPOD"

	// payloadStart is where the transaction-size slot begins.
	payloadStart = HeaderSize

	// recordsStart is where the first type block begins.
	recordsStart = payloadStart + 12

	countFieldSize = 12

	// overhead of the first record of a type block and of each further record
	firstOverhead = 42
	nextOverhead  = 24
)

// Header field offsets
const (
	hdrLengthOff  = 7
	hdrEntriesOff = 15
	hdrPayloadOff = 18
	hdrFormatOff  = 25
)

// Record and packet markers
const (
	MarkPacketFull = 32001 // next packet restarts with a type header
	MarkContinued  = 32002 // record continues in the next packet
	MarkRecordEnd  = 32003
	MarkBatchEnd   = 32004
)

// Control signals
var (
	nextChunkSignal  = []byte("NATSPODNEXTCHUNK          ")
	disconnectSignal = []byte("NATSPODDISCONNECT         ")
)

// Protocol versions that change the framing.
const (
	// VersionChunkAck is the first version that acknowledges interim packets.
	VersionChunkAck = 17

	// VersionDisconnect is the first version that understands the disconnect signal.
	VersionDisconnect = 47
)

// Record type tags
const (
	TagEnviron           = 0
	TagConnect           = 1
	TagOperation         = 2
	TagSystemFile        = 3
	TagLibraryStatistics = 4
	TagLibrary           = 5
	TagLibID             = 6
	TagObjDesc           = 7
	TagObject            = 8
	TagStack             = 9
	TagResult            = 10
	TagResultEx          = 11
	TagSourceCodePage    = 12
	TagStream            = 13
	TagUtility           = 14
	TagSrcDesc           = 15
	TagNotify            = 19
	TagGeneric           = 20
	TagFileID            = 23
	TagBinaryStream      = 24
	TagNatParm           = 25
	TagSQLAuthentication = 26
	TagCmdGuard          = 27
	TagSysVar            = 28
	TagObjDesc2          = 29
	TagLibIDSearchOrder  = 30
	TagDbgStackFrame     = 34
	TagDbgStatus         = 35
	TagDbgVarContainer   = 36
	TagDbgSyt            = 37
	TagDbgVarDesc        = 38
	TagDbgVarValue       = 39
	TagDbgSpy            = 40
	TagSourceUnicode     = 42
	TagCP                = 45
	TagLibIDTarget       = 46
	TagSourceCP          = 48
	TagDbmsInfo          = 49
	TagClientConfig      = 50
	TagDevEnv            = 52
	TagDbgNatStack       = 53
	TagTimeStamp         = 54
	TagDbgaRecord        = 55
	TagMonitorInfo       = 56

	// MaxTag is the highest tag the protocol defines.
	MaxTag = 56
)

var tagNames = map[int]string{
	TagEnviron:           "ENVIRON",
	TagConnect:           "CONNECT",
	TagOperation:         "OPERATION",
	TagSystemFile:        "SYSFILE",
	TagLibraryStatistics: "LIBSTAT",
	TagLibrary:           "LIBRARY",
	TagLibID:             "LIBID",
	TagObjDesc:           "OBJDESC",
	TagObject:            "OBJECT",
	TagStack:             "STACK",
	TagResult:            "RESULT",
	TagResultEx:          "RESULTEX",
	TagSourceCodePage:    "SOURCE",
	TagStream:            "STREAM",
	TagUtility:           "UTILITY",
	TagSrcDesc:           "SRCDESC",
	TagNotify:            "NOTIFY",
	TagGeneric:           "GENERIC",
	TagFileID:            "FILEID",
	TagBinaryStream:      "BINSTREAM",
	TagNatParm:           "NATPARM",
	TagSQLAuthentication: "SQLAUTH",
	TagCmdGuard:          "CMDGUARD",
	TagSysVar:            "SYSVAR",
	TagObjDesc2:          "OBJDESC2",
	TagLibIDSearchOrder:  "LIBID-SEARCH",
	TagDbgStackFrame:     "DBG-FRAME",
	TagDbgStatus:         "DBG-STATUS",
	TagDbgVarContainer:   "DBG-VARCONT",
	TagDbgSyt:            "DBG-SYT",
	TagDbgVarDesc:        "DBG-VARDESC",
	TagDbgVarValue:       "DBG-VARVALUE",
	TagDbgSpy:            "DBG-SPY",
	TagSourceUnicode:     "SOURCE-UNICODE",
	TagCP:                "CP",
	TagLibIDTarget:       "LIBID-TARGET",
	TagSourceCP:          "SOURCE-CP",
	TagDbmsInfo:          "DBMSINFO",
	TagClientConfig:      "CLIENTCONFIG",
	TagDevEnv:            "DEVENV",
	TagDbgNatStack:       "DBG-NATSTACK",
	TagTimeStamp:         "TIMESTAMP",
	TagDbgaRecord:        "DBGA",
	TagMonitorInfo:       "MONITORINFO",
}

// TagName returns the human-readable name for a record tag.
// Returns "UNKNOWN" for tags the client has no record type for.
func TagName(tag int) string {
	if name, ok := tagNames[tag]; ok {
		return name
	}
	return "UNKNOWN"
}

// ValidTag reports whether tag is inside the protocol's tag range.
func ValidTag(tag int) bool {
	return tag >= 0 && tag <= MaxTag
}
