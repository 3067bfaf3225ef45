package pal

import (
	"fmt"
	"strings"
)

// NatParm sections. A NatParm record carries exactly one of them.
const (
	ParmReport = iota
	ParmLimit
	ParmFldApp
	ParmCharAssign
	ParmErr
	ParmCompOpt
	ParmRpc
	ParmBuffSize
	ParmRegional
	numParmSections
)

// Compiler option flags
const (
	CompOptRPCRetry  = 1
	CompOptFS        = 8
	CompOptSM        = 16
	CompOptSymGen    = 32
	CompOptGFID      = 512
	CompOptXRef      = 2048
	CompOptXRefForce = 65536
	CompOptXRefDoc   = 131072
)

// Error handling flags
const (
	ErrOptSA    = 1
	ErrOptZD    = 2
	ErrOptReinp = 4
	ErrOptWH    = 8
)

// Field appearance flags
const (
	FldAppZP        = 1
	FldAppFCDP      = 2
	FldAppTS        = 4
	FldAppMsgTop    = 8
	FldAppMsgBottom = 16
)

// NatParm holds one section of the Natural session parameters.
type NatParm struct {
	Index int

	Report     Report
	Limit      Limit
	FldApp     FldApp
	CharAssign CharAssign
	Err        ErrParm
	CompOpt    CompOpt
	Rpc        Rpc
	BuffSize   BuffSize
	Regional   Regional
}

type Report struct {
	Flags         int
	LineSize      int
	PageSize      int
	SpacingFactor int
	TerminalMode  byte
}

type Limit struct {
	Flags               int
	ProcessingLoopLimit int
	MaximumCPUTime      int
	PageDataSet         int
}

type FldApp struct {
	Flags            int
	DateFormatOutput byte
	DateFormatStack  byte
	DateFormatTitle  byte
	PrintMode        byte
	DateFormat       byte
	MaxYear          int
}

type CharAssign struct {
	TermCommandChar   byte
	DecimalChar       byte
	InputAssignment   byte
	InputDelimiter    byte
	ThousandSeparator byte
}

type ErrParm struct {
	Flags int
}

type CompOpt struct {
	Flags            int
	SourceLineLength int
	MaxPrec          int
}

type Rpc struct {
	Flags       int
	Compression int
	Timeout     int
}

type BuffSize struct {
	EdtSize int
	Size2   int
	Size3   int
	Size4   int
	Size5   int
}

type Regional struct {
	UTF8     bool
	Retain   bool
	ConvErr  bool
	CodePage string
}

func (p *NatParm) Tag() int { return TagNatParm }

func (p *NatParm) Serialize(w *Writer) {
	if p.Index < 0 || p.Index >= numParmSections {
		return
	}
	w.Int(p.Index)
	switch p.Index {
	case ParmReport:
		w.Int(p.Report.Flags)
		w.Int(p.Report.LineSize)
		w.Int(p.Report.PageSize)
		w.Int(p.Report.SpacingFactor)
		w.Byte(p.Report.TerminalMode)
	case ParmLimit:
		w.Int(p.Limit.Flags)
		w.Int(p.Limit.ProcessingLoopLimit)
		w.Int(p.Limit.MaximumCPUTime)
		w.Int(p.Limit.PageDataSet)
	case ParmFldApp:
		w.Int(p.FldApp.Flags)
		w.Byte(p.FldApp.DateFormatOutput)
		w.Byte(p.FldApp.DateFormatStack)
		w.Byte(p.FldApp.DateFormatTitle)
		w.Byte(p.FldApp.PrintMode)
		w.Byte(p.FldApp.DateFormat)
		w.Int(p.FldApp.MaxYear)
	case ParmCharAssign:
		w.Byte(p.CharAssign.TermCommandChar)
		w.Byte(p.CharAssign.DecimalChar)
		w.Byte(p.CharAssign.InputAssignment)
		w.Byte(p.CharAssign.InputDelimiter)
		w.Byte(p.CharAssign.ThousandSeparator)
	case ParmErr:
		w.Int(p.Err.Flags)
	case ParmCompOpt:
		w.Int(p.CompOpt.Flags)
		w.Int(p.CompOpt.SourceLineLength)
		w.Int(p.CompOpt.MaxPrec)
	case ParmRpc:
		w.Int(p.Rpc.Flags)
		w.Int(p.Rpc.Compression)
		w.Int(p.Rpc.Timeout)
	case ParmBuffSize:
		w.Int(p.BuffSize.EdtSize)
		w.Int(p.BuffSize.Size2)
		w.Int(p.BuffSize.Size3)
		w.Int(p.BuffSize.Size4)
		w.Int(p.BuffSize.Size5)
	case ParmRegional:
		w.Bool(p.Regional.UTF8)
		w.Bool(p.Regional.Retain)
		w.Bool(p.Regional.ConvErr)
		w.String(p.Regional.CodePage)
	}
}

func (p *NatParm) Restore(r *Reader) error {
	p.Index = r.Int()
	switch p.Index {
	case ParmReport:
		p.Report = Report{
			Flags:         r.Int(),
			LineSize:      r.Int(),
			PageSize:      r.Int(),
			SpacingFactor: r.Int(),
			TerminalMode:  r.Byte(),
		}
	case ParmLimit:
		p.Limit = Limit{
			Flags:               r.Int(),
			ProcessingLoopLimit: r.Int(),
			MaximumCPUTime:      r.Int(),
			PageDataSet:         r.Int(),
		}
	case ParmFldApp:
		f := FldApp{Flags: r.Int()}
		f.DateFormatOutput = r.Byte()
		f.DateFormatStack = r.Byte()
		f.DateFormatTitle = r.Byte()
		f.PrintMode = r.Byte()
		if r.More() {
			f.DateFormat = r.Byte()
		}
		if r.More() {
			f.MaxYear = r.Int()
		}
		p.FldApp = f
	case ParmCharAssign:
		c := CharAssign{
			TermCommandChar: r.Byte(),
			DecimalChar:     r.Byte(),
			InputAssignment: r.Byte(),
			InputDelimiter:  r.Byte(),
		}
		if r.More() {
			c.ThousandSeparator = r.Byte()
		}
		p.CharAssign = c
	case ParmErr:
		p.Err.Flags = r.Int()
	case ParmCompOpt:
		c := CompOpt{Flags: r.Int(), SourceLineLength: r.Int()}
		if r.More() {
			c.MaxPrec = r.Int()
		}
		p.CompOpt = c
	case ParmRpc:
		p.Rpc = Rpc{Flags: r.Int(), Compression: r.Int(), Timeout: r.Int()}
	case ParmBuffSize:
		p.BuffSize = BuffSize{
			EdtSize: r.Int(),
			Size2:   r.Int(),
			Size3:   r.Int(),
			Size4:   r.Int(),
			Size5:   r.Int(),
		}
	case ParmRegional:
		p.Regional = Regional{
			UTF8:    r.Bool(),
			Retain:  r.Bool(),
			ConvErr: r.Bool(),
		}
		p.Regional.CodePage = r.String()
	default:
		r.fail(fmt.Sprintf("unknown parameter section %d", p.Index))
	}
	return r.Err()
}

// String renders the section the way Natural profile parameters are written.
func (p *NatParm) String() string {
	var b strings.Builder
	on := func(flags, bit int, name string) {
		if flags&bit == bit {
			b.WriteString(name + "=ON ")
		}
	}
	char := func(c byte, name string) {
		if c != 0 {
			fmt.Fprintf(&b, "%s=%c ", name, c)
		}
	}
	num := func(v int, name string) {
		if v != 0 {
			fmt.Fprintf(&b, "%s=%d ", name, v)
		}
	}
	switch p.Index {
	case ParmReport:
		num(p.Report.LineSize, "LS")
		num(p.Report.PageSize, "PS")
		num(p.Report.SpacingFactor, "SF")
		char(p.Report.TerminalMode, "IM")
	case ParmLimit:
		num(p.Limit.ProcessingLoopLimit, "LT")
		num(p.Limit.MaximumCPUTime, "MCPU")
		num(p.Limit.PageDataSet, "PAGEDATASET")
	case ParmFldApp:
		on(p.FldApp.Flags, FldAppZP, "ZP")
		on(p.FldApp.Flags, FldAppFCDP, "FCDP")
		on(p.FldApp.Flags, FldAppTS, "TS")
		char(p.FldApp.DateFormatOutput, "DFOUT")
		char(p.FldApp.DateFormatStack, "DFSTACK")
		char(p.FldApp.DateFormatTitle, "DFTITLE")
		char(p.FldApp.PrintMode, "PM")
		char(p.FldApp.DateFormat, "DTFORM")
		num(p.FldApp.MaxYear, "MAXYEAR")
	case ParmCharAssign:
		char(p.CharAssign.TermCommandChar, "CF")
		char(p.CharAssign.DecimalChar, "DC")
		char(p.CharAssign.InputAssignment, "IA")
		char(p.CharAssign.InputDelimiter, "ID")
		char(p.CharAssign.ThousandSeparator, "THSEPCH")
	case ParmErr:
		on(p.Err.Flags, ErrOptSA, "SA")
		on(p.Err.Flags, ErrOptZD, "ZD")
		on(p.Err.Flags, ErrOptReinp, "REINP")
		on(p.Err.Flags, ErrOptWH, "WH")
	case ParmCompOpt:
		f := p.CompOpt.Flags
		if f&CompOptFS != 0 {
			b.WriteString("FS ")
		}
		if f&CompOptSM != 0 {
			b.WriteString("SM=ON ")
		} else {
			b.WriteString("SM=OFF ")
		}
		if f&CompOptSymGen != 0 {
			b.WriteString("SYMGEN=ON ")
		} else {
			b.WriteString("SYMGEN=OFF ")
		}
		on(f, CompOptGFID, "GFID")
		on(f, CompOptXRef, "XREF")
		if f&CompOptXRefForce != 0 {
			b.WriteString("XREF=FORCE ")
		}
		if f&CompOptXRefDoc != 0 {
			b.WriteString("XREF=DOC ")
		}
		if f&CompOptRPCRetry != 0 {
			b.WriteString("RPCRETRY ")
		}
		if p.CompOpt.MaxPrec >= 7 && p.CompOpt.MaxPrec <= 29 {
			num(p.CompOpt.MaxPrec, "MAXPREC")
		}
	case ParmBuffSize:
		num(p.BuffSize.EdtSize, "EDTBPSIZE")
	case ParmRegional:
		if p.Regional.CodePage != "" {
			fmt.Fprintf(&b, "CP=%s ", p.Regional.CodePage)
		}
	}
	return strings.TrimSpace(b.String())
}
