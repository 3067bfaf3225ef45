package ndv

import (
	"context"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/drunlade/go-ndv/pal"
)

// Compiler option flags the server configuration exposes beyond the ones
// the transport names.
const (
	compOptDBShortName  = 64
	compOptCallnatCheck = 4096
	compOptKeywordCheck = 8192
	compOptDynThousands = 16384
	compOptRenConst     = 1048576
)

const (
	defaultLoopLimit = 99999999
	defaultMaxYear   = 2699
	defaultMaxPrec   = 7
	maxMaxPrec       = 29
)

// generic record kind that marks a configuration as private
const genericPrivateMode = 4

// parm returns the NatParm record of a section, or nil.
func (s *Session) parm(section int) *pal.NatParm {
	for _, p := range s.natParms {
		if p.Index == section {
			return p
		}
	}
	return nil
}

// loadServerConfig fetches the session parameters, the client rules and
// the DBMS assignments. initial is set for the fetch right after logon.
func (s *Session) loadServerConfig(ctx context.Context, initial bool) (err error) {
	if err := s.requireConnected(); err != nil {
		return err
	}
	ctx, end := s.start(ctx, "server_config", attribute.Bool("ndv.initial", initial))
	defer end(&err)

	op := &pal.Operation{Code: opServerConfig, SubKey: 1}
	if initial {
		op.Flags = 1
	}
	if err := s.call(ctx, op); err != nil {
		return err
	}
	if s.natParms, err = retrieve[*pal.NatParm](s, pal.TagNatParm); err != nil {
		return err
	}
	if s.clientConfig, err = first[*pal.ClientConfig](s, pal.TagClientConfig); err != nil {
		return err
	}
	if s.dbmsInfo, err = retrieve[*pal.DbmsInfo](s, pal.TagDbmsInfo); err != nil {
		return err
	}
	_, err = s.SystemVariables(ctx)
	return err
}

// ServerConfiguration returns the Natural session parameters of the
// server. refresh fetches them again; otherwise the values loaded at logon
// are used. Setters change the local copy until SendToServer is called.
func (s *Session) ServerConfiguration(ctx context.Context, refresh bool) (*ServerConfiguration, error) {
	if refresh {
		if err := s.loadServerConfig(ctx, false); err != nil {
			return nil, err
		}
		s.serverConfig = nil
	}
	if s.natParms == nil {
		return nil, illegalState("server data (natparm) not available, connect first")
	}
	if s.serverConfig == nil {
		s.serverConfig = &ServerConfiguration{session: s}
	}
	return s.serverConfig, nil
}

// PutServerConfiguration sends the session parameters and system variables
// back to the server. private keeps the change to this session.
func (s *Session) PutServerConfiguration(ctx context.Context, private bool) (err error) {
	if err := s.requireConnected(); err != nil {
		return err
	}
	ctx, end := s.start(ctx, "put_server_config", attribute.Bool("ndv.private", private))
	defer end(&err)

	privateFlag := 0
	if private {
		privateFlag = 1
	}
	recs := []pal.Record{&pal.Operation{Code: opServerConfig, SubKey: 2}}
	for _, p := range s.natParms {
		recs = append(recs, p)
	}
	recs = append(recs, &pal.Generic{Kind: genericPrivateMode, Data: privateFlag})
	if err := s.call(ctx, recs...); err != nil {
		return err
	}

	// older open systems servers keep their system variables
	if s.props.Platform.IsMainframe() || s.props.PalVersion > 37 {
		recs = []pal.Record{&pal.Operation{Code: opSystemVars, SubKey: 2}}
		for _, v := range s.sysVars {
			recs = append(recs, v)
		}
		return s.call(ctx, recs...)
	}
	return nil
}

// ServerConfiguration is a live view of the session parameters.
type ServerConfiguration struct {
	session *Session

	// PrivateMode makes SendToServer change this session only.
	PrivateMode bool
}

// SendToServer writes the configuration back to the server.
func (c *ServerConfiguration) SendToServer(ctx context.Context) error {
	return c.session.PutServerConfiguration(ctx, c.PrivateMode)
}

func (c *ServerConfiguration) compOpt() *pal.CompOpt {
	if p := c.session.parm(pal.ParmCompOpt); p != nil {
		return &p.CompOpt
	}
	return nil
}

func (c *ServerConfiguration) fldApp() *pal.FldApp {
	if p := c.session.parm(pal.ParmFldApp); p != nil {
		return &p.FldApp
	}
	return nil
}

func (c *ServerConfiguration) charAssign() *pal.CharAssign {
	if p := c.session.parm(pal.ParmCharAssign); p != nil {
		return &p.CharAssign
	}
	return nil
}

func (c *ServerConfiguration) report() *pal.Report {
	if p := c.session.parm(pal.ParmReport); p != nil {
		return &p.Report
	}
	return nil
}

func (c *ServerConfiguration) compFlag(bit int, def bool) bool {
	if co := c.compOpt(); co != nil {
		return co.Flags&bit != 0
	}
	return def
}

func (c *ServerConfiguration) setCompFlag(bit int, on bool) {
	if co := c.compOpt(); co != nil {
		co.Flags = setBit(co.Flags, bit, on)
	}
}

func (c *ServerConfiguration) fldFlag(bit int) bool {
	if fa := c.fldApp(); fa != nil {
		return fa.Flags&bit != 0
	}
	return false
}

func (c *ServerConfiguration) setFldFlag(bit int, on bool) {
	if fa := c.fldApp(); fa != nil {
		fa.Flags = setBit(fa.Flags, bit, on)
	}
}

func setBit(flags, bit int, on bool) int {
	if on {
		return flags | bit
	}
	return flags &^ bit
}

// Compiler options

func (c *ServerConfiguration) StructuredMode() bool { return c.compFlag(pal.CompOptSM, false) }
func (c *ServerConfiguration) SetStructuredMode(on bool) {
	c.setCompFlag(pal.CompOptSM, on)
}

func (c *ServerConfiguration) FormatSpecification() bool { return c.compFlag(pal.CompOptFS, false) }
func (c *ServerConfiguration) SetFormatSpecification(on bool) {
	c.setCompFlag(pal.CompOptFS, on)
}

// DatabaseShortName defaults to true when the server sends no compiler
// options.
func (c *ServerConfiguration) DatabaseShortName() bool { return c.compFlag(compOptDBShortName, true) }
func (c *ServerConfiguration) SetDatabaseShortName(on bool) {
	c.setCompFlag(compOptDBShortName, on)
}

func (c *ServerConfiguration) DynamicThousandsSeparator() bool {
	return c.compFlag(compOptDynThousands, false)
}
func (c *ServerConfiguration) SetDynamicThousandsSeparator(on bool) {
	c.setCompFlag(compOptDynThousands, on)
}

func (c *ServerConfiguration) CallnatParameterChecking() bool {
	return c.compFlag(compOptCallnatCheck, false)
}
func (c *ServerConfiguration) SetCallnatParameterChecking(on bool) {
	c.setCompFlag(compOptCallnatCheck, on)
}

func (c *ServerConfiguration) KeywordChecking() bool { return c.compFlag(compOptKeywordCheck, false) }
func (c *ServerConfiguration) SetKeywordChecking(on bool) {
	c.setCompFlag(compOptKeywordCheck, on)
}

// RenumberConstants reports whether line numbers in numeric constants are
// renumbered along with line references.
func (c *ServerConfiguration) RenumberConstants() bool { return c.compFlag(compOptRenConst, false) }
func (c *ServerConfiguration) SetRenumberConstants(on bool) {
	c.setCompFlag(compOptRenConst, on)
}

// MaxPrecision is the MAXPREC compiler option. Values outside 7..29 read
// as 7.
func (c *ServerConfiguration) MaxPrecision() int {
	v := 0
	if co := c.compOpt(); co != nil {
		v = co.MaxPrec
	}
	if v < defaultMaxPrec || v > maxMaxPrec {
		v = defaultMaxPrec
	}
	return v
}

func (c *ServerConfiguration) SetMaxPrecision(v int) {
	if co := c.compOpt(); co != nil {
		co.MaxPrec = v
	}
}

// Limits

func (c *ServerConfiguration) ProcessingLoopLimit() int {
	if p := c.session.parm(pal.ParmLimit); p != nil {
		return p.Limit.ProcessingLoopLimit
	}
	return defaultLoopLimit
}

func (c *ServerConfiguration) SetProcessingLoopLimit(v int) {
	if p := c.session.parm(pal.ParmLimit); p != nil {
		p.Limit.ProcessingLoopLimit = v
	}
}

// Field appearance

func (c *ServerConfiguration) ZeroPrinting() bool           { return c.fldFlag(pal.FldAppZP) }
func (c *ServerConfiguration) SetZeroPrinting(on bool)      { c.setFldFlag(pal.FldAppZP, on) }
func (c *ServerConfiguration) FillerProtected() bool        { return c.fldFlag(pal.FldAppFCDP) }
func (c *ServerConfiguration) SetFillerProtected(on bool)   { c.setFldFlag(pal.FldAppFCDP, on) }
func (c *ServerConfiguration) TranslateOutput() bool        { return c.fldFlag(pal.FldAppTS) }
func (c *ServerConfiguration) SetTranslateOutput(on bool)   { c.setFldFlag(pal.FldAppTS, on) }
func (c *ServerConfiguration) MessageLineTop() bool         { return c.fldFlag(pal.FldAppMsgTop) }
func (c *ServerConfiguration) SetMessageLineTop(on bool)    { c.setFldFlag(pal.FldAppMsgTop, on) }
func (c *ServerConfiguration) MessageLineBottom() bool      { return c.fldFlag(pal.FldAppMsgBottom) }
func (c *ServerConfiguration) SetMessageLineBottom(on bool) { c.setFldFlag(pal.FldAppMsgBottom, on) }

// MaxYear is the MAXYEAR parameter. Zero reads as 2699.
func (c *ServerConfiguration) MaxYear() int {
	v := 0
	if fa := c.fldApp(); fa != nil {
		v = fa.MaxYear
	}
	if v == 0 {
		v = defaultMaxYear
	}
	return v
}

func (c *ServerConfiguration) SetMaxYear(v int) {
	if fa := c.fldApp(); fa != nil {
		fa.MaxYear = v
	}
}

// DateFormat returns the DF, DFOUT, DFSTACK and DFTITLE parameters.
func (c *ServerConfiguration) DateFormat() (df, output, stack, title byte) {
	if fa := c.fldApp(); fa != nil {
		return fa.DateFormat, fa.DateFormatOutput, fa.DateFormatStack, fa.DateFormatTitle
	}
	return 0, 0, 0, 0
}

func (c *ServerConfiguration) SetDateFormat(df, output, stack, title byte) {
	if fa := c.fldApp(); fa != nil {
		fa.DateFormat, fa.DateFormatOutput, fa.DateFormatStack, fa.DateFormatTitle = df, output, stack, title
	}
}

// PrintMode is the PM parameter.
func (c *ServerConfiguration) PrintMode() byte {
	if fa := c.fldApp(); fa != nil {
		return fa.PrintMode
	}
	return 0
}

func (c *ServerConfiguration) SetPrintMode(pm byte) {
	if fa := c.fldApp(); fa != nil {
		fa.PrintMode = pm
	}
}

// Character assignments. A zero byte from the server reads as the
// default of the parameter.

func charOr(b, def byte) byte {
	if b == 0 {
		return def
	}
	return b
}

func (c *ServerConfiguration) DecimalChar() byte {
	if ca := c.charAssign(); ca != nil {
		return charOr(ca.DecimalChar, '.')
	}
	return '.'
}

func (c *ServerConfiguration) SetDecimalChar(b byte) {
	if ca := c.charAssign(); ca != nil {
		ca.DecimalChar = b
	}
}

func (c *ServerConfiguration) InputDelimiter() byte {
	if ca := c.charAssign(); ca != nil {
		return charOr(ca.InputDelimiter, ',')
	}
	return ','
}

func (c *ServerConfiguration) SetInputDelimiter(b byte) {
	if ca := c.charAssign(); ca != nil {
		ca.InputDelimiter = b
	}
}

func (c *ServerConfiguration) InputAssignment() byte {
	if ca := c.charAssign(); ca != nil {
		return ca.InputAssignment
	}
	return 0
}

func (c *ServerConfiguration) SetInputAssignment(b byte) {
	if ca := c.charAssign(); ca != nil {
		ca.InputAssignment = b
	}
}

func (c *ServerConfiguration) TermCommandChar() byte {
	if ca := c.charAssign(); ca != nil {
		return ca.TermCommandChar
	}
	return 0
}

func (c *ServerConfiguration) SetTermCommandChar(b byte) {
	if ca := c.charAssign(); ca != nil {
		ca.TermCommandChar = b
	}
}

func (c *ServerConfiguration) ThousandSeparator() byte {
	if ca := c.charAssign(); ca != nil {
		return ca.ThousandSeparator
	}
	return 0
}

func (c *ServerConfiguration) SetThousandSeparator(b byte) {
	if ca := c.charAssign(); ca != nil {
		ca.ThousandSeparator = b
	}
}

// Report

func (c *ServerConfiguration) LineSize() int {
	if r := c.report(); r != nil {
		return r.LineSize
	}
	return 0
}

func (c *ServerConfiguration) SetLineSize(v int) {
	if r := c.report(); r != nil {
		r.LineSize = v
	}
}

func (c *ServerConfiguration) PageSize() int {
	if r := c.report(); r != nil {
		return r.PageSize
	}
	return 0
}

func (c *ServerConfiguration) SetPageSize(v int) {
	if r := c.report(); r != nil {
		r.PageSize = v
	}
}

func (c *ServerConfiguration) SpacingFactor() int {
	if r := c.report(); r != nil {
		return r.SpacingFactor
	}
	return 0
}

func (c *ServerConfiguration) SetSpacingFactor(v int) {
	if r := c.report(); r != nil {
		r.SpacingFactor = v
	}
}

// Regional

// CodePage is the default code page of the server, trimmed.
func (c *ServerConfiguration) CodePage() string {
	if p := c.session.parm(pal.ParmRegional); p != nil {
		return strings.TrimSpace(p.Regional.CodePage)
	}
	return ""
}

// LanguageCode is the *LANGUAGE system variable.
func (c *ServerConfiguration) LanguageCode() int {
	for _, v := range c.session.sysVars {
		if v.Kind == 0 {
			n, _ := strconv.Atoi(strings.TrimSpace(v.Value))
			return n
		}
	}
	return 0
}

func (c *ServerConfiguration) SetLanguageCode(code int) {
	if len(c.session.sysVars) > 0 {
		c.session.sysVars[0].Value = strconv.Itoa(code)
	}
}

// Client rules

// IdentifierFirstValid lists the characters an identifier may start with.
func (c *ServerConfiguration) IdentifierFirstValid() string {
	if cc := c.session.clientConfig; cc != nil {
		return cc.Ident1stValid
	}
	return ""
}

// IdentifierValid lists the characters allowed after the first one.
func (c *ServerConfiguration) IdentifierValid() string {
	if cc := c.session.clientConfig; cc != nil {
		return cc.IdentValid
	}
	return ""
}

// DbmsAssignments returns the database assignments of the server.
func (c *ServerConfiguration) DbmsAssignments() []*pal.DbmsInfo {
	return c.session.dbmsInfo
}

// labelPrefixChars are tried in order for the internal label prefix.
const labelPrefixChars = "!$%-:;"

// internalLabelPrefix returns the first candidate character that cannot
// start an identifier on the server, or a blank when every candidate can.
func (s *Session) internalLabelPrefix() string {
	if s.config.LabelPrefix != "" {
		return s.config.LabelPrefix
	}
	valid := ""
	if s.clientConfig != nil {
		valid = s.clientConfig.Ident1stValid
	}
	for _, ch := range labelPrefixChars {
		if !strings.ContainsRune(valid, ch) {
			return string(ch)
		}
	}
	return " "
}

// renumberConstants reports the RenConst compiler option of the server.
func (s *Session) renumberConstants() bool {
	if p := s.parm(pal.ParmCompOpt); p != nil {
		return p.CompOpt.Flags&compOptRenConst != 0
	}
	return false
}
