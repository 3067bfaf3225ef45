// Package renumber maintains the four-digit line numbers of Natural
// sources.
//
// Servers store every source line behind a "NNNN " prefix and statements
// may refer to earlier lines as (NNNN). Downloads strip the prefixes and
// rewrite those references to relative line indices or labels; uploads add
// prefixes back and turn references and internal labels into line numbers.
package renumber

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MaxLineNumber is the largest four-digit line number.
const MaxLineNumber = 9999

// PrefixLength is the length of a "NNNN " line prefix.
const PrefixLength = 5

// referenceLength is the length of a reference such as "(0010)".
const referenceLength = 6

// ErrInvalidSource is returned for sources that cannot be numbered.
var ErrInvalidSource = errors.New("renumber: invalid source")

var existingLabel = regexp.MustCompile(`^[a-zA-Z]*[0-9]*\.`)

// IsLineReference reports whether line holds "(dddd" followed by ')', '/'
// or ',' at pos.
func IsLineReference(pos int, line string) bool {
	if pos < 0 || pos+referenceLength > len(line) {
		return false
	}
	if line[pos] != '(' {
		return false
	}
	for i := pos + 1; i < pos+5; i++ {
		if line[i] < '0' || line[i] > '9' {
			return false
		}
	}
	switch line[pos+5] {
	case ')', '/', ',':
		return true
	}
	return false
}

// IsLineNumberReference reports whether the reference at pos should be
// treated as a line number reference.
//
// References in comment lines and after an inline comment count only when
// insertLabels is false. References inside string constants count only
// when renConst is set. hasPrefix says whether line still carries its
// line number prefix.
func IsLineNumberReference(pos int, line string, insertLabels, hasPrefix, renConst bool) bool {
	if !IsLineReference(pos, line) {
		return false
	}

	offset := 0
	if hasPrefix {
		offset = PrefixLength
	}
	if len(line) >= offset+2 {
		switch line[offset : offset+2] {
		case "* ", "**", "*/":
			return !insertLabels
		}
	}

	var single, double bool
	for i := 0; i < pos; i++ {
		switch line[i] {
		case '\'':
			single = !single
		case '"':
			double = !double
		case '/':
			if !single && !double && i+1 < pos && line[i+1] == '*' {
				return !insertLabels
			}
		}
	}
	if single || double {
		return renConst
	}
	return true
}

// AddOptions control AddLineNumbers.
type AddOptions struct {
	// Step is the line number increment. Zero means 1.
	Step int

	// LabelPrefix is the first character of internal labels such as "!1.".
	// Empty disables label handling.
	LabelPrefix string

	// UpdateRefs turns relative references (0003) into line numbers.
	UpdateRefs bool

	// OpenSystems appends the trailing blank open systems servers expect.
	OpenSystems bool

	// RenConst also rewrites references inside string constants.
	RenConst bool
}

// AddLineNumbers prefixes every line with its line number.
//
// When the step would push the last line past 9999 the step is reduced.
// When the source contains internal labels, label definitions are removed
// and references to them are replaced by the line number of the label.
func AddLineNumbers(source []string, opts AddOptions) ([]string, error) {
	if len(source) == 0 {
		return []string{}, nil
	}
	if len(source) > MaxLineNumber {
		return nil, fmt.Errorf("%w: %d lines exceed the line number range", ErrInvalidSource, len(source))
	}

	step := opts.Step
	if step <= 0 {
		step = 1
	}
	if step*len(source) > MaxLineNumber {
		step = 10
		for step > 1 && MaxLineNumber/len(source) < step {
			step /= 2
		}
	}

	if opts.LabelPrefix != "" && hasLabels(source, opts.LabelPrefix) {
		return addWithLabels(source, step, opts), nil
	}

	out := make([]string, len(source))
	for i, line := range source {
		numbered := fmt.Sprintf("%04d %s", (i+1)*step, line)
		if opts.UpdateRefs {
			numbered = forwardReferences(numbered, i, step, opts.RenConst)
		}
		if opts.OpenSystems {
			numbered += " "
		}
		out[i] = numbered
	}
	return out, nil
}

// hasLabels reports whether some line starts with a label definition.
func hasLabels(source []string, prefix string) bool {
	start := len(prefix)
	if len(prefix) > 1 {
		start++
	}
	for _, line := range source {
		if !strings.HasPrefix(line, prefix) || start > len(line) {
			continue
		}
		dot := strings.IndexByte(line[start:], '.')
		if dot < 0 {
			continue
		}
		if _, err := strconv.Atoi(line[start : start+dot]); err == nil {
			return true
		}
	}
	return false
}

func addWithLabels(source []string, step int, opts AddOptions) []string {
	prefix := opts.LabelPrefix
	labels := map[string]string{}
	out := make([]string, len(source))

	for i, line := range source {
		number := fmt.Sprintf("%04d", (i+1)*step)
		content := 0
		defined := false

		from := 0
		for from < len(line) {
			p := strings.Index(line[from:], prefix)
			if p < 0 {
				break
			}
			p += from
			from = p + len(prefix)

			switch {
			case p == 0:
				dot := strings.IndexByte(line[len(prefix):], '.')
				if dot < 0 {
					continue
				}
				dot += len(prefix)
				key := line[:dot+1]
				if _, ok := labels[key]; ok {
					continue
				}
				labels[key] = number
				defined = true
				content = dot + 1
				if content < len(line) && line[content] == ' ' {
					content++
				}
			case line[p-1] == '(':
				end := labelReferenceEnd(line[p:])
				if end < 0 {
					continue
				}
				key := line[p : p+end+1]
				target, ok := labels[key]
				if !ok {
					continue
				}
				ref := "(" + target + string(line[p+end+1])
				line = line[:p-1] + ref + line[p+end+2:]
				from = p - 1 + len(ref)
			}
		}

		numbered := number + " "
		switch {
		case !defined:
			numbered += line
			if opts.OpenSystems {
				numbered += " "
			}
		case content < len(line):
			numbered += line[content:]
			if opts.OpenSystems {
				numbered += " "
			}
		}
		out[i] = numbered
	}
	return out
}

// labelReferenceEnd returns the index of the dot that closes a label
// reference, or -1.
func labelReferenceEnd(s string) int {
	for _, end := range []string{".)", "./", ".,"} {
		if i := strings.Index(s, end); i >= 0 {
			return i
		}
	}
	return -1
}

// forwardReferences turns relative references of the line at index i into
// line numbers. References to later lines are left alone.
func forwardReferences(line string, i, step int, renConst bool) string {
	for pos := 0; pos < len(line); pos++ {
		if line[pos] != '(' || !IsLineNumberReference(pos, line, false, false, renConst) {
			continue
		}
		ref, _ := strconv.Atoi(line[pos+1 : pos+5])
		if ref <= i+1 {
			line = line[:pos+1] + fmt.Sprintf("%04d", ref*step) + line[pos+5:]
		}
	}
	return line
}

// Labels controls how RemoveLineNumbers replaces numeric references to
// earlier lines by labels.
type Labels struct {
	// Format builds a label from a counter. "{count}" is replaced by the
	// counter; a format without the placeholder gets the counter appended.
	Format string

	// NewLine puts each label on a line of its own in front of the target.
	NewLine bool
}

func (l *Labels) label(n int) string {
	count := strconv.Itoa(n)
	if strings.Contains(l.Format, "{count}") {
		return strings.ReplaceAll(l.Format, "{count}", count)
	}
	return l.Format + count
}

// RemoveOptions control RemoveLineNumbers.
type RemoveOptions struct {
	// UpdateRefs rewrites references to earlier lines.
	UpdateRefs bool

	// RenConst also rewrites references inside string constants.
	RenConst bool

	// PrefixLength is the number of characters stripped from every line.
	// Zero means PrefixLength.
	PrefixLength int

	// Labels, when set, replaces references by labels.
	Labels *Labels
}

// RemoveLineNumbers strips the line number prefix from every line.
//
// With UpdateRefs, references to earlier lines become relative line
// indices, or labels when Labels is set. Lines of exactly four characters
// become empty; shorter lines are kept as they are.
func RemoveLineNumbers(source []string, opts RemoveOptions) []string {
	strip := opts.PrefixLength
	if strip <= 0 {
		strip = PrefixLength
	}
	lines := make([]string, len(source))
	copy(lines, source)

	labels := map[string]string{}
	counter := 1
	if opts.UpdateRefs {
		for k := range lines {
			for pos := 0; pos < len(lines[k]); pos++ {
				line := lines[k]
				if line[pos] != '(' || !IsLineNumberReference(pos, line, false, true, opts.RenConst) {
					continue
				}
				current, err := strconv.Atoi(line[:4])
				if err != nil {
					continue
				}
				ref, _ := strconv.Atoi(line[pos+1 : pos+5])
				if ref <= 0 || ref > current {
					continue
				}
				target := findLine(lines, k, ref)
				if target < 0 {
					continue
				}

				var repl string
				if opts.Labels != nil && IsLineNumberReference(pos, line, true, true, opts.RenConst) {
					repl = resolveLabel(lines, target, ref, opts.Labels, labels, &counter)
				} else {
					extra := 0
					if opts.Labels != nil && opts.Labels.NewLine {
						extra = len(labels)
					}
					repl = fmt.Sprintf("%04d", target+1+extra)
				}
				lines[k] = line[:pos+1] + repl + line[pos+5:]
			}
		}
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		switch {
		case len(line) > 4:
			label, ok := labels[line[:4]]
			switch {
			case ok && opts.Labels.NewLine:
				out = append(out, label, cut(line, strip))
			case ok:
				out = append(out, label+line[4:])
			default:
				out = append(out, cut(line, strip))
			}
		case len(line) == 4:
			out = append(out, "")
		default:
			out = append(out, line)
		}
	}
	return out
}

func cut(line string, n int) string {
	if n > len(line) {
		return ""
	}
	return line[n:]
}

// findLine searches backwards from index from for the line numbered n.
func findLine(lines []string, from, n int) int {
	for t := from; t >= 0; t-- {
		if len(lines[t]) < 4 {
			continue
		}
		if v, err := strconv.Atoi(lines[t][:4]); err == nil && v == n {
			return t
		}
	}
	return -1
}

// resolveLabel returns the label for the line at target: the label the
// line already defines, the one assigned earlier, or a new one that does
// not occur anywhere in the source.
func resolveLabel(lines []string, target, ref int, l *Labels, table map[string]string, counter *int) string {
	content := ""
	if len(lines[target]) > PrefixLength {
		content = strings.TrimSpace(lines[target][PrefixLength:])
	}
	if m := existingLabel.FindString(content); m != "" {
		return m
	}

	key := fmt.Sprintf("%04d", ref)
	if label, ok := table[key]; ok {
		return label
	}

	var label string
	for {
		label = l.label(*counter)
		*counter++
		if !occurs(lines, label) {
			break
		}
	}
	table[key] = label
	return label
}

func occurs(lines []string, s string) bool {
	for _, line := range lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// UpdateLineReferences shifts references by delta in place. A reference
// moves only when its new value still points at or before its own line.
func UpdateLineReferences(source []string, delta int, renConst bool) []string {
	for i, line := range source {
		for pos := 0; pos < len(line); pos++ {
			if line[pos] != '(' || !IsLineNumberReference(pos, line, false, false, renConst) {
				continue
			}
			ref, _ := strconv.Atoi(line[pos+1 : pos+5])
			if n := ref + delta; n > 0 && n <= i+1 {
				line = line[:pos+1] + fmt.Sprintf("%04d", n) + line[pos+5:]
				source[i] = line
			}
		}
	}
	return source
}
