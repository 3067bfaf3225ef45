package renumber

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddLineNumbers(t *testing.T) {
	out, err := AddLineNumbers([]string{"A", "B"}, AddOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"0001 A", "0002 B"}, out)

	out, err = AddLineNumbers([]string{"A", ""}, AddOptions{Step: 10, OpenSystems: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"0010 A ", "0020  "}, out)

	out, err = AddLineNumbers(nil, AddOptions{Step: 10})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAddLineNumbersReducesStep(t *testing.T) {
	source := make([]string, 1001)
	for i := range source {
		source[i] = "X"
	}
	out, err := AddLineNumbers(source, AddOptions{Step: 10})
	require.NoError(t, err)
	assert.Equal(t, "0005 X", out[0])
	assert.Equal(t, "0010 X", out[1])
	assert.Equal(t, "5005 X", out[1000])

	_, err = AddLineNumbers(make([]string, MaxLineNumber+1), AddOptions{})
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestAddLineNumbersUpdatesReferences(t *testing.T) {
	source := []string{"READ EMP", "IF (0001)", "ESCAPE (0005)"}
	out, err := AddLineNumbers(source, AddOptions{Step: 10, UpdateRefs: true})
	require.NoError(t, err)
	assert.Equal(t, "0020 IF (0010)", out[1])
	assert.Equal(t, "0030 ESCAPE (0005)", out[2])
}

func TestAddLineNumbersResolvesLabels(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		source []string
		want   []string
	}{
		{"definition", "!", []string{"!1. CODE"}, []string{"0010 CODE"}},
		{"long prefix", "##", []string{"##1. CODE"}, []string{"0010 ##1. CODE"}},
		{"no number", "!", []string{"!. CODE"}, []string{"0010 !. CODE"}},
		{"paren", "!", []string{"!1. CODE", "IF (!1.) THEN"}, []string{"0010 CODE", "0020 IF (0010) THEN"}},
		{"slash", "!", []string{"!1. CODE", "GOTO (!1./ REST"}, []string{"0010 CODE", "0020 GOTO (0010/ REST"}},
		{"comma", "!", []string{"!1. CODE", "IF (!1., OTHER"}, []string{"0010 CODE", "0020 IF (0010, OTHER"}},
		{"blank after paren", "!", []string{"!1. WRITE X", "IF ( !1.) THEN"}, []string{"0010 WRITE X", "0020 IF ( !1.) THEN"}},
		{"bare definition", "!", []string{"!1.", "X"}, []string{"0010 ", "0020 X"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := AddLineNumbers(tt.source, AddOptions{Step: 10, LabelPrefix: tt.prefix})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRemoveLineNumbers(t *testing.T) {
	out := RemoveLineNumbers([]string{"0010 WRITE X", "0020", "01", "0030 END"}, RemoveOptions{})
	assert.Equal(t, []string{"WRITE X", "", "01", "END"}, out)
}

func TestRemoveLineNumbersRewritesReferences(t *testing.T) {
	out := RemoveLineNumbers([]string{"0010 IF (0010/", "0020 IF (0010,", "0030 X (0040)"},
		RemoveOptions{UpdateRefs: true})
	assert.Equal(t, []string{"IF (0001/", "IF (0001,", "X (0040)"}, out)
}

func TestRemoveLineNumbersLeavesInput(t *testing.T) {
	in := []string{"0010 WRITE X", "0020 END"}
	RemoveLineNumbers(in, RemoveOptions{})
	assert.Equal(t, []string{"0010 WRITE X", "0020 END"}, in)
}

func TestRemoveLineNumbersInsertsLabels(t *testing.T) {
	source := []string{
		"0010 WRITE X",
		"0020 IF (0010)",
		"0030 * COMMENT (0010)",
	}

	out := RemoveLineNumbers(source, RemoveOptions{
		UpdateRefs: true,
		Labels:     &Labels{Format: "L{count}.", NewLine: true},
	})
	assert.Equal(t, []string{"L1.", "WRITE X", "IF (L1.)", "* COMMENT (0002)"}, out)

	out = RemoveLineNumbers(source, RemoveOptions{
		UpdateRefs: true,
		Labels:     &Labels{Format: "L{count}."},
	})
	assert.Equal(t, []string{"L1. WRITE X", "IF (L1.)", "* COMMENT (0001)"}, out)
}

func TestRemoveLineNumbersReusesLabels(t *testing.T) {
	source := []string{
		"0010 R1. READ EMP",
		"0020 WRITE",
		"0030 ESCAPE (0010)",
		"0040 LOOP (0020) X (0020)",
	}
	out := RemoveLineNumbers(source, RemoveOptions{UpdateRefs: true, Labels: &Labels{Format: "L{count}."}})
	assert.Equal(t, []string{"R1. READ EMP", "L1. WRITE", "ESCAPE (R1.)", "LOOP (L1.) X (L1.)"}, out)
}

func TestRemoveLineNumbersSkipsLabelsInSource(t *testing.T) {
	source := []string{"0010 A", "0020 WRITE 'L1.'", "0030 IF (0010)"}
	out := RemoveLineNumbers(source, RemoveOptions{UpdateRefs: true, Labels: &Labels{Format: "L"}})
	assert.Equal(t, []string{"L2 A", "WRITE 'L1.'", "IF (L2)"}, out)
}

func TestLineNumberRoundTrip(t *testing.T) {
	sources := [][]string{
		{""},
		{"DEFINE DATA LOCAL", "1 #A (A10)", "END-DEFINE", "", "  WRITE #A (0002)", "END"},
		{"* comment (0001)", "WRITE 'x' (0001)", "/* nested"},
	}
	many := make([]string, 1500)
	for i := range many {
		many[i] = fmt.Sprintf("LINE %d", i)
	}
	sources = append(sources, many)

	for _, step := range []int{1, 5, 10, 100} {
		for _, src := range sources {
			numbered, err := AddLineNumbers(src, AddOptions{Step: step})
			require.NoError(t, err)
			assert.Equal(t, src, RemoveLineNumbers(numbered, RemoveOptions{}))
		}
	}
}

func TestIsLineNumberReference(t *testing.T) {
	tests := []struct {
		name         string
		line         string
		insertLabels bool
		hasPrefix    bool
		renConst     bool
		want         bool
	}{
		{"plain", "IF (0010)", false, false, false, true},
		{"not a reference", "IF (001A)", false, false, false, false},
		{"too short", "IF (0010", false, false, false, false},
		{"comment line", "0010 * X (0010)", false, true, false, true},
		{"comment line with labels", "0010 * X (0010)", true, true, false, false},
		{"inline comment", "X /* (0010)", false, false, false, true},
		{"inline comment with labels", "X /* (0010)", true, false, false, false},
		{"string constant", "WRITE '(0010)", false, false, false, false},
		{"string constant renconst", "WRITE '(0010)", false, false, true, true},
		{"closed string", `WRITE "A" (0010)`, false, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := indexParen(tt.line)
			got := IsLineNumberReference(pos, tt.line, tt.insertLabels, tt.hasPrefix, tt.renConst)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.False(t, IsLineNumberReference(-1, "(0010)", false, false, false))
}

func indexParen(line string) int {
	for i := len(line) - 1; i >= 0; i-- {
		if line[i] == '(' {
			return i
		}
	}
	return -1
}

func TestUpdateLineReferences(t *testing.T) {
	source := []string{"A", "B (0001)", "C (0002) (0009)"}
	out := UpdateLineReferences(source, 1, false)
	assert.Equal(t, []string{"A", "B (0002)", "C (0003) (0009)"}, out)

	out = UpdateLineReferences([]string{"X (0001)"}, -1, false)
	assert.Equal(t, []string{"X (0001)"}, out)
}
