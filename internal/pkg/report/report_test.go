package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no block", "  plain report\n", "plain report"},
		{"single block", "<think>hmm</think>\n# Report", "# Report"},
		{"multiline block", "<think>line1\nline2\n</think>Report", "Report"},
		{"non greedy", "<think>a</think>keep<think>b</think>", "keep"},
		{"only reasoning", "<think>all of it</think>", ""},
		{"unterminated block kept", "<think>unterminated report", "<think>unterminated report"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripReasoning(tt.in))
		})
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{"true", "```verdict\nMalicious = True\n```", "True", true},
		{"false", "```verdict\nMalicious=False\n```", "False", true},
		{"uncertain", "text\n```verdict\n  Malicious =   Uncertain\n```", "Uncertain", true},
		{"case insensitive keeps literal", "```VERDICT\nmalicious = true\n```", "true", true},
		{"first block wins", "```verdict\nMalicious = False\n```\n```verdict\nMalicious = True\n```", "False", true},
		{"missing block", "Malicious = True", "", false},
		{"unknown value", "```verdict\nMalicious = Maybe\n```", "", false},
		{"wrong fence", "```json\nMalicious = True\n```", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseVerdict(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSignificantFunctions(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"basic", "```sigfn_list\nmain, FUN_00401000, decrypt\n```", []string{"main", "FUN_00401000", "decrypt"}},
		{"trailing comma and spaces", "```sigfn_list\n  a ,b,, c ,\n```", []string{"a", "b", "c"}},
		{"multiline list", "```sigfn_list\na,\nb,\nc\n```", []string{"a", "b", "c"}},
		{"embedded in report", "# Report\n\nSee below.\n```sigfn_list\nentry\n```\nDone.", []string{"entry"}},
		{"missing block", "no list here", nil},
		{"no newline after tag", "```sigfn_list a,b```", nil},
		{"empty block", "```sigfn_list\n```", nil},
		{"unterminated", "```sigfn_list\na,b", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSignificantFunctions(tt.in))
		})
	}
}
