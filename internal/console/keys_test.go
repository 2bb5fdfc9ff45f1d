package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitKeys(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"single letter", "l", []string{"l"}},
		{"typed word", "ls", []string{"l", "s"}},
		{"enter", "\r", []string{"\r"}},
		{"ctrl-c", "\x03", []string{"\x03"}},
		{"arrow up", "\x1b[A", []string{"\x1b[A"}},
		{"arrows in burst", "\x1b[A\x1b[B", []string{"\x1b[A", "\x1b[B"}},
		{"function key", "\x1b[15~", []string{"\x1b[15~"}},
		{"alt+b", "\x1bb", []string{"\x1bb"}},
		{"lone escape", "\x1b", []string{"\x1b"}},
		{"multibyte rune", "é", []string{"é"}},
		{"mixed", "a\x1b[Cb", []string{"a", "\x1b[C", "b"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitKeys([]byte(tt.input)))
		})
	}
}
