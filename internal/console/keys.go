package console

import "github.com/charmbracelet/x/ansi"

// SplitKeys cuts raw terminal input into key presses. A key press is one
// printable grapheme, one control byte, or one complete escape sequence
// (arrow keys, function keys, Alt+key). A trailing incomplete sequence is
// returned as a single key.
func SplitKeys(input []byte) []string {
	var keys []string
	var state byte
	for len(input) > 0 {
		seq, _, n, newState := ansi.DecodeSequence(input, state, nil)
		if n <= 0 {
			// Never stall on input the decoder cannot consume.
			seq, n = input[:1], 1
		}
		keys = append(keys, string(seq))
		input = input[n:]
		state = newState
		if state != ansi.NormalState && len(input) == 0 {
			break
		}
	}
	return keys
}
