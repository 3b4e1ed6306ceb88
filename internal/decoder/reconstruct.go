package decoder

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf16"

	"notes-sync-indexer/internal/domain"
)

const (
	indentUnit   = "    "
	boldMarker   = "**"
	checkboxDone = "[x]"
	checkboxOpen = "[ ]"
)

// Reconstruct renders the styled string as Markdown-like text: bold spans,
// indentation, and checkbox list items.
func Reconstruct(s *StyledString) (string, error) {
	sl, err := newSlicer(s.Text, s.Runs)
	if err != nil {
		return "", &domain.DecodeError{Stage: "runs", Err: err}
	}

	var out strings.Builder
	cursor := 0
	taskEmitted := false

	for _, run := range s.Runs {
		chunk := sl.slice(cursor, run.Length)
		cursor += run.Length
		endsParagraph := strings.HasSuffix(chunk, "\n")

		segment := chunk
		if run.Emphasized {
			if endsParagraph {
				segment = boldMarker + strings.TrimRightFunc(chunk, unicode.IsSpace) + boldMarker + "\n"
			} else {
				segment = boldMarker + chunk + boldMarker
			}
		}

		if p := run.Paragraph; p != nil {
			indent := strings.Repeat(indentUnit, p.Indent)
			switch {
			case p.Todo != nil && !taskEmitted:
				box := checkboxOpen
				if p.Todo.Done {
					box = checkboxDone
				}
				segment = indent + box + " " + segment
				taskEmitted = true
			case p.Todo == nil:
				segment = indent + segment
			}
		}

		out.WriteString(segment)

		if endsParagraph {
			taskEmitted = false
		}
	}

	return out.String(), nil
}

// slicer cuts the flat string in whichever unit the run lengths were
// written in: code points, or UTF-16 code units as produced by the remote
// service's native string type.
type slicer struct {
	runes []rune
	units []uint16
}

func newSlicer(text string, runs []AttributeRun) (*slicer, error) {
	total := 0
	for i, run := range runs {
		if run.Length < 0 {
			return nil, fmt.Errorf("run %d has negative length %d", i, run.Length)
		}
		total += run.Length
	}

	runes := []rune(text)
	if total == len(runes) {
		return &slicer{runes: runes}, nil
	}

	units := utf16.Encode(runes)
	if total == len(units) {
		return &slicer{units: units}, nil
	}

	return nil, fmt.Errorf("run lengths sum to %d but string has %d characters", total, len(runes))
}

func (s *slicer) slice(start, n int) string {
	if s.units != nil {
		// Decode replaces a surrogate half split across runs with U+FFFD.
		return string(utf16.Decode(s.units[start : start+n]))
	}
	return string(s.runes[start : start+n])
}
