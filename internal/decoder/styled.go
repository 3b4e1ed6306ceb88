package decoder

import (
	"notes-sync-indexer/internal/domain"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the topotext String message and its children.
const (
	stringTextField = 2
	stringRunField  = 5

	runLengthField    = 1
	runParagraphField = 2
	runFontHintsField = 5
	runLinkField      = 9

	paragraphStyleField  = 1
	paragraphIndentField = 4
	paragraphTodoField   = 5

	todoDoneField = 2
)

const fontHintBold = 1

type Todo struct {
	Done bool
}

type ParagraphStyle struct {
	Style  uint32
	Indent int
	Todo   *Todo
}

type AttributeRun struct {
	Length     int
	Emphasized bool
	FontHints  uint32
	Link       string
	Paragraph  *ParagraphStyle
}

// StyledString is a flat string with the runs that annotate it.
type StyledString struct {
	Text string
	Runs []AttributeRun
}

func ParseStyledString(b []byte) (*StyledString, error) {
	s := &StyledString{}
	err := forEachField(b, func(f field) error {
		switch f.num {
		case stringTextField:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			s.Text = string(f.bytes)
		case stringRunField:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			run, err := parseRun(f.bytes)
			if err != nil {
				return err
			}
			s.Runs = append(s.Runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, &domain.DecodeError{Stage: "styled-string", Err: err}
	}
	return s, nil
}

func parseRun(b []byte) (AttributeRun, error) {
	var run AttributeRun
	err := forEachField(b, func(f field) error {
		switch f.num {
		case runLengthField:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			run.Length = int(uint32(f.varint))
		case runParagraphField:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			p, err := parseParagraphStyle(f.bytes)
			if err != nil {
				return err
			}
			run.Paragraph = p
		case runFontHintsField:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			run.FontHints = uint32(f.varint)
			run.Emphasized = run.FontHints&fontHintBold != 0
		case runLinkField:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			run.Link = string(f.bytes)
		}
		return nil
	})
	return run, err
}

func parseParagraphStyle(b []byte) (*ParagraphStyle, error) {
	p := &ParagraphStyle{}
	err := forEachField(b, func(f field) error {
		switch f.num {
		case paragraphStyleField:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			p.Style = uint32(f.varint)
		case paragraphIndentField:
			if err := f.expect(protowire.VarintType); err != nil {
				return err
			}
			// int32 on the wire; negative values are sign-extended to 64 bits.
			if indent := int32(f.varint); indent > 0 {
				p.Indent = int(indent)
			}
		case paragraphTodoField:
			if err := f.expect(protowire.BytesType); err != nil {
				return err
			}
			todo := &Todo{}
			if err := forEachField(f.bytes, func(tf field) error {
				if tf.num == todoDoneField && tf.typ == protowire.VarintType {
					todo.Done = tf.varint != 0
				}
				return nil
			}); err != nil {
				return err
			}
			p.Todo = todo
		}
		return nil
	})
	return p, err
}
