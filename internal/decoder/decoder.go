// Package decoder turns the compressed, versioned, run-annotated note body
// served by the remote note service into formatted plain text.
package decoder

import (
	"errors"
	"strings"
	"unicode/utf8"

	"notes-sync-indexer/internal/domain"
)

// Decode runs a text payload through every stage: decompression, version
// selection, styled string parsing and reconstruction.
func Decode(payload []byte) (string, error) {
	raw, err := Decompress(payload)
	if err != nil {
		return "", err
	}

	data, err := LatestVersion(raw)
	if err != nil {
		return "", err
	}

	styled, err := ParseStyledString(data)
	if err != nil {
		return "", err
	}

	return Reconstruct(styled)
}

// DecodeNote decodes the title and body of a raw record. The folder name is
// resolved by the caller; folderName is copied through as is.
func DecodeNote(rec *domain.RawNoteRecord, folderName string) (*domain.DecodedNote, error) {
	if len(rec.TextEncrypted) == 0 {
		return nil, &domain.DecodeError{RecordID: rec.RecordID, Stage: "envelope", Err: errors.New("record has no text payload")}
	}

	text, err := Decode(rec.TextEncrypted)
	if err != nil {
		var de *domain.DecodeError
		if errors.As(err, &de) {
			de.RecordID = rec.RecordID
		}
		return nil, err
	}

	return &domain.DecodedNote{
		Title:          DecodeTitle(rec.TitleEncrypted),
		Text:           text,
		RecordID:       rec.RecordID,
		CreatedDate:    rec.CreatedAt,
		LastEditedDate: rec.ModifiedAt,
		FolderID:       rec.FolderID,
		FolderName:     folderName,
		OwnerID:        rec.FolderOwnerID,
	}, nil
}

// DecodeTitle returns the UTF-8 title, replacing invalid sequences.
func DecodeTitle(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}
