// Package chunker splits decoded notes into token-bounded segments, each
// prefixed with a metadata header describing the note.
package chunker

import (
	"fmt"
	"strings"
	"time"

	"notes-sync-indexer/internal/domain"
)

const (
	DefaultMaxTokens = 8192

	// CreationDateLayout renders e.g. "14 June 2024, 08:40".
	CreationDateLayout = "02 January 2006, 15:04"
)

// TokenCounter measures text in the units of the downstream embedding model.
type TokenCounter interface {
	Count(text string) int
}

type Chunker struct {
	counter   TokenCounter
	maxTokens int
	location  *time.Location
}

func New(counter TokenCounter, maxTokens int, location *time.Location) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if location == nil {
		location = time.Local
	}
	return &Chunker{
		counter:   counter,
		maxTokens: maxTokens,
		location:  location,
	}
}

func (c *Chunker) MaxTokens() int {
	return c.maxTokens
}

// Header returns the metadata block repeated at the top of every chunk.
func (c *Chunker) Header(note *domain.DecodedNote) string {
	created := time.UnixMilli(note.CreatedDate).In(c.location)
	return fmt.Sprintf("Folder: %s\nCreation Date: %s\n", note.FolderName, created.Format(CreationDateLayout))
}

// Chunk walks the note line by line and closes a chunk whenever the next
// line would push header plus body past the token budget. A line that is
// over budget on its own becomes a chunk by itself rather than being split.
func (c *Chunker) Chunk(note *domain.DecodedNote) []string {
	header := c.Header(note)
	headerTokens := c.counter.Count(header)
	bare := strings.TrimSpace(header)

	var chunks []string
	var body strings.Builder
	tokens := headerTokens

	flush := func() {
		// Header-only chunks carry nothing worth embedding.
		if chunk := strings.TrimSpace(header + body.String()); chunk != bare {
			chunks = append(chunks, chunk)
		}
		body.Reset()
		tokens = headerTokens
	}

	for _, line := range strings.Split(note.Text, "\n") {
		line += "\n"
		lineTokens := c.counter.Count(line)

		if tokens+lineTokens > c.maxTokens && body.Len() > 0 {
			flush()
		}

		body.WriteString(line)
		tokens += lineTokens
	}
	flush()

	return chunks
}
