package chunker

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"notes-sync-indexer/internal/domain"

	"pgregory.net/rapid"
)

// runeCounter treats every code point as one token.
type runeCounter struct{}

func (runeCounter) Count(text string) int {
	return utf8.RuneCountInString(text)
}

func testNote(text string) *domain.DecodedNote {
	return &domain.DecodedNote{
		Title:       "Groceries",
		Text:        text,
		RecordID:    "rec-1",
		CreatedDate: 1718347207097,
		FolderName:  "Personal",
	}
}

func TestChunker_Header(t *testing.T) {
	c := New(runeCounter{}, 0, time.UTC)

	got := c.Header(testNote(""))
	want := "Folder: Personal\nCreation Date: 14 June 2024, 06:40\n"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if c.MaxTokens() != DefaultMaxTokens {
		t.Errorf("expected default budget %d, got %d", DefaultMaxTokens, c.MaxTokens())
	}
}

func TestChunker_ShortNoteIsOneChunk(t *testing.T) {
	c := New(runeCounter{}, 0, time.UTC)
	note := testNote("Buy milk\nCall mom")

	chunks := c.Chunk(note)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	want := c.Header(note) + "Buy milk\nCall mom"
	if chunks[0] != want {
		t.Errorf("expected %q, got %q", want, chunks[0])
	}
}

func TestChunker_EmptyNoteHasNoChunks(t *testing.T) {
	c := New(runeCounter{}, 0, time.UTC)

	for _, text := range []string{"", "\n\n", "   \n"} {
		if chunks := c.Chunk(testNote(text)); len(chunks) != 0 {
			t.Errorf("expected no chunks for %q, got %v", text, chunks)
		}
	}
}

func TestChunker_ExactBudgetBoundary(t *testing.T) {
	c := New(runeCounter{}, 8192, time.UTC)
	headerTokens := runeCounter{}.Count(c.Header(testNote("")))

	// Two lines; each costs its length plus the re-joined newline.
	first := strings.Repeat("a", 100)
	fill := 8192 - headerTokens - (len(first) + 1) - 1
	exact := first + "\n" + strings.Repeat("b", fill)

	chunks := c.Chunk(testNote(exact))
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk at exactly 8192 tokens, got %d", len(chunks))
	}

	over := exact + "b"
	chunks = c.Chunk(testNote(over))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks at 8193 tokens, got %d", len(chunks))
	}

	header := c.Header(testNote(""))
	for i, chunk := range chunks {
		if !strings.HasPrefix(chunk, header) {
			t.Errorf("chunk %d missing header: %q", i, chunk[:40])
		}
	}
	if !strings.HasSuffix(chunks[1], strings.Repeat("b", fill+1)) {
		t.Error("expected second chunk to carry the overflowing line")
	}
}

func TestChunker_OversizedLineStandsAlone(t *testing.T) {
	c := New(runeCounter{}, 80, time.UTC)
	long := strings.Repeat("x", 200)

	chunks := c.Chunk(testNote("short\n" + long + "\ntail"))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[1], long) {
		t.Errorf("expected oversized line in its own chunk, got %q", chunks[1])
	}
	if !strings.HasSuffix(chunks[2], "tail") {
		t.Errorf("expected trailing line after oversized chunk, got %q", chunks[2])
	}
}

func TestChunker_BudgetProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lines := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{0,60}`), 0, 40).Draw(t, "lines")
		maxTokens := rapid.IntRange(60, 400).Draw(t, "maxTokens")

		c := New(runeCounter{}, maxTokens, time.UTC)
		note := testNote(strings.Join(lines, "\n"))
		header := c.Header(note)

		var words []string
		for _, chunk := range c.Chunk(note) {
			if !strings.HasPrefix(chunk, header) {
				t.Fatalf("chunk without header: %q", chunk)
			}
			n := runeCounter{}.Count(chunk)
			if n > maxTokens && strings.Count(chunk, "\n") != 2 {
				t.Fatalf("chunk of %d tokens exceeds budget %d with more than one line", n, maxTokens)
			}
			words = append(words, strings.Fields(strings.TrimPrefix(chunk, header))...)
		}

		want := strings.Fields(note.Text)
		if strings.Join(words, " ") != strings.Join(want, " ") {
			t.Fatalf("chunks lost content: expected %v, got %v", want, words)
		}
	})
}
