package chunking

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// TextItem is one extracted page of document text.
type TextItem struct {
	Text string
	Page int
}

// Chunk is a span of text bounded by the chunker's size settings,
// tagged with the page it started on.
type Chunk struct {
	Text      string
	Page      int
	CharCount int
	Tokens    int
	Index     int
}

// Chunker accumulates paragraphs into chunks of at most maxChars,
// seeding each new chunk with the tail of the previous one so adjacent
// chunks share context.
type Chunker struct {
	maxChars     int
	overlapChars int
}

func NewChunker(maxChars, overlapChars int) (*Chunker, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("max chars must be positive, got %d", maxChars)
	}
	if overlapChars < 0 {
		return nil, fmt.Errorf("overlap chars must be non-negative, got %d", overlapChars)
	}
	if overlapChars >= maxChars {
		return nil, fmt.Errorf("overlap chars (%d) must be less than max chars (%d)", overlapChars, maxChars)
	}
	return &Chunker{maxChars: maxChars, overlapChars: overlapChars}, nil
}

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)

// Chunk splits each item on blank-line boundaries and packs the
// paragraphs into chunks. A paragraph that would push a non-empty
// buffer over maxChars flushes the buffer first; the next buffer starts
// with at most overlapChars taken from the end of the flushed buffer's
// last paragraph. A single paragraph longer than maxChars is emitted as
// one oversized chunk rather than split mid-paragraph.
func (c *Chunker) Chunk(items []TextItem) []Chunk {
	chunks := make([]Chunk, 0)

	for _, item := range items {
		if strings.TrimSpace(item.Text) == "" {
			continue
		}

		var buffer []string
		bufferChars := 0

		for _, para := range paragraphSplit.Split(item.Text, -1) {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			paraChars := utf8.RuneCountInString(para)

			if bufferChars+paraChars > c.maxChars && len(buffer) > 0 {
				chunks = append(chunks, c.flush(buffer, bufferChars, item.Page, len(chunks)))

				if c.overlapChars > 0 {
					overlap := tailRunes(buffer[len(buffer)-1], c.overlapChars)
					buffer = []string{overlap, para}
					bufferChars = utf8.RuneCountInString(overlap) + paraChars
				} else {
					buffer = []string{para}
					bufferChars = paraChars
				}
				continue
			}

			buffer = append(buffer, para)
			bufferChars += paraChars
		}

		if len(buffer) > 0 {
			chunks = append(chunks, c.flush(buffer, bufferChars, item.Page, len(chunks)))
		}
	}

	return chunks
}

func (c *Chunker) flush(buffer []string, chars, page, index int) Chunk {
	text := strings.Join(buffer, "\n\n")
	return Chunk{
		Text:      text,
		Page:      page,
		CharCount: chars,
		Tokens:    EstimateTokens(text),
		Index:     index,
	}
}

func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

// EstimateTokens approximates token count as one token per four
// characters. Close enough for batching budgets without a tokenizer.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// GenerateChunkID derives the unique chunk id for a document and chunk
// index, zero-padded so ids sort lexically in emission order.
func GenerateChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%04d", documentID, index)
}
