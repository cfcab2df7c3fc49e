// Package chunk splits normalized entity content into bounded, overlapping
// segments suitable for embedding.
//
// Chunking is purely deterministic: identical content always reproduces the
// same number of chunks with the same boundaries. Idempotent re-indexing
// depends on this.
package chunk

import (
	"fmt"

	reterr "github.com/novadesk/retrieval/internal/errors"
)

// Default chunking parameters, measured in runes.
const (
	DefaultSize    = 1000
	DefaultOverlap = 100
)

// Chunk is one bounded slice of an entity's content.
type Chunk struct {
	// ID derives from the entity ID and ordinal: "<entity_id>#<ordinal>".
	ID string

	// Ordinal is the chunk's 0-based position within the entity.
	Ordinal int

	// Text is this chunk's slice of the content.
	Text string
}

// Chunker splits content with a fixed size and overlap.
type Chunker struct {
	size    int
	overlap int
}

// New creates a chunker. size must be positive and 0 <= overlap < size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, reterr.Validation(fmt.Sprintf("chunk size must be positive, got %d", size), nil)
	}
	if overlap < 0 || overlap >= size {
		return nil, reterr.Validation(
			fmt.Sprintf("chunk overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d", overlap, size), nil)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// MustNew is New that panics on invalid parameters. For use with constants.
func MustNew(size, overlap int) *Chunker {
	c, err := New(size, overlap)
	if err != nil {
		panic("chunk.MustNew: " + err.Error())
	}
	return c
}

// Size returns the target chunk size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap between consecutive chunks in runes.
func (c *Chunker) Overlap() int { return c.overlap }

// Split chunks content for the given entity ID.
//
// For content of rune length L, size T and overlap O, the result has exactly
// 1 chunk when L <= T, otherwise ceil((L-O)/(T-O)) chunks, each at most T
// runes, with consecutive chunks sharing O runes of context.
func (c *Chunker) Split(entityID, content string) []Chunk {
	runes := []rune(content)
	if len(runes) == 0 {
		return nil
	}

	if len(runes) <= c.size {
		return []Chunk{{
			ID:      ChunkID(entityID, 0),
			Ordinal: 0,
			Text:    content,
		}}
	}

	stride := c.size - c.overlap
	chunks := make([]Chunk, 0, (len(runes)-c.overlap+stride-1)/stride)
	for start, ordinal := 0, 0; start < len(runes); start, ordinal = start+stride, ordinal+1 {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			ID:      ChunkID(entityID, ordinal),
			Ordinal: ordinal,
			Text:    string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// ChunkID derives the deterministic chunk ID for an entity and ordinal.
func ChunkID(entityID string, ordinal int) string {
	return fmt.Sprintf("%s#%d", entityID, ordinal)
}
