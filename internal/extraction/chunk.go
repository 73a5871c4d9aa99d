package extraction

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Chunk is a slice of extracted text sized for downstream processing
type Chunk struct {
	ID        string `json:"chunk_id"`
	Index     int    `json:"chunk_index"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
}

// ChunkText splits text into chunks of at most chunkWords words. Chunk IDs
// are the first 8 hex characters of the chunk's MD5, stable across runs so
// results can be deduplicated.
func ChunkText(text string, chunkWords int) []Chunk {
	if chunkWords <= 0 {
		chunkWords = 2000
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	for start := 0; start < len(words); start += chunkWords {
		end := start + chunkWords
		if end > len(words) {
			end = len(words)
		}
		chunkText := strings.Join(words[start:end], " ")

		sum := md5.Sum([]byte(chunkText))
		chunks = append(chunks, Chunk{
			ID:        hex.EncodeToString(sum[:])[:8],
			Index:     len(chunks),
			Text:      chunkText,
			WordCount: end - start,
		})
	}
	return chunks
}
