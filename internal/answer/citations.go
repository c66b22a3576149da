package answer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/driftnote/driftnote-backend/internal/types"
)

// Citation maps a marker in the answer text back to the chunk that
// grounds it.
type Citation struct {
	Marker      string          `json:"marker"`
	ChunkID     uuid.UUID       `json:"chunk_id"`
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	SourceType  string          `json:"source_type"`
	PublishedAt time.Time       `json:"published_at"`
	Anchor      json.RawMessage `json:"anchor,omitempty"`
}

var citationMarkerRE = regexp.MustCompile(`\[S(\d+)\]`)

// markerFor returns the marker for a grounding-set position (0-based).
func markerFor(position int) string {
	return fmt.Sprintf("[S%d]", position+1)
}

// extractCitations resolves the markers used in the generated text
// against the grounding set. Markers pointing outside the set are
// stripped from the text rather than surfaced as dangling references.
func extractCitations(text string, grounding []*types.ContentChunk) (string, []Citation) {
	seen := map[int]bool{}
	var citations []Citation

	cleaned := citationMarkerRE.ReplaceAllStringFunc(text, func(marker string) string {
		sub := citationMarkerRE.FindStringSubmatch(marker)
		n, err := strconv.Atoi(sub[1])
		if err != nil || n < 1 || n > len(grounding) {
			return ""
		}
		idx := n - 1
		if !seen[idx] {
			seen[idx] = true
			chunk := grounding[idx]
			citations = append(citations, Citation{
				Marker:      markerFor(idx),
				ChunkID:     chunk.ID,
				Title:       chunk.Title,
				Author:      chunk.Author,
				SourceType:  chunk.SourceType,
				PublishedAt: chunk.PublishedAt,
				Anchor:      json.RawMessage(chunk.Anchor),
			})
		}
		return marker
	})
	return cleaned, citations
}

func citedChunkIDs(citations []Citation) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(citations))
	for _, c := range citations {
		ids = append(ids, c.ChunkID)
	}
	return ids
}
