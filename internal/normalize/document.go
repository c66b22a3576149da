package normalize

import (
	"strings"

	"github.com/google/uuid"
)

// Anchor locates a text unit inside its source: a caption time range for
// transcripts, a sequential position for articles, or (depth, parent) for
// threads. Exactly the fields relevant to the source type are set.
type Anchor struct {
	StartSec *float64 `json:"start_sec,omitempty"`
	EndSec   *float64 `json:"end_sec,omitempty"`
	Position int      `json:"position"`
	Depth    *int     `json:"depth,omitempty"`
	ParentID string   `json:"parent_id,omitempty"`
}

// TextUnit is one ordered unit of a canonical document: a caption segment,
// a paragraph, or a post.
type TextUnit struct {
	Position int    `json:"position"`
	Text     string `json:"text"`
	Anchor   Anchor `json:"anchor"`
	// ExternalID is the source-native unit ID when one exists (thread
	// posts); empty otherwise.
	ExternalID string `json:"external_id,omitempty"`
}

// CanonicalDocument is the normalized form of one raw content item.
// Concatenating Units in order reconstructs a readable rendering of the
// source; anchors are monotonic.
type CanonicalDocument struct {
	RawItemID   uuid.UUID
	UserID      uuid.UUID
	SourceID    uuid.UUID
	SourceType  string
	Title       string
	Author      string
	PublishedAt int64 // unix seconds; kept scalar so the document stays serializable
	Units       []TextUnit
}

// Text renders the full document, units joined by blank lines.
func (d *CanonicalDocument) Text() string {
	if d == nil || len(d.Units) == 0 {
		return ""
	}
	parts := make([]string, 0, len(d.Units))
	for _, u := range d.Units {
		t := strings.TrimSpace(u.Text)
		if t == "" {
			continue
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, "\n\n")
}
