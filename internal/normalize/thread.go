package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gorm.io/datatypes"

	"github.com/driftnote/driftnote-backend/internal/pkg/errors"
)

type threadPayload struct {
	Posts []threadPost `json:"posts"`
}

type threadPost struct {
	ID        string `json:"id"`
	ParentID  string `json:"parent_id,omitempty"`
	Author    string `json:"author,omitempty"`
	CreatedAt int64  `json:"created_at"`
	Text      string `json:"text"`
}

// threadUnits flattens a comment tree depth-first: each post becomes a
// TextUnit anchored by (depth, parent). Siblings are ordered by their
// original timestamps, so Units reads as the thread would on the source.
func threadUnits(raw datatypes.JSON) ([]TextUnit, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing thread payload", errors.ErrUnsupportedFormat)
	}
	var payload threadPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: thread payload: %v", errors.ErrUnsupportedFormat, err)
	}
	if len(payload.Posts) == 0 {
		return nil, fmt.Errorf("%w: thread has no posts", errors.ErrUnsupportedFormat)
	}

	byParent := map[string][]threadPost{}
	seen := map[string]bool{}
	for i, p := range payload.Posts {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: post %d has no id", errors.ErrUnsupportedFormat, i)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate post id %q", errors.ErrUnsupportedFormat, id)
		}
		seen[id] = true
		byParent[strings.TrimSpace(p.ParentID)] = append(byParent[strings.TrimSpace(p.ParentID)], p)
	}
	// A parent reference pointing outside the thread is unparseable, not
	// silently droppable.
	for parent := range byParent {
		if parent != "" && !seen[parent] {
			return nil, fmt.Errorf("%w: unknown parent id %q", errors.ErrUnsupportedFormat, parent)
		}
	}
	for _, siblings := range byParent {
		sort.SliceStable(siblings, func(i, j int) bool { return siblings[i].CreatedAt < siblings[j].CreatedAt })
	}

	units := make([]TextUnit, 0, len(payload.Posts))
	visited := 0
	var walk func(parentID string, depth int)
	walk = func(parentID string, depth int) {
		for _, p := range byParent[parentID] {
			visited++
			text := strings.TrimSpace(p.Text)
			if text != "" {
				d := depth
				units = append(units, TextUnit{
					Position:   len(units),
					Text:       text,
					ExternalID: strings.TrimSpace(p.ID),
					Anchor: Anchor{
						Position: len(units),
						Depth:    &d,
						ParentID: strings.TrimSpace(p.ParentID),
					},
				})
			}
			walk(strings.TrimSpace(p.ID), depth+1)
		}
	}
	walk("", 0)

	// Posts unreachable from the root mean the parent references form a
	// cycle. Dropping them would lose content silently.
	if visited != len(payload.Posts) {
		return nil, fmt.Errorf("%w: %d posts unreachable from thread root",
			errors.ErrUnsupportedFormat, len(payload.Posts)-visited)
	}

	if len(units) == 0 {
		return nil, fmt.Errorf("%w: thread has no readable posts", errors.ErrUnsupportedFormat)
	}
	return units, nil
}
