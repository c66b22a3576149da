package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/datatypes"

	"github.com/driftnote/driftnote-backend/internal/pkg/errors"
)

type articlePayload struct {
	Paragraphs []string `json:"paragraphs"`
}

var (
	tagPattern    = regexp.MustCompile(`<[^>]+>`)
	spacesPattern = regexp.MustCompile(`[ \t]+`)
)

// articleUnits maps each paragraph to a TextUnit with a sequential
// position anchor. Markup is stripped before anything else. When the
// structural payload carries no paragraph list, the plain body is split on
// blank lines.
func articleUnits(raw datatypes.JSON, body string) ([]TextUnit, error) {
	var paragraphs []string
	if len(raw) > 0 {
		var payload articlePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("%w: article payload: %v", errors.ErrUnsupportedFormat, err)
		}
		paragraphs = payload.Paragraphs
	}
	if len(paragraphs) == 0 {
		paragraphs = splitParagraphs(body)
	}
	if len(paragraphs) == 0 {
		return nil, fmt.Errorf("%w: article has no paragraphs", errors.ErrUnsupportedFormat)
	}

	units := make([]TextUnit, 0, len(paragraphs))
	for _, p := range paragraphs {
		text := stripMarkup(p)
		if text == "" {
			continue
		}
		units = append(units, TextUnit{
			Position: len(units),
			Text:     text,
			Anchor:   Anchor{Position: len(units)},
		})
	}
	return units, nil
}

func splitParagraphs(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	parts := strings.Split(body, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func stripMarkup(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")
	s = spacesPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
