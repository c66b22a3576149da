package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"github.com/driftnote/driftnote-backend/internal/pkg/errors"
)

type transcriptPayload struct {
	Segments []transcriptSegment `json:"segments"`
}

type transcriptSegment struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

// transcriptUnits maps each caption segment to a TextUnit anchored by its
// (start, end) time range. Segment order must be monotonic by start time.
func transcriptUnits(raw datatypes.JSON) ([]TextUnit, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing transcript payload", errors.ErrUnsupportedFormat)
	}
	var payload transcriptPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: transcript payload: %v", errors.ErrUnsupportedFormat, err)
	}
	if len(payload.Segments) == 0 {
		return nil, fmt.Errorf("%w: transcript has no segments", errors.ErrUnsupportedFormat)
	}

	units := make([]TextUnit, 0, len(payload.Segments))
	prevStart := -1.0
	for i, seg := range payload.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.StartSec < 0 || seg.EndSec < seg.StartSec {
			return nil, fmt.Errorf(
				"%w: segment %d has invalid time range [%f, %f]",
				errors.ErrUnsupportedFormat, i, seg.StartSec, seg.EndSec,
			)
		}
		if seg.StartSec < prevStart {
			return nil, fmt.Errorf(
				"%w: segment %d breaks start-time ordering (%f after %f)",
				errors.ErrUnsupportedFormat, i, seg.StartSec, prevStart,
			)
		}
		prevStart = seg.StartSec

		start := seg.StartSec
		end := seg.EndSec
		units = append(units, TextUnit{
			Position: len(units),
			Text:     text,
			Anchor: Anchor{
				StartSec: &start,
				EndSec:   &end,
				Position: len(units),
			},
		})
	}
	return units, nil
}
