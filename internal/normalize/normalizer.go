package normalize

import (
	"fmt"

	"github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
	"github.com/driftnote/driftnote-backend/internal/types"
)

// Normalizer turns a raw content item into a canonical document. It has no
// side effects: a failure leaves no partial state anywhere.
type Normalizer interface {
	Normalize(item *types.RawContentItem) (*CanonicalDocument, error)
}

type normalizer struct {
	log *logger.Logger
}

func NewNormalizer(log *logger.Logger) (Normalizer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &normalizer{log: log.With("service", "Normalizer")}, nil
}

// Normalize dispatches over the closed set of source types. Unknown types
// and unparseable payloads fail with ErrUnsupportedFormat.
func (n *normalizer) Normalize(item *types.RawContentItem) (*CanonicalDocument, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: nil raw content item", errors.ErrInvalidArgument)
	}

	doc := &CanonicalDocument{
		RawItemID:   item.ID,
		UserID:      item.UserID,
		SourceID:    item.SourceID,
		SourceType:  item.SourceType,
		Title:       item.Title,
		Author:      item.Author,
		PublishedAt: item.PublishedAt.Unix(),
	}

	var (
		units []TextUnit
		err   error
	)
	switch item.SourceType {
	case types.SourceTypeVideo:
		units, err = transcriptUnits(item.Payload)
	case types.SourceTypeArticle:
		units, err = articleUnits(item.Payload, item.Body)
	case types.SourceTypeThread:
		units, err = threadUnits(item.Payload)
	default:
		return nil, fmt.Errorf("%w: source_type=%q", errors.ErrUnsupportedFormat, item.SourceType)
	}
	if err != nil {
		return nil, err
	}

	doc.Units = units
	n.log.Debug("normalized raw item",
		"raw_item_id", item.ID,
		"source_type", item.SourceType,
		"units", len(units),
	)
	return doc, nil
}
