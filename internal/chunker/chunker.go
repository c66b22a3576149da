package chunker

import (
	"fmt"
	"strings"

	"github.com/driftnote/driftnote-backend/internal/normalize"
	"github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/logger"
)

type Options struct {
	// MinTokens is the soft lower bound; a chunk may only close below it
	// at a hard structural break or at the end of the document.
	MinTokens int
	// MaxTokens is the hard upper bound.
	MaxTokens int
}

// DefaultOptions targets 30-60 seconds of speech per transcript chunk and
// one to three paragraphs per article chunk.
func DefaultOptions() Options {
	return Options{MinTokens: 100, MaxTokens: 160}
}

// Chunk covers the contiguous text-unit run [StartUnit, EndUnit] of its
// document. Anchor is the merge of the covered units' anchors.
type Chunk struct {
	Position   int
	Text       string
	TokenCount int
	StartUnit  int
	EndUnit    int
	Anchor     normalize.Anchor
}

type Chunker interface {
	Chunk(doc *normalize.CanonicalDocument, opts Options) ([]Chunk, error)
}

type chunker struct {
	log *logger.Logger
}

func NewChunker(log *logger.Logger) (Chunker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &chunker{log: log.With("service", "Chunker")}, nil
}

// Chunk greedily accumulates text units and closes the running chunk when
// the buffer would exceed MaxTokens, when a sentence boundary lands past
// MinTokens, or at a structural break that must not be crossed. Units are
// split below chunk granularity in two cases: a unit longer than MaxTokens
// is emitted as sentence-split pieces on its own, and a unit that would
// overflow a still-under-MinTokens buffer donates its leading sentences so
// the chunk never closes short without a structural cause. Together the
// chunks cover every unit of the document.
func (c *chunker) Chunk(doc *normalize.CanonicalDocument, opts Options) ([]Chunk, error) {
	if doc == nil || len(doc.Units) == 0 {
		return nil, errors.ErrEmptyDocument
	}
	if opts.MinTokens <= 0 || opts.MaxTokens <= 0 || opts.MinTokens > opts.MaxTokens {
		opts = DefaultOptions()
	}

	var (
		out    []Chunk
		buffer []normalize.TextUnit
		tokens int
	)

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		out = append(out, buildChunk(len(out), buffer))
		buffer = nil
		tokens = 0
	}

	for _, unit := range doc.Units {
		unitTokens := CountTokens(unit.Text)

		if structuralBreak(buffer, unit) {
			flush()
		}

		if unitTokens > opts.MaxTokens {
			// Oversized unit: close what we have, then emit sentence-split
			// pieces of the unit on its own.
			flush()
			for _, piece := range splitOversizedUnit(unit.Text, opts.MaxTokens) {
				u := unit
				u.Text = piece
				out = append(out, buildChunk(len(out), []normalize.TextUnit{u}))
			}
			continue
		}

		if tokens+unitTokens > opts.MaxTokens {
			if tokens < opts.MinTokens {
				// Closing here would leave a short chunk with no
				// structural cause. Fill it from the incoming unit and
				// carry the remainder forward.
				head, tail := splitToFit(unit.Text, opts.MinTokens-tokens, opts.MaxTokens-tokens)
				if head != "" {
					u := unit
					u.Text = head
					buffer = append(buffer, u)
				}
				flush()
				if tail == "" {
					continue
				}
				unit.Text = tail
				unitTokens = CountTokens(tail)
			} else {
				flush()
			}
		}

		buffer = append(buffer, unit)
		tokens += unitTokens

		if tokens >= opts.MinTokens && EndsSentence(unit.Text) {
			flush()
		}
	}
	flush()

	if len(out) == 0 {
		return nil, errors.ErrEmptyDocument
	}

	c.log.Debug("chunked document",
		"raw_item_id", doc.RawItemID,
		"units", len(doc.Units),
		"chunks", len(out),
	)
	return out, nil
}

// structuralBreak reports whether appending unit to buffer would cross a
// boundary that must close the running chunk. For threads that is the
// start of a new top-level post: one chunk never spans unrelated sibling
// subtrees.
func structuralBreak(buffer []normalize.TextUnit, unit normalize.TextUnit) bool {
	if len(buffer) == 0 {
		return false
	}
	return unit.Anchor.Depth != nil && *unit.Anchor.Depth == 0
}

// splitToFit cuts text so the head holds at least need tokens and at most
// budget. Whole sentences come first; when they fall short of need, the
// next sentence is cut on a word boundary.
func splitToFit(text string, need, budget int) (string, string) {
	if budget <= 0 {
		return "", text
	}
	sentences := SplitSentences(text)
	var head []string
	taken := 0
	i := 0
	for ; i < len(sentences); i++ {
		st := CountTokens(sentences[i])
		if taken+st > budget {
			break
		}
		head = append(head, sentences[i])
		taken += st
	}
	if taken < need && i < len(sentences) {
		words := strings.Fields(sentences[i])
		cut := need - taken
		if cut > budget-taken {
			cut = budget - taken
		}
		if cut >= len(words) {
			head = append(head, sentences[i])
			i++
		} else {
			head = append(head, strings.Join(words[:cut], " "))
			sentences[i] = strings.Join(words[cut:], " ")
		}
	}
	return strings.Join(head, " "), strings.Join(sentences[i:], " ")
}

// splitOversizedUnit cuts text into pieces of at most maxTokens, breaking
// at the sentence boundary nearest the limit. A single sentence longer
// than maxTokens is hard-cut on word boundaries.
func splitOversizedUnit(text string, maxTokens int) []string {
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var pieces []string
	var current []string
	tokens := 0
	for _, s := range sentences {
		st := CountTokens(s)
		if st > maxTokens {
			if len(current) > 0 {
				pieces = append(pieces, strings.Join(current, " "))
				current, tokens = nil, 0
			}
			pieces = append(pieces, hardCut(s, maxTokens)...)
			continue
		}
		if tokens+st > maxTokens {
			pieces = append(pieces, strings.Join(current, " "))
			current, tokens = nil, 0
		}
		current = append(current, s)
		tokens += st
	}
	if len(current) > 0 {
		pieces = append(pieces, strings.Join(current, " "))
	}
	return pieces
}

func hardCut(s string, maxTokens int) []string {
	words := strings.Fields(s)
	var out []string
	for start := 0; start < len(words); start += maxTokens {
		end := start + maxTokens
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}

func buildChunk(position int, units []normalize.TextUnit) Chunk {
	parts := make([]string, 0, len(units))
	for _, u := range units {
		parts = append(parts, strings.TrimSpace(u.Text))
	}
	text := strings.Join(parts, "\n\n")
	return Chunk{
		Position:   position,
		Text:       text,
		TokenCount: CountTokens(text),
		StartUnit:  units[0].Position,
		EndUnit:    units[len(units)-1].Position,
		Anchor:     mergeAnchors(units),
	}
}

// mergeAnchors spans the covered units: earliest start to latest end for
// transcripts, first position otherwise. Thread chunks keep the anchor of
// their first (shallowest) post.
func mergeAnchors(units []normalize.TextUnit) normalize.Anchor {
	merged := units[0].Anchor
	for _, u := range units[1:] {
		if u.Anchor.StartSec != nil && (merged.StartSec == nil || *u.Anchor.StartSec < *merged.StartSec) {
			merged.StartSec = u.Anchor.StartSec
		}
		if u.Anchor.EndSec != nil && (merged.EndSec == nil || *u.Anchor.EndSec > *merged.EndSec) {
			merged.EndSec = u.Anchor.EndSec
		}
	}
	return merged
}
