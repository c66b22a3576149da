package errors

import (
	"errors"

	"github.com/driftnote/driftnote-backend/internal/pkg/httpx"
)

// Pipeline error taxonomy. The orchestrator uses IsTransient /
// IsPermanentInput to decide between backoff-retry and terminal failure;
// everything else keeps errors.Is/As semantics.
var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedFormat marks a raw item whose structural payload
	// cannot be parsed. Permanent input error.
	ErrUnsupportedFormat = errors.New("unsupported content format")
	// ErrEmptyDocument marks a canonical document with zero text units.
	// Permanent input error.
	ErrEmptyDocument = errors.New("empty document")

	// ErrRateLimited is returned when the shared provider budget rejects
	// an acquire. Transient.
	ErrRateLimited = errors.New("rate limited")
	// ErrGenerationTimeout marks a generation call exceeding its stage
	// timeout. Transient; surfaced to callers as retryable.
	ErrGenerationTimeout = errors.New("generation timeout")

	// ErrConsistencyViolation marks cross-namespace data escaping the
	// index. Fatal to the operation, never retried silently.
	ErrConsistencyViolation = errors.New("namespace consistency violation")

	// ErrEmptyIndex means the user namespace has no entries at all.
	ErrEmptyIndex = errors.New("empty index")
	// ErrNoGroundingContent means retrieval returned zero chunks. The
	// composer answers deterministically instead of generating.
	ErrNoGroundingContent = errors.New("no grounding content")
)

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrGenerationTimeout) {
		return true
	}
	if errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrEmptyDocument) || errors.Is(err, ErrConsistencyViolation) {
		return false
	}
	return httpx.IsRetryableError(err)
}

// IsPermanentInput reports whether err is a malformed-input failure that
// no amount of retrying can fix.
func IsPermanentInput(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrEmptyDocument)
}
