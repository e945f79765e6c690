package query

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuery is returned for empty or whitespace-only queries and
	// requests without a tenant.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrExternalCall wraps failures of the graph store or model backend that
	// exhausted their retries in a stage without a degraded fallback.
	ErrExternalCall = errors.New("external call failed")
	ErrUnknownRoute = errors.New("unknown route")
	ErrNoHandler    = errors.New("no handler registered for route")
)

func externalCall(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrExternalCall, err)
}

// Degradation names a recoverable failure. Degradations are recorded on the
// answer and in the trace; they never fail the request.
type Degradation string

const (
	DegradeSeedResolutionEmpty  Degradation = "seed_resolution_empty"
	DegradeSeedResolutionFailed Degradation = "seed_resolution_failed"
	DegradeTraversalTimeout     Degradation = "traversal_timeout"
	DegradeDecompositionFailure Degradation = "decomposition_failure"
	DegradeThinSubQuestion      Degradation = "thin_sub_question"
	DegradeContextOverflow      Degradation = "context_overflow"
	DegradeEmbeddingUnavailable Degradation = "embedding_unavailable"
	DegradeExtractionFailed     Degradation = "entity_extraction_failed"
	DegradeRetrievalFailed      Degradation = "retrieval_failed"
)

type degradations []Degradation

func (d *degradations) add(kind Degradation) {
	for _, k := range *d {
		if k == kind {
			return
		}
	}
	*d = append(*d, kind)
}

func (d *degradations) merge(other []Degradation) {
	for _, k := range other {
		d.add(k)
	}
}
