package common

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Entity represents a node in the knowledge graph. An entity can be an
// organization, person, location, or any other concept the indexer extracted.
//
// Entities carry the embedding used for beam scoring and an optional
// community assignment produced by community detection upstream.
type Entity struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Aliases     []string  `json:"aliases,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	CommunityID *string   `json:"community_id,omitempty"`
	Degree      int       `json:"degree"`
}

// Chunk represents a contiguous segment of source text. Chunks are the
// provenance for entities and the unit of evidence handed to synthesis.
type Chunk struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	DocTitle       string    `json:"doc_title"`
	SectionHeading *string   `json:"section_heading,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
	EntityIDs      []string  `json:"entity_ids,omitempty"`
	PageNumber     int       `json:"page_number,omitempty"`
	SourceDocument string    `json:"source_document,omitempty"`
}

// Document returns the key of the source document the chunk belongs to.
func (c Chunk) Document() string {
	if c.SourceDocument != "" {
		return c.SourceDocument
	}
	return DocumentKey(c.DocTitle)
}

// Edge is an undirected, weighted relation between two entities.
type Edge struct {
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	Weight   float64 `json:"weight"`
}

var (
	ErrSelfLoop       = errors.New("edge connects an entity to itself")
	ErrNegativeWeight = errors.New("edge weight is negative")
)

func (e Edge) Validate() error {
	if e.SourceID == "" || e.TargetID == "" {
		return fmt.Errorf("edge %q-%q: missing endpoint", e.SourceID, e.TargetID)
	}
	if e.SourceID == e.TargetID {
		return fmt.Errorf("edge %s: %w", e.SourceID, ErrSelfLoop)
	}
	if e.Weight < 0 {
		return fmt.Errorf("edge %s-%s: %w", e.SourceID, e.TargetID, ErrNegativeWeight)
	}
	return nil
}

// Community is a precomputed cluster of entities. It is read-only for the
// query path.
type Community struct {
	ID          string    `json:"id"`
	SummaryText string    `json:"summary_text"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

type SeedLayer string

const (
	SeedLayerExact  SeedLayer = "exact"
	SeedLayerVector SeedLayer = "vector"
)

// Seed is an entity resolved from a query mention that starts a traversal.
type Seed struct {
	EntityID string    `json:"entity_id"`
	Weight   float64   `json:"weight"`
	Layer    SeedLayer `json:"layer"`
}

// EvidenceItem references either an entity or a chunk together with the
// score it reached and the hop where it was first admitted.
type EvidenceItem struct {
	EntityID    string  `json:"entity_id,omitempty"`
	ChunkID     string  `json:"chunk_id,omitempty"`
	Score       float64 `json:"score"`
	HopDistance int     `json:"hop_distance"`
}

type SubQuestionState string

const (
	StateDecomposed      SubQuestionState = "DECOMPOSED"
	StateDiscoveryTraced SubQuestionState = "DISCOVERY_TRACED"
	StateConfident       SubQuestionState = "CONFIDENT"
	StateThin            SubQuestionState = "THIN"
	StateReDecomposed    SubQuestionState = "RE_DECOMPOSED"
	StateConsolidated    SubQuestionState = "CONSOLIDATED"
)

type SubQuestion struct {
	Text       string           `json:"text"`
	Confidence float64          `json:"confidence"`
	Evidence   []EvidenceItem   `json:"evidence,omitempty"`
	Seeds      []Seed           `json:"seeds,omitempty"`
	State      SubQuestionState `json:"state"`
	Attempts   int              `json:"attempts"`
}

// CitedChunk is a chunk admitted to the synthesis context under a stable
// 1-based citation index.
type CitedChunk struct {
	Index     int     `json:"index"`
	Chunk     Chunk   `json:"chunk"`
	Score     float64 `json:"score"`
	Tokens    int     `json:"tokens"`
	Truncated bool    `json:"truncated,omitempty"`
}

type CitedContext struct {
	Entries    []CitedChunk `json:"entries"`
	TokenCount int          `json:"token_count"`
	Budget     int          `json:"budget"`
	Truncated  bool         `json:"truncated,omitempty"`
}

func (c CitedContext) IsEmpty() bool {
	return len(c.Entries) == 0
}

// ChunkID returns the chunk id behind a citation index, or false if the
// index is not part of the context.
func (c CitedContext) ChunkID(index int) (string, bool) {
	if index < 1 || index > len(c.Entries) {
		return "", false
	}
	return c.Entries[index-1].Chunk.ID, true
}

// Render formats the context as the numbered source list handed to the
// synthesis prompt.
func (c CitedContext) Render() string {
	var b strings.Builder
	for i, e := range c.Entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[[%d]] %s", e.Index, e.Chunk.Document())
		if e.Chunk.SectionHeading != nil && *e.Chunk.SectionHeading != "" {
			fmt.Fprintf(&b, " § %s", *e.Chunk.SectionHeading)
		}
		if e.Chunk.PageNumber > 0 {
			fmt.Fprintf(&b, " (p. %d)", e.Chunk.PageNumber)
		}
		b.WriteString("\n")
		b.WriteString(e.Chunk.Text)
	}
	return b.String()
}

var documentSuffixes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s+-\s+(section|part|chapter)\s+[\w.]+$`),
	regexp.MustCompile(`(?i)\s*\((exhibit|annex|appendix|attachment)\s+[\w.]+\)$`),
	regexp.MustCompile(`(?i),\s*(exhibit|annex|appendix|attachment)\s+[\w.]+$`),
	regexp.MustCompile(`\s*§\s*[\w.]+$`),
}

// DocumentKey strips section and exhibit suffixes from a chunk's document
// title so that every chunk maps to exactly one source document.
func DocumentKey(docTitle string) string {
	key := strings.TrimSpace(docTitle)
	for {
		before := key
		for _, re := range documentSuffixes {
			key = strings.TrimSpace(re.ReplaceAllString(key, ""))
		}
		if key == before {
			return key
		}
	}
}
