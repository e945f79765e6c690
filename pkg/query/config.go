package query

import (
	"errors"
	"fmt"
	"time"
)

// BeamProfile bounds a single traversal.
type BeamProfile struct {
	BeamWidth int `yaml:"beam_width" json:"beam_width"`
	MaxHops   int `yaml:"max_hops" json:"max_hops"`
}

func (p BeamProfile) validate(name string) error {
	if p.BeamWidth <= 0 {
		return fmt.Errorf("%s: beam_width must be positive", name)
	}
	if p.MaxHops < 0 {
		return fmt.Errorf("%s: max_hops must not be negative", name)
	}
	return nil
}

// Config holds every tunable of the retrieval pipeline. A Config is
// immutable once a Pipeline has been built from it.
type Config struct {
	ComplexityWeight float64 `yaml:"complexity_weight"`
	AmbiguityWeight  float64 `yaml:"ambiguity_weight"`
	VectorThreshold  float64 `yaml:"vector_threshold"`
	LocalCeiling     float64 `yaml:"local_ceiling"`
	DriftThreshold   float64 `yaml:"drift_threshold"`
	RefineLow        float64 `yaml:"refine_low"`
	RefineHigh       float64 `yaml:"refine_high"`

	SeedTopK         int     `yaml:"seed_top_k"`
	SimilarityFloor  float64 `yaml:"similarity_floor"`
	SimpleLookupTopK int     `yaml:"simple_lookup_top_k"`

	MainBeam       BeamProfile `yaml:"main_beam"`
	DiscoveryBeam  BeamProfile `yaml:"discovery_beam"`
	RefinementBeam BeamProfile `yaml:"refinement_beam"`
	LocalBeam      BeamProfile `yaml:"local_beam"`

	StandaloneTopK        int           `yaml:"standalone_top_k"`
	StandaloneDiscount    float64       `yaml:"standalone_discount"`
	CommunityAugmentation bool          `yaml:"community_augmentation"`
	CommunityPeers        int           `yaml:"community_peers"`
	CommunityWeight       float64       `yaml:"community_weight"`
	FallbackDecay         float64       `yaml:"fallback_decay"`
	Parallelism           int           `yaml:"parallelism"`
	TraceTimeout          time.Duration `yaml:"trace_timeout"`

	MinEvidence         int           `yaml:"min_evidence"`
	DominanceWeight     float64       `yaml:"dominance_weight"`
	ConfidenceFloor     float64       `yaml:"confidence_floor"`
	MaxRedecompositions int           `yaml:"max_redecompositions"`
	MaxSubQuestions     int           `yaml:"max_sub_questions"`
	DiscoveryTimeout    time.Duration `yaml:"discovery_timeout"`

	GlobalChunkTopK  int `yaml:"global_chunk_top_k"`
	GlobalEntityTopK int `yaml:"global_entity_top_k"`

	TokenBudget        int    `yaml:"token_budget"`
	ChunkFloor         int    `yaml:"chunk_floor"`
	ChunkMax           int    `yaml:"chunk_max"`
	MinTruncatedTokens int    `yaml:"min_truncated_tokens"`
	Encoding           string `yaml:"encoding"`

	StageTimeout time.Duration `yaml:"stage_timeout"`
	StoreRetries int           `yaml:"store_retries"`
}

func DefaultConfig() Config {
	return Config{
		ComplexityWeight: 0.6,
		AmbiguityWeight:  0.4,
		VectorThreshold:  0.25,
		LocalCeiling:     0.5,
		DriftThreshold:   0.75,
		RefineLow:        0.3,
		RefineHigh:       0.7,

		SeedTopK:         5,
		SimilarityFloor:  0.5,
		SimpleLookupTopK: 3,

		MainBeam:       BeamProfile{BeamWidth: 30, MaxHops: 3},
		DiscoveryBeam:  BeamProfile{BeamWidth: 5, MaxHops: 2},
		RefinementBeam: BeamProfile{BeamWidth: 15, MaxHops: 2},
		LocalBeam:      BeamProfile{BeamWidth: 30, MaxHops: 1},

		StandaloneTopK:        5,
		StandaloneDiscount:    0.9,
		CommunityAugmentation: true,
		CommunityPeers:        5,
		CommunityWeight:       0.3,
		FallbackDecay:         0.8,
		Parallelism:           8,
		TraceTimeout:          20 * time.Second,

		MinEvidence:         3,
		DominanceWeight:     0.5,
		ConfidenceFloor:     0.4,
		MaxRedecompositions: 1,
		MaxSubQuestions:     6,
		DiscoveryTimeout:    10 * time.Second,

		GlobalChunkTopK:  20,
		GlobalEntityTopK: 10,

		TokenBudget:        6000,
		ChunkFloor:         2,
		ChunkMax:           8,
		MinTruncatedTokens: 64,
		Encoding:           "o200k_base",

		StageTimeout: 30 * time.Second,
		StoreRetries: 2,
	}
}

func unit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0, 1], got %v", name, v)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.ComplexityWeight < 0 || c.AmbiguityWeight < 0 || c.ComplexityWeight+c.AmbiguityWeight <= 0 {
		add(errors.New("complexity_weight and ambiguity_weight must be non-negative and not both zero"))
	}
	add(unit("vector_threshold", c.VectorThreshold))
	add(unit("local_ceiling", c.LocalCeiling))
	add(unit("drift_threshold", c.DriftThreshold))
	if c.VectorThreshold > c.LocalCeiling || c.LocalCeiling > c.DriftThreshold {
		add(errors.New("thresholds must satisfy vector_threshold <= local_ceiling <= drift_threshold"))
	}
	if c.RefineLow > c.RefineHigh {
		add(errors.New("refine_low must not exceed refine_high"))
	}

	if c.SeedTopK <= 0 {
		add(errors.New("seed_top_k must be positive"))
	}
	add(unit("similarity_floor", c.SimilarityFloor))
	if c.SimpleLookupTopK <= 0 {
		add(errors.New("simple_lookup_top_k must be positive"))
	}

	add(c.MainBeam.validate("main_beam"))
	add(c.DiscoveryBeam.validate("discovery_beam"))
	add(c.RefinementBeam.validate("refinement_beam"))
	add(c.LocalBeam.validate("local_beam"))

	if c.StandaloneTopK < 0 {
		add(errors.New("standalone_top_k must not be negative"))
	}
	add(unit("standalone_discount", c.StandaloneDiscount))
	if c.CommunityPeers < 0 {
		add(errors.New("community_peers must not be negative"))
	}
	add(unit("community_weight", c.CommunityWeight))
	add(unit("fallback_decay", c.FallbackDecay))
	if c.Parallelism <= 0 {
		add(errors.New("parallelism must be positive"))
	}

	if c.MinEvidence <= 0 {
		add(errors.New("min_evidence must be positive"))
	}
	add(unit("dominance_weight", c.DominanceWeight))
	add(unit("confidence_floor", c.ConfidenceFloor))
	if c.MaxRedecompositions < 0 {
		add(errors.New("max_redecompositions must not be negative"))
	}
	if c.MaxSubQuestions <= 0 {
		add(errors.New("max_sub_questions must be positive"))
	}

	if c.GlobalChunkTopK <= 0 || c.GlobalEntityTopK < 0 {
		add(errors.New("global_chunk_top_k must be positive and global_entity_top_k non-negative"))
	}

	if c.TokenBudget <= 0 {
		add(errors.New("token_budget must be positive"))
	}
	if c.ChunkFloor <= 0 || c.ChunkMax < c.ChunkFloor {
		add(errors.New("chunk caps must satisfy 0 < chunk_floor <= chunk_max"))
	}
	if c.MinTruncatedTokens < 0 {
		add(errors.New("min_truncated_tokens must not be negative"))
	}
	if c.StoreRetries < 0 {
		add(errors.New("store_retries must not be negative"))
	}

	return errors.Join(errs...)
}
