package query

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/kiwi-query/internal/util"
	"github.com/OFFIS-RIT/kiwi-query/pkg/logger"
)

// Route names the retrieval strategy that answers a query.
type Route string

const (
	RouteSimpleLookup Route = "simple_lookup"
	RouteLocal        Route = "local"
	RouteGlobal       Route = "global"
	RouteDrift        Route = "drift"
)

var routes = []Route{RouteSimpleLookup, RouteLocal, RouteGlobal, RouteDrift}

// ParseRoute accepts a route name in any case and rejects unknown ones with
// ErrUnknownRoute.
func ParseRoute(s string) (Route, error) {
	r := Route(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range routes {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRoute, s)
}

// Profile constrains routing for a class of tenants. Remap is applied once
// to the selected route and is not chained.
type Profile struct {
	Name  string          `yaml:"name" json:"name"`
	Remap map[Route]Route `yaml:"remap" json:"remap,omitempty"`
}

// DefaultProfile leaves every route as classified.
func DefaultProfile() Profile {
	return Profile{Name: "default"}
}

// HighAssuranceProfile never answers from a bare seed lookup.
func HighAssuranceProfile() Profile {
	return Profile{
		Name:  "high_assurance",
		Remap: map[Route]Route{RouteSimpleLookup: RouteLocal},
	}
}

func (p Profile) apply(r Route) Route {
	if to, ok := p.Remap[r]; ok {
		return to
	}
	return r
}

func (p Profile) Validate() error {
	for from, to := range p.Remap {
		if _, err := ParseRoute(string(from)); err != nil {
			return fmt.Errorf("profile %s: %w", p.Name, err)
		}
		if _, err := ParseRoute(string(to)); err != nil {
			return fmt.Errorf("profile %s: %w", p.Name, err)
		}
	}
	return nil
}

// Classification is the router's verdict together with the scores that led
// to it.
type Classification struct {
	Route      Route   `json:"route"`
	Complexity float64 `json:"complexity"`
	Ambiguity  float64 `json:"ambiguity"`
	Combined   float64 `json:"combined"`
	Refined    bool    `json:"refined"`
	Heuristic  Route   `json:"heuristic_route"`
}

// ComplexityRefiner estimates the complexity of borderline queries.
type ComplexityRefiner interface {
	EstimateComplexity(ctx context.Context, query string) (float64, error)
}

// Router scores queries and picks a retrieval route. Without a refiner
// Classify is a pure function of the query and profile.
type Router struct {
	cfg     Config
	refiner ComplexityRefiner
}

// NewRouter returns a Router. refiner may be nil.
func NewRouter(cfg Config, refiner ComplexityRefiner) *Router {
	return &Router{cfg: cfg, refiner: refiner}
}

func (r *Router) Classify(ctx context.Context, query string, profile Profile) (Classification, error) {
	query = util.NormalizeQueryText(query)
	if query == "" {
		return Classification{}, ErrInvalidQuery
	}

	f := analyze(query)
	c := Classification{
		Complexity: f.complexity(),
		Ambiguity:  f.ambiguity(),
	}

	if r.refiner != nil && c.Complexity >= r.cfg.RefineLow && c.Complexity <= r.cfg.RefineHigh {
		est, err := r.refiner.EstimateComplexity(ctx, query)
		if err != nil {
			logger.Debug("[Router] complexity refinement failed", "err", err)
		} else {
			c.Complexity = clamp01((c.Complexity + clamp01(est)) / 2)
			c.Refined = true
		}
	}

	c.Combined = r.combine(c.Complexity, c.Ambiguity)
	c.Heuristic = r.selectRoute(c.Combined)
	c.Route = profile.apply(c.Heuristic)
	return c, nil
}

func (r *Router) combine(complexity, ambiguity float64) float64 {
	total := r.cfg.ComplexityWeight + r.cfg.AmbiguityWeight
	if total <= 0 {
		return 0
	}
	v := (r.cfg.ComplexityWeight*complexity + r.cfg.AmbiguityWeight*ambiguity) / total
	// rounded so scores sitting on a threshold compare stably
	return math.Round(v*1e9) / 1e9
}

func (r *Router) selectRoute(combined float64) Route {
	switch {
	case combined < r.cfg.VectorThreshold:
		return RouteSimpleLookup
	case combined > r.cfg.DriftThreshold:
		return RouteDrift
	case combined < r.cfg.LocalCeiling:
		return RouteLocal
	default:
		return RouteGlobal
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

var (
	comparisonWords = wordSet("compare", "compared", "comparing", "comparison", "versus", "vs",
		"difference", "differences", "differ", "contrast", "similarities")
	conjunctionWords = wordSet("and", "or", "but", "while", "whereas", "which", "who")
	multiHopWords    = wordSet("after", "before", "because", "caused", "then")
	multiHopPhrases  = []string{"led to", "lead to", "resulted in", "due to", "followed by", "as a result"}
	thematicWords    = wordSet("summarize", "summarise", "summary", "themes", "theme", "across",
		"overall", "all", "main", "trends", "overview")
	vagueWords   = wordSet("it", "this", "that", "they", "them", "these", "those", "its", "he", "she")
	vaguePhrases = []string{"this document", "the document"}
	reasonWords  = wordSet("how", "why")

	quotedRe     = regexp.MustCompile(`"[^"]+"|“[^”]+”`)
	identifierRe = regexp.MustCompile(`\b\d[\d.,/-]*\b|\b[A-Z]{2,}-?\d+\b`)
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

type features struct {
	tokens      int
	properNouns int
	quoted      int
	comparison  bool
	conjunction bool
	multiHop    bool
	thematic    bool
	vague       int
	reason      bool
	identifier  bool
}

func (f features) references() int {
	return f.properNouns + f.quoted
}

func (f features) complexity() float64 {
	var c float64
	if f.references() >= 2 {
		c += 0.35
	}
	if f.comparison {
		c += 0.45
	}
	if f.conjunction {
		c += 0.15
	}
	if f.multiHop {
		c += 0.2
	}
	if f.thematic {
		c += 0.4
	}
	if f.tokens > 20 {
		c += 0.1
	}
	return clamp01(c)
}

func (f features) ambiguity() float64 {
	a := 0.4
	if f.thematic {
		a += 0.3
	}
	a += math.Min(0.45, 0.15*float64(f.vague))
	if f.comparison && f.references() >= 2 {
		a += 0.25
	}
	if f.reason {
		a += 0.1
	}
	if f.quoted > 0 {
		a -= 0.2
	}
	if f.identifier {
		a -= 0.15
	}
	a -= math.Min(0.1, 0.05*float64(f.properNouns))
	return clamp01(a)
}

func analyze(query string) features {
	var f features

	quotes := quotedRe.FindAllString(query, -1)
	f.quoted = len(quotes)
	f.identifier = identifierRe.MatchString(query)
	unquoted := quotedRe.ReplaceAllString(query, " ")

	raw := strings.Fields(unquoted)
	f.tokens = len(strings.Fields(query))

	lower := " " + strings.Join(strings.Fields(strings.ToLower(unquoted)), " ") + " "
	for _, p := range multiHopPhrases {
		if strings.Contains(lower, " "+p+" ") {
			f.multiHop = true
		}
	}
	for _, p := range vaguePhrases {
		f.vague += strings.Count(lower, " "+p+" ")
	}

	// A run of capitalized tokens is one reference. It counts as a proper
	// noun unless every token of the run opens a sentence.
	sentenceStart := true
	inRun, runCounted := false, false
	for _, tok := range raw {
		word := strings.TrimFunc(tok, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		endsSentence := strings.ContainsAny(tok[len(tok)-1:], ".?!")
		if word == "" {
			sentenceStart = sentenceStart || endsSentence
			inRun = false
			continue
		}

		lw := strings.ToLower(word)
		if _, ok := comparisonWords[lw]; ok {
			f.comparison = true
		}
		if _, ok := conjunctionWords[lw]; ok {
			f.conjunction = true
		}
		if _, ok := multiHopWords[lw]; ok {
			f.multiHop = true
		}
		if _, ok := thematicWords[lw]; ok {
			f.thematic = true
		}
		if _, ok := vagueWords[lw]; ok {
			f.vague++
		}
		if _, ok := reasonWords[lw]; ok {
			f.reason = true
		}

		if unicode.IsUpper([]rune(word)[0]) {
			if !inRun {
				inRun, runCounted = true, false
			}
			if !sentenceStart && !runCounted {
				f.properNouns++
				runCounted = true
			}
		} else {
			inRun = false
		}
		if endsSentence || strings.HasSuffix(tok, ",") {
			inRun = false
		}
		sentenceStart = endsSentence
	}

	return f
}
