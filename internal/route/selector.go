// Package route implements the Route Selector of spec.md §4.6: picking a
// route category from request features, then a pipeline id from that
// category's pool, with a sticky-session override. The default
// category-internal policy is round-robin; PolicyWeighted is available for
// deployments that configure per-model weights. Grounded on the teacher's
// llm/router/router.go (WeightedRouter scoring/health map,
// weightedSelect's cumulative-weight sampling) and
// llm/router/prefix_router.go (fast-path lookup, reused here for the
// sticky-session map), generalized from weight-scored model candidates to
// RouteCodex's named route categories.
package route

import (
	"math/rand"
	"sync"
	"time"

	"github.com/routecodex/routecodex/types"
)

// Category names the route pools spec.md §2/§4.6 defines.
const (
	CategoryDefault     = "default"
	CategoryLongContext = "longContext"
	CategoryThinking    = "thinking"
	CategoryWebSearch   = "webSearch"
	CategoryVision      = "vision"
	CategoryCoding      = "coding"
	CategoryBackground  = "background"
)

// Features is the set of request signals category selection consults.
type Features struct {
	HasImageContent  bool
	EstimatedTokens  int
	ThinkingRequested bool
	ExplicitCategory string // client-set metadata hint, e.g. "webSearch"
	MaxContext       int    // the target model's configured maxContext, 0 = unknown
}

// contextMargin is the fraction of MaxContext past which a request is
// classified longContext. A conservative heuristic is all spec.md §4.6
// requires; exact tokenization is explicitly not required.
const contextMargin = 0.85

// SelectCategory implements §4.6's first-match-wins category rule.
func SelectCategory(f Features) string {
	if f.HasImageContent {
		return CategoryVision
	}
	if f.MaxContext > 0 && f.EstimatedTokens > int(float64(f.MaxContext)*contextMargin) {
		return CategoryLongContext
	}
	if f.ThinkingRequested {
		return CategoryThinking
	}
	switch f.ExplicitCategory {
	case CategoryWebSearch, CategoryCoding, CategoryBackground:
		return f.ExplicitCategory
	}
	return CategoryDefault
}

// EstimateTokens is the byte-length heuristic DESIGN.md's Open Question
// decision calls for: roughly 4 bytes per token, which is conservative
// enough to trip the longContext margin before an exact tokenizer would.
// spec.md §4.6 explicitly allows this ("exact tokenization is not
// required").
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Health reports whether a pipeline id is currently eligible to serve
// traffic. The pipeline runtime marks a pipeline unhealthy on repeated
// upstream failures (via its circuit breaker) and healthy again on
// recovery; the selector only reads this state.
type Health interface {
	IsHealthy(pipelineID string) bool
}

// AlwaysHealthy is the default Health used when the pipeline layer has no
// independent health signal; every pipeline id is considered serviceable.
type AlwaysHealthy struct{}

func (AlwaysHealthy) IsHealthy(string) bool { return true }

// Pool is one category's ordered, de-duplicated list of pipeline ids, per
// spec.md §3's RoutePool entity.
type Pool struct {
	Category    string
	PipelineIDs []string
}

// Policy selects how a category's pool is picked from when no
// sticky-session binding applies.
type Policy string

const (
	// PolicyRoundRobin cycles candidates in order (the default).
	PolicyRoundRobin Policy = "round-robin"
	// PolicyWeighted scores each candidate by its configured weight and
	// picks via cumulative-weight random sampling, the teacher's
	// WeightedRouter.weightedSelect algorithm retargeted from model
	// candidates to pipeline ids.
	PolicyWeighted Policy = "weighted"
)

// Selector picks a pipeline id for a request, given the assembled route
// pools. It owns the round-robin cursor per category and the
// session-id -> pipeline-id sticky bindings, per the concurrency model of
// spec.md §5 ("process-wide mutable state protected by fine-grained
// locking").
type Selector struct {
	mu      sync.Mutex
	pools   map[string][]string // category -> pipeline ids
	cursors map[string]int      // category -> next round-robin index
	sticky  map[string]string   // sessionID -> pipeline id
	health  Health
	policy  Policy
	weights map[string]int // pipeline id -> weight, PolicyWeighted only
	rngMu   sync.Mutex
	rng     *rand.Rand
}

// NewSelector builds a round-robin Selector over the assembled route pools.
// pools must contain a "default" entry with at least one pipeline id; an
// empty or absent default is a configuration error the assembler should
// have already rejected (spec.md §4.4's reconciliation step).
func NewSelector(pools map[string][]string, health Health) *Selector {
	return newSelector(pools, health, PolicyRoundRobin, nil)
}

// NewWeightedSelector builds a Selector whose category-internal pick (when
// no sticky-session binding applies) is weighted-random instead of
// round-robin: a pipeline id present in weights is sampled proportionally
// to its weight, a pipeline id absent from weights defaults to weight 1.
func NewWeightedSelector(pools map[string][]string, health Health, weights map[string]int) *Selector {
	return newSelector(pools, health, PolicyWeighted, weights)
}

func newSelector(pools map[string][]string, health Health, policy Policy, weights map[string]int) *Selector {
	if health == nil {
		health = AlwaysHealthy{}
	}
	copied := make(map[string][]string, len(pools))
	for k, v := range pools {
		dup := make([]string, len(v))
		copy(dup, v)
		copied[k] = dup
	}
	copiedWeights := make(map[string]int, len(weights))
	for k, v := range weights {
		copiedWeights[k] = v
	}
	return &Selector{
		pools:   copied,
		cursors: make(map[string]int),
		sticky:  make(map[string]string),
		health:  health,
		policy:  policy,
		weights: copiedWeights,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Select implements §4.6 in full: category fallthrough to default, then
// round-robin selection within the category, with a sticky-session
// override that binds a session to its first pipeline and keeps returning
// it as long as it stays healthy. On an unhealthy sticky pipeline, it fails
// over to the next round-robin candidate and rebinds the session.
func (s *Selector) Select(category, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := s.pools[category]
	if len(candidates) == 0 {
		candidates = s.pools[CategoryDefault]
	}
	if len(candidates) == 0 {
		return "", types.NewError(types.ErrRouteMiss, "no pipeline registered for category "+category)
	}

	if sessionID != "" {
		if bound, ok := s.sticky[sessionID]; ok && s.health.IsHealthy(bound) {
			return bound, nil
		}
	}

	var picked string
	if s.policy == PolicyWeighted {
		picked = s.weightedPick(candidates)
	} else {
		picked = s.nextRoundRobin(category, candidates)
	}

	if sessionID != "" {
		s.sticky[sessionID] = picked
	}
	return picked, nil
}

// weightedPick samples one candidate with probability proportional to its
// configured weight, restricted to currently-healthy candidates when any
// are healthy (falling open to the full candidate list otherwise, matching
// nextRoundRobin's fail-open behavior).
func (s *Selector) weightedPick(candidates []string) string {
	healthy := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if s.health.IsHealthy(id) {
			healthy = append(healthy, id)
		}
	}
	if len(healthy) == 0 {
		healthy = candidates
	}

	var total float64
	for _, id := range healthy {
		total += s.weightFor(id)
	}
	if total <= 0 {
		return healthy[0]
	}

	s.rngMu.Lock()
	target := s.rng.Float64() * total
	s.rngMu.Unlock()

	var cumulative float64
	for _, id := range healthy {
		cumulative += s.weightFor(id)
		if cumulative >= target {
			return id
		}
	}
	return healthy[len(healthy)-1]
}

func (s *Selector) weightFor(id string) float64 {
	if w, ok := s.weights[id]; ok && w > 0 {
		return float64(w)
	}
	return 1
}

// nextRoundRobin advances the category's cursor to the next healthy
// candidate, wrapping around at most once so a fully-unhealthy category
// still returns its first candidate rather than looping forever.
func (s *Selector) nextRoundRobin(category string, candidates []string) string {
	cursor := s.cursors[category]
	n := len(candidates)
	for i := 0; i < n; i++ {
		idx := (cursor + i) % n
		if s.health.IsHealthy(candidates[idx]) {
			s.cursors[category] = (idx + 1) % n
			return candidates[idx]
		}
	}
	// Every candidate unhealthy: still return one (fail open) rather than
	// RouteMiss, since the Provider module's own breaker/retry layer is
	// the authority on whether the call ultimately succeeds.
	idx := cursor % n
	s.cursors[category] = (idx + 1) % n
	return candidates[idx]
}

// Unbind drops a session's sticky binding, e.g. when the conversation ends
// or the client supplies no continuation id on the next call.
func (s *Selector) Unbind(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sticky, sessionID)
}

// Rebind forces sessionID's sticky pipeline to pipelineID, recording the
// failover the invariant in spec.md §8 calls for ("on unhealthy, fail over
// and record the rebind").
func (s *Selector) Rebind(sessionID, pipelineID string) {
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sticky[sessionID] = pipelineID
}
