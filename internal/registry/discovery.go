package registry

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agentx/agentx/internal/a2a"
)

// Match score weights. The aggregate is a weighted sum of the five
// sub-scores, each in [0,1].
const (
	weightRequired     = 0.4
	weightOptional     = 0.2
	weightFilter       = 0.2
	weightCost         = 0.1
	weightAvailability = 0.1
)

// Discover answers a capability query with scored matches, sorted by
// descending score and truncated to the query's result limit. Ties are
// broken by agent id so result order is stable.
func (r *Registry) Discover(query *Query) []*Match {
	maxResults := query.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	now := time.Now().UTC()

	r.mu.RLock()
	var matches []*Match
	for _, card := range r.cards {
		if card.Expired(now) {
			continue
		}
		if match := matchCard(card, query); match != nil {
			matches = append(matches, match)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Card.ID < matches[j].Card.ID
	})
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches
}

// matchCard scores one card against the query, or returns nil when any
// required capability is unmet.
func matchCard(card *a2a.AgentCard, query *Query) *Match {
	matched := []string{}
	missing := []string{}

	requiredHits := 0
	for _, requirement := range query.Required {
		if capability := findCapability(card, requirement); capability != nil {
			matched = append(matched, capability.Name)
			requiredHits++
		} else {
			missing = append(missing, requirement.Name)
		}
	}
	if len(missing) > 0 {
		return nil
	}

	optionalHits := 0
	for _, requirement := range query.Optional {
		if capability := findCapability(card, requirement); capability != nil {
			matched = append(matched, capability.Name)
			optionalHits++
		}
	}

	details := MatchDetails{
		RequiredScore:     ratioOrOne(requiredHits, len(query.Required)),
		OptionalScore:     ratioOrOne(optionalHits, len(query.Optional)),
		FilterScore:       filterScore(card, query.Filters),
		CostScore:         costScore(card, query.Filters),
		AvailabilityScore: availabilityScore(card.Status),
	}
	score := details.RequiredScore*weightRequired +
		details.OptionalScore*weightOptional +
		details.FilterScore*weightFilter +
		details.CostScore*weightCost +
		details.AvailabilityScore*weightAvailability

	return &Match{
		Card:    card.Clone(),
		Score:   score,
		Matched: matched,
		Missing: missing,
		Details: details,
	}
}

func findCapability(card *a2a.AgentCard, requirement Requirement) *a2a.Capability {
	for i := range card.Capabilities {
		capability := &card.Capabilities[i]
		if !capability.Available {
			continue
		}
		if capability.Name != requirement.Name && !MatchesPattern(capability.Name, requirement.Name) {
			continue
		}
		if requirement.Type != nil && capability.Type != *requirement.Type {
			continue
		}
		return capability
	}
	return nil
}

// MatchesPattern reports whether name matches a glob pattern where * spans
// any run and ? one character; everything else, underscores included, is
// literal. Patterns without wildcards never match here — exact equality is
// checked separately.
func MatchesPattern(name, pattern string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return false
	}
	var b strings.Builder
	b.WriteString("^")
	for _, ch := range pattern {
		switch ch {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

// filterScore starts at 1.0 and applies tag and status penalties, clamped
// to [0,1].
func filterScore(card *a2a.AgentCard, filters Filters) float64 {
	score := 1.0
	if len(filters.IncludeTags) > 0 {
		hits := 0
		for _, tag := range filters.IncludeTags {
			if card.HasTag(tag) {
				hits++
			}
		}
		score *= float64(hits) / float64(len(filters.IncludeTags))
	}
	for _, tag := range filters.ExcludeTags {
		if card.HasTag(tag) {
			score *= 0.5
		}
	}
	if filters.Status != nil && card.Status != *filters.Status {
		score *= 0.8
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// costScore rewards cheaper agents under the query budget; agents whose
// average capability cost exceeds the budget score zero.
func costScore(card *a2a.AgentCard, filters Filters) float64 {
	if filters.MaxCost == nil {
		return 1.0
	}
	if len(card.Capabilities) == 0 {
		return 1.0
	}
	total := 0.0
	for _, capability := range card.Capabilities {
		if capability.Cost != nil {
			total += capability.Cost.Amount
		}
	}
	avg := total / float64(len(card.Capabilities))
	if avg > *filters.MaxCost {
		return 0.0
	}
	ratio := avg / *filters.MaxCost
	if ratio > 1 {
		ratio = 1
	}
	return 1.0 - ratio
}

func availabilityScore(status a2a.AgentStatus) float64 {
	switch status {
	case a2a.AgentOnline:
		return 1.0
	case a2a.AgentBusy:
		return 0.7
	case a2a.AgentMaintenance:
		return 0.3
	case a2a.AgentUnknown:
		return 0.5
	default:
		return 0.0
	}
}

func ratioOrOne(hits, total int) float64 {
	if total == 0 {
		return 1.0
	}
	return float64(hits) / float64(total)
}
