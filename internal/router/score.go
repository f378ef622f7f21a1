package router

import "datacache/internal/core"

// Scorer ranks a provider for a request. Higher is better. The weighted-sum
// scorer is the default strategy; alternatives (e.g. bandit-style selection)
// plug in here without touching the router's control flow.
type Scorer interface {
	Score(spec *core.ProviderSpec, req *core.DataRequest, utilization float64) float64
}

// Default weights for the weighted-sum scorer.
const (
	weightReliability    = 40.0
	weightQuality        = 40.0
	weightSpecialty      = 20.0
	weightCostEfficiency = 10.0

	// DefaultReferenceCeiling is the cost against which per-request prices
	// are normalized for the cost-efficiency term.
	DefaultReferenceCeiling = 0.05

	defaultLoadPenaltyWeight = 15.0
	defaultHeadroomWeight    = 10.0
)

// WeightedScorer implements the default scoring heuristic:
//
//	40*reliability + 40*dataQuality + 20*specialized + 10*costEfficiency
//	- loadPenalty*utilization + headroomWeight*costHeadroom
type WeightedScorer struct {
	// ReferenceCeiling normalizes cost efficiency
	// (DefaultReferenceCeiling if zero).
	ReferenceCeiling float64

	// LoadPenaltyWeight scales the penalty for rate-limiter utilization.
	LoadPenaltyWeight float64

	// HeadroomWeight scales the bonus for headroom under the request's
	// MaxCost.
	HeadroomWeight float64
}

// Score implements Scorer.
func (s *WeightedScorer) Score(spec *core.ProviderSpec, req *core.DataRequest, utilization float64) float64 {
	ceiling := s.ReferenceCeiling
	if ceiling <= 0 {
		ceiling = DefaultReferenceCeiling
	}
	loadPenalty := s.LoadPenaltyWeight
	if loadPenalty <= 0 {
		loadPenalty = defaultLoadPenaltyWeight
	}
	headroomWeight := s.HeadroomWeight
	if headroomWeight <= 0 {
		headroomWeight = defaultHeadroomWeight
	}

	costEfficiency := (ceiling - spec.CostPerRequest) / ceiling
	if costEfficiency < 0 {
		costEfficiency = 0
	}

	specialized := 0.0
	if spec.Specializes(req.DataType) {
		specialized = 1.0
	}

	score := weightReliability*spec.Reliability +
		weightQuality*spec.DataQuality +
		weightSpecialty*specialized +
		weightCostEfficiency*costEfficiency

	score -= loadPenalty * utilization

	if req.MaxCost > 0 {
		headroom := (req.MaxCost - spec.CostPerRequest) / req.MaxCost
		if headroom > 0 {
			score += headroomWeight * headroom
		}
	}
	return score
}
