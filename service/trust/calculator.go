package trust

import (
	"fmt"
	"math"
	"time"
)

const (
	MinScore = 300
	MaxScore = 850
)

// Component names used in Result.Components.
const (
	ComponentConsistency    = "consistency"
	ComponentFraudAvoidance = "fraud_avoidance"
	ComponentSavings        = "savings"
	ComponentCommunity      = "community"
	ComponentAccountAge     = "account_age"
	ComponentVerification   = "verification"
)

const (
	month        = 30 * 24 * time.Hour
	recentWindow = 3 * month

	savingsTarget   = 50000.0
	communityTarget = 100000.0

	// exposures beyond this many in the recent window start costing points
	exposureAllowance = 3
)

// Component is one weighted sub-score of a trust score.
type Component struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Weighted    float64 `json:"weighted"`
}

// Result is a trust score with its breakdown.
type Result struct {
	Score      int         `json:"score"`
	Rating     string      `json:"rating"`
	Components []Component `json:"components"`
}

// Component returns the named component, or false if absent.
func (r Result) Component(name string) (Component, bool) {
	for _, c := range r.Components {
		if c.Name == name {
			return c, true
		}
	}
	return Component{}, false
}

// Calculator computes trust scores. It holds no mutable state.
type Calculator struct {
	weights Weights
}

func NewCalculator(w Weights) (*Calculator, error) {
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weights: %w", err)
	}
	return &Calculator{weights: w}, nil
}

// MustNewCalculator is like NewCalculator but panics on invalid weights.
func MustNewCalculator(w Weights) *Calculator {
	c, err := NewCalculator(w)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Calculator) Weights() Weights {
	return c.weights
}

// Calculate is a pure function of in. Missing sections score 0, so
// Inputs{} yields MinScore.
func (c *Calculator) Calculate(in Inputs) Result {
	components := []Component{
		{
			Name:        ComponentConsistency,
			Description: "Regular and consistent transaction patterns",
			Score:       ConsistencyScore(in.Transactions),
			Weight:      c.weights.Consistency,
		},
		{
			Name:        ComponentFraudAvoidance,
			Description: "Successfully avoiding and reporting fraud",
			Score:       FraudAvoidanceScore(in.Fraud, in.AsOf),
			Weight:      c.weights.FraudAvoidance,
		},
		{
			Name:        ComponentSavings,
			Description: "Regular savings and goal achievement",
			Score:       SavingsScore(in.Savings),
			Weight:      c.weights.Savings,
		},
		{
			Name:        ComponentCommunity,
			Description: "Active participation in community savings",
			Score:       CommunityScore(in.Community),
			Weight:      c.weights.Community,
		},
		{
			Name:        ComponentAccountAge,
			Description: "Length of time on the platform",
			Score:       AccountAgeScore(in.AccountAge),
			Weight:      c.weights.AccountAge,
		},
		{
			Name:        ComponentVerification,
			Description: "Verified phone, email, ID and business",
			Score:       VerificationScore(in.Verification),
			Weight:      c.weights.Verification,
		},
	}

	total := 0.0
	for i := range components {
		components[i].Weighted = components[i].Score * components[i].Weight
		total += components[i].Weighted
	}

	score := MinScore + int(math.Round(total*(MaxScore-MinScore)))
	score = max(MinScore, min(MaxScore, score))

	return Result{
		Score:      score,
		Rating:     Rating(score),
		Components: components,
	}
}

// Rating names the band a score falls in.
func Rating(score int) string {
	switch {
	case score >= 750:
		return "excellent"
	case score >= 650:
		return "good"
	case score >= 550:
		return "fair"
	case score >= 450:
		return "building"
	default:
		return "new"
	}
}

// ConsistencyScore rewards steady monthly transaction totals.
func ConsistencyScore(h *TransactionHistory) float64 {
	if h == nil {
		return 0
	}
	if len(h.Points) < 5 {
		return 0.3
	}

	totals := make(map[string]float64)
	for _, p := range h.Points {
		totals[p.At.UTC().Format("2006-01")] += math.Abs(p.Amount.InexactFloat64())
	}
	if len(totals) < 2 {
		return 0.4
	}

	var sum float64
	for _, v := range totals {
		sum += v
	}
	mean := sum / float64(len(totals))
	if mean <= 0 {
		return 0
	}

	var variance float64
	for _, v := range totals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(totals))
	cv := math.Sqrt(variance) / mean

	return clamp01(1 - cv/2)
}

// FraudAvoidanceScore penalises scams the user fell for and repeated
// exposure, and rewards scams the user did not act on. A user who has
// never been alerted scores 1; one whose alerts are all old scores 0.9.
func FraudAvoidanceScore(h *FraudHistory, asOf time.Time) float64 {
	if h == nil {
		return 0
	}
	if len(h.Alerts) == 0 {
		return 1.0
	}

	var scams, fellFor, exposures int
	for _, a := range h.Alerts {
		if !asOf.IsZero() && (a.At.Before(asOf.Add(-recentWindow)) || a.At.After(asOf)) {
			continue
		}
		switch a.RiskLevel {
		case "scam":
			scams++
			exposures++
			if a.UserAction == "fell_for" {
				fellFor++
			}
		case "suspicious":
			exposures++
		}
	}

	switch {
	case fellFor > 0:
		return clamp01(0.8 - 0.2*float64(fellFor))
	case scams > 0:
		return 1.0
	default:
		return math.Max(0.5, 0.9-0.05*float64(max(0, exposures-exposureAllowance)))
	}
}

// SavingsScore combines contribution regularity, goals achieved and
// the total saved.
func SavingsScore(s *SavingsSummary) float64 {
	if s == nil {
		return 0
	}

	score := 0.0
	if n := len(s.MonthlyContributions); n >= 3 {
		active := 0
		for _, m := range s.MonthlyContributions {
			if m.IsPositive() {
				active++
			}
		}
		score += float64(active) / float64(n) * 0.4
	}
	if s.GoalsTotal > 0 {
		achieved := min(s.GoalsAchieved, s.GoalsTotal)
		score += float64(max(0, achieved)) / float64(s.GoalsTotal) * 0.4
	}
	if total := s.TotalSaved.InexactFloat64(); total > 0 {
		score += math.Min(0.2, total/savingsTarget)
	}

	return clamp01(score)
}

// CommunityScore rewards chama membership, contributions and leadership.
func CommunityScore(a *CommunityActivity) float64 {
	if a == nil {
		return 0
	}

	score := 0.0
	if a.ChamasJoined > 0 {
		score += math.Min(0.5, float64(a.ChamasJoined)*0.2)
	}
	if total := a.TotalContributions.InexactFloat64(); total > 0 {
		score += math.Min(0.3, total/communityTarget)
	}
	if a.LeadershipRoles > 0 {
		score += 0.1
	}
	if a.MembersHelped > 0 {
		score += 0.1
	}

	return clamp01(score)
}

// AccountAgeScore ramps linearly to 1 at twelve 30-day months.
func AccountAgeScore(age time.Duration) float64 {
	if age <= 0 {
		return 0
	}
	return math.Min(1, float64(age)/float64(month)/12)
}

func VerificationScore(v *VerificationFlags) float64 {
	if v == nil {
		return 0
	}

	score := 0.0
	if v.Phone {
		score += 0.3
	}
	if v.Email {
		score += 0.2
	}
	if v.ID {
		score += 0.3
	}
	if v.Business {
		score += 0.2
	}
	return math.Min(1, score)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
