package trust

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Weights sets how much each sub-score contributes to the final score.
// They must be non-negative and sum to 1.
type Weights struct {
	Consistency    float64 `json:"consistency"`
	FraudAvoidance float64 `json:"fraud_avoidance"`
	Savings        float64 `json:"savings"`
	Community      float64 `json:"community"`
	AccountAge     float64 `json:"account_age"`
	Verification   float64 `json:"verification"`
}

const weightTolerance = 1e-9

func DefaultWeights() Weights {
	return Weights{
		Consistency:    0.25,
		FraudAvoidance: 0.20,
		Savings:        0.20,
		Community:      0.15,
		AccountAge:     0.10,
		Verification:   0.10,
	}
}

func (w Weights) Sum() float64 {
	return w.Consistency + w.FraudAvoidance + w.Savings + w.Community + w.AccountAge + w.Verification
}

func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		ComponentConsistency:    w.Consistency,
		ComponentFraudAvoidance: w.FraudAvoidance,
		ComponentSavings:        w.Savings,
		ComponentCommunity:      w.Community,
		ComponentAccountAge:     w.AccountAge,
		ComponentVerification:   w.Verification,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("weight %s must be non-negative, got %v", name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights must sum to 1, got %v", sum)
	}
	return nil
}

// LoadWeights reads a JSON weights table from path.
func LoadWeights(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Weights{}, fmt.Errorf("failed to read weights: %w", err)
	}

	var w Weights
	if err := json.Unmarshal(data, &w); err != nil {
		return Weights{}, fmt.Errorf("failed to parse weights: %w", err)
	}
	if err := w.Validate(); err != nil {
		return Weights{}, fmt.Errorf("invalid weights: %w", err)
	}
	return w, nil
}
