package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/tajiricircle/tajiri/service/config"
	"github.com/tajiricircle/tajiri/service/fraud"
	"github.com/tajiricircle/tajiri/service/sms"
	"github.com/tajiricircle/tajiri/service/trust"
)

// NewFromConfig builds a pipeline with the fraud rules and trust weights
// named in cfg. Empty paths use the built-in tables.
func NewFromConfig(cfg *config.Config, store Store, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	rules := fraud.DefaultRuleSet()
	if cfg.FraudRulesPath != "" {
		loaded, err := fraud.LoadRuleSet(cfg.FraudRulesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load fraud rules: %w", err)
		}
		rules = loaded
	}
	scorer, err := fraud.NewScorer(rules)
	if err != nil {
		return nil, fmt.Errorf("invalid fraud rules: %w", err)
	}

	weights := trust.DefaultWeights()
	if cfg.TrustWeightsPath != "" {
		loaded, err := trust.LoadWeights(cfg.TrustWeightsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust weights: %w", err)
		}
		weights = loaded
	}
	calculator, err := trust.NewCalculator(weights)
	if err != nil {
		return nil, fmt.Errorf("invalid trust weights: %w", err)
	}

	return New(store, sms.NewParser(sms.DefaultConfig()), scorer, calculator, logger, opts...), nil
}

// ConnectRedis parses a redis:// URL and verifies the server answers.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}
