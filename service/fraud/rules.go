package fraud

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// KeywordRule adds Weight when Phrase appears in the lower-cased message.
type KeywordRule struct {
	ID     string  `json:"id"`
	Phrase string  `json:"phrase"`
	Weight float64 `json:"weight"`
}

// PatternRule adds Weight when Pattern matches the lower-cased message.
type PatternRule struct {
	ID      string  `json:"id"`
	Pattern string  `json:"pattern"`
	Weight  float64 `json:"weight"`
	Active  bool    `json:"active"`
}

// RuleSet is the complete weights table used by a Scorer.
type RuleSet struct {
	URLPattern string  `json:"url_pattern"`
	URLWeight  float64 `json:"url_weight"`

	Keywords []KeywordRule `json:"keywords"`
	Patterns []PatternRule `json:"patterns"`

	// DigitWeight is added when the message has more than DigitThreshold digits.
	DigitThreshold int     `json:"digit_threshold"`
	DigitWeight    float64 `json:"digit_weight"`

	// TrustedSenderFactor multiplies the raw score of allow-listed senders.
	TrustedSenders      []string `json:"trusted_senders"`
	TrustedSenderFactor float64  `json:"trusted_sender_factor"`

	SuspiciousThreshold float64 `json:"suspicious_threshold"`
	ScamThreshold       float64 `json:"scam_threshold"`
}

const defaultKeywordWeight = 0.2

// DefaultRuleSet returns the built-in phishing and prize-scam rules.
func DefaultRuleSet() RuleSet {
	phrases := []string{
		// phishing
		"loan", "loan offer", "click", "link", "verify", "login", "update",
		"account suspended", "confirm", "pay now", "pay immediately", "urgent",
		// prize and fee scams
		"congratulations", "you have won", "winner", "prize", "claim",
		"processing fee", "activation fee", "expired", "send pin",
		"share password", "confirm details",
	}

	keywords := make([]KeywordRule, 0, len(phrases))
	for _, p := range phrases {
		keywords = append(keywords, KeywordRule{
			ID:     strings.ReplaceAll(p, " ", "_"),
			Phrase: p,
			Weight: defaultKeywordWeight,
		})
	}

	return RuleSet{
		URLPattern:     `https?://\S+|www\.\S+|bit\.ly/\S+|tinyurl\.com/\S+`,
		URLWeight:      0.5,
		Keywords:       keywords,
		DigitThreshold: 15,
		DigitWeight:    0.2,
		TrustedSenders: []string{
			"MPESA", "M-PESA", "SAFARICOM", "AIRTEL", "EQUITEL",
			"KCBMPESA", "COOPBANK", "ABSA", "STANDARDBANK",
		},
		TrustedSenderFactor: 0.25,
		SuspiciousThreshold: 0.6,
		ScamThreshold:       0.8,
	}
}

// Validate checks that weights and thresholds are usable.
func (rs RuleSet) Validate() error {
	var errs []error

	if rs.URLPattern != "" {
		if _, err := regexp.Compile(rs.URLPattern); err != nil {
			errs = append(errs, fmt.Errorf("url_pattern: %w", err))
		}
	}
	if rs.URLWeight < 0 || rs.DigitWeight < 0 {
		errs = append(errs, errors.New("weights must be non-negative"))
	}
	if rs.DigitThreshold < 0 {
		errs = append(errs, errors.New("digit_threshold must be non-negative"))
	}
	for _, k := range rs.Keywords {
		if k.ID == "" || strings.TrimSpace(k.Phrase) == "" {
			errs = append(errs, fmt.Errorf("keyword rule %q: id and phrase are required", k.ID))
		}
		if k.Weight < 0 {
			errs = append(errs, fmt.Errorf("keyword rule %q: weight must be non-negative", k.ID))
		}
	}
	for _, p := range rs.Patterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("pattern rule %q: %w", p.ID, err))
		}
		if p.Weight < 0 {
			errs = append(errs, fmt.Errorf("pattern rule %q: weight must be non-negative", p.ID))
		}
	}
	if rs.TrustedSenderFactor < 0 || rs.TrustedSenderFactor > 1 {
		errs = append(errs, fmt.Errorf("trusted_sender_factor must be in [0,1], got %v", rs.TrustedSenderFactor))
	}
	if rs.SuspiciousThreshold <= 0 || rs.SuspiciousThreshold > 1 {
		errs = append(errs, fmt.Errorf("suspicious_threshold must be in (0,1], got %v", rs.SuspiciousThreshold))
	}
	if rs.ScamThreshold <= 0 || rs.ScamThreshold > 1 {
		errs = append(errs, fmt.Errorf("scam_threshold must be in (0,1], got %v", rs.ScamThreshold))
	}
	if rs.SuspiciousThreshold > rs.ScamThreshold {
		errs = append(errs, errors.New("suspicious_threshold must not exceed scam_threshold"))
	}

	return errors.Join(errs...)
}

// LoadRuleSet reads a JSON rule set from path. Fields missing from the
// file keep their default values. A list given in the file replaces the
// default list as a whole.
func LoadRuleSet(path string) (RuleSet, error) {
	defaults := DefaultRuleSet()
	rs := defaults
	// json decodes array elements into the existing backing array, so
	// entries would inherit fields from the defaults at the same index.
	rs.Keywords, rs.Patterns, rs.TrustedSenders = nil, nil, nil

	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read rule set: %w", err)
	}
	if err := json.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rule set: %w", err)
	}
	if rs.Keywords == nil {
		rs.Keywords = defaults.Keywords
	}
	if rs.Patterns == nil {
		rs.Patterns = defaults.Patterns
	}
	if rs.TrustedSenders == nil {
		rs.TrustedSenders = defaults.TrustedSenders
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, fmt.Errorf("invalid rule set: %w", err)
	}

	return rs, nil
}
