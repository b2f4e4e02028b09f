package fraud

import (
	"fmt"
	"regexp"
	"strings"
)

// RiskLevel is the categorical outcome of an assessment.
type RiskLevel string

const (
	RiskSafe       RiskLevel = "safe"
	RiskSuspicious RiskLevel = "suspicious"
	RiskScam       RiskLevel = "scam"
)

// Rule ids reported in Assessment.MatchedRules for the fixed rules.
const (
	RuleURL           = "url"
	RuleDigits        = "digits"
	RuleTrustedSender = "trusted_sender"
)

// Assessment is the result of scoring one message.
type Assessment struct {
	// Score is clamped to [0,1].
	Score float64 `json:"score"`
	// RawScore is the unclamped sum after the trusted-sender factor.
	RawScore        float64   `json:"raw_score"`
	RiskLevel       RiskLevel `json:"risk_level"`
	MatchedRules    []string  `json:"matched_rules"`
	Flagged         bool      `json:"flagged"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

type compiledPattern struct {
	id     string
	re     *regexp.Regexp
	weight float64
}

// Scorer assigns fraud scores to SMS text. It is immutable after
// construction and safe for concurrent use.
type Scorer struct {
	rules    RuleSet
	urlRe    *regexp.Regexp
	patterns []compiledPattern
	trusted  map[string]struct{}
}

// NewScorer validates and compiles rs.
func NewScorer(rs RuleSet) (*Scorer, error) {
	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule set: %w", err)
	}

	s := &Scorer{
		rules:   rs,
		trusted: make(map[string]struct{}, len(rs.TrustedSenders)),
	}
	if rs.URLPattern != "" {
		s.urlRe = regexp.MustCompile("(?i)" + rs.URLPattern)
	}
	for _, p := range rs.Patterns {
		if !p.Active {
			continue
		}
		s.patterns = append(s.patterns, compiledPattern{
			id:     p.ID,
			re:     regexp.MustCompile("(?i)" + p.Pattern),
			weight: p.Weight,
		})
	}
	for _, sender := range rs.TrustedSenders {
		s.trusted[normalizeSender(sender)] = struct{}{}
	}

	return s, nil
}

// MustNewScorer is like NewScorer but panics on an invalid rule set.
func MustNewScorer(rs RuleSet) *Scorer {
	s, err := NewScorer(rs)
	if err != nil {
		panic(err)
	}
	return s
}

// Rules returns a copy of the rule set the scorer was built with.
func (s *Scorer) Rules() RuleSet {
	return s.rules
}

// Score never fails. Empty text is always safe.
func (s *Scorer) Score(text, sender string) Assessment {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return s.assess(0, 0, []string{})
	}

	matched := []string{}
	raw := 0.0

	if s.urlRe != nil && s.urlRe.MatchString(lower) {
		raw += s.rules.URLWeight
		matched = append(matched, RuleURL)
	}

	for _, kw := range s.rules.Keywords {
		if strings.Contains(lower, strings.ToLower(kw.Phrase)) {
			raw += kw.Weight
			matched = append(matched, "keyword:"+kw.ID)
		}
	}

	for _, p := range s.patterns {
		if p.re.MatchString(lower) {
			raw += p.weight
			matched = append(matched, "pattern:"+p.id)
		}
	}

	if countDigits(lower) > s.rules.DigitThreshold {
		raw += s.rules.DigitWeight
		matched = append(matched, RuleDigits)
	}

	if s.IsTrustedSender(sender) {
		raw *= s.rules.TrustedSenderFactor
		matched = append(matched, RuleTrustedSender)
	}

	return s.assess(raw, clamp(raw), matched)
}

// IsTrustedSender reports whether sender is on the allow-list.
func (s *Scorer) IsTrustedSender(sender string) bool {
	n := normalizeSender(sender)
	if n == "" {
		return false
	}
	_, ok := s.trusted[n]
	return ok
}

// Level maps a clamped score to a risk level.
func (s *Scorer) Level(score float64) RiskLevel {
	switch {
	case score >= s.rules.ScamThreshold:
		return RiskScam
	case score >= s.rules.SuspiciousThreshold:
		return RiskSuspicious
	default:
		return RiskSafe
	}
}

func (s *Scorer) assess(raw, score float64, matched []string) Assessment {
	level := s.Level(score)
	return Assessment{
		Score:           score,
		RawScore:        raw,
		RiskLevel:       level,
		MatchedRules:    matched,
		Flagged:         score >= s.rules.SuspiciousThreshold,
		Recommendations: recommendations(level),
	}
}

func recommendations(level RiskLevel) []string {
	switch level {
	case RiskScam:
		return []string{
			"Do not respond or click any links",
			"Block this sender immediately",
		}
	case RiskSuspicious:
		return []string{
			"Verify sender through official channels",
			"Do not share personal information",
		}
	default:
		return nil
	}
}

func normalizeSender(sender string) string {
	return strings.ToUpper(strings.TrimSpace(sender))
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
