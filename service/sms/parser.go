package sms

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Direction is the flow of money relative to the phone owner.
type Direction string

const (
	DirectionCredit  Direction = "credit"
	DirectionDebit   Direction = "debit"
	DirectionUnknown Direction = "unknown"
)

// Category is the business-sale class of a message.
type Category string

const (
	CategoryAirtime  Category = "airtime"
	CategoryRetail   Category = "retail"
	CategoryServices Category = "services"
	CategoryFood     Category = "food"
	CategoryGeneral  Category = "general"
)

// CategoryRule maps a set of lower-case keywords to a category.
type CategoryRule struct {
	Category Category `json:"category"`
	Keywords []string `json:"keywords"`
}

// Config holds the phrase tables the parser matches against.
type Config struct {
	// CurrencyPrefixes are matched case-insensitively in front of the amount.
	CurrencyPrefixes []string       `json:"currency_prefixes"`
	ReceivePhrases   []string       `json:"receive_phrases"`
	SendPhrases      []string       `json:"send_phrases"`
	Categories       []CategoryRule `json:"categories"`
	Currency         string         `json:"currency"`
	Source           string         `json:"source"`
}

// DefaultConfig returns the phrase tables for Safaricom M-Pesa notifications.
func DefaultConfig() Config {
	return Config{
		CurrencyPrefixes: []string{"Ksh", "KES", "KSh"},
		ReceivePhrases:   []string{"you have received", "you received", "received", "paid you"},
		SendPhrases:      []string{"you have sent", "you paid", "sent"},
		Categories: []CategoryRule{
			{Category: CategoryAirtime, Keywords: []string{"airtime", "credit", "bundles"}},
			{Category: CategoryRetail, Keywords: []string{"shop", "store", "goods"}},
			{Category: CategoryServices, Keywords: []string{"service", "repair", "consultation"}},
			{Category: CategoryFood, Keywords: []string{"food", "restaurant", "meal"}},
		},
		Currency: "KES",
		Source:   "M-PESA",
	}
}

// Result is the structured form of an SMS notification.
type Result struct {
	// Amount is nil when no positive currency-prefixed number was found.
	Amount       *decimal.Decimal `json:"amount"`
	Currency     string           `json:"currency"`
	Direction    Direction        `json:"direction"`
	Counterparty *string          `json:"counterparty"`
	Reference    *string          `json:"reference"`
	Description  string           `json:"description"`
	Category     Category         `json:"category"`
	Source       string           `json:"source"`
}

// IsTransaction reports whether the message carried an amount.
func (r Result) IsTransaction() bool {
	return r.Amount != nil
}

// Parser extracts transactions from M-Pesa SMS text. It holds only
// compiled patterns and is safe for concurrent use.
type Parser struct {
	cfg       Config
	amountRe  *regexp.Regexp
	receiveRe *regexp.Regexp
	sendRe    *regexp.Regexp
}

var (
	nameAfterRe  = regexp.MustCompile(`\b(from|to|by)\s+([A-Z][A-Za-z'-]*(?:[ \t]+[A-Z][A-Za-z'-]*)*)`)
	phoneAfterRe = regexp.MustCompile(`\b(from|to|by)\s+(\+?254\d{9}|0\d{9})\b`)
	referenceRe  = regexp.MustCompile(`\b[A-Z0-9]{10}\b`)

	// Ledger amounts are NUMERIC(12,2): at most ten integer digits.
	maxAmount = decimal.New(1, 10)
)

// NewParser compiles the phrase tables in cfg. Empty tables fall back to the defaults.
func NewParser(cfg Config) *Parser {
	def := DefaultConfig()
	if len(cfg.CurrencyPrefixes) == 0 {
		cfg.CurrencyPrefixes = def.CurrencyPrefixes
	}
	if len(cfg.ReceivePhrases) == 0 {
		cfg.ReceivePhrases = def.ReceivePhrases
	}
	if len(cfg.SendPhrases) == 0 {
		cfg.SendPhrases = def.SendPhrases
	}
	if cfg.Categories == nil {
		cfg.Categories = def.Categories
	}
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	if cfg.Source == "" {
		cfg.Source = def.Source
	}

	return &Parser{
		cfg:       cfg,
		amountRe:  regexp.MustCompile(`(?i)\b(?:` + alternation(cfg.CurrencyPrefixes) + `)\.?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`),
		receiveRe: regexp.MustCompile(`\b(?:` + alternation(cfg.ReceivePhrases) + `)\b`),
		sendRe:    regexp.MustCompile(`\b(?:` + alternation(cfg.SendPhrases) + `)\b`),
	}
}

// Parse never fails: fields that cannot be extracted are left nil or unknown.
func (p *Parser) Parse(text string) Result {
	res := Result{
		Currency:  p.cfg.Currency,
		Direction: DirectionUnknown,
		Source:    p.cfg.Source,
	}

	res.Amount = p.amount(text)
	res.Direction = p.direction(text)
	res.Counterparty = counterparty(text, res.Direction)
	res.Reference = reference(text)
	res.Category = p.CategorizeSale(text)
	res.Description = Describe(text, res)

	return res
}

func (p *Parser) amount(text string) *decimal.Decimal {
	m := p.amountRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	raw := strings.ReplaceAll(m[1], ",", "")
	if i := strings.IndexByte(raw, '.'); i >= 0 && len(raw)-i-1 > 2 {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() || d.GreaterThanOrEqual(maxAmount) {
		return nil
	}
	return &d
}

func (p *Parser) direction(text string) Direction {
	lower := strings.ToLower(text)
	switch {
	case p.receiveRe.MatchString(lower):
		return DirectionCredit
	case p.sendRe.MatchString(lower):
		return DirectionDebit
	default:
		return DirectionUnknown
	}
}

// CategorizeSale returns the first category whose keyword appears in text.
func (p *Parser) CategorizeSale(text string) Category {
	lower := strings.ToLower(text)
	for _, rule := range p.cfg.Categories {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, kw) {
				return rule.Category
			}
		}
	}
	return CategoryGeneral
}

// counterparty prefers the preposition that matches the direction:
// "from" for credits and "to" for debits.
func counterparty(text string, dir Direction) *string {
	preferred := ""
	switch dir {
	case DirectionCredit:
		preferred = "from"
	case DirectionDebit:
		preferred = "to"
	}

	for _, re := range []*regexp.Regexp{nameAfterRe, phoneAfterRe} {
		matches := re.FindAllStringSubmatch(text, -1)
		if len(matches) == 0 {
			continue
		}
		pick := matches[0]
		for _, m := range matches {
			if m[1] == preferred {
				pick = m
				break
			}
		}
		name := strings.TrimSpace(pick[2])
		return &name
	}
	return nil
}

func reference(text string) *string {
	for _, code := range referenceRe.FindAllString(text, -1) {
		if strings.ContainsAny(code, "0123456789") && strings.ContainsAny(code, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
			return &code
		}
	}
	return nil
}

// Describe summarises a parsed message for the ledger. Airtime and
// withdrawal keywords in text take precedence over the direction.
func Describe(text string, r Result) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "airtime"):
		return "Airtime purchase"
	case strings.Contains(lower, "withdraw"):
		return "Cash withdrawal"
	case r.Direction == DirectionDebit && r.Counterparty != nil:
		return "Payment sent to " + *r.Counterparty
	case r.Direction == DirectionCredit && r.Counterparty != nil:
		return "Payment received from " + *r.Counterparty
	case r.Direction == DirectionDebit:
		return "Payment sent"
	case r.Direction == DirectionCredit:
		return "Payment received"
	default:
		return "M-Pesa transaction"
	}
}

func alternation(phrases []string) string {
	quoted := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(strings.ToLower(p)), " ", `\s+`))
	}
	return strings.Join(quoted, "|")
}
