package trust

import (
	"time"

	"github.com/shopspring/decimal"
)

// Inputs is the per-user aggregate the calculator reads. A nil section
// means the data is missing, and its sub-score is 0.
type Inputs struct {
	Transactions *TransactionHistory `json:"transactions,omitempty"`
	Fraud        *FraudHistory       `json:"fraud,omitempty"`
	Savings      *SavingsSummary     `json:"savings,omitempty"`
	Community    *CommunityActivity  `json:"community,omitempty"`
	AccountAge   time.Duration       `json:"account_age"`
	Verification *VerificationFlags  `json:"verification,omitempty"`

	// AsOf anchors the recent-alert window. Zero treats every alert as recent.
	AsOf time.Time `json:"as_of"`
}

type TransactionHistory struct {
	Points []TransactionPoint `json:"points"`
}

type TransactionPoint struct {
	Amount decimal.Decimal `json:"amount"`
	At     time.Time       `json:"at"`
}

type FraudHistory struct {
	Alerts []AlertPoint `json:"alerts"`
}

// AlertPoint uses plain strings so the package does not depend on the
// fraud scorer's types.
type AlertPoint struct {
	RiskLevel  string    `json:"risk_level"`
	Status     string    `json:"status"`
	UserAction string    `json:"user_action"`
	At         time.Time `json:"at"`
}

type SavingsSummary struct {
	TotalSaved    decimal.Decimal `json:"total_saved"`
	GoalsTotal    int             `json:"goals_total"`
	GoalsAchieved int             `json:"goals_achieved"`
	// MonthlyContributions holds one total per month, oldest first.
	MonthlyContributions []decimal.Decimal `json:"monthly_contributions"`
}

type CommunityActivity struct {
	ChamasJoined       int             `json:"chamas_joined"`
	TotalContributions decimal.Decimal `json:"total_contributions"`
	LeadershipRoles    int             `json:"leadership_roles"`
	MembersHelped      int             `json:"members_helped"`
}

type VerificationFlags struct {
	Phone    bool `json:"phone"`
	Email    bool `json:"email"`
	ID       bool `json:"id"`
	Business bool `json:"business"`
}
