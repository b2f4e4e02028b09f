package fraud

import "fmt"

// AlertStatus is the review state of a stored fraud alert.
type AlertStatus string

const (
	StatusPending       AlertStatus = "pending"
	StatusReviewed      AlertStatus = "reviewed"
	StatusBlocked       AlertStatus = "blocked"
	StatusFalsePositive AlertStatus = "false_positive"
)

// UserAction records what the user did about an alert.
type UserAction string

const (
	ActionNone     UserAction = ""
	ActionAvoided  UserAction = "avoided"
	ActionFellFor  UserAction = "fell_for"
	ActionReported UserAction = "reported"
)

// ParseAlertStatus validates s as an AlertStatus.
func ParseAlertStatus(s string) (AlertStatus, error) {
	switch st := AlertStatus(s); st {
	case StatusPending, StatusReviewed, StatusBlocked, StatusFalsePositive:
		return st, nil
	default:
		return "", fmt.Errorf("invalid alert status %q", s)
	}
}

// ParseUserAction validates s as a UserAction. The empty string is allowed.
func ParseUserAction(s string) (UserAction, error) {
	switch a := UserAction(s); a {
	case ActionNone, ActionAvoided, ActionFellFor, ActionReported:
		return a, nil
	default:
		return "", fmt.Errorf("invalid user action %q", s)
	}
}

// ParseRiskLevel validates s as a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch l := RiskLevel(s); l {
	case RiskSafe, RiskSuspicious, RiskScam:
		return l, nil
	default:
		return "", fmt.Errorf("invalid risk level %q", s)
	}
}

// ReportType classifies a scam the user reported themselves.
type ReportType string

const (
	ReportSMS     ReportType = "sms"
	ReportCall    ReportType = "call"
	ReportEmail   ReportType = "email"
	ReportWebsite ReportType = "website"
	ReportOther   ReportType = "other"
)

// ParseReportType validates s as a ReportType.
func ParseReportType(s string) (ReportType, error) {
	switch rt := ReportType(s); rt {
	case ReportSMS, ReportCall, ReportEmail, ReportWebsite, ReportOther:
		return rt, nil
	default:
		return "", fmt.Errorf("invalid report type %q", s)
	}
}
