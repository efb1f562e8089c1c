package scheduling

import "time"

const (
	MaxCandidates = 5

	// CandidateLayout is the lexical format of candidate and selected
	// date-times, as produced by an HTML datetime-local input.
	CandidateLayout = "2006-01-02T15:04"

	DefaultLinkTTL = 30 * 24 * time.Hour
)

// Admin and customer placeholders rendered instead of absent values.
const (
	PlaceholderUndecided  = "未定"
	PlaceholderUnanswered = "未回答"
	PlaceholderUnset      = "未設定"
	PlaceholderUnknown    = "不明"
)

type SurveyStage int

const (
	SurveyStage1 SurveyStage = 1
	SurveyStage2 SurveyStage = 2
)

func (s SurveyStage) Valid() bool {
	return s == SurveyStage1 || s == SurveyStage2
}

type Deal struct {
	DealID       string    `json:"deal_id"`
	CompanyName  string    `json:"company_name"`
	ContactName  string    `json:"contact_name"`
	SalesRepName string    `json:"sales_rep_name"`
	Department   string    `json:"department,omitempty"`
	RoleName     string    `json:"role_name,omitempty"`
	Industry     string    `json:"industry"`
	Revenue      string    `json:"revenue"`
	MeetingType  string    `json:"meeting_type"`
	Link         string    `json:"link"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type MeetingCandidate struct {
	ID              int64  `json:"id"`
	DealID          string `json:"-"`
	Start           string `json:"start"`
	DurationMinutes int    `json:"duration"`
}

// CustomerResponse is the single answer row a customer builds up for a deal.
// Empty strings and nil slices mean the field has not been submitted yet.
type CustomerResponse struct {
	DealID               string    `json:"deal_id"`
	SelectedDateTime     string    `json:"selected_date_time,omitempty"`
	Survey1SelectedItems []string  `json:"survey1_selected_items,omitempty"`
	Survey1PriorityItem  string    `json:"survey1_priority_item,omitempty"`
	Survey2SelectedItems []string  `json:"survey2_selected_items,omitempty"`
	SurveyCompleted      bool      `json:"survey_completed"`
	SubmittedAt          time.Time `json:"submitted_at"`
}

type DealWithResponse struct {
	Deal     Deal
	Response *CustomerResponse
}

// SurveyAnswers is one stage's worth of answers handed to the response store.
type SurveyAnswers struct {
	DealID        string
	Stage         SurveyStage
	SelectedItems []string
	PriorityItem  string
}

type RegisterDealInput struct {
	CompanyName  string   `json:"company_name"`
	ContactName  string   `json:"contact_name"`
	SalesRepName string   `json:"sales_rep_name"`
	Department   string   `json:"department"`
	RoleName     string   `json:"role_name"`
	Industry     string   `json:"industry"`
	Revenue      string   `json:"revenue"`
	MeetingType  string   `json:"meeting_type"`
	Duration     int      `json:"duration"`
	Dates        []string `json:"dates"`
}

type Registration struct {
	DealID    string    `json:"deal_id"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
}

type DealView struct {
	Deal       Deal               `json:"deal"`
	Candidates []MeetingCandidate `json:"candidates"`
	Expired    bool               `json:"expired"`
}

type CustomerView struct {
	CompanyName     string             `json:"company_name"`
	ContactName     string             `json:"contact_name"`
	MeetingType     string             `json:"meeting_method"`
	Duration        string             `json:"duration"`
	DurationMinutes int                `json:"duration_minutes"`
	Candidates      []MeetingCandidate `json:"candidates"`
	Industry        string             `json:"industry"`
	Revenue         string             `json:"revenue"`
	ExpiresAt       time.Time          `json:"expires_at"`
}

type DealSummary struct {
	DealID               string    `json:"deal_id"`
	CompanyName          string    `json:"company_name"`
	Department           string    `json:"department"`
	Position             string    `json:"position"`
	ContactName          string    `json:"contact_name"`
	SalesRepName         string    `json:"sales_rep_name"`
	Industry             string    `json:"industry"`
	Revenue              string    `json:"revenue"`
	MeetingType          string    `json:"meeting_type"`
	Link                 string    `json:"link"`
	ConfirmedDate        string    `json:"confirmed_date"`
	Survey1SelectedItems string    `json:"survey1_selected_items"`
	Survey1PriorityItem  string    `json:"survey1_priority_item"`
	Survey2SelectedItems string    `json:"survey2_selected_items"`
	SurveyCompleted      bool      `json:"survey_completed"`
	Expired              bool      `json:"expired"`
	CreatedAt            time.Time `json:"created_at"`
	ExpiresAt            time.Time `json:"expires_at"`
}
