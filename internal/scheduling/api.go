package scheduling

import (
	"context"
	"time"

	"github.com/joelkehle/deal-scheduler/internal/suggest"
	"github.com/joelkehle/deal-scheduler/internal/survey"
)

// DealStore persists deals and their candidates. Lookups return nil, nil
// when the deal does not exist.
type DealStore interface {
	CreateDeal(ctx context.Context, d Deal, candidates []MeetingCandidate) error
	GetDeal(ctx context.Context, dealID string) (*Deal, error)
	ListCandidates(ctx context.Context, dealID string) ([]MeetingCandidate, error)
	ListDeals(ctx context.Context) ([]Deal, error)
	ListDealsWithResponses(ctx context.Context) ([]DealWithResponse, error)
}

// ResponseStore persists at most one CustomerResponse per deal. Both upserts
// must be atomic per deal id and must leave the other fields untouched.
type ResponseStore interface {
	UpsertSelectedDateTime(ctx context.Context, dealID, selected string, now time.Time) error
	UpsertSurveyAnswers(ctx context.Context, answers SurveyAnswers, now time.Time) error
	GetResponse(ctx context.Context, dealID string) (*CustomerResponse, error)
}

type Catalog interface {
	Questions(industry, revenue string) ([]survey.Question, error)
	FollowUps(parentIDs []int64) []survey.Question
}

type Suggester interface {
	Compose(ctx context.Context, dealID, prompt string) suggest.Result
}
