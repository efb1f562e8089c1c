package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/deal-scheduler/internal/suggest"
	"github.com/joelkehle/deal-scheduler/internal/survey"
)

var tracer = otel.Tracer("github.com/joelkehle/deal-scheduler/internal/scheduling")

type Config struct {
	// LinkTemplate is the customer-facing URL; {deal_id} is replaced with the id.
	LinkTemplate        string
	StrictSlotSelection bool
	Clock               func() time.Time
	NewID               func() string
}

type Service struct {
	deals     DealStore
	responses ResponseStore
	catalog   Catalog
	suggester Suggester
	cfg       Config
}

func NewService(deals DealStore, responses ResponseStore, catalog Catalog, suggester Suggester, cfg Config) *Service {
	if strings.TrimSpace(cfg.LinkTemplate) == "" {
		cfg.LinkTemplate = "http://localhost:3000/customer/select_date/{deal_id}"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Service{
		deals:     deals,
		responses: responses,
		catalog:   catalog,
		suggester: suggester,
		cfg:       cfg,
	}
}

func (s *Service) now() time.Time {
	return s.cfg.Clock().UTC()
}

func startSpan(ctx context.Context, name string, dealID string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	if dealID != "" {
		span.SetAttributes(attribute.String("deal.id", dealID))
	}
	return ctx, span
}

// endSpan marks the span failed only for infrastructure faults; business
// outcomes are recorded as an attribute.
func endSpan(span trace.Span, err error) {
	if err != nil {
		if code := CodeOf(err); code != CodeInternal {
			span.SetAttributes(attribute.String("outcome", code))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func validateRegistration(in RegisterDealInput) (RegisterDealInput, error) {
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.ContactName = strings.TrimSpace(in.ContactName)
	in.SalesRepName = strings.TrimSpace(in.SalesRepName)
	in.Department = strings.TrimSpace(in.Department)
	in.RoleName = strings.TrimSpace(in.RoleName)
	in.Industry = strings.TrimSpace(in.Industry)
	in.Revenue = strings.TrimSpace(in.Revenue)
	in.MeetingType = strings.TrimSpace(in.MeetingType)

	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"company_name", in.CompanyName},
		{"contact_name", in.ContactName},
		{"sales_rep_name", in.SalesRepName},
		{"industry", in.Industry},
		{"revenue", in.Revenue},
		{"meeting_type", in.MeetingType},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if in.Duration <= 0 {
		missing = append(missing, "duration")
	}
	if len(in.Dates) == 0 {
		missing = append(missing, "dates")
	}
	if len(missing) > 0 {
		return in, NewValidationError("missing required fields: %s", strings.Join(missing, ", "))
	}
	if len(in.Dates) > MaxCandidates {
		return in, NewValidationError("you can only provide up to %d candidate dates", MaxCandidates)
	}

	dates := make([]string, 0, len(in.Dates))
	for i, raw := range in.Dates {
		d := strings.TrimSpace(raw)
		if _, err := time.Parse(CandidateLayout, d); err != nil {
			return in, NewValidationError("dates[%d]=%q is not in %s format", i, raw, CandidateLayout)
		}
		dates = append(dates, d)
	}
	in.Dates = dates
	return in, nil
}

func (s *Service) RegisterDeal(ctx context.Context, in RegisterDealInput) (Registration, error) {
	ctx, span := startSpan(ctx, "scheduling.RegisterDeal", "")
	var err error
	defer func() { endSpan(span, err) }()

	in, err = validateRegistration(in)
	if err != nil {
		return Registration{}, err
	}

	now := s.now()
	dealID := s.cfg.NewID()
	span.SetAttributes(attribute.String("deal.id", dealID))

	d := Deal{
		DealID:       dealID,
		CompanyName:  in.CompanyName,
		ContactName:  in.ContactName,
		SalesRepName: in.SalesRepName,
		Department:   in.Department,
		RoleName:     in.RoleName,
		Industry:     in.Industry,
		Revenue:      in.Revenue,
		MeetingType:  in.MeetingType,
		Link:         BuildLink(s.cfg.LinkTemplate, dealID),
		CreatedAt:    now,
		ExpiresAt:    now.Add(DefaultLinkTTL),
	}
	candidates := make([]MeetingCandidate, 0, len(in.Dates))
	for _, date := range in.Dates {
		candidates = append(candidates, MeetingCandidate{
			DealID:          dealID,
			Start:           date,
			DurationMinutes: in.Duration,
		})
	}

	if err = s.deals.CreateDeal(ctx, d, candidates); err != nil {
		err = fmt.Errorf("create deal: %w", err)
		return Registration{}, err
	}
	log.Printf("deal-scheduler register_deal deal_id=%s candidates=%d industry=%q revenue=%q", dealID, len(candidates), d.Industry, d.Revenue)
	return Registration{DealID: dealID, Link: d.Link, ExpiresAt: d.ExpiresAt}, nil
}

func (s *Service) lookupDeal(ctx context.Context, dealID string) (*Deal, error) {
	d, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return nil, fmt.Errorf("get deal: %w", err)
	}
	return d, nil
}

// DealView returns a deal with its candidates regardless of link expiry.
func (s *Service) DealView(ctx context.Context, dealID string) (DealView, error) {
	ctx, span := startSpan(ctx, "scheduling.DealView", dealID)
	var err error
	defer func() { endSpan(span, err) }()

	dealID = strings.TrimSpace(dealID)
	if dealID == "" {
		err = NewValidationError("deal_id is required")
		return DealView{}, err
	}
	d, err := s.lookupDeal(ctx, dealID)
	if err != nil {
		return DealView{}, err
	}
	if d == nil {
		err = errNotFound(dealID)
		return DealView{}, err
	}
	candidates, err := s.deals.ListCandidates(ctx, dealID)
	if err != nil {
		err = fmt.Errorf("list candidates: %w", err)
		return DealView{}, err
	}
	return DealView{Deal: *d, Candidates: candidates, Expired: IsExpired(*d, s.now())}, nil
}

func (s *Service) ListDeals(ctx context.Context) ([]Deal, error) {
	deals, err := s.deals.ListDeals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	return deals, nil
}

// openDeal resolves a deal for the customer-facing paths: unknown ids are
// NotFound, stale links are LinkExpired.
func (s *Service) openDeal(ctx context.Context, dealID string) (*Deal, error) {
	d, err := s.lookupDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errNotFound(dealID)
	}
	if IsExpired(*d, s.now()) {
		return nil, errLinkExpired()
	}
	return d, nil
}

func (s *Service) CustomerView(ctx context.Context, dealID string) (CustomerView, error) {
	ctx, span := startSpan(ctx, "scheduling.CustomerView", dealID)
	var err error
	defer func() { endSpan(span, err) }()

	dealID = strings.TrimSpace(dealID)
	if dealID == "" {
		err = NewValidationError("deal_id is required")
		return CustomerView{}, err
	}
	d, err := s.openDeal(ctx, dealID)
	if err != nil {
		return CustomerView{}, err
	}
	candidates, err := s.deals.ListCandidates(ctx, dealID)
	if err != nil {
		err = fmt.Errorf("list candidates: %w", err)
		return CustomerView{}, err
	}

	view := CustomerView{
		CompanyName: d.CompanyName,
		ContactName: d.ContactName,
		MeetingType: d.MeetingType,
		Duration:    PlaceholderUnknown,
		Candidates:  candidates,
		Industry:    d.Industry,
		Revenue:     d.Revenue,
		ExpiresAt:   d.ExpiresAt,
	}
	if len(candidates) > 0 {
		view.DurationMinutes = candidates[0].DurationMinutes
		view.Duration = fmt.Sprintf("%d分", candidates[0].DurationMinutes)
	}
	return view, nil
}

func (s *Service) ConfirmSelectedDateTime(ctx context.Context, dealID, selected string) error {
	ctx, span := startSpan(ctx, "scheduling.ConfirmSelectedDateTime", dealID)
	var err error
	defer func() { endSpan(span, err) }()

	dealID = strings.TrimSpace(dealID)
	selected = strings.TrimSpace(selected)
	if dealID == "" || selected == "" {
		err = NewValidationError("missing deal_id or selected_date_time")
		return err
	}
	if _, err = s.openDeal(ctx, dealID); err != nil {
		return err
	}
	if s.cfg.StrictSlotSelection {
		if err = s.checkCandidate(ctx, dealID, selected); err != nil {
			return err
		}
	}
	if err = s.responses.UpsertSelectedDateTime(ctx, dealID, selected, s.now()); err != nil {
		err = fmt.Errorf("confirm date: %w", err)
		return err
	}
	log.Printf("deal-scheduler confirm_date deal_id=%s selected=%s", dealID, selected)
	return nil
}

func (s *Service) checkCandidate(ctx context.Context, dealID, selected string) error {
	candidates, err := s.deals.ListCandidates(ctx, dealID)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}
	for _, c := range candidates {
		if c.Start == selected {
			return nil
		}
	}
	return NewValidationError("selected_date_time %q is not one of the deal's candidates", selected)
}

type SurveyAnswersInput struct {
	DealID        string   `json:"deal_id"`
	Stage         int      `json:"stage"`
	SelectedItems []string `json:"selected_items"`
	PriorityItem  string   `json:"priority_item"`
}

func (s *Service) RecordSurveyAnswers(ctx context.Context, in SurveyAnswersInput) error {
	ctx, span := startSpan(ctx, "scheduling.RecordSurveyAnswers", in.DealID)
	var err error
	defer func() { endSpan(span, err) }()

	answers := SurveyAnswers{
		DealID:       strings.TrimSpace(in.DealID),
		Stage:        SurveyStage(in.Stage),
		PriorityItem: strings.TrimSpace(in.PriorityItem),
	}
	for _, item := range in.SelectedItems {
		if v := strings.TrimSpace(item); v != "" {
			answers.SelectedItems = append(answers.SelectedItems, v)
		}
	}
	switch {
	case answers.DealID == "":
		err = NewValidationError("deal_id is required")
	case !answers.Stage.Valid():
		err = NewValidationError("stage must be 1 or 2, got %d", in.Stage)
	case len(answers.SelectedItems) == 0:
		err = NewValidationError("selected_items must not be empty")
	case answers.Stage == SurveyStage2 && answers.PriorityItem != "":
		err = NewValidationError("priority_item is only accepted for stage 1")
	}
	if err != nil {
		return err
	}
	if _, err = s.openDeal(ctx, answers.DealID); err != nil {
		return err
	}
	if err = s.responses.UpsertSurveyAnswers(ctx, answers, s.now()); err != nil {
		err = fmt.Errorf("record survey answers: %w", err)
		return err
	}
	log.Printf("deal-scheduler submit_survey deal_id=%s stage=%d items=%d", answers.DealID, answers.Stage, len(answers.SelectedItems))
	return nil
}

// Response returns the customer's answers, or nil when none were submitted.
func (s *Service) Response(ctx context.Context, dealID string) (*CustomerResponse, error) {
	resp, err := s.responses.GetResponse(ctx, strings.TrimSpace(dealID))
	if err != nil {
		return nil, fmt.Errorf("get response: %w", err)
	}
	return resp, nil
}

func (s *Service) SurveyQuestions(ctx context.Context, industry, revenue string) ([]survey.Question, error) {
	_, span := startSpan(ctx, "scheduling.SurveyQuestions", "")
	var err error
	defer func() { endSpan(span, err) }()

	industry = strings.TrimSpace(industry)
	revenue = strings.TrimSpace(revenue)
	if industry == "" || revenue == "" {
		err = NewValidationError("industry and revenue are required")
		return nil, err
	}
	questions, err := s.catalog.Questions(industry, revenue)
	if errors.Is(err, survey.ErrNoItems) {
		err = errNoSurveyItems(industry, revenue)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return questions, nil
}

func (s *Service) SurveyFollowUps(ctx context.Context, parentIDs []int64) ([]survey.Question, error) {
	if len(parentIDs) == 0 {
		return nil, NewValidationError("ids are required")
	}
	return s.catalog.FollowUps(parentIDs), nil
}

func placeholder(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func joinItems(items []string) string {
	if len(items) == 0 {
		return PlaceholderUnanswered
	}
	return strings.Join(items, "、")
}

func summarize(row DealWithResponse, now time.Time) DealSummary {
	d := row.Deal
	sum := DealSummary{
		DealID:               d.DealID,
		CompanyName:          d.CompanyName,
		Department:           placeholder(d.Department, PlaceholderUnset),
		Position:             placeholder(d.RoleName, PlaceholderUnset),
		ContactName:          d.ContactName,
		SalesRepName:         d.SalesRepName,
		Industry:             d.Industry,
		Revenue:              d.Revenue,
		MeetingType:          d.MeetingType,
		Link:                 d.Link,
		ConfirmedDate:        PlaceholderUndecided,
		Survey1SelectedItems: PlaceholderUnanswered,
		Survey1PriorityItem:  PlaceholderUnanswered,
		Survey2SelectedItems: PlaceholderUnanswered,
		Expired:              IsExpired(d, now),
		CreatedAt:            d.CreatedAt,
		ExpiresAt:            d.ExpiresAt,
	}
	if r := row.Response; r != nil {
		sum.ConfirmedDate = placeholder(r.SelectedDateTime, PlaceholderUndecided)
		sum.Survey1SelectedItems = joinItems(r.Survey1SelectedItems)
		sum.Survey1PriorityItem = placeholder(r.Survey1PriorityItem, PlaceholderUnanswered)
		sum.Survey2SelectedItems = joinItems(r.Survey2SelectedItems)
		sum.SurveyCompleted = r.SurveyCompleted
	}
	return sum
}

func (s *Service) AdminDealsView(ctx context.Context) ([]DealSummary, error) {
	ctx, span := startSpan(ctx, "scheduling.AdminDealsView", "")
	var err error
	defer func() { endSpan(span, err) }()

	rows, err := s.deals.ListDealsWithResponses(ctx)
	if err != nil {
		err = fmt.Errorf("list deals with responses: %w", err)
		return nil, err
	}
	now := s.now()
	out := make([]DealSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, summarize(row, now))
	}
	span.SetAttributes(attribute.Int("deals.count", len(out)))
	return out, nil
}

type Suggestion struct {
	DealID string         `json:"deal_id"`
	Prompt string         `json:"prompt"`
	Result suggest.Result `json:"suggestion"`
}

// GenerateSuggestion composes talking points for the next meeting. A failed
// generation is reported inside the returned Suggestion, never as an error.
func (s *Service) GenerateSuggestion(ctx context.Context, dealID string) (Suggestion, error) {
	ctx, span := startSpan(ctx, "scheduling.GenerateSuggestion", dealID)
	var err error
	defer func() { endSpan(span, err) }()

	dealID = strings.TrimSpace(dealID)
	if dealID == "" {
		err = NewValidationError("deal_id is required")
		return Suggestion{}, err
	}
	d, err := s.lookupDeal(ctx, dealID)
	if err != nil {
		return Suggestion{}, err
	}
	if d == nil {
		err = errInvalidDeal(dealID)
		return Suggestion{}, err
	}
	resp, err := s.Response(ctx, dealID)
	if err != nil {
		return Suggestion{}, err
	}
	if resp == nil {
		err = errNoResponse(dealID)
		return Suggestion{}, err
	}

	prompt := suggest.BuildPrompt(
		suggest.DealFacts{CompanyName: d.CompanyName, Industry: d.Industry, Revenue: d.Revenue},
		suggest.ResponseFacts{
			PriorityItem:         resp.Survey1PriorityItem,
			Survey1SelectedItems: resp.Survey1SelectedItems,
			Survey2SelectedItems: resp.Survey2SelectedItems,
		},
	)

	var result suggest.Result
	if s.suggester == nil {
		result = suggest.Failed(suggest.ErrNotConfigured)
	} else {
		result = s.suggester.Compose(ctx, dealID, prompt)
	}
	if result.Status == suggest.StatusFailed {
		span.SetAttributes(attribute.String("outcome", "suggestion_failed"))
		log.Printf("deal-scheduler generate_suggestion_failed deal_id=%s err=%q", dealID, result.Error)
	}
	return Suggestion{DealID: dealID, Prompt: prompt, Result: result}, nil
}
