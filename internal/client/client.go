package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/deal-scheduler/internal/scheduling"
	"github.com/joelkehle/deal-scheduler/internal/suggest"
	"github.com/joelkehle/deal-scheduler/internal/survey"
)

// APIError is a non-2xx reply carrying the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status=%d code=%s message=%s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) DoJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		blob, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		body = bytes.NewReader(blob)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	blob, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(blob))}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(blob, &env) == nil && env.Error.Code != "" {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) RegisterDeal(ctx context.Context, in scheduling.RegisterDealInput) (scheduling.Registration, error) {
	var out scheduling.Registration
	err := c.DoJSON(ctx, http.MethodPost, "/sales/register_deal", in, &out)
	return out, err
}

func (c *Client) CustomerView(ctx context.Context, dealID string) (scheduling.CustomerView, error) {
	var out struct {
		Deal scheduling.CustomerView `json:"deal"`
	}
	err := c.DoJSON(ctx, http.MethodGet, "/customer/select_date/"+url.PathEscape(dealID), nil, &out)
	return out.Deal, err
}

func (c *Client) ConfirmDate(ctx context.Context, dealID, selected string) error {
	return c.DoJSON(ctx, http.MethodPost, "/customer/confirm_date", map[string]any{
		"deal_id":            dealID,
		"selected_date_time": selected,
	}, nil)
}

func (c *Client) SubmitSurvey(ctx context.Context, in scheduling.SurveyAnswersInput) error {
	return c.DoJSON(ctx, http.MethodPost, "/customer/submit_survey", in, nil)
}

func (c *Client) SurveyItems(ctx context.Context, industry, revenue string) ([]survey.Question, error) {
	q := url.Values{}
	q.Set("industry", industry)
	q.Set("revenue", revenue)
	var out struct {
		Items []survey.Question `json:"survey_items"`
	}
	err := c.DoJSON(ctx, http.MethodGet, "/api/survey_items?"+q.Encode(), nil, &out)
	return out.Items, err
}

func (c *Client) FollowUps(ctx context.Context, parentIDs []int64) ([]survey.Question, error) {
	ids := make([]string, 0, len(parentIDs))
	for _, id := range parentIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	var out struct {
		Items []survey.Question `json:"survey_items"`
	}
	err := c.DoJSON(ctx, http.MethodGet, "/api/survey_items/followups?ids="+url.QueryEscape(strings.Join(ids, ",")), nil, &out)
	return out.Items, err
}

func (c *Client) ManageDeals(ctx context.Context) ([]scheduling.DealSummary, error) {
	var out struct {
		Deals []scheduling.DealSummary `json:"deals"`
	}
	err := c.DoJSON(ctx, http.MethodGet, "/admin/manage_deals", nil, &out)
	return out.Deals, err
}

func (c *Client) GenerateSuggestion(ctx context.Context, dealID string) (suggest.Result, error) {
	var out struct {
		Suggestion suggest.Result `json:"suggestion"`
	}
	err := c.DoJSON(ctx, http.MethodPost, "/admin/generate_suggestion", map[string]any{"deal_id": dealID}, &out)
	return out.Suggestion, err
}
