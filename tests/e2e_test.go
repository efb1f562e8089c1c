//go:build integration

package tests

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/deal-scheduler/internal/client"
	"github.com/joelkehle/deal-scheduler/internal/httpapi"
	"github.com/joelkehle/deal-scheduler/internal/scheduling"
	"github.com/joelkehle/deal-scheduler/internal/store"
	"github.com/joelkehle/deal-scheduler/internal/suggest"
	"github.com/joelkehle/deal-scheduler/internal/survey"
)

type cannedGenerator struct{}

func (cannedGenerator) Generate(context.Context, string) (string, error) {
	return "1. 考察:\n\n- **データ活用**が最優先\n\n2. 提案シナリオ:\n\n- PoCから開始", nil
}

func (cannedGenerator) ModelName() string { return "canned" }

func startServer(t *testing.T) *client.Client {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	catalog, err := survey.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	svc := scheduling.NewService(db, db, catalog, suggest.NewComposer(cannedGenerator{}, 5*time.Second), scheduling.Config{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: httpapi.NewServer(svc, httpapi.Options{
		CatalogVersion: catalog.Version(),
		Store:          db,
	})}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return client.NewClient("http://" + ln.Addr().String())
}

func TestE2EDealLifecycle(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	reg, err := c.RegisterDeal(ctx, scheduling.RegisterDealInput{
		CompanyName:  "株式会社テスト",
		ContactName:  "山田太郎",
		SalesRepName: "佐藤花子",
		Department:   "情報システム部",
		Industry:     "製造業",
		Revenue:      "1000億~5000億",
		MeetingType:  "訪問",
		Duration:     30,
		Dates:        []string{"2026-03-01T10:00", "2026-03-02T14:30", "2026-03-03T09:00"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.HasSuffix(reg.Link, "/"+reg.DealID) {
		t.Fatalf("link %q does not end with the deal id", reg.Link)
	}

	view, err := c.CustomerView(ctx, reg.DealID)
	if err != nil {
		t.Fatalf("customer view: %v", err)
	}
	if len(view.Candidates) != 3 || view.Duration != "30分" {
		t.Fatalf("unexpected view %+v", view)
	}

	if err := c.ConfirmDate(ctx, reg.DealID, view.Candidates[1].Start); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	items, err := c.SurveyItems(ctx, "製造業", "1000億~5000億")
	if err != nil {
		t.Fatalf("survey items: %v", err)
	}
	if len(items) < 2 {
		t.Fatalf("expected at least two items, got %d", len(items))
	}
	if err := c.SubmitSurvey(ctx, scheduling.SurveyAnswersInput{
		DealID:        reg.DealID,
		Stage:         1,
		SelectedItems: []string{items[0].Question, items[1].Question},
		PriorityItem:  items[0].Question,
	}); err != nil {
		t.Fatalf("stage 1: %v", err)
	}

	follow, err := c.FollowUps(ctx, []int64{items[0].ID})
	if err != nil {
		t.Fatalf("followups: %v", err)
	}
	if len(follow) == 0 {
		t.Fatal("expected follow-up questions")
	}
	if err := c.SubmitSurvey(ctx, scheduling.SurveyAnswersInput{
		DealID: reg.DealID, Stage: 2, SelectedItems: []string{follow[0].Question},
	}); err != nil {
		t.Fatalf("stage 2: %v", err)
	}

	deals, err := c.ManageDeals(ctx)
	if err != nil {
		t.Fatalf("manage deals: %v", err)
	}
	if len(deals) != 1 {
		t.Fatalf("deals=%d", len(deals))
	}
	row := deals[0]
	if row.ConfirmedDate != "2026-03-02T14:30" || !row.SurveyCompleted ||
		row.Survey1PriorityItem != items[0].Question || row.Department != "情報システム部" ||
		row.Position != scheduling.PlaceholderUnset {
		t.Fatalf("unexpected admin row %+v", row)
	}

	res, err := c.GenerateSuggestion(ctx, reg.DealID)
	if err != nil {
		t.Fatalf("suggestion: %v", err)
	}
	if res.Status != suggest.StatusOK || !strings.Contains(res.HTML, "<strong>データ活用</strong>") {
		t.Fatalf("unexpected suggestion %+v", res)
	}
}

func TestE2EUnknownDeal(t *testing.T) {
	c := startServer(t)
	_, err := c.CustomerView(context.Background(), "does-not-exist")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != scheduling.CodeNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}
