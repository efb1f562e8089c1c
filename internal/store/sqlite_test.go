package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joelkehle/deal-scheduler/internal/scheduling"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDeal(id string, created time.Time) scheduling.Deal {
	return scheduling.Deal{
		DealID:       id,
		CompanyName:  "株式会社テスト",
		ContactName:  "山田太郎",
		SalesRepName: "佐藤花子",
		Industry:     "製造業",
		Revenue:      "50億~100億",
		MeetingType:  "オンライン",
		Link:         "http://localhost:3000/customer/select_date/" + id,
		CreatedAt:    created,
		ExpiresAt:    created.Add(scheduling.DefaultLinkTTL),
	}
}

func testCandidates(starts ...string) []scheduling.MeetingCandidate {
	out := make([]scheduling.MeetingCandidate, 0, len(starts))
	for _, s := range starts {
		out = append(out, scheduling.MeetingCandidate{Start: s, DurationMinutes: 30})
	}
	return out
}

func TestCreateAndGetDeal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 17, 9, 30, 0, 123, time.UTC)

	d := testDeal("deal-1", now)
	d.Department = "情報システム部"
	if err := s.CreateDeal(ctx, d, testCandidates("2026-03-01T10:00", "2026-03-02T14:30")); err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}

	got, err := s.GetDeal(ctx, "deal-1")
	if err != nil {
		t.Fatalf("GetDeal: %v", err)
	}
	if got == nil {
		t.Fatal("expected deal")
	}
	if got.CompanyName != d.CompanyName || got.Department != "情報システム部" || got.RoleName != "" {
		t.Fatalf("unexpected deal %+v", got)
	}
	if !got.CreatedAt.Equal(now) || !got.ExpiresAt.Equal(now.Add(scheduling.DefaultLinkTTL)) {
		t.Fatalf("timestamps not preserved: created=%s expires=%s", got.CreatedAt, got.ExpiresAt)
	}

	cands, err := s.ListCandidates(ctx, "deal-1")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(cands) != 2 || cands[0].Start != "2026-03-01T10:00" || cands[1].Start != "2026-03-02T14:30" {
		t.Fatalf("unexpected candidates %+v", cands)
	}
	if cands[0].DurationMinutes != 30 {
		t.Fatalf("duration=%d", cands[0].DurationMinutes)
	}
}

func TestGetDealMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetDeal(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetDeal: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestCreateDealIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)

	// The second candidate violates the duration CHECK after the deal row
	// and the first candidate were already written.
	bad := testCandidates("2026-03-05T10:00", "2026-03-06T10:00")
	bad[1].DurationMinutes = 0
	if err := s.CreateDeal(ctx, testDeal("deal-2", now), bad); err == nil {
		t.Fatal("expected constraint violation")
	}
	if got, _ := s.GetDeal(ctx, "deal-2"); got != nil {
		t.Fatal("deal-2 must not be visible")
	}
	cands, err := s.ListCandidates(ctx, "deal-2")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(cands) != 0 {
		t.Fatalf("expected no orphan candidates, got %d", len(cands))
	}
}

func TestListDealsOrderedByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"c", "a", "b"} {
		if err := s.CreateDeal(ctx, testDeal(id, base.Add(time.Duration(i)*time.Minute)), testCandidates("2026-03-01T10:00")); err != nil {
			t.Fatalf("CreateDeal %s: %v", id, err)
		}
	}
	deals, err := s.ListDeals(ctx)
	if err != nil {
		t.Fatalf("ListDeals: %v", err)
	}
	if len(deals) != 3 || deals[0].DealID != "c" || deals[1].DealID != "a" || deals[2].DealID != "b" {
		t.Fatalf("unexpected order %+v", deals)
	}
}

func TestUpsertSelectedDateTimeKeepsOneRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)

	if err := s.UpsertSelectedDateTime(ctx, "deal-1", "2026-03-01T10:00", now); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertSelectedDateTime(ctx, "deal-1", "2026-03-02T10:00", now.Add(time.Minute)); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM customer_responses WHERE deal_id = ?`, "deal-1"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
	got, err := s.GetResponse(ctx, "deal-1")
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if got.SelectedDateTime != "2026-03-02T10:00" {
		t.Fatalf("second value must win, got %q", got.SelectedDateTime)
	}
	if !got.SubmittedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("submitted_at=%s", got.SubmittedAt)
	}
}

func TestUpsertsDoNotClobberEachOther(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)

	if err := s.UpsertSurveyAnswers(ctx, scheduling.SurveyAnswers{
		DealID: "deal-1", Stage: scheduling.SurveyStage1,
		SelectedItems: []string{"A", "B"}, PriorityItem: "P",
	}, now); err != nil {
		t.Fatalf("stage 1: %v", err)
	}
	if err := s.UpsertSelectedDateTime(ctx, "deal-1", "2026-03-01T10:00", now); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := s.UpsertSurveyAnswers(ctx, scheduling.SurveyAnswers{
		DealID: "deal-1", Stage: scheduling.SurveyStage2, SelectedItems: []string{"C"},
	}, now); err != nil {
		t.Fatalf("stage 2: %v", err)
	}

	got, err := s.GetResponse(ctx, "deal-1")
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if got.SelectedDateTime != "2026-03-01T10:00" {
		t.Fatalf("selected=%q", got.SelectedDateTime)
	}
	if len(got.Survey1SelectedItems) != 2 || got.Survey1SelectedItems[1] != "B" || got.Survey1PriorityItem != "P" {
		t.Fatalf("stage 1 lost: %+v", got)
	}
	if len(got.Survey2SelectedItems) != 1 || got.Survey2SelectedItems[0] != "C" || !got.SurveyCompleted {
		t.Fatalf("stage 2 lost: %+v", got)
	}
}

func TestGetResponseMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetResponse(context.Background(), "deal-x")
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestCorruptRowsSurfaceErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)

	if err := s.CreateDeal(ctx, testDeal("deal-1", now), testCandidates("2026-03-01T10:00")); err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	if err := s.UpsertSurveyAnswers(ctx, scheduling.SurveyAnswers{
		DealID: "deal-1", Stage: scheduling.SurveyStage1, SelectedItems: []string{"A"},
	}, now); err != nil {
		t.Fatalf("stage 1: %v", err)
	}

	if _, err := s.db.Exec(`UPDATE deals SET expires_at = 'garbage' WHERE deal_id = ?`, "deal-1"); err != nil {
		t.Fatalf("corrupt expires_at: %v", err)
	}
	if got, err := s.GetDeal(ctx, "deal-1"); err == nil {
		t.Fatalf("expected error for malformed expires_at, got %+v", got)
	}
	if _, err := s.ListDeals(ctx); err == nil {
		t.Fatal("expected ListDeals to fail on malformed expires_at")
	}
	if _, err := s.ListDealsWithResponses(ctx); err == nil {
		t.Fatal("expected ListDealsWithResponses to fail on malformed expires_at")
	}

	if _, err := s.db.Exec(`UPDATE customer_responses SET survey1_selected_items = '{not json' WHERE deal_id = ?`, "deal-1"); err != nil {
		t.Fatalf("corrupt survey items: %v", err)
	}
	if got, err := s.GetResponse(ctx, "deal-1"); err == nil {
		t.Fatalf("expected error for malformed survey items, got %+v", got)
	}
}

func TestConcurrentUpsertsSingleRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- s.UpsertSelectedDateTime(ctx, "deal-race", "2026-03-01T10:00", now)
		}()
		go func() {
			defer wg.Done()
			errs <- s.UpsertSurveyAnswers(ctx, scheduling.SurveyAnswers{
				DealID: "deal-race", Stage: scheduling.SurveyStage1, SelectedItems: []string{"A"},
			}, now)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM customer_responses`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
	got, err := s.GetResponse(ctx, "deal-race")
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if got.SelectedDateTime == "" || len(got.Survey1SelectedItems) != 1 {
		t.Fatalf("fields lost under concurrency: %+v", got)
	}
}

func TestListDealsWithResponsesLeftJoin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)

	if err := s.CreateDeal(ctx, testDeal("answered", now), testCandidates("2026-03-01T10:00")); err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	if err := s.CreateDeal(ctx, testDeal("silent", now.Add(time.Second)), testCandidates("2026-03-01T10:00")); err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	if err := s.UpsertSelectedDateTime(ctx, "answered", "2026-03-01T10:00", now); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	rows, err := s.ListDealsWithResponses(ctx)
	if err != nil {
		t.Fatalf("ListDealsWithResponses: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Deal.DealID != "answered" || rows[0].Response == nil || rows[0].Response.SelectedDateTime != "2026-03-01T10:00" {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if rows[1].Deal.DealID != "silent" || rows[1].Response != nil {
		t.Fatalf("unexpected second row %+v", rows[1])
	}
}

func TestReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	now := time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC)

	s1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s1.CreateDeal(context.Background(), testDeal("persist", now), testCandidates("2026-03-01T10:00")); err != nil {
		t.Fatalf("CreateDeal: %v", err)
	}
	s1.Close()

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.GetDeal(context.Background(), "persist")
	if err != nil || got == nil {
		t.Fatalf("deal missing after reopen: %v", err)
	}
}

func TestIsBusy(t *testing.T) {
	if !isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatal("expected busy")
	}
	if isBusy(errors.New("UNIQUE constraint failed")) {
		t.Fatal("unexpected busy")
	}
}
