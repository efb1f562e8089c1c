package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/deal-scheduler/internal/scheduling"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	busyRetries   = 4
	busyBaseDelay = 20 * time.Millisecond
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLite implements scheduling.DealStore and scheduling.ResponseStore.
type SQLite struct {
	db *sqlx.DB
}

func Open(dbPath string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry retries op while SQLite reports lock contention.
func (s *SQLite) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(busyRetries, retry.NewExponential(busyBaseDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			if isBusy(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

// --- row mapping ---

func timeToString(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(column, s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", column, s, err)
	}
	return t, nil
}

func nullString(v string) sql.NullString {
	if strings.TrimSpace(v) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func marshalItems(items []string) (sql.NullString, error) {
	if len(items) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal survey items: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalItems(column string, v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(v.String), &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", column, err)
	}
	return items, nil
}

type dealRow struct {
	ID           int64          `db:"id"`
	DealID       string         `db:"deal_id"`
	CompanyName  string         `db:"company_name"`
	ContactName  string         `db:"contact_name"`
	SalesRepName string         `db:"sales_rep_name"`
	Department   sql.NullString `db:"department"`
	RoleName     sql.NullString `db:"role_name"`
	Industry     string         `db:"industry"`
	Revenue      string         `db:"revenue"`
	MeetingType  string         `db:"meeting_type"`
	Link         string         `db:"link"`
	CreatedAt    string         `db:"created_at"`
	ExpiresAt    string         `db:"expires_at"`
}

func (r dealRow) toDeal() (scheduling.Deal, error) {
	createdAt, err := parseTime("created_at", r.CreatedAt)
	if err != nil {
		return scheduling.Deal{}, fmt.Errorf("deal %s: %w", r.DealID, err)
	}
	expiresAt, err := parseTime("expires_at", r.ExpiresAt)
	if err != nil {
		return scheduling.Deal{}, fmt.Errorf("deal %s: %w", r.DealID, err)
	}
	return scheduling.Deal{
		DealID:       r.DealID,
		CompanyName:  r.CompanyName,
		ContactName:  r.ContactName,
		SalesRepName: r.SalesRepName,
		Department:   r.Department.String,
		RoleName:     r.RoleName.String,
		Industry:     r.Industry,
		Revenue:      r.Revenue,
		MeetingType:  r.MeetingType,
		Link:         r.Link,
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
	}, nil
}

type candidateRow struct {
	ID       int64  `db:"id"`
	DealID   string `db:"deal_id"`
	Start    string `db:"date_time_start"`
	Duration int    `db:"duration"`
}

type responseRow struct {
	DealID               sql.NullString `db:"r_deal_id"`
	SelectedDateTime     sql.NullString `db:"r_selected_date_time"`
	Survey1SelectedItems sql.NullString `db:"r_survey1_selected_items"`
	Survey1PriorityItem  sql.NullString `db:"r_survey1_priority_item"`
	Survey2SelectedItems sql.NullString `db:"r_survey2_selected_items"`
	SurveyCompleted      sql.NullBool   `db:"r_survey_completed"`
	SubmittedAt          sql.NullString `db:"r_submitted_at"`
}

func (r responseRow) toResponse() (*scheduling.CustomerResponse, error) {
	if !r.DealID.Valid {
		return nil, nil
	}
	survey1, err := unmarshalItems("survey1_selected_items", r.Survey1SelectedItems)
	if err != nil {
		return nil, fmt.Errorf("response %s: %w", r.DealID.String, err)
	}
	survey2, err := unmarshalItems("survey2_selected_items", r.Survey2SelectedItems)
	if err != nil {
		return nil, fmt.Errorf("response %s: %w", r.DealID.String, err)
	}
	var submittedAt time.Time
	if r.SubmittedAt.Valid {
		if submittedAt, err = parseTime("submitted_at", r.SubmittedAt.String); err != nil {
			return nil, fmt.Errorf("response %s: %w", r.DealID.String, err)
		}
	}
	return &scheduling.CustomerResponse{
		DealID:               r.DealID.String,
		SelectedDateTime:     r.SelectedDateTime.String,
		Survey1SelectedItems: survey1,
		Survey1PriorityItem:  r.Survey1PriorityItem.String,
		Survey2SelectedItems: survey2,
		SurveyCompleted:      r.SurveyCompleted.Bool,
		SubmittedAt:          submittedAt,
	}, nil
}

const dealColumns = `d.id, d.deal_id, d.company_name, d.contact_name, d.sales_rep_name, d.department,
	d.role_name, d.industry, d.revenue, d.meeting_type, d.link, d.created_at, d.expires_at`

const responseColumns = `r.deal_id AS r_deal_id, r.selected_date_time AS r_selected_date_time,
	r.survey1_selected_items AS r_survey1_selected_items, r.survey1_priority_item AS r_survey1_priority_item,
	r.survey2_selected_items AS r_survey2_selected_items, r.survey_completed AS r_survey_completed,
	r.submitted_at AS r_submitted_at`

// --- scheduling.DealStore ---

// CreateDeal writes the deal and its candidates in one transaction.
func (s *SQLite) CreateDeal(ctx context.Context, d scheduling.Deal, candidates []scheduling.MeetingCandidate) error {
	return s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.NamedExecContext(ctx, `INSERT INTO deals (deal_id, company_name, contact_name, sales_rep_name,
			department, role_name, industry, revenue, meeting_type, link, created_at, expires_at)
			VALUES (:deal_id, :company_name, :contact_name, :sales_rep_name, :department, :role_name,
			:industry, :revenue, :meeting_type, :link, :created_at, :expires_at)`,
			dealRow{
				DealID:       d.DealID,
				CompanyName:  d.CompanyName,
				ContactName:  d.ContactName,
				SalesRepName: d.SalesRepName,
				Department:   nullString(d.Department),
				RoleName:     nullString(d.RoleName),
				Industry:     d.Industry,
				Revenue:      d.Revenue,
				MeetingType:  d.MeetingType,
				Link:         d.Link,
				CreatedAt:    timeToString(d.CreatedAt),
				ExpiresAt:    timeToString(d.ExpiresAt),
			})
		if err != nil {
			return fmt.Errorf("insert deal: %w", err)
		}

		for _, c := range candidates {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO meeting_candidates (deal_id, date_time_start, duration) VALUES (?, ?, ?)`,
				d.DealID, c.Start, c.DurationMinutes,
			); err != nil {
				return fmt.Errorf("insert candidate: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

func (s *SQLite) GetDeal(ctx context.Context, dealID string) (*scheduling.Deal, error) {
	var row dealRow
	err := s.db.GetContext(ctx, &row, `SELECT `+dealColumns+` FROM deals d WHERE d.deal_id = ?`, dealID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}
	d, err := row.toDeal()
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLite) ListCandidates(ctx context.Context, dealID string) ([]scheduling.MeetingCandidate, error) {
	var rows []candidateRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, deal_id, date_time_start, duration FROM meeting_candidates WHERE deal_id = ? ORDER BY id`,
		dealID,
	); err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	out := make([]scheduling.MeetingCandidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, scheduling.MeetingCandidate{
			ID:              r.ID,
			DealID:          r.DealID,
			Start:           r.Start,
			DurationMinutes: r.Duration,
		})
	}
	return out, nil
}

func (s *SQLite) ListDeals(ctx context.Context) ([]scheduling.Deal, error) {
	var rows []dealRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+dealColumns+` FROM deals d ORDER BY d.created_at, d.id`); err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}
	out := make([]scheduling.Deal, 0, len(rows))
	for _, r := range rows {
		d, err := r.toDeal()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ListDealsWithResponses left-joins every deal with its response row.
func (s *SQLite) ListDealsWithResponses(ctx context.Context) ([]scheduling.DealWithResponse, error) {
	var rows []struct {
		dealRow
		responseRow
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+dealColumns+`, `+responseColumns+`
		FROM deals d
		LEFT JOIN customer_responses r ON r.deal_id = d.deal_id
		ORDER BY d.created_at, d.id`,
	); err != nil {
		return nil, fmt.Errorf("failed to list deals with responses: %w", err)
	}
	out := make([]scheduling.DealWithResponse, 0, len(rows))
	for _, r := range rows {
		d, err := r.dealRow.toDeal()
		if err != nil {
			return nil, err
		}
		resp, err := r.responseRow.toResponse()
		if err != nil {
			return nil, err
		}
		out = append(out, scheduling.DealWithResponse{Deal: d, Response: resp})
	}
	return out, nil
}

// --- scheduling.ResponseStore ---

func (s *SQLite) UpsertSelectedDateTime(ctx context.Context, dealID, selected string, now time.Time) error {
	ts := timeToString(now)
	return s.withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO customer_responses (deal_id, selected_date_time, submitted_at, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(deal_id) DO UPDATE SET
				selected_date_time = excluded.selected_date_time,
				submitted_at = excluded.submitted_at`,
			dealID, selected, ts, ts,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert selected date: %w", err)
		}
		return nil
	})
}

func (s *SQLite) UpsertSurveyAnswers(ctx context.Context, a scheduling.SurveyAnswers, now time.Time) error {
	var query string
	var args []any
	ts := timeToString(now)
	items, err := marshalItems(a.SelectedItems)
	if err != nil {
		return err
	}
	switch a.Stage {
	case scheduling.SurveyStage1:
		query = `INSERT INTO customer_responses (deal_id, survey1_selected_items, survey1_priority_item, submitted_at, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(deal_id) DO UPDATE SET
				survey1_selected_items = excluded.survey1_selected_items,
				survey1_priority_item = excluded.survey1_priority_item,
				submitted_at = excluded.submitted_at`
		args = []any{a.DealID, items, nullString(a.PriorityItem), ts, ts}
	case scheduling.SurveyStage2:
		query = `INSERT INTO customer_responses (deal_id, survey2_selected_items, survey_completed, submitted_at, created_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(deal_id) DO UPDATE SET
				survey2_selected_items = excluded.survey2_selected_items,
				survey_completed = 1,
				submitted_at = excluded.submitted_at`
		args = []any{a.DealID, items, ts, ts}
	default:
		return fmt.Errorf("unknown survey stage %d", a.Stage)
	}
	return s.withRetry(ctx, func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to upsert survey answers: %w", err)
		}
		return nil
	})
}

func (s *SQLite) GetResponse(ctx context.Context, dealID string) (*scheduling.CustomerResponse, error) {
	var row responseRow
	err := s.db.GetContext(ctx, &row, `SELECT `+responseColumns+` FROM customer_responses r WHERE r.deal_id = ?`, dealID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	return row.toResponse()
}

// Ensure SQLite satisfies the store interfaces at compile time.
var (
	_ scheduling.DealStore     = (*SQLite)(nil)
	_ scheduling.ResponseStore = (*SQLite)(nil)
)
