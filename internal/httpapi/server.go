package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joelkehle/deal-scheduler/internal/scheduling"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	AllowedOrigins []string
	CatalogVersion string
	Store          Pinger
}

type Server struct {
	svc  *scheduling.Service
	opts Options
}

func NewServer(svc *scheduling.Service, opts Options) http.Handler {
	s := &Server{svc: svc, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(withCORS(opts.AllowedOrigins))

	r.Get("/healthz", s.handleHealth)

	r.Route("/sales", func(r chi.Router) {
		r.Post("/register_deal", s.handleRegisterDeal)
		r.Get("/deals/{deal_id}", s.handleDealView)
	})
	r.Route("/customer", func(r chi.Router) {
		r.Get("/select_date/{deal_id}", s.handleCustomerView)
		r.Post("/confirm_date", s.handleConfirmDate)
		r.Post("/submit_survey", s.handleSubmitSurvey)
	})
	r.Get("/api/survey_items", s.handleSurveyItems)
	r.Get("/api/survey_items/followups", s.handleSurveyFollowUps)
	r.Route("/admin", func(r chi.Router) {
		r.Get("/manage_deals", s.handleManageDeals)
		r.Post("/generate_suggestion", s.handleGenerateSuggestion)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var se *scheduling.Error
	if errors.As(err, &se) {
		writeJSON(w, se.Status, map[string]any{
			"ok": false,
			"error": map[string]any{
				"code":    se.Code,
				"message": se.Message,
			},
		})
		return
	}
	log.Printf("deal-scheduler request_error method=%s path=%s request_id=%s err=%q",
		r.Method, r.URL.Path, middleware.GetReqID(r.Context()), err.Error())
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    scheduling.CodeInternal,
			"message": "internal server error",
		},
	})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte("{}"), nil
	}
	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	return blob, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	blob, err := readBody(w, r)
	if err != nil {
		return scheduling.NewValidationJSONError(err)
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		return scheduling.NewValidationJSONError(err)
	}
	return nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, scheduling.NewValidationError("ids must be comma separated integers, got %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Server) handleRegisterDeal(w http.ResponseWriter, r *http.Request) {
	var req scheduling.RegisterDealInput
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reg, err := s.svc.RegisterDeal(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":         true,
		"message":    "Deal registered successfully",
		"deal_id":    reg.DealID,
		"link":       reg.Link,
		"expires_at": reg.ExpiresAt,
	})
}

func (s *Server) handleDealView(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.DealView(r.Context(), chi.URLParam(r, "deal_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"deal":       view.Deal,
		"candidates": view.Candidates,
		"expired":    view.Expired,
	})
}

func (s *Server) handleCustomerView(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.CustomerView(r.Context(), chi.URLParam(r, "deal_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deal": view})
}

func (s *Server) handleConfirmDate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DealID           string `json:"deal_id"`
		SelectedDateTime string `json:"selected_date_time"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.ConfirmSelectedDateTime(r.Context(), req.DealID, req.SelectedDateTime); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                 true,
		"message":            "Date confirmed",
		"deal_id":            strings.TrimSpace(req.DealID),
		"selected_date_time": strings.TrimSpace(req.SelectedDateTime),
	})
}

func (s *Server) handleSubmitSurvey(w http.ResponseWriter, r *http.Request) {
	var req scheduling.SurveyAnswersInput
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.RecordSurveyAnswers(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": "Survey answers recorded",
		"deal_id": strings.TrimSpace(req.DealID),
		"stage":   req.Stage,
	})
}

func (s *Server) handleSurveyItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	questions, err := s.svc.SurveyQuestions(r.Context(), q.Get("industry"), q.Get("revenue"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "survey_items": questions})
}

func (s *Server) handleSurveyFollowUps(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	questions, err := s.svc.SurveyFollowUps(r.Context(), ids)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "survey_items": questions})
}

func (s *Server) handleManageDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := s.svc.AdminDealsView(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deals": deals})
}

func (s *Server) handleGenerateSuggestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DealID string `json:"deal_id"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.svc.GenerateSuggestion(r.Context(), req.DealID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"deal_id":    out.DealID,
		"prompt":     out.Prompt,
		"suggestion": out.Result,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":          "ok",
		"catalog_version": s.opts.CatalogVersion,
		"time":            time.Now().UTC().Format(time.RFC3339),
	}
	if s.opts.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Store.Ping(ctx); err != nil {
			payload["status"] = "degraded"
			payload["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, payload)
			return
		}
	}
	writeJSON(w, http.StatusOK, payload)
}
