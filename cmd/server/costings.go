package main

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/Simplici0/retrofit-costing/internal/bespoke"
	"github.com/Simplici0/retrofit-costing/internal/export"
	"github.com/Simplici0/retrofit-costing/internal/notify"
	"github.com/Simplici0/retrofit-costing/internal/sapband"
	"github.com/Simplici0/retrofit-costing/internal/store"
	"github.com/Simplici0/retrofit-costing/internal/workflow"
)

type costingsViewData struct {
	Query    string                  `json:"query"`
	Costings []store.CostingListItem `json:"costings"`
}

func (s *server) handleCostingsList(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	items, err := s.store.SearchCostings(r.Context(), currentUser(r), query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, costingsViewData{Query: query, Costings: items})
}

// ownedRecord loads a costing the caller owns; others are reported as missing.
func (s *server) ownedRecord(r *http.Request) (workflow.Record, error) {
	rec, err := s.store.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return workflow.Record{}, err
	}
	if rec.OwnerID != currentUser(r) {
		return workflow.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *server) handleCostingDetail(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ownedRecord(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleCostingText(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ownedRecord(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sv, err := s.store.CostSavings(r.Context(), rec.SurveyID)
	if err != nil {
		// The summary still renders with "Not Available" savings.
		sv = sapband.Savings{}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := export.Text(w, rec, sv); err != nil {
		s.writeError(w, err)
	}
}

func (s *server) handleCostingsExport(w http.ResponseWriter, r *http.Request) {
	owner := currentUser(r)
	var (
		items   []store.CostingListItem
		records []workflow.Record
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		items, err = s.store.SearchCostings(ctx, owner, "")
		return err
	})
	g.Go(func() error {
		var err error
		records, err = s.store.ListRecords(ctx, "", owner)
		return err
	})
	if err := g.Wait(); err != nil {
		s.writeError(w, err)
		return
	}

	data, err := export.Workbook(items, records)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="costings.xlsx"`)
	_, _ = w.Write(data)
}

type bespokeForm struct {
	LeadName string        `json:"lead_name"`
	Measure  string        `json:"measure"`
	Rows     []bespoke.Row `json:"rows"`
}

// parseBespokeForm pairs the repeated name and instructions fields into rows.
func parseBespokeForm(r *http.Request) (bespokeForm, error) {
	if err := r.ParseForm(); err != nil {
		return bespokeForm{}, err
	}
	form := bespokeForm{
		LeadName: strings.TrimSpace(r.FormValue("lead_name")),
		Measure:  strings.TrimSpace(r.FormValue("measure")),
	}
	count := len(r.Form["name"])
	if n := len(r.Form["instructions"]); n > count {
		count = n
	}
	for i := 0; i < count; i++ {
		form.Rows = append(form.Rows, bespoke.Row{
			Name:         valueAt(r.Form["name"], i),
			Instructions: valueAt(r.Form["instructions"], i),
		})
	}
	return form, nil
}

func valueAt(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

func (s *server) handleBespokeCreate(w http.ResponseWriter, r *http.Request) {
	form, err := parseBespokeForm(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid form"})
		return
	}

	rec := notify.NewRecorder(notify.NewLogger(s.log))
	svc := bespoke.NewService(s.store, rec, s.log)
	items, err := svc.Create(r.Context(), bespoke.Request{
		SurveyID: chi.URLParam(r, "id"),
		OwnerID:  currentUser(r),
		LeadName: form.LeadName,
		Measure:  bespoke.Measure(form.Measure),
		Rows:     form.Rows,
	})
	s.setToast(w, rec)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, items)
}

func (s *server) handleBespokeList(w http.ResponseWriter, r *http.Request) {
	items, err := s.bespoke.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
