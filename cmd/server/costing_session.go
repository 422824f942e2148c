package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/Simplici0/retrofit-costing/internal/costing"
	"github.com/Simplici0/retrofit-costing/internal/notify"
	"github.com/Simplici0/retrofit-costing/internal/workflow"
)

type lineView struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Quantity int    `json:"quantity"`
	Amount   string `json:"amount"`
}

type sessionView struct {
	ID                 string                `json:"id"`
	State              workflow.State        `json:"state"`
	Saving             bool                  `json:"saving"`
	Active             []string              `json:"active"`
	Quantities         map[string]int        `json:"quantities"`
	Lines              []lineView            `json:"lines"`
	TotalCost          string                `json:"total_cost"`
	FunderAveragePrice string                `json:"funder_average_price"`
	PriceWeGet         string                `json:"price_we_get"`
	ProfitAmount       string                `json:"profit_amount"`
	ProfitPercentage   string                `json:"profit_percentage"`
	Tier               costing.Tier          `json:"tier"`
	TierClass          string                `json:"tier_class"`
	BarWidth           string                `json:"bar_width"`
	CurrentBand        string                `json:"current_band"`
	PotentialBand      string                `json:"potential_band"`
	CostSavings        string                `json:"cost_savings"`
	RecordID           string                `json:"record_id,omitempty"`
	Previous           *workflow.Record      `json:"previous,omitempty"`
	Records            int                   `json:"records"`
	Notifications      []notify.Notification `json:"notifications,omitempty"`
}

func buildSessionView(ls *liveSession, notes []notify.Notification) sessionView {
	s := ls.session
	sel := s.Selection()
	// Unavailable price data still yields the cost side; the price fields render as Not Available.
	res, _ := s.Current()
	sv := s.Savings()

	view := sessionView{
		ID:                 ls.id,
		State:              s.State(),
		Saving:             s.Saving(),
		Active:             sel.Active(),
		Quantities:         make(map[string]int),
		Lines:              make([]lineView, 0, len(res.Lines)),
		TotalCost:          res.TotalCost.StringFixed(2),
		FunderAveragePrice: costing.Display(res.FunderAveragePrice),
		PriceWeGet:         costing.Display(res.PriceWeGet),
		ProfitAmount:       res.ProfitAmount.StringFixed(2),
		ProfitPercentage:   res.ProfitPercentage.StringFixed(2),
		Tier:               res.Tier,
		TierClass:          res.Tier.CSSClass(),
		BarWidth:           costing.BarWidth(res.ProfitPercentage),
		CurrentBand:        sv.CurrentBandLabel(),
		PotentialBand:      sv.PotentialBandLabel(),
		CostSavings:        sv.CostSavingsLabel(),
		RecordID:           s.Record().ID,
		Records:            len(s.Records()),
		Notifications:      notes,
	}
	for _, key := range view.Active {
		if item, ok := s.Catalog().Lookup(key); ok && item.QuantityBased {
			view.Quantities[key] = sel.Quantity(key)
		}
	}
	for _, l := range res.Lines {
		view.Lines = append(view.Lines, lineView{Key: l.Key, Label: l.Label, Quantity: l.Quantity, Amount: l.Amount.StringFixed(2)})
	}
	if prev, ok := s.PreviousValues(); ok {
		view.Previous = &prev
	}
	return view
}

type toggleForm struct {
	Key     string
	Enabled bool
}

func parseToggleForm(r *http.Request) (toggleForm, error) {
	if err := r.ParseForm(); err != nil {
		return toggleForm{}, eris.Wrap(err, "invalid form")
	}
	form := toggleForm{Key: strings.TrimSpace(r.FormValue("key"))}
	if form.Key == "" {
		return form, eris.Wrap(costing.ErrUnknownLineItem, "key is required")
	}
	raw := strings.TrimSpace(r.FormValue("enabled"))
	switch strings.ToLower(raw) {
	case "on", "checked":
		form.Enabled = true
		return form, nil
	case "", "off":
		return form, nil
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return form, eris.Wrapf(costing.ErrInvalidLineItem, "enabled: %q is not a boolean", raw)
	}
	form.Enabled = enabled
	return form, nil
}

type quantityForm struct {
	Key string
	Raw string
}

func parseQuantityForm(r *http.Request) (quantityForm, error) {
	if err := r.ParseForm(); err != nil {
		return quantityForm{}, eris.Wrap(err, "invalid form")
	}
	form := quantityForm{Key: strings.TrimSpace(r.FormValue("key")), Raw: r.FormValue("quantity")}
	if form.Key == "" {
		return form, eris.Wrap(costing.ErrUnknownLineItem, "key is required")
	}
	return form, nil
}

func (s *server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid form"})
		return
	}
	surveyID := strings.TrimSpace(r.FormValue("survey_id"))
	if surveyID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "survey_id is required", Field: "survey_id"})
		return
	}
	sv, err := s.store.GetSurvey(r.Context(), surveyID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = sv.Name
	}

	ls, err := s.sessions.start(r.Context(), currentUser(r), workflow.Params{SurveyID: surveyID, Name: name})
	if err != nil {
		s.writeError(w, err)
		return
	}
	notes := s.setToast(w, ls.notes)
	writeJSON(w, http.StatusCreated, buildSessionView(ls, notes))
}

// withSession runs fn against the caller's session and replies with its view.
func (s *server) withSession(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, ls *liveSession) error) {
	ls, err := s.sessions.get(chi.URLParam(r, "id"), currentUser(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	actionErr := fn(r.Context(), ls)
	notes := s.setToast(w, ls.notes)
	if actionErr != nil {
		s.writeError(w, actionErr)
		return
	}
	writeJSON(w, http.StatusOK, buildSessionView(ls, notes))
}

func (s *server) handleSessionView(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(context.Context, *liveSession) error { return nil })
}

func (s *server) handleSessionToggle(w http.ResponseWriter, r *http.Request) {
	form, err := parseToggleForm(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.withSession(w, r, func(_ context.Context, ls *liveSession) error {
		return ls.session.Toggle(form.Key, form.Enabled)
	})
}

func (s *server) handleSessionQuantity(w http.ResponseWriter, r *http.Request) {
	form, err := parseQuantityForm(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.withSession(w, r, func(_ context.Context, ls *liveSession) error {
		return ls.session.SetQuantity(form.Key, form.Raw)
	})
}

func (s *server) handleSessionRefreshSavings(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(ctx context.Context, ls *liveSession) error {
		return ls.session.RefreshCostSavings(ctx)
	})
}

func (s *server) handleSessionRefreshRecords(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(ctx context.Context, ls *liveSession) error {
		return ls.session.RefreshRecords(ctx)
	})
}

func (s *server) handleSessionSubmit(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(ctx context.Context, ls *liveSession) error {
		return ls.session.Submit(ctx)
	})
}

func (s *server) handleSessionEdit(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(_ context.Context, ls *liveSession) error {
		return ls.session.BeginEdit()
	})
}

func (s *server) handleSessionSave(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(ctx context.Context, ls *liveSession) error {
		return ls.session.SaveEdit(ctx)
	})
}

func (s *server) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(_ context.Context, ls *liveSession) error {
		return ls.session.CancelEdit()
	})
}

func (s *server) handleSessionFinish(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(_ context.Context, ls *liveSession) error {
		return ls.session.Finish()
	})
}

func (s *server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.close(chi.URLParam(r, "id"), currentUser(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
