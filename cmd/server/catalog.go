package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/Simplici0/retrofit-costing/internal/catalog"
	"github.com/Simplici0/retrofit-costing/internal/store"
)

type catalogView struct {
	LineItems []catalog.LineItem `json:"line_items"`
	Funders   []catalog.Funder   `json:"funders"`
}

func (s *server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	cat, funders, err := catalog.Load(r.Context(), s.store)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, catalogView{LineItems: cat.Items(), Funders: funders})
}

func (s *server) handleUpsertLineItem(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid form"})
		return
	}

	price, err := parseNonNegativeDecimal(r.FormValue("unit_price"), "unit_price")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Field: "unit_price"})
		return
	}
	position, err := strconv.Atoi(strings.TrimSpace(r.FormValue("position")))
	if err != nil || position < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "position must be a non-negative integer", Field: "position"})
		return
	}
	quantityBased, _ := strconv.ParseBool(r.FormValue("quantity_based"))

	item := catalog.LineItem{
		Key:                   chi.URLParam(r, "key"),
		Label:                 strings.TrimSpace(r.FormValue("label")),
		UnitPrice:             price,
		QuantityBased:         quantityBased,
		MutuallyExclusiveWith: strings.TrimSpace(r.FormValue("exclusive_with")),
	}
	if item.Label == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "label is required", Field: "label"})
		return
	}

	// Reject an update that would leave the stored catalog inconsistent.
	items, err := s.store.LineItems(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := catalog.New(replaceItem(items, item)); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
		return
	}

	if err := s.store.UpsertLineItem(r.Context(), item, position); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func replaceItem(items []catalog.LineItem, item catalog.LineItem) []catalog.LineItem {
	out := make([]catalog.LineItem, 0, len(items)+1)
	found := false
	for _, it := range items {
		if it.Key == item.Key {
			out = append(out, item)
			found = true
			continue
		}
		out = append(out, it)
	}
	if !found {
		out = append(out, item)
	}
	return out
}

func (s *server) handleUpsertFunder(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid form"})
		return
	}
	price, err := parsePositiveDecimal(r.FormValue("price"), "price")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Field: "price"})
		return
	}
	f := catalog.Funder{Name: chi.URLParam(r, "name"), Price: price}
	if err := s.store.UpsertFunder(r.Context(), f); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *server) handleDeactivateFunder(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeactivateFunder(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleUpsertSurvey(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid form"})
		return
	}
	sv := store.Survey{
		ID:            chi.URLParam(r, "id"),
		OwnerID:       currentUser(r),
		Name:          strings.TrimSpace(r.FormValue("name")),
		LeadName:      strings.TrimSpace(r.FormValue("lead_name")),
		CurrentBand:   strings.TrimSpace(r.FormValue("current_band")),
		PotentialBand: strings.TrimSpace(r.FormValue("potential_band")),
	}
	if raw := strings.TrimSpace(r.FormValue("cost_savings")); raw != "" {
		d, err := parseNonNegativeDecimal(raw, "cost_savings")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Field: "cost_savings"})
			return
		}
		sv.CostSavings = decimal.NewNullDecimal(d)
	}
	if err := s.store.UpsertSurvey(r.Context(), sv); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sv)
}

func parseNonNegativeDecimal(raw, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, eris.Errorf("%s must be numeric", field)
	}
	if d.IsNegative() {
		return decimal.Zero, eris.Errorf("%s must be zero or greater", field)
	}
	return d, nil
}

func parsePositiveDecimal(raw, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, eris.Errorf("%s must be numeric", field)
	}
	if !d.IsPositive() {
		return decimal.Zero, eris.Errorf("%s must be greater than zero", field)
	}
	return d, nil
}
