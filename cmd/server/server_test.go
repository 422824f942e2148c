package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Simplici0/retrofit-costing/internal/bespoke"
	"github.com/Simplici0/retrofit-costing/internal/db"
	"github.com/Simplici0/retrofit-costing/internal/migrations"
	"github.com/Simplici0/retrofit-costing/internal/seed"
	"github.com/Simplici0/retrofit-costing/internal/store"
	"github.com/Simplici0/retrofit-costing/internal/workflow"
)

const (
	testEmail    = "admin@example.com"
	testPassword = "correct horse"
)

func newTestServer(t *testing.T) (*server, *httptest.Server) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "server-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, migrations.Up(database))
	_, err = seed.Run(database, seed.Config{AdminEmail: testEmail, AdminPassword: testPassword})
	require.NoError(t, err)

	st := store.New(database)
	auth, err := newAuthService(st, "", time.Hour)
	require.NoError(t, err)

	log := zap.NewNop()
	srv := &server{
		auth:     auth,
		store:    st,
		sessions: newSessionManager(st, log, false, time.Hour, time.Hour),
		bespoke:  bespoke.NewService(st, nil, log),
		log:      log,
	}
	t.Cleanup(srv.sessions.closeAll)

	ts := httptest.NewServer(srv.routes(nil))
	t.Cleanup(ts.Close)
	return srv, ts
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newClient(t *testing.T, ts *httptest.Server) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{t: t, base: ts.URL, http: &http.Client{Jar: jar}}
}

func (c *client) form(method, path string, values url.Values) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, strings.NewReader(values.Encode()))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (c *client) get(path string) *http.Response {
	c.t.Helper()
	resp, err := c.http.Get(c.base + path)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (c *client) login() {
	c.t.Helper()
	resp := c.form(http.MethodPost, "/login", url.Values{"email": {testEmail}, "password": {testPassword}})
	require.Equal(c.t, http.StatusNoContent, resp.StatusCode)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	resp := newClient(t, ts).get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	c := newClient(t, ts)

	resp := c.get("/costings")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = c.form(http.MethodPost, "/login", url.Values{"email": {testEmail}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c.login()
	resp = c.get("/costings")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = c.form(http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = c.get("/costings")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCostingSessionFlow(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	c := newClient(t, ts)
	c.login()

	resp := c.form(http.MethodPut, "/surveys/survey-1", url.Values{
		"name": {"12 High St"}, "lead_name": {"J Smith"},
		"current_band": {"E"}, "potential_band": {"C"}, "cost_savings": {"50"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = c.form(http.MethodPost, "/sessions", url.Values{"survey_id": {"survey-1"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	view := decode[sessionView](t, resp)
	assert.Equal(t, workflow.StateDraft, view.State)
	assert.Equal(t, "240.00", view.TotalCost)
	assert.Equal(t, "20.00", view.FunderAveragePrice)
	assert.Equal(t, "1000.00", view.PriceWeGet)
	assert.Equal(t, "50.00", view.CostSavings)
	id := view.ID

	resp = c.form(http.MethodPost, "/sessions/"+id+"/toggle", url.Values{"key": {"loft"}, "enabled": {"on"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = decode[sessionView](t, resp)
	assert.Equal(t, "450.00", view.TotalCost)
	assert.Equal(t, "550.00", view.ProfitAmount)
	assert.Equal(t, "55.00", view.ProfitPercentage)

	resp = c.form(http.MethodPost, "/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("HX-Trigger"), "Costing record saved successfully!")
	view = decode[sessionView](t, resp)
	assert.Equal(t, workflow.StateSavedSummary, view.State)
	require.NotEmpty(t, view.RecordID)

	// The summary is frozen until editing starts.
	resp = c.form(http.MethodPost, "/sessions/"+id+"/toggle", url.Values{"key": {"ewi"}, "enabled": {"true"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = c.get("/costings/" + view.RecordID + "/text")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Total cost: 450.00 GBP")

	resp = c.get("/costings?q=High")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[costingsViewData](t, resp)
	require.Len(t, list.Costings, 1)
	assert.Equal(t, view.RecordID, list.Costings[0].ID)

	resp = c.get("/costings/export.xlsx")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "costings.xlsx")

	resp = c.form(http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = c.get("/sessions/" + id)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitEmptySelection(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	c := newClient(t, ts)
	c.login()

	resp := c.form(http.MethodPost, "/sessions", url.Values{"survey_id": {"s-2"}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Equal(t, http.StatusOK, c.form(http.MethodPut, "/surveys/s-2", url.Values{"name": {"Flat 3"}}).StatusCode)
	resp = c.form(http.MethodPost, "/sessions", url.Values{"survey_id": {"s-2"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	view := decode[sessionView](t, resp)
	assert.Equal(t, "Not Available", view.PriceWeGet)

	resp = c.form(http.MethodPost, "/sessions/"+view.ID+"/toggle", url.Values{"key": {"innovation_bead"}, "enabled": {"false"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = c.form(http.MethodPost, "/sessions/"+view.ID+"/submit", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("HX-Trigger"), "Please fill out all required fields.")
	body := decode[errorBody](t, resp)
	assert.Equal(t, "line_items", body.Field)
}

func TestBespokeRoutes(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	c := newClient(t, ts)
	c.login()
	require.Equal(t, http.StatusOK, c.form(http.MethodPut, "/surveys/s-3", url.Values{"name": {"Bungalow"}}).StatusCode)

	resp := c.form(http.MethodPost, "/surveys/s-3/bespoke", url.Values{"lead_name": {"A Lead"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("HX-Trigger"), "Please select a measure before saving")

	resp = c.form(http.MethodPost, "/surveys/s-3/bespoke", url.Values{
		"lead_name":    {"A Lead"},
		"measure":      {"Loft"},
		"name":         {"Hatch", "Eaves"},
		"instructions": {"Insulate hatch", "Keep eaves clear"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("HX-Trigger"), "Records created successfully!")

	resp = c.get("/surveys/s-3/bespoke")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := decode[[]bespoke.Instruction](t, resp)
	require.Len(t, items, 2)
	assert.Equal(t, "Hatch", items[0].Name)
	assert.Equal(t, 2, items[1].Position)
}

func TestAdminCatalogUpdates(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	c := newClient(t, ts)
	c.login()

	resp := c.form(http.MethodPut, "/admin/funders/Council", url.Values{"price": {"0"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = c.form(http.MethodPut, "/admin/funders/Council", url.Values{"price": {"22.00"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = c.form(http.MethodPut, "/admin/line-items/loft", url.Values{
		"label": {"Loft"}, "unit_price": {"230.00"}, "position": {"7"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = c.form(http.MethodPut, "/admin/line-items/loft", url.Values{
		"label": {"Loft"}, "unit_price": {"230.00"}, "position": {"7"}, "exclusive_with": {"missing"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = c.get("/catalog")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[catalogView](t, resp)
	assert.Len(t, view.Funders, 4)
	for _, item := range view.LineItems {
		if item.Key == "loft" {
			assert.Equal(t, "230.00", item.UnitPrice.StringFixed(2))
		}
	}

	resp = c.form(http.MethodDelete, "/admin/funders/Nobody", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func startSession(t *testing.T, c *client, surveyID string) string {
	t.Helper()
	require.Equal(t, http.StatusOK, c.form(http.MethodPut, "/surveys/"+surveyID, url.Values{"name": {"Terrace " + surveyID}}).StatusCode)
	resp := c.form(http.MethodPost, "/sessions", url.Values{"survey_id": {surveyID}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[sessionView](t, resp).ID
}

func TestLogoutClosesSessions(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t)
	c := newClient(t, ts)
	c.login()
	id := startSession(t, c, "s-logout")

	ls, err := srv.sessions.get(id, testEmail)
	require.NoError(t, err)
	require.True(t, ls.session.Refreshing())

	require.Equal(t, http.StatusNoContent, c.form(http.MethodPost, "/logout", nil).StatusCode)
	assert.False(t, ls.session.Refreshing())
	assert.ErrorIs(t, ls.session.Toggle("loft", true), workflow.ErrSessionClosed)

	c.login()
	assert.Equal(t, http.StatusNotFound, c.get("/sessions/"+id).StatusCode)
}

func TestIdleSessionsAreSwept(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t)
	c := newClient(t, ts)
	c.login()
	id := startSession(t, c, "s-idle")

	ls, err := srv.sessions.get(id, testEmail)
	require.NoError(t, err)

	assert.Equal(t, 0, srv.sessions.sweep(time.Now()))
	assert.Equal(t, http.StatusOK, c.get("/sessions/"+id).StatusCode)

	assert.Equal(t, 1, srv.sessions.sweep(time.Now().Add(2*time.Hour)))
	assert.False(t, ls.session.Refreshing())
	assert.Equal(t, http.StatusNotFound, c.get("/sessions/"+id).StatusCode)
}
