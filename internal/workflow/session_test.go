package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Simplici0/retrofit-costing/internal/catalog"
	"github.com/Simplici0/retrofit-costing/internal/costing"
	"github.com/Simplici0/retrofit-costing/internal/notify"
	"github.com/Simplici0/retrofit-costing/internal/sapband"
)

type staticSource struct {
	items   []catalog.LineItem
	funders []catalog.Funder
}

func (s staticSource) LineItems(context.Context) ([]catalog.LineItem, error) { return s.items, nil }
func (s staticSource) Funders(context.Context) ([]catalog.Funder, error)     { return s.funders, nil }

type fakePersister struct {
	mu      sync.Mutex
	saves   []Record
	records []Record
	saveErr error
	listErr error
	listN   int

	// started is signalled when SaveRecord begins; release unblocks it.
	started chan struct{}
	release chan struct{}

	// listStarted and listRelease do the same for ListRecords, which returns
	// the records as they were when the call began.
	listStarted chan struct{}
	listRelease chan struct{}
}

func (p *fakePersister) SaveRecord(ctx context.Context, rec Record) (string, error) {
	if p.started != nil {
		p.started <- struct{}{}
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return "", p.saveErr
	}
	p.saves = append(p.saves, rec)
	if rec.ID == "" {
		return fmt.Sprintf("rec-%d", len(p.saves)), nil
	}
	return rec.ID, nil
}

func (p *fakePersister) ListRecords(ctx context.Context, surveyID, ownerID string) ([]Record, error) {
	p.mu.Lock()
	p.listN++
	records, err := p.records, p.listErr
	started, release := p.listStarted, p.listRelease
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
		<-release
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (p *fakePersister) saveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saves)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	persister *fakePersister
	notes     *notify.Recorder
	clock     *clock
	deps      Deps
}

func newFixture(savings decimal.NullDecimal) *fixture {
	f := &fixture{
		persister: &fakePersister{},
		notes:     notify.NewRecorder(nil),
		clock:     &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.deps = Deps{
		Catalog: staticSource{items: catalog.DefaultLineItems(), funders: []catalog.Funder{
			{Name: "A", Price: decimal.NewFromInt(100)},
			{Name: "B", Price: decimal.NewFromInt(200)},
		}},
		Savings: sapband.LookupFunc(func(context.Context, string) (sapband.Savings, error) {
			return sapband.Savings{CurrentBand: "E", PotentialBand: "C", CostSavings: savings}, nil
		}),
		Persister: f.persister,
		Notifier:  f.notes,
		Logger:    zap.NewNop(),
		Now:       f.clock.Now,
	}
	return f
}

func (f *fixture) start(t *testing.T) *Session {
	t.Helper()
	s, err := Start(context.Background(), f.deps, Params{SurveyID: "survey-1", OwnerID: "owner-1", Name: "12 High St"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func lastNote(t *testing.T, r *notify.Recorder) notify.Notification {
	t.Helper()
	got := r.Drain()
	require.NotEmpty(t, got)
	return got[len(got)-1]
}

func TestStartDraftWithDefaultSelection(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s := f.start(t)

	assert.Equal(t, StateDraft, s.State())
	assert.True(t, s.Selection().IsActive(catalog.KeyInnovationBead))

	res, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, "240.00", res.TotalCost.StringFixed(2))
	assert.Equal(t, "300.00", costing.Display(res.PriceWeGet))
}

func TestSubmitEmptySelectionIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s := f.start(t)
	require.NoError(t, s.Toggle(catalog.KeyInnovationBead, false))

	err := s.Submit(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "line_items", verr.Field)
	assert.Equal(t, StateDraft, s.State())
	assert.Zero(t, f.persister.saveCount())
	assert.Equal(t, notify.Error, lastNote(t, f.notes).Variant)
}

func TestSubmitRequiresName(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s, err := Start(context.Background(), f.deps, Params{SurveyID: "survey-1", OwnerID: "owner-1"})
	require.NoError(t, err)
	defer s.Close()

	err = s.Submit(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
	assert.Zero(t, f.persister.saveCount())
}

func TestSaveEditCancelRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s := f.start(t)
	ctx := context.Background()

	require.NoError(t, s.Toggle(catalog.KeyNormalBead, true))
	require.NoError(t, s.Toggle(catalog.KeyLoft, true))
	require.NoError(t, s.Submit(ctx))
	assert.Equal(t, StateSavedSummary, s.State())
	assert.Equal(t, "Costing record saved successfully!", lastNote(t, f.notes).Message)

	saved := s.Record()
	require.True(t, saved.Saved())
	assert.Equal(t, "395.80", saved.Result.TotalCost.StringFixed(2))

	require.ErrorIs(t, s.Toggle(catalog.KeyEWI, true), ErrFrozen)

	require.NoError(t, s.BeginEdit())
	prev, ok := s.PreviousValues()
	require.True(t, ok)
	assert.True(t, prev.Result.Equal(saved.Result))

	require.NoError(t, s.Toggle(catalog.KeyMechanicalVents, true))
	require.NoError(t, s.SetQuantity(catalog.KeyMechanicalVents, "3"))
	live, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, "1445.80", live.TotalCost.StringFixed(2))

	require.NoError(t, s.CancelEdit())
	assert.Equal(t, StateSavedSummary, s.State())
	after, err := s.Current()
	require.NoError(t, err)
	assert.True(t, after.Equal(saved.Result))
	assert.True(t, s.Selection().Equal(saved.Selection))
	_, ok = s.PreviousValues()
	assert.False(t, ok)
	assert.Equal(t, 1, f.persister.saveCount())
}

func TestSaveEditKeepsRecordID(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s := f.start(t)
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx))
	id := s.Record().ID

	require.NoError(t, s.BeginEdit())
	require.NoError(t, s.Toggle(catalog.KeyLoft, true))
	require.NoError(t, s.SaveEdit(ctx))

	assert.Equal(t, StateSavedSummary, s.State())
	assert.Equal(t, id, s.Record().ID)
	assert.Equal(t, "450.00", s.Record().Result.TotalCost.StringFixed(2))
	require.Len(t, s.Records(), 1)
	assert.Equal(t, 2, f.persister.saveCount())
}

func TestInvalidTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s := f.start(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.BeginEdit(), ErrInvalidTransition)
	assert.ErrorIs(t, s.CancelEdit(), ErrInvalidTransition)
	assert.ErrorIs(t, s.Finish(), ErrInvalidTransition)
	assert.ErrorIs(t, s.SaveEdit(ctx), ErrInvalidTransition)

	require.NoError(t, s.Submit(ctx))
	assert.ErrorIs(t, s.Submit(ctx), ErrInvalidTransition)
	require.NoError(t, s.Finish())
	assert.Equal(t, StateFinished, s.State())
	assert.ErrorIs(t, s.BeginEdit(), ErrInvalidTransition)
	assert.ErrorIs(t, s.Toggle(catalog.KeyLoft, true), ErrFrozen)
}

func TestDoubleSubmitIssuesOneSave(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	f.persister.started = make(chan struct{})
	f.persister.release = make(chan struct{})
	s := f.start(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.Submit(ctx) }()
	<-f.persister.started

	assert.True(t, s.Saving())
	assert.ErrorIs(t, s.Submit(ctx), ErrSaveInFlight)
	assert.ErrorIs(t, s.Toggle(catalog.KeyLoft, true), ErrSaveInFlight)

	close(f.persister.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.persister.saveCount())
	assert.Equal(t, StateSavedSummary, s.State())
}

func TestPersistenceFailureKeepsState(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	f.persister.saveErr = errors.New("disk full")
	s := f.start(t)
	ctx := context.Background()

	err := s.Submit(ctx)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "insert", perr.Op)
	assert.Equal(t, StateDraft, s.State())
	assert.False(t, s.Record().Saved())
	assert.False(t, s.Saving())

	n := lastNote(t, f.notes)
	assert.Equal(t, notify.Error, n.Variant)
	assert.Equal(t, "Error saving costing record", n.Title)

	f.persister.mu.Lock()
	f.persister.saveErr = nil
	f.persister.mu.Unlock()
	require.NoError(t, s.Submit(ctx))
	assert.Equal(t, StateSavedSummary, s.State())
}

func TestLateSaveAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	f.persister.started = make(chan struct{})
	f.persister.release = make(chan struct{})
	s := f.start(t)

	done := make(chan error, 1)
	go func() { done <- s.Submit(context.Background()) }()
	<-f.persister.started
	s.Close()
	close(f.persister.release)

	require.ErrorIs(t, <-done, ErrSessionClosed)
	assert.Equal(t, StateDraft, s.State())
	assert.False(t, s.Record().Saved())
	assert.ErrorIs(t, s.Toggle(catalog.KeyLoft, true), ErrSessionClosed)
}

func TestStartWithExistingRecords(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	older := Record{ID: "old", SavedAt: f.clock.Now().Add(-2 * time.Hour), Selection: costing.NewSelection()}
	sel, err := costing.Toggle(catalog.MustDefault(), costing.NewSelection(), catalog.KeyLoft, true)
	require.NoError(t, err)
	newer := Record{ID: "new", SavedAt: f.clock.Now().Add(-time.Hour), Selection: sel}
	f.persister.records = []Record{older, newer}

	s := f.start(t)
	assert.Equal(t, StateSavedSummary, s.State())
	assert.Equal(t, "new", s.Record().ID)
	assert.True(t, s.Selection().IsActive(catalog.KeyLoft))
	assert.Len(t, s.Records(), 2)
}

func TestStartReconcilesStoredSelection(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	var sel costing.Selection
	require.NoError(t, json.Unmarshal([]byte(`{"active":["innovation_bead","normal_bead"],"quantities":{}}`), &sel))
	f.persister.records = []Record{{ID: "both", OwnerID: "owner-1", Selection: sel, SavedAt: f.clock.Now()}}

	s := f.start(t)
	assert.Equal(t, StateSavedSummary, s.State())
	assert.False(t, s.Record().Selection.IsActive(catalog.KeyNormalBead))

	require.NoError(t, s.BeginEdit())
	assert.True(t, s.Selection().IsActive(catalog.KeyInnovationBead))
	assert.False(t, s.Selection().IsActive(catalog.KeyNormalBead))
	res, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, "240.00", res.TotalCost.StringFixed(2))
}

func TestStartRecordsFailureFallsBackToDraft(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	f.persister.listErr = errors.New("timeout")
	s := f.start(t)

	assert.Equal(t, StateDraft, s.State())
	n := lastNote(t, f.notes)
	assert.Equal(t, "Error loading costing records", n.Title)
}

func TestMissingCostSavingsShowsNotAvailable(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NullDecimal{})
	s := f.start(t)

	res, err := s.Current()
	assert.True(t, costing.IsUnavailable(err))
	assert.False(t, res.PriceAvailable())
	assert.Equal(t, costing.NotAvailable, costing.Display(res.PriceWeGet))

	s.SetCostSavings(sapband.Savings{CostSavings: decimal.NewNullDecimal(decimal.NewFromInt(3))})
	res, err = s.Current()
	require.NoError(t, err)
	assert.Equal(t, "450.00", costing.Display(res.PriceWeGet))

	require.NoError(t, s.Submit(context.Background()))
}

func TestSavingsLookupFailureWarns(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	f.deps.Savings = sapband.LookupFunc(func(context.Context, string) (sapband.Savings, error) {
		return sapband.Savings{}, errors.New("sap service down")
	})
	s := f.start(t)

	assert.Equal(t, notify.Warning, lastNote(t, f.notes).Variant)
	_, err := s.Current()
	assert.True(t, costing.IsUnavailable(err))

	err = s.RefreshCostSavings(context.Background())
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
}

func TestLenientEditsIgnoreUnknownItems(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s := f.start(t)
	assert.NoError(t, s.Toggle("solar_panels", true))
	assert.NoError(t, s.SetQuantity(catalog.KeyLoft, "4"))

	f.deps.Strict = true
	strict := f.start(t)
	assert.ErrorIs(t, strict.Toggle("solar_panels", true), costing.ErrUnknownLineItem)
	assert.ErrorIs(t, strict.SetQuantity(catalog.KeyLoft, "4"), costing.ErrInvalidLineItem)
}

func TestRefreshReplacesRecordsOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s := f.start(t)
	ctx := context.Background()
	require.NoError(t, s.Submit(ctx))
	saved := s.Record()

	f.persister.mu.Lock()
	f.persister.records = []Record{saved, {ID: "other", OwnerID: "owner-1"}}
	f.persister.mu.Unlock()

	require.NoError(t, s.RefreshRecords(ctx))
	assert.Len(t, s.Records(), 2)
	assert.Equal(t, saved.ID, s.Record().ID)
	assert.True(t, s.Selection().Equal(saved.Selection))
}

func TestRefreshFetchedBeforeSaveIsDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s := f.start(t)
	ctx := context.Background()
	f.persister.listStarted = make(chan struct{})
	f.persister.listRelease = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- s.RefreshRecords(ctx) }()
	<-f.persister.listStarted

	require.NoError(t, s.Submit(ctx))
	require.Len(t, s.Records(), 1)

	close(f.persister.listRelease)
	require.NoError(t, <-done)
	records := s.Records()
	require.Len(t, records, 1)
	assert.Equal(t, s.Record().ID, records[0].ID)

	// A refresh started after the save applies normally.
	f.persister.mu.Lock()
	f.persister.listStarted = nil
	f.persister.records = []Record{s.Record(), {ID: "other", OwnerID: "owner-1"}}
	f.persister.mu.Unlock()
	require.NoError(t, s.RefreshRecords(ctx))
	assert.Len(t, s.Records(), 2)
}

func TestRefreshArrivingAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s := f.start(t)
	f.persister.mu.Lock()
	f.persister.records = []Record{{ID: "late", OwnerID: "owner-1"}}
	f.persister.listStarted = make(chan struct{})
	f.persister.listRelease = make(chan struct{})
	f.persister.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.RefreshRecords(context.Background()) }()
	<-f.persister.listStarted
	s.Close()
	close(f.persister.listRelease)

	assert.ErrorIs(t, <-done, ErrSessionClosed)
	assert.Empty(t, s.Records())
	assert.Empty(t, f.notes.Drain())
}

func TestRefreshStopsOutsideSummary(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s := f.start(t)
	ctx := context.Background()
	require.NoError(t, s.Submit(ctx))
	require.NoError(t, s.StartRefresh(time.Minute))
	assert.True(t, s.Refreshing())

	require.NoError(t, s.BeginEdit())
	f.clock.Advance(30 * time.Second)
	require.NoError(t, s.RefreshRecords(ctx))
	assert.True(t, s.Refreshing())

	f.clock.Advance(31 * time.Second)
	assert.ErrorIs(t, s.RefreshRecords(ctx), ErrRefreshStopped)
	assert.False(t, s.Refreshing())

	require.NoError(t, s.CancelEdit())
	assert.True(t, s.Refreshing())

	s.Close()
	assert.False(t, s.Refreshing())
	assert.ErrorIs(t, s.RefreshRecords(ctx), ErrSessionClosed)
}

func TestRefreshOverlapIsSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s := f.start(t)
	require.NoError(t, s.Submit(context.Background()))

	s.refreshing.Store(true)
	assert.ErrorIs(t, s.RefreshRecords(context.Background()), ErrRefreshInFlight)
	s.refreshing.Store(false)
	assert.NoError(t, s.RefreshRecords(context.Background()))
}

func TestRefreshFailureNotifies(t *testing.T) {
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s := f.start(t)
	require.NoError(t, s.Submit(context.Background()))
	f.notes.Drain()

	f.persister.mu.Lock()
	f.persister.listErr = errors.New("offline")
	f.persister.mu.Unlock()

	var perr *PersistenceError
	require.ErrorAs(t, s.RefreshRecords(context.Background()), &perr)
	assert.Equal(t, "Error refreshing costing records", lastNote(t, f.notes).Title)
	assert.Len(t, s.Records(), 1)
}

func TestScheduledRefreshPolls(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on the cron scheduler")
	}
	t.Parallel()

	f := newFixture(decimal.NewNullDecimal(decimal.NewFromInt(2)))
	s := f.start(t)
	require.NoError(t, s.Submit(context.Background()))

	f.persister.mu.Lock()
	before := f.persister.listN
	f.persister.mu.Unlock()

	require.NoError(t, s.StartRefresh(time.Second))
	assert.Eventually(t, func() bool {
		f.persister.mu.Lock()
		defer f.persister.mu.Unlock()
		return f.persister.listN > before
	}, 3*time.Second, 50*time.Millisecond)
}
