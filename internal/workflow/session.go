// Package workflow runs the draft → summary → edit lifecycle of one costing session
// and decides when the calculator output may change.
package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Simplici0/retrofit-costing/internal/catalog"
	"github.com/Simplici0/retrofit-costing/internal/costing"
	"github.com/Simplici0/retrofit-costing/internal/notify"
	"github.com/Simplici0/retrofit-costing/internal/sapband"
)

// MaxQuantity bounds quantity-based items on save.
const MaxQuantity = 999

// DefaultRefreshInterval is the record poll period.
const DefaultRefreshInterval = 30 * time.Second

// Persister writes costing records and lists those of an owner.
type Persister interface {
	// SaveRecord inserts rec when rec.ID is empty and updates it otherwise, returning the ID.
	SaveRecord(ctx context.Context, rec Record) (string, error)
	// ListRecords returns the owner's records for a survey. An empty surveyID matches every survey.
	ListRecords(ctx context.Context, surveyID, ownerID string) ([]Record, error)
}

// Deps are the collaborators of a session.
type Deps struct {
	Catalog   catalog.Source
	Savings   sapband.Lookup
	Persister Persister
	Notifier  notify.Notifier
	Logger    *zap.Logger
	// Strict makes unknown or invalid line items fail instead of being ignored.
	Strict bool
	Now    func() time.Time
}

// Params identify the survey being costed.
type Params struct {
	SurveyID string
	OwnerID  string
	Name     string
}

// Session is one costing workflow instance. It is safe for concurrent use.
type Session struct {
	deps   Deps
	params Params
	log    *zap.Logger

	mu            sync.Mutex
	cat           *catalog.Catalog
	funders       []catalog.Funder
	savings       sapband.Savings
	state         State
	selection     costing.Selection
	record        Record
	previous      *Record
	records       []Record
	saving        bool
	closed        bool
	generation    uint64
	leftSummaryAt time.Time

	// recordsVersion changes whenever a save touches records; refreshes fetched before it are stale.
	recordsVersion uint64

	refreshing      atomic.Bool
	refreshInterval time.Duration
	scheduler       *cron.Cron
}

// Start loads reference data, cost savings and existing records, then opens a
// session. Existing records put the session straight into SAVED_SUMMARY.
func Start(ctx context.Context, deps Deps, params Params) (*Session, error) {
	if deps.Catalog == nil || deps.Persister == nil {
		return nil, eris.New("workflow: catalog source and persister are required")
	}
	if strings.TrimSpace(params.OwnerID) == "" {
		return nil, eris.New("workflow: owner id is required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogger(deps.Logger)
	}
	if deps.Logger == nil {
		deps.Logger = zap.L()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Session{
		deps:   deps,
		params: params,
		log: deps.Logger.With(
			zap.String("survey_id", params.SurveyID),
			zap.String("owner_id", params.OwnerID),
		),
	}

	var (
		savings    sapband.Savings
		savingsErr error
		records    []Record
		recordsErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		s.cat, s.funders, err = catalog.Load(gctx, deps.Catalog)
		return err
	})
	if deps.Savings != nil {
		g.Go(func() error {
			savings, savingsErr = deps.Savings.CostSavings(gctx, params.SurveyID)
			return nil
		})
	}
	g.Go(func() error {
		records, recordsErr = deps.Persister.ListRecords(gctx, params.SurveyID, params.OwnerID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "workflow: start")
	}

	if savingsErr != nil {
		s.log.Warn("cost savings unavailable", zap.Error(savingsErr))
		s.notify(notify.Warning, "Cost savings unavailable", savingsErr.Error())
	} else {
		s.savings = savings
	}

	if recordsErr != nil {
		s.log.Error("load costing records", zap.Error(recordsErr))
		s.notify(notify.Error, "Error loading costing records", recordsErr.Error())
	}
	s.records = records

	if rec, ok := latest(records); ok {
		sel, dropped := costing.Reconcile(s.cat, rec.Selection)
		if len(dropped) > 0 {
			s.log.Warn("saved selection broke exclusivity", zap.String("record_id", rec.ID), zap.Strings("dropped", dropped))
		}
		rec.Selection = sel
		s.state = StateSavedSummary
		s.record = rec
		s.selection = sel
	} else {
		s.state = StateDraft
		s.selection = costing.DefaultSelection(s.cat)
		s.leftSummaryAt = deps.Now()
	}

	s.log.Info("costing session started", zap.Stringer("state", s.state), zap.Int("records", len(records)))
	return s, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Catalog returns the catalog loaded at start.
func (s *Session) Catalog() *catalog.Catalog {
	return s.cat
}

// Funders returns the funders loaded at start.
func (s *Session) Funders() []catalog.Funder {
	out := make([]catalog.Funder, len(s.funders))
	copy(out, s.funders)
	return out
}

// Selection returns the working selection.
func (s *Session) Selection() costing.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// Record returns the snapshot of the last save.
func (s *Session) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// PreviousValues returns the snapshot copied when editing began.
func (s *Session) PreviousValues() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.previous == nil {
		return Record{}, false
	}
	return *s.previous, true
}

// Records returns the owner's records as last fetched.
func (s *Session) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Savings returns the SAP band lookup result.
func (s *Session) Savings() sapband.Savings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savings
}

// Saving reports whether a save is outstanding.
func (s *Session) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

// Current returns the result shown to the operator: the saved snapshot in
// SAVED_SUMMARY and FINISHED, a live computation otherwise. Unavailable price
// data comes back as an error satisfying costing.IsUnavailable.
func (s *Session) Current() (costing.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Editable() {
		return s.record.Result, nil
	}
	return s.computeLocked()
}

func (s *Session) computeLocked() (costing.Result, error) {
	return costing.Compute(costing.Input{
		Selection:     s.selection,
		Catalog:       s.cat,
		Funders:       s.funders,
		CostSavings:   s.savings.CostSavings,
		IgnoreUnknown: !s.deps.Strict,
	})
}

// Toggle enables or disables a line item.
func (s *Session) Toggle(key string, enabled bool) error {
	return s.edit(func(sel costing.Selection) (costing.Selection, error) {
		return costing.Toggle(s.cat, sel, key, enabled)
	})
}

// SetQuantity stores the quantity of a quantity-based line item.
func (s *Session) SetQuantity(key, raw string) error {
	return s.edit(func(sel costing.Selection) (costing.Selection, error) {
		return costing.SetQuantity(s.cat, sel, key, raw)
	})
}

func (s *Session) edit(fn func(costing.Selection) (costing.Selection, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if !s.state.Editable() {
		return eris.Wrapf(ErrFrozen, "workflow: edit in %s", s.state)
	}
	if s.saving {
		return ErrSaveInFlight
	}

	next, err := fn(s.selection)
	if err != nil {
		if !s.deps.Strict && (errors.Is(err, costing.ErrUnknownLineItem) || errors.Is(err, costing.ErrInvalidLineItem)) {
			s.log.Warn("ignoring line item edit", zap.Error(err))
			return nil
		}
		return err
	}
	s.selection = next
	return nil
}

// SetCostSavings applies a SAP band lookup result that arrived after start.
func (s *Session) SetCostSavings(sv sapband.Savings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.savings = sv
}

// RefreshCostSavings repeats the SAP band lookup. A failure keeps the previous value.
func (s *Session) RefreshCostSavings(ctx context.Context) error {
	if s.deps.Savings == nil {
		return eris.New("workflow: no cost savings lookup configured")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	gen := s.generation
	s.mu.Unlock()

	sv, err := s.deps.Savings.CostSavings(ctx, s.params.SurveyID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.generation {
		return ErrSessionClosed
	}
	if err != nil {
		s.notify(notify.Error, "Error fetching cost savings", err.Error())
		return &PersistenceError{Op: "fetch cost savings", Err: err}
	}
	s.savings = sv
	return nil
}

// Submit validates the draft and saves it. Only one save may be outstanding.
func (s *Session) Submit(ctx context.Context) error {
	return s.save(ctx, StateDraft, "insert")
}

// SaveEdit saves the edited selection over the existing record.
func (s *Session) SaveEdit(ctx context.Context) error {
	return s.save(ctx, StateEditing, "update")
}

func (s *Session) save(ctx context.Context, from State, op string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.saving {
		s.mu.Unlock()
		return ErrSaveInFlight
	}
	if s.state != from {
		state := s.state
		s.mu.Unlock()
		return eris.Wrapf(ErrInvalidTransition, "workflow: %s from %s", op, state)
	}
	if verr := s.validateLocked(); verr != nil {
		s.notify(notify.Error, "Please fill out all required fields.", verr.Message)
		s.mu.Unlock()
		return verr
	}

	res, err := s.computeLocked()
	if err != nil && !costing.IsUnavailable(err) {
		s.mu.Unlock()
		return err
	}

	rec := Record{
		ID:        s.record.ID,
		SurveyID:  s.params.SurveyID,
		OwnerID:   s.params.OwnerID,
		Name:      s.params.Name,
		Selection: s.selection,
		Result:    res,
		SavedAt:   s.deps.Now(),
	}
	s.saving = true
	gen := s.generation
	s.mu.Unlock()

	id, err := s.deps.Persister.SaveRecord(ctx, rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if s.closed || gen != s.generation {
		s.log.Debug("dropping late save result", zap.String("op", op))
		return ErrSessionClosed
	}
	if err != nil {
		s.log.Error("save costing record", zap.String("op", op), zap.Error(err))
		s.notify(notify.Error, "Error saving costing record", err.Error())
		return &PersistenceError{Op: op, Err: err}
	}

	if rec.ID == "" {
		rec.ID = id
	}
	s.record = rec
	s.previous = nil
	s.upsertRecordLocked(rec)
	s.recordsVersion++
	s.enterSummaryLocked()
	s.log.Info("costing record saved", zap.String("op", op), zap.String("record_id", rec.ID))
	s.notify(notify.Success, "Success", "Costing record saved successfully!")
	return nil
}

func (s *Session) validateLocked() *ValidationError {
	if s.selection.Len() == 0 {
		return &ValidationError{Field: "line_items", Message: "Please select at least one line item before saving."}
	}
	if strings.TrimSpace(s.params.Name) == "" {
		return &ValidationError{Field: "name", Message: "Costing name is required."}
	}
	for _, key := range s.selection.Active() {
		item, ok := s.cat.Lookup(key)
		if !ok || !item.QuantityBased {
			continue
		}
		if q := s.selection.Quantity(key); q < costing.MinQuantity || q > MaxQuantity {
			return &ValidationError{Field: key, Message: "Quantity must be between 1 and 999."}
		}
	}
	return nil
}

func (s *Session) upsertRecordLocked(rec Record) {
	for i := range s.records {
		if s.records[i].ID == rec.ID {
			s.records[i] = rec
			return
		}
	}
	s.records = append([]Record{rec}, s.records...)
}

// BeginEdit moves SAVED_SUMMARY to EDITING and keeps the saved snapshot as previous values.
func (s *Session) BeginEdit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionCheckLocked(StateSavedSummary, "edit"); err != nil {
		return err
	}
	prev := s.record
	s.previous = &prev
	s.selection = s.record.Selection
	s.leaveSummaryLocked(StateEditing)
	return nil
}

// CancelEdit discards edits and restores the saved snapshot.
func (s *Session) CancelEdit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionCheckLocked(StateEditing, "cancel"); err != nil {
		return err
	}
	if s.saving {
		return ErrSaveInFlight
	}
	s.selection = s.record.Selection
	s.previous = nil
	s.enterSummaryLocked()
	return nil
}

// Finish closes the summary locally without saving again.
func (s *Session) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionCheckLocked(StateSavedSummary, "finish"); err != nil {
		return err
	}
	s.previous = nil
	s.leaveSummaryLocked(StateFinished)
	return nil
}

func (s *Session) transitionCheckLocked(from State, op string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.state != from {
		return eris.Wrapf(ErrInvalidTransition, "workflow: %s from %s", op, s.state)
	}
	return nil
}

func (s *Session) enterSummaryLocked() {
	s.state = StateSavedSummary
	if s.refreshInterval > 0 && s.scheduler == nil {
		s.startSchedulerLocked()
	}
}

func (s *Session) leaveSummaryLocked(to State) {
	s.state = to
	s.leftSummaryAt = s.deps.Now()
}

// Close ends the session: polling stops and results arriving later are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.generation++
	s.stopSchedulerLocked()
	s.log.Info("costing session closed")
}

func (s *Session) notify(v notify.Variant, title, msg string) {
	s.deps.Notifier.Notify(notify.Notification{Variant: v, Title: title, Message: msg})
}
