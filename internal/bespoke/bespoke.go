// Package bespoke records per-image installation instructions for a survey measure.
package bespoke

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Simplici0/retrofit-costing/internal/notify"
)

// Measure is the retrofit measure the instructions belong to.
type Measure string

const (
	MeasureLoft        Measure = "Loft"
	MeasureVentilation Measure = "Ventilation"
	MeasureCWI         Measure = "CWI"
)

// Image count bounds offered by the form.
const (
	MinImages = 1
	MaxImages = 20
)

var (
	ErrNoMeasure      = eris.New("Please select a measure before saving")
	ErrImageCount     = eris.New("image count must be between 1 and 20")
	ErrMissingFields  = eris.New("Please fill out all required fields.")
	ErrUnknownMeasure = eris.New("unknown measure")
)

// ParseMeasure accepts a measure name case-insensitively.
func ParseMeasure(raw string) (Measure, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrNoMeasure
	}
	for _, m := range []Measure{MeasureLoft, MeasureVentilation, MeasureCWI} {
		if strings.EqualFold(raw, string(m)) {
			return m, nil
		}
	}
	return "", eris.Wrapf(ErrUnknownMeasure, "measure %q", raw)
}

// Row is one image entry of the form.
type Row struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
}

// Labels returns the field labels shown for the row at index i.
func Labels(i int) (name, instructions string) {
	return fmt.Sprintf("Image %d Name", i+1), fmt.Sprintf("Image %d Instructions", i+1)
}

// Request is a submitted bespoke form.
type Request struct {
	SurveyID string  `json:"survey_id"`
	OwnerID  string  `json:"owner_id"`
	LeadName string  `json:"lead_name"`
	Measure  Measure `json:"measure"`
	Rows     []Row   `json:"rows"`
}

// Instruction is a stored bespoke row.
type Instruction struct {
	ID           string    `json:"id"`
	SurveyID     string    `json:"survey_id"`
	OwnerID      string    `json:"owner_id"`
	LeadName     string    `json:"lead_name"`
	Measure      Measure   `json:"measure"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks the measure, the image count and every row.
func Validate(req Request) error {
	if req.Measure == "" {
		return ErrNoMeasure
	}
	if _, err := ParseMeasure(string(req.Measure)); err != nil {
		return err
	}
	if n := len(req.Rows); n < MinImages || n > MaxImages {
		return eris.Wrapf(ErrImageCount, "got %d", n)
	}
	for i, row := range req.Rows {
		if strings.TrimSpace(row.Name) == "" || strings.TrimSpace(row.Instructions) == "" {
			return eris.Wrapf(ErrMissingFields, "image %d", i+1)
		}
	}
	return nil
}

// Build validates req and turns each row into an Instruction.
func Build(req Request, now time.Time) ([]Instruction, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	m, _ := ParseMeasure(string(req.Measure))
	out := make([]Instruction, 0, len(req.Rows))
	for i, row := range req.Rows {
		out = append(out, Instruction{
			ID:           uuid.NewString(),
			SurveyID:     req.SurveyID,
			OwnerID:      req.OwnerID,
			LeadName:     req.LeadName,
			Measure:      m,
			Name:         strings.TrimSpace(row.Name),
			Instructions: strings.TrimSpace(row.Instructions),
			Position:     i + 1,
			CreatedAt:    now,
		})
	}
	return out, nil
}

// Store persists instructions.
type Store interface {
	SaveInstructions(ctx context.Context, items []Instruction) error
	ListInstructions(ctx context.Context, surveyID string) ([]Instruction, error)
}

// Service validates, stores and announces bespoke submissions.
type Service struct {
	store    Store
	notifier notify.Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewService wires a Service. A nil notifier logs only.
func NewService(store Store, n notify.Notifier, log *zap.Logger) *Service {
	if log == nil {
		log = zap.L()
	}
	if n == nil {
		n = notify.NewLogger(log)
	}
	return &Service{store: store, notifier: n, log: log, now: time.Now}
}

// Create stores the rows of req.
func (s *Service) Create(ctx context.Context, req Request) ([]Instruction, error) {
	items, err := Build(req, s.now())
	if err != nil {
		msg := ErrMissingFields.Error()
		if errors.Is(err, ErrNoMeasure) {
			msg = ErrNoMeasure.Error()
		}
		s.notifier.Notify(notify.Notification{Variant: notify.Error, Title: "Error", Message: msg})
		return nil, err
	}
	if err := s.store.SaveInstructions(ctx, items); err != nil {
		s.log.Error("save bespoke instructions", zap.String("survey_id", req.SurveyID), zap.Error(err))
		s.notifier.Notify(notify.Notification{Variant: notify.Error, Title: "Error", Message: "Failed to create records."})
		return nil, eris.Wrap(err, "bespoke: save")
	}
	s.log.Info("bespoke instructions saved", zap.String("survey_id", req.SurveyID), zap.Int("rows", len(items)))
	s.notifier.Notify(notify.Notification{Variant: notify.Success, Title: "Success", Message: "Records created successfully!"})
	return items, nil
}

// List returns the stored instructions of a survey.
func (s *Service) List(ctx context.Context, surveyID string) ([]Instruction, error) {
	items, err := s.store.ListInstructions(ctx, surveyID)
	if err != nil {
		return nil, eris.Wrap(err, "bespoke: list")
	}
	return items, nil
}
