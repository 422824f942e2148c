package workflow

import (
	"time"

	"github.com/Simplici0/retrofit-costing/internal/costing"
)

// State is the lifecycle position of a costing session.
type State string

const (
	StateDraft        State = "DRAFT"
	StateSavedSummary State = "SAVED_SUMMARY"
	StateEditing      State = "EDITING"
	StateFinished     State = "FINISHED"
)

func (s State) String() string {
	return string(s)
}

// Editable reports whether the selection may change in this state.
func (s State) Editable() bool {
	return s == StateDraft || s == StateEditing
}

// Record is the persisted costing: a snapshot of the selection and result at last save.
type Record struct {
	ID        string            `json:"id,omitempty"`
	SurveyID  string            `json:"survey_id"`
	OwnerID   string            `json:"owner_id"`
	Name      string            `json:"name"`
	Selection costing.Selection `json:"selection"`
	Result    costing.Result    `json:"result"`
	SavedAt   time.Time         `json:"saved_at"`
}

// Saved reports whether the record has been written at least once.
func (r Record) Saved() bool {
	return r.ID != ""
}

func latest(records []Record) (Record, bool) {
	if len(records) == 0 {
		return Record{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.SavedAt.After(best.SavedAt) {
			best = r
		}
	}
	return best, true
}
