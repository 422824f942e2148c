package costing

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/Simplici0/retrofit-costing/internal/catalog"
)

// MinQuantity is the smallest quantity a quantity-based item can hold.
const MinQuantity = 1

// Selection records which line items are enabled and the quantities of
// quantity-based items. It is a value: transforms return a new Selection.
type Selection struct {
	active     map[string]struct{}
	quantities map[string]int
}

// NewSelection returns an empty selection.
func NewSelection() Selection {
	return Selection{
		active:     map[string]struct{}{},
		quantities: map[string]int{},
	}
}

// DefaultSelection enables the innovation bead when the catalog prices it, matching the form's initial state.
func DefaultSelection(cat *catalog.Catalog) Selection {
	sel := NewSelection()
	if item, ok := cat.Lookup(catalog.KeyInnovationBead); ok && item.UnitPrice.IsPositive() {
		next, err := Toggle(cat, sel, item.Key, true)
		if err == nil {
			return next
		}
	}
	return sel
}

// IsActive reports whether key is enabled.
func (s Selection) IsActive(key string) bool {
	_, ok := s.active[key]
	return ok
}

// Active returns the enabled keys sorted alphabetically.
func (s Selection) Active() []string {
	keys := make([]string, 0, len(s.active))
	for k := range s.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len reports the number of enabled items.
func (s Selection) Len() int {
	return len(s.active)
}

// Quantity returns the stored quantity for key, or 0 when none is stored.
func (s Selection) Quantity(key string) int {
	return s.quantities[key]
}

// Equal reports whether two selections hold the same items and quantities.
func (s Selection) Equal(o Selection) bool {
	if len(s.active) != len(o.active) || len(s.quantities) != len(o.quantities) {
		return false
	}
	for k := range s.active {
		if !o.IsActive(k) {
			return false
		}
	}
	for k, q := range s.quantities {
		if oq, ok := o.quantities[k]; !ok || oq != q {
			return false
		}
	}
	return true
}

func (s Selection) clone() Selection {
	next := Selection{
		active:     make(map[string]struct{}, len(s.active)),
		quantities: make(map[string]int, len(s.quantities)),
	}
	for k := range s.active {
		next.active[k] = struct{}{}
	}
	for k, q := range s.quantities {
		next.quantities[k] = q
	}
	return next
}

type selectionJSON struct {
	Active     []string       `json:"active"`
	Quantities map[string]int `json:"quantities"`
}

// MarshalJSON encodes the selection for record snapshots.
func (s Selection) MarshalJSON() ([]byte, error) {
	q := s.quantities
	if q == nil {
		q = map[string]int{}
	}
	return json.Marshal(selectionJSON{Active: s.Active(), Quantities: q})
}

// UnmarshalJSON decodes a snapshot written by MarshalJSON.
func (s *Selection) UnmarshalJSON(data []byte) error {
	var raw selectionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "costing: decode selection")
	}
	next := NewSelection()
	for _, k := range raw.Active {
		next.active[k] = struct{}{}
	}
	for k, q := range raw.Quantities {
		next.quantities[k] = q
	}
	*s = next
	return nil
}

// Reconcile repairs a selection decoded from storage against cat. When both
// items of an exclusive pair are active, the one listed first in the catalog
// is kept and the other is returned in dropped. Active quantity-based items get
// at least MinQuantity. Keys the catalog does not know are left alone.
func Reconcile(cat *catalog.Catalog, sel Selection) (next Selection, dropped []string) {
	next = sel.clone()
	for _, key := range cat.Keys() {
		if !next.IsActive(key) {
			continue
		}
		item, _ := cat.Lookup(key)
		if other := item.MutuallyExclusiveWith; other != "" && next.IsActive(other) {
			delete(next.active, other)
			delete(next.quantities, other)
			dropped = append(dropped, other)
		}
		if item.QuantityBased && next.quantities[key] < MinQuantity {
			next.quantities[key] = MinQuantity
		}
	}
	return next, dropped
}

// Toggle sets the membership of key. Enabling an item that excludes another
// removes the other in the same step; enabling a quantity-based item for the
// first time sets its quantity to 1.
func Toggle(cat *catalog.Catalog, sel Selection, key string, enabled bool) (Selection, error) {
	item, ok := cat.Lookup(key)
	if !ok {
		return sel, eris.Wrapf(ErrUnknownLineItem, "costing: toggle %q", key)
	}

	next := sel.clone()
	if !enabled {
		delete(next.active, key)
		return next, nil
	}

	next.active[key] = struct{}{}
	if item.MutuallyExclusiveWith != "" {
		delete(next.active, item.MutuallyExclusiveWith)
	}
	if item.QuantityBased {
		if _, ok := next.quantities[key]; !ok {
			next.quantities[key] = MinQuantity
		}
	}
	return next, nil
}

// SetQuantity stores the quantity parsed from raw for a quantity-based item.
// Unparseable input and values below 1 are clamped to 1; fractions are truncated.
func SetQuantity(cat *catalog.Catalog, sel Selection, key, raw string) (Selection, error) {
	item, ok := cat.Lookup(key)
	if !ok {
		return sel, eris.Wrapf(ErrUnknownLineItem, "costing: set quantity %q", key)
	}
	if !item.QuantityBased {
		return sel, eris.Wrapf(ErrInvalidLineItem, "costing: set quantity %q", key)
	}

	next := sel.clone()
	next.quantities[key] = ParseQuantity(raw)
	return next, nil
}

// ParseQuantity converts raw user input into a quantity of at least 1.
func ParseQuantity(raw string) int {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return MinQuantity
	}
	d = d.Truncate(0)
	if d.LessThan(decimal.NewFromInt(MinQuantity)) {
		return MinQuantity
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
		return math.MaxInt32
	}
	return int(d.IntPart())
}
