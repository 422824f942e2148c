package catalog

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Line item keys used by the retrofit costing form.
const (
	KeyCavityGuarantee      = "cavity_guarantee"
	KeyCIGASearch           = "ciga_search"
	KeyEPCElmhurst          = "epc_elmhurst"
	KeyEPRFee               = "epr_fee"
	KeyEWI                  = "ewi"
	KeyInnovationBead       = "innovation_bead"
	KeyLandRegistry         = "land_registry"
	KeyLoft                 = "loft"
	KeyLoftGuarantee        = "loft_guarantee"
	KeyMechanicalVents      = "mechanical_vents"
	KeyNormalBead           = "normal_bead"
	KeyRetrofitCoordination = "retrofit_coordination"
	KeyRIR                  = "rir"
	KeySurveyFee            = "survey_fee"
	KeyTechSurvey           = "tech_survey"
	KeyTMAmendment          = "tm_amendment"
	KeyTMLodgement          = "tm_lodgement"
)

// LineItem is one selectable cost component of the costing form.
type LineItem struct {
	Key           string          `json:"key"`
	Label         string          `json:"label"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	QuantityBased bool            `json:"quantity_based"`
	// MutuallyExclusiveWith names the key that is switched off when this item is enabled.
	MutuallyExclusiveWith string `json:"mutually_exclusive_with,omitempty"`
}

// Funder is a financing party whose price feeds the funder average.
type Funder struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Source provides the reference data of a costing session.
type Source interface {
	LineItems(ctx context.Context) ([]LineItem, error)
	Funders(ctx context.Context) ([]Funder, error)
}

// Catalog is a validated, ordered set of line items.
type Catalog struct {
	items []LineItem
	index map[string]int
}

// New validates items and builds a Catalog preserving their order.
func New(items []LineItem) (*Catalog, error) {
	c := &Catalog{
		items: make([]LineItem, 0, len(items)),
		index: make(map[string]int, len(items)),
	}

	for _, item := range items {
		item.Key = strings.TrimSpace(item.Key)
		if item.Key == "" {
			return nil, eris.New("catalog: line item key is required")
		}
		if _, dup := c.index[item.Key]; dup {
			return nil, eris.Errorf("catalog: duplicate line item %q", item.Key)
		}
		if item.UnitPrice.IsNegative() {
			return nil, eris.Errorf("catalog: line item %q has negative unit price", item.Key)
		}
		if item.Label == "" {
			item.Label = item.Key
		}
		c.index[item.Key] = len(c.items)
		c.items = append(c.items, item)
	}

	for _, item := range c.items {
		other := item.MutuallyExclusiveWith
		if other == "" {
			continue
		}
		if other == item.Key {
			return nil, eris.Errorf("catalog: line item %q cannot exclude itself", item.Key)
		}
		pair, ok := c.Lookup(other)
		if !ok {
			return nil, eris.Errorf("catalog: line item %q excludes unknown item %q", item.Key, other)
		}
		if pair.MutuallyExclusiveWith != item.Key {
			return nil, eris.Errorf("catalog: exclusion between %q and %q is not symmetric", item.Key, other)
		}
	}

	return c, nil
}

// Lookup returns the line item registered under key.
func (c *Catalog) Lookup(key string) (LineItem, bool) {
	i, ok := c.index[key]
	if !ok {
		return LineItem{}, false
	}
	return c.items[i], true
}

// Items returns a copy of the line items in catalog order.
func (c *Catalog) Items() []LineItem {
	out := make([]LineItem, len(c.items))
	copy(out, c.items)
	return out
}

// Keys returns the line item keys in catalog order.
func (c *Catalog) Keys() []string {
	keys := make([]string, len(c.items))
	for i, item := range c.items {
		keys[i] = item.Key
	}
	return keys
}

// Len reports the number of line items.
func (c *Catalog) Len() int {
	return len(c.items)
}

// Load fetches line items and funders from src concurrently and validates the catalog.
func Load(ctx context.Context, src Source) (*Catalog, []Funder, error) {
	var (
		items   []LineItem
		funders []Funder
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		items, err = src.LineItems(gctx)
		return eris.Wrap(err, "catalog: fetch line items")
	})
	g.Go(func() error {
		var err error
		funders, err = src.Funders(gctx)
		return eris.Wrap(err, "catalog: fetch funders")
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	cat, err := New(items)
	if err != nil {
		return nil, nil, err
	}
	return cat, funders, nil
}
