package costing

import (
	"errors"

	"github.com/rotisserie/eris"
)

var (
	// ErrUnknownLineItem reports a key that is not present in the catalog.
	ErrUnknownLineItem = eris.New("unknown line item")
	// ErrInvalidLineItem reports a quantity edit on an item that is not quantity based.
	ErrInvalidLineItem = eris.New("line item is not quantity based")
	// ErrEmptyFunderList reports that no funder price is available to average.
	ErrEmptyFunderList = eris.New("funder list is empty")
	// ErrDataUnavailable reports that cost savings have not been supplied yet.
	ErrDataUnavailable = eris.New("cost savings not available")
)

// IsUnavailable reports whether err only means the price side of a result is missing.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrEmptyFunderList) || errors.Is(err, ErrDataUnavailable)
}
