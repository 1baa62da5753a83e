// Package domain defines core data structures used throughout the DCA engine.
package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// Exchange identifies a supported trading venue.
type Exchange string

const (
	ExchangeBinance Exchange = "binance"
	ExchangeOKX     Exchange = "okx"
	ExchangeBybit   Exchange = "bybit"
)

// Exchanges lists supported venues in a stable order. Decision and dedupe
// logic iterates this slice, never a map, to keep emitted action order
// deterministic.
var Exchanges = []Exchange{ExchangeBinance, ExchangeOKX, ExchangeBybit}

// ParseExchange parses a venue name, case-insensitive.
func ParseExchange(s string) (Exchange, error) {
	switch Exchange(strings.ToLower(strings.TrimSpace(s))) {
	case ExchangeBinance:
		return ExchangeBinance, nil
	case ExchangeOKX:
		return ExchangeOKX, nil
	case ExchangeBybit:
		return ExchangeBybit, nil
	}
	return "", errors.Errorf("unknown exchange %q", s)
}

// Valid reports whether the exchange is one of the supported venues.
func (e Exchange) Valid() bool {
	switch e {
	case ExchangeBinance, ExchangeOKX, ExchangeBybit:
		return true
	}
	return false
}

func (e Exchange) String() string {
	return string(e)
}
