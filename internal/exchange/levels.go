package exchange

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/depthsim/internal/domain"
)

// rawLevel is one [price, quantity, ...] entry. Exchanges encode the numbers
// either as JSON strings or as JSON numbers; trailing fields are ignored.
type rawLevel []json.RawMessage

var errShortLevel = errors.New("level has fewer than two fields")

// parseNumber reads a JSON number or a string-encoded number.
func parseNumber(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		return 0, fmt.Errorf("empty number")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite number %q", s)
	}
	return v, nil
}

// parseTimestamp reads an optional millisecond timestamp. Missing or
// unparseable values yield zero so the caller falls back to receipt time.
func parseTimestamp(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	v, err := parseNumber(raw)
	if err != nil || v <= 0 {
		return 0
	}
	return int64(v)
}

// toLevels converts up to limit raw levels. Any unparseable or negative
// field fails the whole side.
func toLevels(raw []rawLevel, limit int) ([]domain.PriceLevel, error) {
	n := len(raw)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]domain.PriceLevel, 0, n)
	for i := 0; i < n; i++ {
		lvl := raw[i]
		if len(lvl) < 2 {
			return nil, fmt.Errorf("level %d: %w", i, errShortLevel)
		}
		price, err := parseNumber(lvl[0])
		if err != nil {
			return nil, fmt.Errorf("level %d price: %w", i, err)
		}
		qty, err := parseNumber(lvl[1])
		if err != nil {
			return nil, fmt.Errorf("level %d quantity: %w", i, err)
		}
		if price < 0 || qty < 0 {
			return nil, fmt.Errorf("level %d: negative value", i)
		}
		out = append(out, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}
