package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	catalogdomain "github.com/smallbiznis/repricer/internal/catalog/domain"
)

const (
	KindPercentage = "percentage"
	KindAbsolute   = "absolute"
	KindFixed      = "fixed"
)

var (
	ErrInvalidTransform = errors.New("invalid_transform")
	ErrUnknownKind      = errors.New("unknown_transform_kind")
)

// Transform is the tagged-union price mutation descriptor. Value carries the
// percentage delta for percentage transforms; Amount carries the delta or
// target for absolute/fixed transforms. Floor and Ceiling clamp the computed
// amount after the base computation.
type Transform struct {
	Kind    string  `json:"kind"`
	Value   float64 `json:"value,omitempty"`
	Amount  int64   `json:"amount,omitempty"`
	Floor   *int64  `json:"floor,omitempty"`
	Ceiling *int64  `json:"ceiling,omitempty"`
}

// Result is the before/after pair of one candidate evaluation. Callers must
// use Changed to skip persistence of no-op targets.
type Result struct {
	Before  catalogdomain.PriceSnapshot
	After   catalogdomain.PriceSnapshot
	Changed bool
}

// Parse decodes a serialized transform, rejecting unknown kinds.
func Parse(raw []byte) (*Transform, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidTransform
	}
	var tr Transform
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransform, err)
	}
	switch strings.TrimSpace(tr.Kind) {
	case KindPercentage, KindAbsolute, KindFixed:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, tr.Kind)
	}
	if tr.Floor != nil && tr.Ceiling != nil && *tr.Floor > *tr.Ceiling {
		return nil, fmt.Errorf("%w: floor above ceiling", ErrInvalidTransform)
	}
	return &tr, nil
}

// Apply computes the mutated snapshot. All arithmetic is in integer minor
// units; the percentage multiplier is the single floating-point step and is
// rounded half-up to keep results reproducible.
func (t *Transform) Apply(before catalogdomain.PriceSnapshot) Result {
	after := before

	switch t.Kind {
	case KindPercentage:
		after.Amount = roundHalfUp(float64(before.Amount) * (1 + t.Value/100))
	case KindAbsolute:
		after.Amount = before.Amount + t.Amount
	case KindFixed:
		after.Amount = t.Amount
	}

	if t.Floor != nil && after.Amount < *t.Floor {
		after.Amount = *t.Floor
	}
	if t.Ceiling != nil && after.Amount > *t.Ceiling {
		after.Amount = *t.Ceiling
	}
	if after.Amount < 0 {
		after.Amount = 0
	}

	return Result{
		Before:  before,
		After:   after,
		Changed: !after.Equal(before),
	}
}

func roundHalfUp(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}
