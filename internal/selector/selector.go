package selector

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Predicate kinds accepted by the rule grammar. Unknown kinds are rejected
// at parse time; payloads that survive parsing but cannot be evaluated fail
// closed and match nothing.
const (
	KindAll   = "all"
	KindTag   = "tag"
	KindSKU   = "sku"
	KindPrice = "price"
	KindField = "field"
	KindAnd   = "and"
	KindOr    = "or"
)

const (
	OpEq         = "eq"
	OpNe         = "ne"
	OpGt         = "gt"
	OpGte        = "gte"
	OpLt         = "lt"
	OpLte        = "lte"
	OpIn         = "in"
	OpContains   = "contains"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
)

var (
	ErrInvalidSelector = errors.New("invalid_selector")
	ErrUnknownKind     = errors.New("unknown_selector_kind")
)

// Predicate is the tagged-union node of a selector tree.
type Predicate struct {
	Kind string `json:"kind"`

	// tag
	Tag string `json:"tag,omitempty"`

	// sku membership
	SKUs []string `json:"skus,omitempty"`

	// price comparison
	Op       string `json:"op,omitempty"`
	Amount   int64  `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`

	// generic field comparison
	Field string `json:"field,omitempty"`
	Value any    `json:"value,omitempty"`

	// boolean composition
	Preds []Predicate `json:"preds,omitempty"`
}

// Parse decodes a serialized predicate tree, rejecting unknown kinds up front
// so a malformed rule is caught when it is written, not when it fires.
func Parse(raw []byte) (*Predicate, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidSelector
	}
	var pred Predicate
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}
	if err := validate(&pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

func validate(p *Predicate) error {
	switch strings.TrimSpace(p.Kind) {
	case KindAll:
		return nil
	case KindTag:
		if strings.TrimSpace(p.Tag) == "" {
			return fmt.Errorf("%w: tag predicate requires a tag", ErrInvalidSelector)
		}
		return nil
	case KindSKU:
		if len(p.SKUs) == 0 {
			return fmt.Errorf("%w: sku predicate requires skus", ErrInvalidSelector)
		}
		return nil
	case KindPrice:
		switch p.Op {
		case OpGt, OpGte, OpLt, OpLte, OpEq:
			return nil
		default:
			return fmt.Errorf("%w: price predicate op %q", ErrInvalidSelector, p.Op)
		}
	case KindField:
		if strings.TrimSpace(p.Field) == "" {
			return fmt.Errorf("%w: field predicate requires a field", ErrInvalidSelector)
		}
		switch p.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains, OpStartsWith, OpEndsWith:
			return nil
		default:
			return fmt.Errorf("%w: field predicate op %q", ErrInvalidSelector, p.Op)
		}
	case KindAnd, KindOr:
		if len(p.Preds) == 0 {
			return fmt.Errorf("%w: %s requires child predicates", ErrInvalidSelector, p.Kind)
		}
		for i := range p.Preds {
			if err := validate(&p.Preds[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}
}
