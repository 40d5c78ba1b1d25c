package selector

import (
	"fmt"
	"strconv"
	"strings"

	catalogdomain "github.com/smallbiznis/repricer/internal/catalog/domain"
)

// Matches reports whether the candidate satisfies the predicate. Any payload
// the evaluator does not understand matches nothing: a malformed rule must
// degrade to a no-op, never take down the scheduler.
func (p *Predicate) Matches(c catalogdomain.Candidate) bool {
	if p == nil {
		return false
	}
	switch p.Kind {
	case KindAll:
		return true
	case KindTag:
		for _, tag := range c.Tags {
			if strings.EqualFold(tag, p.Tag) {
				return true
			}
		}
		return false
	case KindSKU:
		for _, sku := range p.SKUs {
			if strings.EqualFold(c.SKU, sku) {
				return true
			}
		}
		return false
	case KindPrice:
		return p.matchesPrice(c.Price)
	case KindField:
		return p.matchesField(c)
	case KindAnd:
		for i := range p.Preds {
			if !p.Preds[i].Matches(c) {
				return false
			}
		}
		return len(p.Preds) > 0
	case KindOr:
		for i := range p.Preds {
			if p.Preds[i].Matches(c) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (p *Predicate) matchesPrice(price catalogdomain.PriceSnapshot) bool {
	if p.Currency != "" && !strings.EqualFold(p.Currency, price.Currency) {
		return false
	}
	switch p.Op {
	case OpGt:
		return price.Amount > p.Amount
	case OpGte:
		return price.Amount >= p.Amount
	case OpLt:
		return price.Amount < p.Amount
	case OpLte:
		return price.Amount <= p.Amount
	case OpEq:
		return price.Amount == p.Amount
	default:
		return false
	}
}

func (p *Predicate) matchesField(c catalogdomain.Candidate) bool {
	actual, ok := fieldValue(c, p.Field)
	if !ok {
		return false
	}

	switch p.Op {
	case OpEq:
		return strings.EqualFold(actual, stringValue(p.Value))
	case OpNe:
		return !strings.EqualFold(actual, stringValue(p.Value))
	case OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(stringValue(p.Value)))
	case OpStartsWith:
		return strings.HasPrefix(strings.ToLower(actual), strings.ToLower(stringValue(p.Value)))
	case OpEndsWith:
		return strings.HasSuffix(strings.ToLower(actual), strings.ToLower(stringValue(p.Value)))
	case OpIn:
		values, ok := p.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range values {
			if strings.EqualFold(actual, stringValue(v)) {
				return true
			}
		}
		return false
	case OpGt, OpGte, OpLt, OpLte:
		left, okLeft := numericValue(actual)
		right, okRight := numericValue(p.Value)
		if !okLeft || !okRight {
			return false
		}
		switch p.Op {
		case OpGt:
			return left > right
		case OpGte:
			return left >= right
		case OpLt:
			return left < right
		default:
			return left <= right
		}
	default:
		return false
	}
}

func fieldValue(c catalogdomain.Candidate, field string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "title":
		return c.Title, true
	case "vendor":
		return c.Vendor, true
	case "product_type":
		return c.ProductType, true
	case "sku":
		return c.SKU, true
	default:
		return "", false
	}
}

func stringValue(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func numericValue(v any) (float64, bool) {
	switch typed := v.(type) {
	case float64:
		return typed, true
	case int64:
		return float64(typed), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
