package selector

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/repricer/internal/catalog/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func candidate() catalogdomain.Candidate {
	return catalogdomain.Candidate{
		Title:       "Trail Runner",
		Vendor:      "Acme",
		ProductType: "shoes",
		SKU:         "TR-001",
		Tags:        []string{"clearance", "summer"},
		Price:       catalogdomain.PriceSnapshot{Amount: 4500, Currency: "USD"},
	}
}

func TestParse_RejectsUnknownKind(t *testing.T) {
	_, err := Parse([]byte(`{"kind":"regex","value":".*"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestParse_RejectsUnknownKindInNestedTree(t *testing.T) {
	_, err := Parse([]byte(`{"kind":"and","preds":[{"kind":"all"},{"kind":"bogus"}]}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestParse_RejectsInvalidOp(t *testing.T) {
	_, err := Parse([]byte(`{"kind":"price","op":"between","amount":100}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSelector)
}

func TestParse_RejectsEmptyComposite(t *testing.T) {
	_, err := Parse([]byte(`{"kind":"or","preds":[]}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSelector)
}

func TestMatches_All(t *testing.T) {
	pred, err := Parse([]byte(`{"kind":"all"}`))
	require.NoError(t, err)
	assert.True(t, pred.Matches(candidate()))
}

func TestMatches_Tag(t *testing.T) {
	pred, err := Parse([]byte(`{"kind":"tag","tag":"Clearance"}`))
	require.NoError(t, err)
	assert.True(t, pred.Matches(candidate()))

	pred, err = Parse([]byte(`{"kind":"tag","tag":"winter"}`))
	require.NoError(t, err)
	assert.False(t, pred.Matches(candidate()))
}

func TestMatches_SKU(t *testing.T) {
	pred, err := Parse([]byte(`{"kind":"sku","skus":["tr-001","TR-999"]}`))
	require.NoError(t, err)
	assert.True(t, pred.Matches(candidate()))
}

func TestMatches_PriceCurrencyQualified(t *testing.T) {
	pred, err := Parse([]byte(`{"kind":"price","op":"lt","amount":5000,"currency":"USD"}`))
	require.NoError(t, err)
	assert.True(t, pred.Matches(candidate()))

	// Same comparison against another currency must not match.
	pred, err = Parse([]byte(`{"kind":"price","op":"lt","amount":5000,"currency":"EUR"}`))
	require.NoError(t, err)
	assert.False(t, pred.Matches(candidate()))
}

func TestMatches_FieldOps(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want bool
	}{
		{"eq", `{"kind":"field","field":"vendor","op":"eq","value":"acme"}`, true},
		{"ne", `{"kind":"field","field":"vendor","op":"ne","value":"acme"}`, false},
		{"contains", `{"kind":"field","field":"title","op":"contains","value":"runner"}`, true},
		{"startsWith", `{"kind":"field","field":"sku","op":"startsWith","value":"TR-"}`, true},
		{"endsWith", `{"kind":"field","field":"title","op":"endsWith","value":"Walker"}`, false},
		{"in", `{"kind":"field","field":"product_type","op":"in","value":["boots","shoes"]}`, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pred, err := Parse([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, pred.Matches(candidate()))
		})
	}
}

func TestMatches_UnknownFieldFailsClosed(t *testing.T) {
	pred := &Predicate{Kind: KindField, Field: "barcode", Op: OpEq, Value: "123"}
	assert.False(t, pred.Matches(candidate()))
}

func TestMatches_Composite(t *testing.T) {
	raw := `{"kind":"and","preds":[
		{"kind":"tag","tag":"clearance"},
		{"kind":"or","preds":[
			{"kind":"price","op":"gte","amount":4000},
			{"kind":"sku","skus":["TR-XXX"]}
		]}
	]}`
	pred, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.True(t, pred.Matches(candidate()))
}

func TestMatches_NilPredicate(t *testing.T) {
	var pred *Predicate
	assert.False(t, pred.Matches(candidate()))
}

// stubCatalogRepo serves a fixed candidate set without a database.
type stubCatalogRepo struct {
	candidates []catalogdomain.Candidate
}

func (r *stubCatalogRepo) FindActiveCandidates(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]catalogdomain.Candidate, error) {
	return r.candidates, nil
}

func (r *stubCatalogRepo) FindVariantExternalRef(ctx context.Context, db *gorm.DB, orgID, variantID snowflake.ID) (*string, error) {
	return nil, nil
}

func TestEngine_EvaluateFiltersCandidates(t *testing.T) {
	other := candidate()
	other.Vendor = "Borealis"
	other.Tags = []string{"regular"}

	engine := NewEngine(Params{
		Log:         zap.NewNop(),
		CatalogRepo: &stubCatalogRepo{candidates: []catalogdomain.Candidate{candidate(), other}},
	})

	matched, err := engine.Evaluate(context.Background(), 1, []byte(`{"kind":"tag","tag":"clearance"}`))
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "Acme", matched[0].Vendor)
}

func TestEngine_EvaluateRejectsMalformedSelector(t *testing.T) {
	engine := NewEngine(Params{
		Log:         zap.NewNop(),
		CatalogRepo: &stubCatalogRepo{},
	})

	_, err := engine.Evaluate(context.Background(), 1, []byte(`{"kind":"bogus"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}
