package shoplite

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/repricer/internal/connector/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnector(t *testing.T, baseURL string) domain.Connector {
	t.Helper()
	conn, err := NewFactory().NewConnector(domain.ConnectorConfig{
		BaseURL:       baseURL,
		APIKey:        "token-123",
		SigningSecret: "secret",
	})
	require.NoError(t, err)
	return conn
}

func TestNewConnector_RejectsMissingConfig(t *testing.T) {
	_, err := NewFactory().NewConnector(domain.ConnectorConfig{SigningSecret: "secret"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewFactory().NewConnector(domain.ConnectorConfig{BaseURL: "https://shoplite.test"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestUpdatePrice_SignsAndSendsPayload(t *testing.T) {
	var captured struct {
		method    string
		path      string
		token     string
		idemKey   string
		timestamp string
		signature string
		body      []byte
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.token = r.Header.Get("X-Shoplite-Access-Token")
		captured.idemKey = r.Header.Get("Idempotency-Key")
		captured.timestamp = r.Header.Get("X-Shoplite-Timestamp")
		captured.signature = r.Header.Get("X-Shoplite-Signature")
		captured.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	conn := newConnector(t, server.URL)
	compareAt := int64(2000)
	result, err := conn.UpdatePrice(context.Background(), domain.UpdatePriceRequest{
		ExternalRef:    "var-42",
		Currency:       "USD",
		Amount:         1100,
		CompareAt:      &compareAt,
		IdempotencyKey: "idem-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "var-42", result.ExternalRef)
	assert.Equal(t, int64(1100), result.Amount)

	assert.Equal(t, http.MethodPut, captured.method)
	assert.Equal(t, "/admin/variants/var-42/price", captured.path)
	assert.Equal(t, "token-123", captured.token)
	assert.Equal(t, "idem-abc", captured.idemKey)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(captured.body, &payload))
	assert.EqualValues(t, 1100, payload["amount"])
	assert.Equal(t, "USD", payload["currency"])
	assert.EqualValues(t, 2000, payload["compare_at"])

	// The signature covers "<timestamp>.<body>" under the shared secret.
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(captured.timestamp))
	mac.Write([]byte("."))
	mac.Write(captured.body)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), captured.signature)
}

func TestUpdatePrice_ErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"request timeout", http.StatusRequestTimeout, true},
		{"not found", http.StatusNotFound, false},
		{"unprocessable", http.StatusUnprocessableEntity, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			conn := newConnector(t, server.URL)
			_, err := conn.UpdatePrice(context.Background(), domain.UpdatePriceRequest{
				ExternalRef: "var-1",
				Currency:    "USD",
				Amount:      100,
			})
			require.Error(t, err)

			var platformErr *domain.PlatformError
			require.ErrorAs(t, err, &platformErr)
			assert.Equal(t, tc.status, platformErr.StatusCode)
			assert.Equal(t, tc.retryable, domain.IsRetryable(err))
		})
	}
}

func TestUpdatePrice_SurfacesErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "price below cost"})
	}))
	defer server.Close()

	conn := newConnector(t, server.URL)
	_, err := conn.UpdatePrice(context.Background(), domain.UpdatePriceRequest{
		ExternalRef: "var-1",
		Currency:    "USD",
		Amount:      100,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price below cost")
}

func TestTestConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/ping", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Shoplite-Signature"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	conn := newConnector(t, server.URL)
	assert.NoError(t, conn.TestConnection(context.Background()))
}
