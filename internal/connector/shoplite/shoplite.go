package shoplite

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/repricer/internal/connector/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Platform() string {
	return "shoplite"
}

func (f *Factory) NewConnector(cfg domain.ConnectorConfig) (domain.Connector, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, domain.ErrInvalidConfig
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, domain.ErrInvalidConfig
	}
	secret := strings.TrimSpace(cfg.SigningSecret)
	if secret == "" {
		return nil, domain.ErrInvalidConfig
	}

	return &Connector{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		secret:  secret,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type Connector struct {
	baseURL string
	apiKey  string
	secret  string
	client  *http.Client
}

func (c *Connector) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/admin/ping", nil)
	if err != nil {
		return err
	}
	c.sign(req, nil)

	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.PlatformError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return responseError(resp)
}

func (c *Connector) UpdatePrice(ctx context.Context, req domain.UpdatePriceRequest) (*domain.UpdatePriceResult, error) {
	payload := updatePricePayload{
		Currency:  req.Currency,
		Amount:    req.Amount,
		CompareAt: req.CompareAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/admin/variants/%s/price", c.baseURL, url.PathEscape(req.ExternalRef))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	c.sign(httpReq, body)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &domain.PlatformError{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError(resp)
	}

	var decoded updatePricePayload
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && err != io.EOF {
		return nil, &domain.PlatformError{StatusCode: resp.StatusCode, Message: "invalid response body"}
	}

	return &domain.UpdatePriceResult{
		ExternalRef: req.ExternalRef,
		Amount:      req.Amount,
		CompareAt:   req.CompareAt,
	}, nil
}

// sign adds the shoplite request signature: timestamp and hex HMAC-SHA256 of
// "<timestamp>.<body>" under the shared secret.
func (c *Connector) sign(req *http.Request, body []byte) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(c.secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	if c.apiKey != "" {
		req.Header.Set("X-Shoplite-Access-Token", c.apiKey)
	}
	req.Header.Set("X-Shoplite-Timestamp", timestamp)
	req.Header.Set("X-Shoplite-Signature", signature)
}

type updatePricePayload struct {
	Currency  string `json:"currency"`
	Amount    int64  `json:"amount"`
	CompareAt *int64 `json:"compare_at,omitempty"`
}

func responseError(resp *http.Response) error {
	message := http.StatusText(resp.StatusCode)
	var decoded struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&decoded); err == nil && decoded.Error != "" {
		message = decoded.Error
	}
	retryable := resp.StatusCode >= 500 ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusRequestTimeout
	return &domain.PlatformError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Retryable:  retryable,
	}
}
