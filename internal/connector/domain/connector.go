package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Connector pushes price mutations to an external commerce platform.
type Connector interface {
	TestConnection(ctx context.Context) error
	UpdatePrice(ctx context.Context, req UpdatePriceRequest) (*UpdatePriceResult, error)
}

type UpdatePriceRequest struct {
	ExternalRef    string
	Currency       string
	Amount         int64
	CompareAt      *int64
	IdempotencyKey string
}

type UpdatePriceResult struct {
	ExternalRef string
	Amount      int64
	CompareAt   *int64
}

// Factory builds a connector for one platform.
type Factory interface {
	Platform() string
	NewConnector(cfg ConnectorConfig) (Connector, error)
}

type ConnectorConfig struct {
	OrgID         snowflake.ID
	BaseURL       string
	APIKey        string
	SigningSecret string
}

var (
	ErrPlatformNotFound = errors.New("platform_not_found")
	ErrInvalidConfig    = errors.New("invalid_connector_config")
)

// PlatformError is a failure reported by the platform itself. Retryable
// marks network problems and 5xx-class responses; everything else is a
// permanent rejection of the request.
type PlatformError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *PlatformError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("platform error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("platform error: %s", e.Message)
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
