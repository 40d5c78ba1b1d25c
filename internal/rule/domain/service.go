package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	List(ctx context.Context) ([]Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	SetEnabled(ctx context.Context, id string, enabled bool) (*Response, error)
	SetSchedule(ctx context.Context, id string, scheduleAt *time.Time) (*Response, error)
	Delete(ctx context.Context, id string) error
}

type CreateRequest struct {
	Name       string         `json:"name"`
	Selector   map[string]any `json:"selector"`
	Transform  map[string]any `json:"transform"`
	Enabled    *bool          `json:"enabled"`
	ScheduleAt *time.Time     `json:"schedule_at"`
}

type Response struct {
	ID         snowflake.ID   `json:"id"`
	OrgID      snowflake.ID   `json:"organization_id"`
	Name       string         `json:"name"`
	Selector   map[string]any `json:"selector"`
	Transform  map[string]any `json:"transform"`
	Enabled    bool           `json:"enabled"`
	ScheduleAt *time.Time     `json:"schedule_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidSelector     = errors.New("invalid_selector")
	ErrInvalidTransform    = errors.New("invalid_transform")
	ErrInvalidID           = errors.New("invalid_id")
	ErrNotFound            = errors.New("not_found")
)
