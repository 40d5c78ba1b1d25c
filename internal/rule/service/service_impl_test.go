package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	appconfig "github.com/smallbiznis/repricer/internal/config"
	"github.com/smallbiznis/repricer/internal/migration"
	"github.com/smallbiznis/repricer/internal/orgcontext"
	ruledomain "github.com/smallbiznis/repricer/internal/rule/domain"
	"github.com/smallbiznis/repricer/internal/rule/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type serviceFixture struct {
	svc   ruledomain.Service
	ctx   context.Context
	orgID snowflake.ID
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, migration.AutoMigrate(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	orgID := node.Generate()

	policy, err := appconfig.NewPricingPolicyHolder()
	require.NoError(t, err)

	svc := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Repo:   repository.Provide(),
		Policy: policy,
	})

	return &serviceFixture{
		svc:   svc,
		ctx:   orgcontext.WithOrgID(context.Background(), int64(orgID)),
		orgID: orgID,
	}
}

func validCreate() ruledomain.CreateRequest {
	return ruledomain.CreateRequest{
		Name:      "clearance markdown",
		Selector:  map[string]any{"kind": "tag", "tag": "clearance"},
		Transform: map[string]any{"kind": "percentage", "value": -30},
	}
}

func TestCreate_PersistsRule(t *testing.T) {
	f := newServiceFixture(t)

	resp, err := f.svc.Create(f.ctx, validCreate())
	require.NoError(t, err)
	assert.Equal(t, f.orgID, resp.OrgID)
	assert.Equal(t, "clearance markdown", resp.Name)
	assert.True(t, resp.Enabled)
	assert.Equal(t, "tag", resp.Selector["kind"])

	got, err := f.svc.Get(f.ctx, resp.ID.String())
	require.NoError(t, err)
	assert.Equal(t, resp.ID, got.ID)
}

func TestCreate_RejectsUnknownSelectorKind(t *testing.T) {
	f := newServiceFixture(t)

	req := validCreate()
	req.Selector = map[string]any{"kind": "regex", "value": ".*"}

	_, err := f.svc.Create(f.ctx, req)
	assert.ErrorIs(t, err, ruledomain.ErrInvalidSelector)
}

func TestCreate_RejectsTransformOutsidePolicy(t *testing.T) {
	f := newServiceFixture(t)

	req := validCreate()
	req.Transform = map[string]any{"kind": "percentage", "value": -95}

	_, err := f.svc.Create(f.ctx, req)
	assert.ErrorIs(t, err, ruledomain.ErrInvalidTransform)
}

func TestCreate_RejectsUnknownTransformKind(t *testing.T) {
	f := newServiceFixture(t)

	req := validCreate()
	req.Transform = map[string]any{"kind": "surge", "value": 10}

	_, err := f.svc.Create(f.ctx, req)
	assert.ErrorIs(t, err, ruledomain.ErrInvalidTransform)
}

func TestCreate_RequiresOrgAndName(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Create(context.Background(), validCreate())
	assert.ErrorIs(t, err, ruledomain.ErrInvalidOrganization)

	req := validCreate()
	req.Name = "   "
	_, err = f.svc.Create(f.ctx, req)
	assert.ErrorIs(t, err, ruledomain.ErrInvalidName)
}

func TestSetEnabledAndSchedule(t *testing.T) {
	f := newServiceFixture(t)

	created, err := f.svc.Create(f.ctx, validCreate())
	require.NoError(t, err)

	resp, err := f.svc.SetEnabled(f.ctx, created.ID.String(), false)
	require.NoError(t, err)
	assert.False(t, resp.Enabled)

	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	resp, err = f.svc.SetSchedule(f.ctx, created.ID.String(), &at)
	require.NoError(t, err)
	require.NotNil(t, resp.ScheduleAt)
	assert.Equal(t, at.Unix(), resp.ScheduleAt.Unix())

	resp, err = f.svc.SetSchedule(f.ctx, created.ID.String(), nil)
	require.NoError(t, err)
	assert.Nil(t, resp.ScheduleAt)
}

func TestDelete_HidesRule(t *testing.T) {
	f := newServiceFixture(t)

	created, err := f.svc.Create(f.ctx, validCreate())
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(f.ctx, created.ID.String()))

	_, err = f.svc.Get(f.ctx, created.ID.String())
	assert.ErrorIs(t, err, ruledomain.ErrNotFound)

	err = f.svc.Delete(f.ctx, created.ID.String())
	assert.ErrorIs(t, err, ruledomain.ErrNotFound)
}

func TestGet_ScopedToOrganization(t *testing.T) {
	f := newServiceFixture(t)

	created, err := f.svc.Create(f.ctx, validCreate())
	require.NoError(t, err)

	otherCtx := orgcontext.WithOrgID(context.Background(), int64(created.ID)+1)
	_, err = f.svc.Get(otherCtx, created.ID.String())
	assert.ErrorIs(t, err, ruledomain.ErrNotFound)
}
