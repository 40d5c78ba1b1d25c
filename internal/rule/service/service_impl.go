package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	appconfig "github.com/smallbiznis/repricer/internal/config"
	"github.com/smallbiznis/repricer/internal/orgcontext"
	ruledomain "github.com/smallbiznis/repricer/internal/rule/domain"
	"github.com/smallbiznis/repricer/internal/selector"
	"github.com/smallbiznis/repricer/internal/transform"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   ruledomain.Repository
	Policy *appconfig.PricingPolicyHolder `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	repo   ruledomain.Repository
	policy *appconfig.PricingPolicyHolder
}

func New(p Params) ruledomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("rule.service"),
		genID:  p.GenID,
		repo:   p.Repo,
		policy: p.Policy,
	}
}

func (s *Service) Create(ctx context.Context, req ruledomain.CreateRequest) (*ruledomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, ruledomain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ruledomain.ErrInvalidName
	}

	rawSelector, err := json.Marshal(req.Selector)
	if err != nil {
		return nil, ruledomain.ErrInvalidSelector
	}
	// Unknown predicate/transform kinds are rejected here, at write time,
	// so the scheduler only ever sees payloads it can evaluate.
	if _, err := selector.Parse(rawSelector); err != nil {
		return nil, ruledomain.ErrInvalidSelector
	}

	rawTransform, err := json.Marshal(req.Transform)
	if err != nil {
		return nil, ruledomain.ErrInvalidTransform
	}
	tr, err := transform.Parse(rawTransform)
	if err != nil {
		return nil, ruledomain.ErrInvalidTransform
	}
	if s.policy != nil {
		isFixed := tr.Kind == transform.KindFixed
		if err := s.policy.Get().Allows(tr.Value, tr.Amount, isFixed); err != nil {
			s.log.Warn("transform rejected by pricing policy", zap.Error(err))
			return nil, ruledomain.ErrInvalidTransform
		}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now().UTC()
	entity := &ruledomain.PricingRule{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		Name:       name,
		Selector:   datatypes.JSON(rawSelector),
		Transform:  datatypes.JSON(rawTransform),
		Enabled:    enabled,
		ScheduleAt: req.ScheduleAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.Insert(ctx, s.db, entity); err != nil {
		return nil, err
	}

	return toResponse(entity), nil
}

func (s *Service) List(ctx context.Context) ([]ruledomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, ruledomain.ErrInvalidOrganization
	}

	items, err := s.repo.List(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	resp := make([]ruledomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, *toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*ruledomain.Response, error) {
	orgID, ruleID, err := s.scope(ctx, id)
	if err != nil {
		return nil, err
	}

	entity, err := s.repo.FindByID(ctx, s.db, orgID, ruleID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, ruledomain.ErrNotFound
	}
	return toResponse(entity), nil
}

func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (*ruledomain.Response, error) {
	orgID, ruleID, err := s.scope(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.SetEnabled(ctx, s.db, orgID, ruleID, enabled, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, ruledomain.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *Service) SetSchedule(ctx context.Context, id string, scheduleAt *time.Time) (*ruledomain.Response, error) {
	orgID, ruleID, err := s.scope(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.SetSchedule(ctx, s.db, orgID, ruleID, scheduleAt, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, ruledomain.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, ruleID, err := s.scope(ctx, id)
	if err != nil {
		return err
	}

	deleted, err := s.repo.SoftDelete(ctx, s.db, orgID, ruleID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !deleted {
		return ruledomain.ErrNotFound
	}
	return nil
}

func (s *Service) scope(ctx context.Context, id string) (snowflake.ID, snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, 0, ruledomain.ErrInvalidOrganization
	}
	ruleID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || ruleID == 0 {
		return 0, 0, ruledomain.ErrInvalidID
	}
	return orgID, ruleID, nil
}

func toResponse(rule *ruledomain.PricingRule) *ruledomain.Response {
	return &ruledomain.Response{
		ID:         rule.ID,
		OrgID:      rule.OrgID,
		Name:       rule.Name,
		Selector:   decodeJSONMap(rule.Selector),
		Transform:  decodeJSONMap(rule.Transform),
		Enabled:    rule.Enabled,
		ScheduleAt: rule.ScheduleAt,
		CreatedAt:  rule.CreatedAt,
		UpdatedAt:  rule.UpdatedAt,
	}
}

func decodeJSONMap(raw datatypes.JSON) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	return decoded
}
