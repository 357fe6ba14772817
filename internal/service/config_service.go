package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ConfigStore is the approval-rule persistence the config service depends on.
type ConfigStore interface {
	Create(ctx context.Context, config *repository.ApprovalConfig) error
	GetByID(ctx context.Context, tenantID, id string) (*repository.ApprovalConfig, error)
	List(ctx context.Context, tenantID string, processType *repository.ProcessType, activeOnly bool) ([]*repository.ApprovalConfig, error)
	Update(ctx context.Context, config *repository.ApprovalConfig) error
	Delete(ctx context.Context, tenantID, id string) error
}

// ConfigService manages a tenant's approval rules.
type ConfigService struct {
	configs ConfigStore
	log     zerolog.Logger
}

// NewConfigService creates a new ConfigService.
func NewConfigService(configs ConfigStore, log zerolog.Logger) *ConfigService {
	return &ConfigService{configs: configs, log: log}
}

func validateConfig(config *repository.ApprovalConfig) error {
	if !config.ProcessType.Valid() {
		return apperrors.InvalidInput("process_type", "unknown process type")
	}
	if config.Level < 1 {
		return apperrors.InvalidInput("level", "level must be at least 1")
	}
	if len(config.Approvers) == 0 {
		return apperrors.InvalidInput("approvers", "at least one approver is required")
	}
	primaries := 0
	for i, approver := range config.Approvers {
		if approver.UserID == "" {
			return apperrors.InvalidInput("approvers", "approver user id is required")
		}
		if approver.IsPrimary {
			primaries++
		}
		if approver.Order == 0 {
			config.Approvers[i].Order = i + 1
		}
	}
	if primaries > 1 {
		return apperrors.InvalidInput("approvers", "at most one approver may be primary")
	}
	if config.ValueLimit != nil && *config.ValueLimit < 0 {
		return apperrors.InvalidInput("value_limit", "value limit must not be negative")
	}
	return nil
}

// CreateConfig stores a new approval rule.
func (s *ConfigService) CreateConfig(ctx context.Context, config *repository.ApprovalConfig) (*repository.ApprovalConfig, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if err := s.configs.Create(ctx, config); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("tenant_id", config.TenantID).
		Str("config_id", config.ID).
		Str("process_type", string(config.ProcessType)).
		Int("level", config.Level).
		Msg("Approval config created")

	return config, nil
}

// GetConfig returns one approval rule.
func (s *ConfigService) GetConfig(ctx context.Context, tenantID, id string) (*repository.ApprovalConfig, error) {
	return s.configs.GetByID(ctx, tenantID, id)
}

// ListConfigs returns a tenant's approval rules, optionally filtered by
// process type or restricted to active rules.
func (s *ConfigService) ListConfigs(ctx context.Context, tenantID string, processType *repository.ProcessType, activeOnly bool) ([]*repository.ApprovalConfig, error) {
	if processType != nil && !processType.Valid() {
		return nil, apperrors.InvalidInput("process_type", "unknown process type")
	}
	return s.configs.List(ctx, tenantID, processType, activeOnly)
}

// UpdateConfig replaces an approval rule. Ledgers already created keep their
// resolved chains; the new rule applies from the next resolution on.
func (s *ConfigService) UpdateConfig(ctx context.Context, config *repository.ApprovalConfig) (*repository.ApprovalConfig, error) {
	if config.ID == "" {
		return nil, apperrors.InvalidInput("id", "config id is required")
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if err := s.configs.Update(ctx, config); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("tenant_id", config.TenantID).
		Str("config_id", config.ID).
		Msg("Approval config updated")

	return config, nil
}

// DeleteConfig removes an approval rule.
func (s *ConfigService) DeleteConfig(ctx context.Context, tenantID, id string) error {
	if err := s.configs.Delete(ctx, tenantID, id); err != nil {
		return err
	}

	s.log.Info().
		Str("tenant_id", tenantID).
		Str("config_id", id).
		Msg("Approval config deleted")

	return nil
}
