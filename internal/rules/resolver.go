// Package rules implements approval rule resolution: matching a document's
// attributes against the tenant's configured approval rules and producing the
// ordered chain of levels the document must clear.
package rules

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/apperrors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ConfigSource supplies the candidate configs for resolution.
type ConfigSource interface {
	ListActive(ctx context.Context, tenantID string, processType repository.ProcessType) ([]*repository.ApprovalConfig, error)
}

// Level is one resolved stage of an approval chain.
type Level struct {
	Level     int                         `json:"level"`
	ConfigID  string                      `json:"config_id"`
	Approvers []repository.ConfigApprover `json:"approvers"` // sorted by Order
}

// FirstApprover returns the approver the pending row is addressed to.
func (l Level) FirstApprover() repository.ConfigApprover {
	return l.Approvers[0]
}

// Resolver maps documents to their required approval chains.
type Resolver struct {
	configs ConfigSource
	log     zerolog.Logger
}

// NewResolver creates a new Resolver.
func NewResolver(configs ConfigSource, log zerolog.Logger) *Resolver {
	return &Resolver{configs: configs, log: log}
}

// Resolve returns the ordered levels a document must clear. A process type
// that requires approval but matches no config is a configuration error, as is
// a level where two equally specific configs both match.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, processType repository.ProcessType, attrs repository.DocumentAttributes) ([]Level, error) {
	configs, err := r.configs.ListActive(ctx, tenantID, processType)
	if err != nil {
		return nil, err
	}

	levels, err := ResolveChain(configs, attrs)
	if err != nil {
		return nil, err
	}

	r.log.Debug().
		Str("tenant_id", tenantID).
		Str("process_type", string(processType)).
		Int("levels", len(levels)).
		Msg("Approval chain resolved")

	return levels, nil
}

// criterion specificity bits. A config's specificity is the bitmask of the
// criteria it sets, which gives a total order: any config carrying an
// exact-user match outranks every config without one, and so on down to
// value-only configs at zero.
const (
	specFinancialClass = 1 << iota
	specDepartment
	specCostCenter
	specUser
)

// ResolveChain is the pure matching core, exercised directly by tests.
func ResolveChain(configs []*repository.ApprovalConfig, attrs repository.DocumentAttributes) ([]Level, error) {
	winners := make(map[int]*repository.ApprovalConfig)
	ambiguous := make(map[int]bool)

	for _, cfg := range configs {
		if !matches(cfg, attrs) {
			continue
		}
		current, ok := winners[cfg.Level]
		if !ok {
			winners[cfg.Level] = cfg
			continue
		}
		switch cs, ws := specificity(cfg), specificity(current); {
		case cs > ws:
			winners[cfg.Level] = cfg
			ambiguous[cfg.Level] = false
		case cs == ws:
			ambiguous[cfg.Level] = true
		}
	}

	for level, tied := range ambiguous {
		if tied {
			return nil, apperrors.Newf(apperrors.ErrCodeConfiguration,
				"ambiguous approval configuration: multiple equally specific rules match level %d", level)
		}
	}

	if len(winners) == 0 {
		return nil, apperrors.Configuration("no approval configuration matches the document")
	}

	levelNumbers := make([]int, 0, len(winners))
	for level := range winners {
		levelNumbers = append(levelNumbers, level)
	}
	sort.Ints(levelNumbers)

	chain := make([]Level, 0, len(levelNumbers))
	for _, level := range levelNumbers {
		cfg := winners[level]
		if len(cfg.Approvers) == 0 {
			return nil, apperrors.Newf(apperrors.ErrCodeConfiguration,
				"approval configuration %s has no approvers", cfg.ID)
		}

		approvers := make([]repository.ConfigApprover, len(cfg.Approvers))
		copy(approvers, cfg.Approvers)
		sort.SliceStable(approvers, func(i, j int) bool {
			return approvers[i].Order < approvers[j].Order
		})

		chain = append(chain, Level{
			Level:     level,
			ConfigID:  cfg.ID,
			Approvers: approvers,
		})
	}
	return chain, nil
}

// matches reports whether every criterion the config sets holds for the
// document. Unset criteria are wildcards.
func matches(cfg *repository.ApprovalConfig, attrs repository.DocumentAttributes) bool {
	if cfg.RequesterID != nil {
		if attrs.RequesterID == nil || *attrs.RequesterID != *cfg.RequesterID {
			return false
		}
	}
	if cfg.CostCenterID != nil {
		if attrs.CostCenterID == nil || *attrs.CostCenterID != *cfg.CostCenterID {
			return false
		}
	}
	if cfg.Department != nil {
		if attrs.Department == nil || *attrs.Department != *cfg.Department {
			return false
		}
	}
	if cfg.FinancialClass != nil {
		if attrs.FinancialClass == nil || *attrs.FinancialClass != *cfg.FinancialClass {
			return false
		}
	}
	if cfg.ValueLimit != nil && attrs.Value > *cfg.ValueLimit {
		return false
	}
	return true
}

func specificity(cfg *repository.ApprovalConfig) int {
	score := 0
	if cfg.RequesterID != nil {
		score |= specUser
	}
	if cfg.CostCenterID != nil {
		score |= specCostCenter
	}
	if cfg.Department != nil {
		score |= specDepartment
	}
	if cfg.FinancialClass != nil {
		score |= specFinancialClass
	}
	return score
}
