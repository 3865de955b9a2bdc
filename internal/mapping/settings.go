package mapping

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/cctsync/internal/apperr"
	"github.com/starford/cctsync/internal/models"
)

// YearExpander returns the year expander configuration.
func (s *Store) YearExpander(ctx context.Context) (models.YearExpanderConfig, error) {
	settings, err := s.repo.Load(ctx)
	if err != nil {
		return models.YearExpanderConfig{}, err
	}
	return settings.YearExpander, nil
}

// SaveYearExpander replaces the year expander configuration.
func (s *Store) SaveYearExpander(ctx context.Context, cfg models.YearExpanderConfig) error {
	if cfg.Enabled {
		err := validation.ValidateStruct(&cfg,
			validation.Field(&cfg.TargetCCT, validation.Required, validation.Match(identifierRe)),
			validation.Field(&cfg.StartField, validation.Required, validation.Match(identifierRe)),
			validation.Field(&cfg.EndField, validation.Required, validation.Match(identifierRe)),
			validation.Field(&cfg.OutputField, validation.Required, validation.Match(identifierRe)),
		)
		if err != nil {
			return fmt.Errorf("%w: %w", apperr.ErrInvalid, err)
		}
	}
	return s.update(ctx, func(settings *models.Settings) {
		settings.YearExpander = cfg
	})
}

// ConfigName returns the config-name generator configuration.
func (s *Store) ConfigName(ctx context.Context) (models.ConfigNameConfig, error) {
	settings, err := s.repo.Load(ctx)
	if err != nil {
		return models.ConfigNameConfig{}, err
	}
	return settings.ConfigName, nil
}

// SaveConfigName replaces the config-name generator configuration.
func (s *Store) SaveConfigName(ctx context.Context, cfg models.ConfigNameConfig) error {
	if cfg.Template == "" {
		cfg.Template = DefaultConfigNameTemplate
	}
	if cfg.Enabled {
		err := validation.ValidateStruct(&cfg,
			validation.Field(&cfg.TargetCCT, validation.Required, validation.Match(identifierRe)),
			validation.Field(&cfg.OutputField, validation.Required, validation.Match(identifierRe)),
		)
		if err != nil {
			return fmt.Errorf("%w: %w", apperr.ErrInvalid, err)
		}
	}
	return s.update(ctx, func(settings *models.Settings) {
		settings.ConfigName = cfg
	})
}

func (s *Store) update(ctx context.Context, fn func(*models.Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}
	fn(&settings)
	return s.repo.Save(ctx, settings)
}
