package mapping

import (
	"context"
	"fmt"

	"github.com/starford/cctsync/internal/models"
	"github.com/starford/cctsync/internal/options"
)

// SettingsOption is the option name the settings record is stored under.
const SettingsOption = "pac_vdm_settings"

// Repository persists the whole settings record at once.
type Repository interface {
	Load(ctx context.Context) (models.Settings, error)
	Save(ctx context.Context, s models.Settings) error
}

// OptionRepository stores settings as a single option.
type OptionRepository struct {
	opts options.Store
}

// Verify *OptionRepository satisfies Repository at compile time.
var _ Repository = (*OptionRepository)(nil)

// NewOptionRepository creates a repository backed by an option store.
func NewOptionRepository(opts options.Store) *OptionRepository {
	return &OptionRepository{opts: opts}
}

// DefaultSettings returns the record used before anything was saved.
func DefaultSettings() models.Settings {
	return models.Settings{
		Mappings: []models.FieldMapping{},
		ConfigName: models.ConfigNameConfig{
			OutputField: "config_name",
			Template:    DefaultConfigNameTemplate,
		},
	}
}

// DefaultConfigNameTemplate is used when the generator has no template set.
const DefaultConfigNameTemplate = "{year_start}-{year_end} {make_name} {model_name} {generation_code}"

// Load implements Repository. Stored values are decoded over the defaults.
func (r *OptionRepository) Load(ctx context.Context) (models.Settings, error) {
	s := DefaultSettings()
	if _, err := r.opts.Get(ctx, SettingsOption, &s); err != nil {
		return models.Settings{}, fmt.Errorf("mapping: load settings: %w", err)
	}
	if s.Mappings == nil {
		s.Mappings = []models.FieldMapping{}
	}
	return s, nil
}

// Save implements Repository.
func (r *OptionRepository) Save(ctx context.Context, s models.Settings) error {
	if err := r.opts.Set(ctx, SettingsOption, s); err != nil {
		return fmt.Errorf("mapping: save settings: %w", err)
	}
	return nil
}
