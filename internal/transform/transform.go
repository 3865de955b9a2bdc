// Package transform holds the pre-save filters that share the item-to-update
// event with the propagation engine. The year expander runs before PULL so
// pulled values never depend on it; the config-name generator runs after PULL
// so it can use pulled values.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/cctsync/internal/hooks"
	"github.com/starford/cctsync/internal/mapping"
	"github.com/starford/cctsync/internal/models"
)

// Filter priorities on the item-to-update event.
const (
	PriorityYearExpander = 10
	PriorityConfigName   = 20
)

// SettingsSource provides the transform configuration.
type SettingsSource interface {
	YearExpander(ctx context.Context) (models.YearExpanderConfig, error)
	ConfigName(ctx context.Context) (models.ConfigNameConfig, error)
}

// Transforms registers the sibling filters.
type Transforms struct {
	settings SettingsSource
	logger   *slog.Logger
}

// New creates the transforms.
func New(settings SettingsSource, logger *slog.Logger) *Transforms {
	return &Transforms{settings: settings, logger: logger}
}

// RegisterHooks adds both filters to d.
func (t *Transforms) RegisterHooks(d *hooks.Dispatcher) {
	d.AddFilter(hooks.ItemToUpdate, PriorityYearExpander, "transform.year_expander", t.ExpandYears)
	d.AddFilter(hooks.ItemToUpdate, PriorityConfigName, "transform.config_name", t.GenerateConfigName)
}

// ExpandYears writes the inclusive year range between the configured start
// and end fields into the output field.
func (t *Transforms) ExpandYears(ctx context.Context, item models.Item, sc hooks.SaveContext) (models.Item, error) {
	cfg, err := t.settings.YearExpander(ctx)
	if err != nil {
		return nil, fmt.Errorf("transform: year expander config: %w", err)
	}
	if !cfg.Enabled || cfg.TargetCCT == "" || cfg.TargetCCT != sc.CCT ||
		cfg.StartField == "" || cfg.EndField == "" || cfg.OutputField == "" {
		return item, nil
	}

	start := intValue(item[cfg.StartField])
	end := intValue(item[cfg.EndField])
	years := GenerateYears(start, end)
	if len(years) == 0 {
		t.logger.Warn("transform: invalid year values",
			slog.String("cct", sc.CCT),
			slog.Int("start_year", start),
			slog.Int("end_year", end))
	}
	item[cfg.OutputField] = years
	return item, nil
}

// Year bounds accepted by GenerateYears.
const (
	MinYear     = 1
	MaxYear     = 9999
	MaxYearSpan = 500
)

// GenerateYears returns every year from start to end inclusive. Reversed
// bounds are swapped. Years outside MinYear..MaxYear or a range longer than
// MaxYearSpan yield an empty list.
func GenerateYears(start, end int) []int {
	if start > end {
		start, end = end, start
	}
	if start < MinYear || end > MaxYear || end-start+1 > MaxYearSpan {
		return []int{}
	}
	years := make([]int, 0, end-start+1)
	for y := start; y <= end; y++ {
		years = append(years, y)
	}
	return years
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)
var spaceRe = regexp.MustCompile(`\s+`)

// GenerateConfigName fills the configured template from the item and stores
// the result in the output field. An empty result leaves the item alone.
func (t *Transforms) GenerateConfigName(ctx context.Context, item models.Item, sc hooks.SaveContext) (models.Item, error) {
	cfg, err := t.settings.ConfigName(ctx)
	if err != nil {
		return nil, fmt.Errorf("transform: config name config: %w", err)
	}
	if !cfg.Enabled || cfg.TargetCCT == "" || cfg.TargetCCT != sc.CCT || cfg.OutputField == "" {
		return item, nil
	}
	name := BuildName(cfg.Template, item)
	if name == "" {
		return item, nil
	}
	item[cfg.OutputField] = name
	t.logger.Debug("transform: config name generated",
		slog.String("cct", sc.CCT),
		slog.String("name", name))
	return item, nil
}

// BuildName replaces {field} placeholders with trimmed item values. Missing
// or empty values drop their placeholder and runs of whitespace collapse.
func BuildName(template string, item models.Item) string {
	if template == "" {
		template = mapping.DefaultConfigNameTemplate
	}
	name := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		field := m[1 : len(m)-1]
		v := strings.TrimSpace(stringValue(item[field]))
		if v == "0" {
			return ""
		}
		return v
	})
	return strings.TrimSpace(spaceRe.ReplaceAllString(name, " "))
}

func stringValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// intValue converts a stored field value to an int the way form input is
// read: leading digits of strings, truncation of floats, zero otherwise.
func intValue(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		return int(x)
	case []byte:
		return leadingInt(string(x))
	case string:
		return leadingInt(x)
	default:
		return 0
	}
}

func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || end == 0 && (s[end] == '-' || s[end] == '+')) {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}
