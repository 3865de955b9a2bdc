// Package mapping owns the list of field-mapping rules and keeps it free of
// functional duplicates.
package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/cctsync/internal/apperr"
	"github.com/starford/cctsync/internal/models"
)

// identifierRe restricts CCT and field slugs to what can safely be used as a
// table or column name.
var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Option is a functional option for configuring a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides how new mapping ids are generated.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

// Store is the CRUD layer over the mapping list.
type Store struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	// mu serialises read-modify-write cycles of the settings record
	// within this process.
	mu sync.Mutex
}

// NewStore creates a mapping store over repo.
func NewStore(repo Repository, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return "map_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mappings returns all mappings, optionally only enabled ones.
func (s *Store) Mappings(ctx context.Context, enabledOnly bool) ([]models.FieldMapping, error) {
	settings, err := s.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !enabledOnly {
		return settings.Mappings, nil
	}
	out := make([]models.FieldMapping, 0, len(settings.Mappings))
	for _, m := range settings.Mappings {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out, nil
}

// MappingsForCCT returns the mappings whose target is the given CCT.
func (s *Store) MappingsForCCT(ctx context.Context, slug string, enabledOnly bool) ([]models.FieldMapping, error) {
	all, err := s.Mappings(ctx, enabledOnly)
	if err != nil {
		return nil, err
	}
	out := make([]models.FieldMapping, 0, len(all))
	for _, m := range all {
		if m.TargetCCT == slug {
			out = append(out, m)
		}
	}
	return out, nil
}

// Get returns one mapping by id.
func (s *Store) Get(ctx context.Context, id string) (*models.FieldMapping, error) {
	all, err := s.Mappings(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, m := range all {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("mapping %q: %w", id, apperr.ErrNotFound)
}

// Validate checks that a mapping input is complete and well formed.
func Validate(in models.MappingInput) error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.TargetCCT, validation.Required, validation.Match(identifierRe)),
		validation.Field(&in.TriggerRelation, validation.Required, validation.Min(models.RelationID(1))),
		validation.Field(&in.SourceField, validation.Required, validation.Match(identifierRe)),
		validation.Field(&in.DestinationField, validation.Required, validation.Match(identifierRe)),
		validation.Field(&in.Direction, validation.In(models.DirectionPull, models.DirectionPush, models.DirectionBoth)),
		validation.Field(&in.UIBehavior, validation.In(models.UIReadonly, models.UIHidden)),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrInvalid, err)
	}
	return nil
}

func withDefaults(in models.MappingInput) models.MappingInput {
	if in.Direction == "" {
		in.Direction = models.DirectionPull
	}
	if in.UIBehavior == "" {
		in.UIBehavior = models.UIReadonly
	}
	if in.Enabled == nil {
		enabled := true
		in.Enabled = &enabled
	}
	return in
}

// Save creates or updates a mapping and returns its id.
//
// An input without id whose (target, relation, source, destination) tuple
// matches an existing mapping updates that mapping in place, keeping its id
// and creation time. An explicit id that would duplicate the tuple of a
// different mapping is rejected with apperr.ErrConflict.
func (s *Store) Save(ctx context.Context, in models.MappingInput) (string, error) {
	in = withDefaults(in)
	if err := Validate(in); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.repo.Load(ctx)
	if err != nil {
		return "", err
	}
	list := settings.Mappings

	dup, byID := -1, -1
	for i, m := range list {
		if dup < 0 && m.Key() == in.Key() {
			dup = i
		}
		if in.ID != "" && byID < 0 && m.ID == in.ID {
			byID = i
		}
	}

	now := s.now()
	target := -1
	id := in.ID
	createdAt := now

	switch {
	case id == "" && dup >= 0:
		target = dup
		id = list[dup].ID
		createdAt = list[dup].CreatedAt
		s.logger.Debug("mapping: updating functional duplicate",
			slog.String("id", id),
			slog.String("target_cct", in.TargetCCT))
	case id == "":
		id = s.newID()
	default:
		if dup >= 0 && list[dup].ID != id {
			return "", fmt.Errorf("mapping %q duplicates %q: %w", id, list[dup].ID, apperr.ErrConflict)
		}
		if byID >= 0 {
			target = byID
			createdAt = list[byID].CreatedAt
		}
	}

	m := models.FieldMapping{
		ID:               id,
		TargetCCT:        in.TargetCCT,
		TriggerRelation:  in.TriggerRelation,
		SourceField:      in.SourceField,
		DestinationField: in.DestinationField,
		Direction:        in.Direction,
		UIBehavior:       in.UIBehavior,
		Enabled:          *in.Enabled,
		CreatedAt:        createdAt,
		UpdatedAt:        now,
	}
	if target >= 0 {
		list[target] = m
	} else {
		list = append(list, m)
	}
	settings.Mappings = list

	if err := s.repo.Save(ctx, settings); err != nil {
		s.logger.Error("mapping: save failed", slog.String("id", id), slog.String("error", err.Error()))
		return "", err
	}
	s.logger.Debug("mapping: saved", slog.String("id", id), slog.Bool("new", target < 0))
	return id, nil
}

// Delete removes a mapping by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}
	kept := make([]models.FieldMapping, 0, len(settings.Mappings))
	for _, m := range settings.Mappings {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(settings.Mappings) {
		return fmt.Errorf("mapping %q: %w", id, apperr.ErrNotFound)
	}
	settings.Mappings = kept
	if err := s.repo.Save(ctx, settings); err != nil {
		return err
	}
	s.logger.Debug("mapping: deleted", slog.String("id", id))
	return nil
}

// Toggle flips the enabled flag of a mapping.
func (s *Store) Toggle(ctx context.Context, id string, enabled bool) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.Save(ctx, models.MappingInput{
		ID:               m.ID,
		TargetCCT:        m.TargetCCT,
		TriggerRelation:  m.TriggerRelation,
		SourceField:      m.SourceField,
		DestinationField: m.DestinationField,
		Direction:        m.Direction,
		UIBehavior:       m.UIBehavior,
		Enabled:          &enabled,
	})
	return err
}

// ReadonlyFields returns the destination fields of enabled mappings on the
// CCT that should be shown read-only.
func (s *Store) ReadonlyFields(ctx context.Context, slug string) ([]string, error) {
	return s.fieldsWithBehavior(ctx, slug, models.UIReadonly)
}

// HiddenFields returns the destination fields of enabled mappings on the
// CCT that should be hidden.
func (s *Store) HiddenFields(ctx context.Context, slug string) ([]string, error) {
	return s.fieldsWithBehavior(ctx, slug, models.UIHidden)
}

func (s *Store) fieldsWithBehavior(ctx context.Context, slug string, b models.UIBehavior) ([]string, error) {
	mappings, err := s.MappingsForCCT(ctx, slug, true)
	if err != nil {
		return nil, err
	}
	var fields []string
	for _, m := range mappings {
		if m.UIBehavior == b && m.DestinationField != "" {
			fields = append(fields, m.DestinationField)
		}
	}
	return unique(fields), nil
}

// MappedCCTs returns the distinct target CCTs of enabled mappings.
func (s *Store) MappedCCTs(ctx context.Context) ([]string, error) {
	mappings, err := s.Mappings(ctx, true)
	if err != nil {
		return nil, err
	}
	var ccts []string
	for _, m := range mappings {
		if m.TargetCCT != "" {
			ccts = append(ccts, m.TargetCCT)
		}
	}
	return unique(ccts), nil
}

// unique drops repeated values, keeping first-seen order.
func unique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := []string{}
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
