package template

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader parses and validates raw templates.
type Loader struct {
	validator *validator.Validate
	schemas   *SchemaRegistry
	logger    zerolog.Logger
}

// NewLoader creates a template loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		validator: validator.New(),
		schemas:   NewSchemaRegistry(),
		logger:    logger.With().Str("component", "template-loader").Logger(),
	}
}

// Load reads and parses a template file.
func (l *Loader) Load(ctx context.Context, path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}

	tpl, err := l.Parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	tpl.SourceFile = path

	l.logger.Info().
		Str("template", tpl.Metadata.Name).
		Str("version", tpl.Metadata.Version).
		Str("path", path).
		Int("machine_blocks", len(tpl.MachineSpecific)).
		Int("conditional_sections", len(tpl.ConditionalSections)).
		Msg("Template loaded")

	return tpl, nil
}

// Parse decodes YAML template content and checks its structural shape.
// Shape checking here covers closed vocabularies (validation levels, rule
// actions, condition logic); semantic checks on the resolved output are
// the resolver's validator's job.
func (l *Loader) Parse(ctx context.Context, data []byte) (*Template, error) {
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validator.Struct(&tpl); err != nil {
		return nil, fmt.Errorf("template validation failed: %w", err)
	}

	// Validate the raw shape against the CUE template schema as well; the
	// struct decode is lossy for the free-form section entries.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := l.schemas.ValidateAgainstSchema(ctx, "template", raw); err != nil {
		return nil, fmt.Errorf("template shape validation failed: %w", err)
	}

	return &tpl, nil
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}
