// Package catalog loads assessment matrices from YAML definition files.
package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/Compass/internal/models"
)

// Definition is the on-disk shape of a matrix file.
type Definition struct {
	ID                 string             `yaml:"id" validate:"required"`
	TenantID           string             `yaml:"tenant" validate:"required"`
	PerformanceCycleID string             `yaml:"cycle" validate:"required"`
	Name               string             `yaml:"name"`
	Teams              []string           `yaml:"teams"`
	Pillars            []PillarDefinition `yaml:"pillars" validate:"required,min=1,dive"`
}

type PillarDefinition struct {
	ID         string               `yaml:"id" validate:"required"`
	Name       string               `yaml:"name"`
	Categories []CategoryDefinition `yaml:"categories" validate:"dive"`
}

type CategoryDefinition struct {
	ID        string                      `yaml:"id" validate:"required"`
	Name      string                      `yaml:"name"`
	Questions []models.QuestionDefinition `yaml:"questions" validate:"dive"`
}

// Writer is the catalog side of a store.
type Writer interface {
	// ReplaceMatrix stores m with exactly the given questions, all or nothing.
	ReplaceMatrix(ctx context.Context, m *models.Matrix, questions []*models.QuestionDefinition) error
}

// Parse decodes a matrix definition. Unknown keys are rejected.
func Parse(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("parse matrix definition: %w", err)
	}
	return &def, nil
}

func ParseFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Validate reports every problem in the definition at once.
func (d *Definition) Validate() error {
	var errs error
	if err := validator.New().Struct(d); err != nil {
		errs = multierror.Append(errs, err)
	}

	pillars := map[string]bool{}
	categories := map[string]bool{}
	questions := map[string]bool{}
	for _, p := range d.Pillars {
		if pillars[p.ID] {
			errs = multierror.Append(errs, fmt.Errorf("duplicate pillar %q", p.ID))
		}
		pillars[p.ID] = true
		for _, c := range p.Categories {
			if categories[c.ID] {
				errs = multierror.Append(errs, fmt.Errorf("duplicate category %q", c.ID))
			}
			categories[c.ID] = true
			for _, q := range c.Questions {
				if questions[q.ID] {
					errs = multierror.Append(errs, fmt.Errorf("duplicate question %q", q.ID))
				}
				questions[q.ID] = true
				if err := validateOptions(q); err != nil {
					errs = multierror.Append(errs, err)
				}
			}
		}
	}
	return errs
}

func validateOptions(q models.QuestionDefinition) error {
	if q.Type != models.QuestionCustomized {
		if len(q.Options) > 0 || q.MultipleChoice {
			return fmt.Errorf("question %q: options are only allowed on %s questions", q.ID, models.QuestionCustomized)
		}
		return nil
	}
	if len(q.Options) == 0 {
		return fmt.Errorf("question %q: %s question needs options", q.ID, models.QuestionCustomized)
	}
	seen := map[string]bool{}
	for _, o := range q.Options {
		if seen[o.ID] {
			return fmt.Errorf("question %q: duplicate option %q", q.ID, o.ID)
		}
		if strings.Contains(o.ID, ",") {
			return fmt.Errorf("question %q: option id %q must not contain a comma", q.ID, o.ID)
		}
		seen[o.ID] = true
	}
	return nil
}

// Build turns a definition into the matrix and its question records. Question
// placement is taken from where each question sits in the file.
func (d *Definition) Build(updatedAt time.Time) (*models.Matrix, []*models.QuestionDefinition) {
	m := &models.Matrix{
		ID:                 d.ID,
		TenantID:           d.TenantID,
		PerformanceCycleID: d.PerformanceCycleID,
		Name:               d.Name,
		TeamIDs:            append([]string(nil), d.Teams...),
		Pillars:            make([]models.Pillar, 0, len(d.Pillars)),
		UpdatedAt:          updatedAt.UTC(),
	}
	var questions []*models.QuestionDefinition
	for _, p := range d.Pillars {
		pillar := models.Pillar{ID: p.ID, Name: p.Name, Categories: make([]models.Category, 0, len(p.Categories))}
		for _, c := range p.Categories {
			category := models.Category{ID: c.ID, Name: c.Name, QuestionIDs: make([]string, 0, len(c.Questions))}
			for _, q := range c.Questions {
				q.MatrixID = d.ID
				q.PillarID = p.ID
				q.CategoryID = c.ID
				questions = append(questions, &q)
				category.QuestionIDs = append(category.QuestionIDs, q.ID)
			}
			pillar.Categories = append(pillar.Categories, category)
		}
		m.Pillars = append(m.Pillars, pillar)
	}
	return m, questions
}

// Import validates d and replaces the stored matrix and its questions in one write.
func Import(ctx context.Context, w Writer, d *Definition, now time.Time) (*models.Matrix, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matrix %s: %w", d.ID, err)
	}
	m, questions := d.Build(now)
	if err := w.ReplaceMatrix(ctx, m, questions); err != nil {
		return nil, fmt.Errorf("import matrix %s: %w", d.ID, err)
	}
	return m, nil
}
