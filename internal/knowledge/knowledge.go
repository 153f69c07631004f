// Package knowledge loads versioned trading-knowledge templates: static,
// human-curated guidance per strategy that agents read through the
// get_trading_knowledge tool and the learner cites in lessons.
package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// SchemaVersion is the template schema this build understands. Templates
// with a newer major version are rejected; newer minors within the same
// major are additive and accepted.
const SchemaVersion = "1.0.0"

// Template is one strategy's curated trading guidance.
type Template struct {
	Strategy      string    `yaml:"strategy" json:"strategy"`
	SchemaVersion string    `yaml:"schema_version,omitempty" json:"schema_version"`
	Title         string    `yaml:"title" json:"title"`
	Guidance      []string  `yaml:"guidance" json:"guidance"`
	RiskNotes     []string  `yaml:"risk_notes,omitempty" json:"risk_notes,omitempty"`
	UpdatedAt     time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Validate checks the template's required fields.
func (t *Template) Validate() error {
	if t.Strategy == "" {
		return fmt.Errorf("knowledge template missing strategy name")
	}
	if t.Title == "" {
		return fmt.Errorf("knowledge template %s missing title", t.Strategy)
	}
	if len(t.Guidance) == 0 {
		return fmt.Errorf("knowledge template %s has no guidance", t.Strategy)
	}
	return nil
}

// File is the on-disk shape of configs/knowledge.yaml. The file-level
// schema version applies to every template that does not set its own.
type File struct {
	SchemaVersion string     `yaml:"schema_version"`
	Templates     []Template `yaml:"templates"`
}

// ParseFile decodes and gates a knowledge YAML document. Each returned
// template carries its effective schema version and passes Validate.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge file: %w", err)
	}
	if f.SchemaVersion == "" {
		return nil, fmt.Errorf("knowledge file missing schema_version")
	}
	if err := CheckCompatibility(f.SchemaVersion); err != nil {
		return nil, err
	}

	for i := range f.Templates {
		t := &f.Templates[i]
		if t.SchemaVersion == "" {
			t.SchemaVersion = f.SchemaVersion
		} else if err := CheckCompatibility(t.SchemaVersion); err != nil {
			return nil, fmt.Errorf("template %s: %w", t.Strategy, err)
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// CheckCompatibility rejects schema versions with a newer major than this
// build supports. Short versions like "1.0" are tolerated.
func CheckCompatibility(version string) error {
	v, err := parseVersion(version)
	if err != nil {
		return err
	}
	supported := semver.MustParse(SchemaVersion)
	if v.Major() > supported.Major() {
		return fmt.Errorf("knowledge schema version %s is newer than supported %s", version, SchemaVersion)
	}
	return nil
}

func parseVersion(version string) (*semver.Version, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		// Tolerate short "1.0" style versions.
		v, err = semver.NewVersion(version + ".0")
		if err != nil {
			return nil, fmt.Errorf("invalid knowledge schema version %q", version)
		}
	}
	return v, nil
}

// TemplateStore persists knowledge templates. The Postgres implementation
// lives in internal/store.
type TemplateStore interface {
	UpsertTemplate(ctx context.Context, t *Template) error
	FindTemplate(ctx context.Context, strategy string) (*Template, error)
	ListTemplates(ctx context.Context) ([]*Template, error)
}
