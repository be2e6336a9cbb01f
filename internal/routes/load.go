package routes

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	dErrors "profilegate/pkg/domain-errors"
)

// File is the on-disk form of the route table.
type File struct {
	Login      string `yaml:"login" json:"login" validate:"required,startswith=/"`
	Onboarding string `yaml:"onboarding" json:"onboarding" validate:"required,startswith=/"`
	Feed       string `yaml:"feed" json:"feed" validate:"required,startswith=/"`
	Landing    string `yaml:"landing" json:"landing" validate:"required,startswith=/"`
	Routes     []Rule `yaml:"routes" json:"routes" validate:"required,min=1,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFile reads and validates a YAML route table from disk.
func LoadFile(name string) (*Table, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open route table: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a YAML route table.
func Load(r io.Reader) (*Table, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "route table is empty")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "decode route table")
	}
	return Build(file)
}

// Build validates a route table and compiles it for matching.
func Build(file File) (*Table, error) {
	if err := validate.Struct(file); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid route table: "+err.Error())
	}
	t := newTable(file.Routes, file.Login, file.Onboarding, file.Feed, file.Landing)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the invariants that keep the policy loop-free: no prefix is
// claimed by two rules, the login page is reachable without a session, and
// the onboarding and feed pages are protected.
func (t *Table) Validate() error {
	seen := make(map[string]Category, len(t.rules))
	for _, r := range t.rules {
		if prev, ok := seen[r.Prefix]; ok {
			return violation("prefix %q classified twice (%s, %s)", r.Prefix, prev, r.Category)
		}
		seen[r.Prefix] = r.Category
	}

	if c := t.Classify(t.login).Category; c == CategoryProtected {
		return violation("login route %q must not be protected", t.login)
	}
	if c := t.Classify(t.onboarding).Category; c != CategoryProtected {
		return violation("onboarding route %q must be protected, got %s", t.onboarding, c)
	}
	if c := t.Classify(t.feed).Category; c != CategoryProtected {
		return violation("feed route %q must be protected, got %s", t.feed, c)
	}
	if t.IsOnboarding(t.feed) {
		return violation("feed route %q must not live under onboarding", t.feed)
	}
	if c := t.Classify(t.landing).Category; c == CategoryProtected || c == CategoryAuthOnly {
		return violation("landing route %q must be public, got %s", t.landing, c)
	}
	return nil
}

func violation(format string, args ...any) error {
	return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("route table: "+format, args...))
}
