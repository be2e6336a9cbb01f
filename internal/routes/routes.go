// Package routes holds the static classification of URL path prefixes into
// protected, auth-only and public categories. The table is configuration: it
// is loaded from YAML, validated at startup and exposed read-only.
package routes

import (
	"path"
	"sort"
	"strings"
)

// Category is the access class of a path prefix.
type Category string

const (
	CategoryProtected    Category = "protected"
	CategoryAuthOnly     Category = "auth-only"
	CategoryPublic       Category = "public"
	CategoryUnclassified Category = "unclassified"
)

// Rule classifies every path at or below Prefix.
type Rule struct {
	Prefix   string   `yaml:"prefix" json:"prefix" validate:"required,startswith=/"`
	Category Category `yaml:"category" json:"category" validate:"required,oneof=protected auth-only public"`
	// RequiresCompleteProfile only applies to protected rules. Nil means true.
	RequiresCompleteProfile *bool `yaml:"requires_complete_profile,omitempty" json:"requires_complete_profile,omitempty"`
}

func (r Rule) requiresComplete() bool {
	if r.Category != CategoryProtected {
		return false
	}
	return r.RequiresCompleteProfile == nil || *r.RequiresCompleteProfile
}

// Match is the result of classifying a single path.
type Match struct {
	Path                    string
	Prefix                  string
	Category                Category
	RequiresCompleteProfile bool
}

// Table is an immutable route classification.
type Table struct {
	rules      []Rule
	login      string
	onboarding string
	feed       string
	landing    string
}

// Classify returns the category of p. The longest matching prefix wins;
// paths matching no rule are unclassified and treated as public by callers.
func (t *Table) Classify(p string) Match {
	clean := Normalize(p)
	for _, r := range t.rules {
		if hasPrefix(clean, r.Prefix) {
			return Match{
				Path:                    clean,
				Prefix:                  r.Prefix,
				Category:                r.Category,
				RequiresCompleteProfile: r.requiresComplete() && !t.IsOnboarding(clean),
			}
		}
	}
	return Match{Path: clean, Category: CategoryUnclassified}
}

// IsOnboarding reports whether p is the onboarding route or one of its steps.
func (t *Table) IsOnboarding(p string) bool {
	return hasPrefix(Normalize(p), t.onboarding)
}

func (t *Table) LoginPath() string      { return t.login }
func (t *Table) OnboardingPath() string { return t.onboarding }
func (t *Table) FeedPath() string       { return t.feed }
func (t *Table) LandingPath() string    { return t.landing }

// Rules returns a copy of the rules, longest prefix first.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Normalize cleans a request path so that "/feed/", "/feed/." and "//feed"
// classify the same way as "/feed".
func Normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// hasPrefix is segment-aware: "/feed" matches "/feed" and "/feed/42" but not
// "/feedback". The root prefix only matches the root itself.
func hasPrefix(p, prefix string) bool {
	if prefix == "/" {
		return p == "/"
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func newTable(rules []Rule, login, onboarding, feed, landing string) *Table {
	sorted := make([]Rule, len(rules))
	for i, r := range rules {
		r.Prefix = Normalize(r.Prefix)
		sorted[i] = r
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Table{
		rules:      sorted,
		login:      Normalize(login),
		onboarding: Normalize(onboarding),
		feed:       Normalize(feed),
		landing:    Normalize(landing),
	}
}

// Default returns the built-in classification.
func Default() *Table {
	t, err := Build(DefaultFile())
	if err != nil {
		panic("routes: invalid built-in table: " + err.Error())
	}
	return t
}

// DefaultFile returns the built-in classification in its file form.
func DefaultFile() File {
	return File{
		Login:      "/login",
		Onboarding: "/onboarding",
		Feed:       "/feed",
		Landing:    "/",
		Routes: []Rule{
			{Prefix: "/feed", Category: CategoryProtected},
			{Prefix: "/profile", Category: CategoryProtected},
			{Prefix: "/onboarding", Category: CategoryProtected},
			{Prefix: "/members", Category: CategoryProtected},
			{Prefix: "/login", Category: CategoryAuthOnly},
			{Prefix: "/sign-up", Category: CategoryAuthOnly},
			{Prefix: "/forgot-password", Category: CategoryAuthOnly},
			{Prefix: "/", Category: CategoryPublic},
			{Prefix: "/about", Category: CategoryPublic},
			{Prefix: "/contact", Category: CategoryPublic},
		},
	}
}
