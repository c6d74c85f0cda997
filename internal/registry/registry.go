// Package registry maps (library, version range) pairs to the rule-based
// transformers that cover them.
package registry

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"upshift/internal/rules"
	"upshift/internal/transform"
)

// Factory builds a fresh transformer instance. One instance processes
// exactly one file, so the registry hands out constructors, never
// shared rule sets.
type Factory func() *transform.RuleSet

// Registration declares one transformer's applicability window.
type Registration struct {
	Name      string
	Library   string
	FromRange string // constraint on the version being migrated from
	ToRange   string // constraint on the version being migrated to
	Factory   Factory

	fromConstraint *semver.Constraints
	toConstraint   *semver.Constraints
}

// Registry holds transformer registrations in fixed declared order.
type Registry struct {
	entries []*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Default returns the registry with every built-in rule set registered.
func Default() *Registry {
	r := NewRegistry()

	// Registration order fixes transformer application order per library.
	mustRegister(r, Registration{
		Name:      "pydantic_v2",
		Library:   "pydantic",
		FromRange: "< 2.0.0",
		ToRange:   ">= 2.0.0",
		Factory:   rules.NewPydanticV2Rules,
	})
	mustRegister(r, Registration{
		Name:      "sqlalchemy_20",
		Library:   "sqlalchemy",
		FromRange: "< 2.0.0",
		ToRange:   ">= 2.0.0",
		Factory:   rules.NewSQLAlchemy20Rules,
	})
	mustRegister(r, Registration{
		Name:      "requests_timeout",
		Library:   "requests",
		FromRange: ">= 0.0.0",
		ToRange:   ">= 0.0.0",
		Factory:   rules.NewRequestsTimeoutRules,
	})

	return r
}

// Register adds a transformer registration after validating its ranges.
func (r *Registry) Register(reg Registration) error {
	if reg.Library == "" || reg.Factory == nil {
		return fmt.Errorf("registration needs a library and a factory")
	}

	from, err := semver.NewConstraint(reg.FromRange)
	if err != nil {
		return fmt.Errorf("invalid from range %q: %w", reg.FromRange, err)
	}
	to, err := semver.NewConstraint(reg.ToRange)
	if err != nil {
		return fmt.Errorf("invalid to range %q: %w", reg.ToRange, err)
	}

	reg.fromConstraint = from
	reg.toConstraint = to
	r.entries = append(r.entries, &reg)
	return nil
}

// TransformersFor returns fresh transformer instances applicable to
// migrating library from fromVersion to toVersion, in declared order.
// Unparseable versions select nothing; escalation handles those files.
func (r *Registry) TransformersFor(library, fromVersion, toVersion string) []*transform.RuleSet {
	from, err := semver.NewVersion(fromVersion)
	if err != nil {
		return nil
	}
	to, err := semver.NewVersion(toVersion)
	if err != nil {
		return nil
	}

	var selected []*transform.RuleSet
	for _, reg := range r.entries {
		if !strings.EqualFold(reg.Library, library) {
			continue
		}
		if !reg.fromConstraint.Check(from) || !reg.toConstraint.Check(to) {
			continue
		}
		selected = append(selected, reg.Factory())
	}
	return selected
}

// Libraries returns the distinct registered library names in declared order.
func (r *Registry) Libraries() []string {
	seen := make(map[string]bool)
	var libs []string
	for _, reg := range r.entries {
		key := strings.ToLower(reg.Library)
		if !seen[key] {
			seen[key] = true
			libs = append(libs, reg.Library)
		}
	}
	return libs
}

// Registrations returns the declared registrations for display.
func (r *Registry) Registrations() []Registration {
	out := make([]Registration, 0, len(r.entries))
	for _, reg := range r.entries {
		out = append(out, *reg)
	}
	return out
}

func mustRegister(r *Registry, reg Registration) {
	if err := r.Register(reg); err != nil {
		panic(err)
	}
}
