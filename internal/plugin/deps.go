// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package plugin

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// Dependency is one parsed Depends entry: a plugin name optionally followed
// by a version constraint, e.g. "Economy" or "Economy >= 1.2".
type Dependency struct {
	Name       string
	Constraint *semver.Constraints
	raw        string
}

func (d Dependency) String() string { return d.raw }

// ParseDependency parses a Depends entry.
func ParseDependency(entry string) (Dependency, error) {
	entry = strings.TrimSpace(entry)
	name, rest, _ := strings.Cut(entry, " ")
	if name == "" {
		return Dependency{}, oops.In("plugin").Code("INVALID_DESCRIPTOR").
			With("dependency", entry).
			Errorf("empty dependency name")
	}
	dep := Dependency{Name: name, raw: entry}
	if rest = strings.TrimSpace(rest); rest != "" {
		c, err := semver.NewConstraint(rest)
		if err != nil {
			return Dependency{}, oops.In("plugin").Code("INVALID_DESCRIPTOR").
				With("dependency", entry).
				Wrapf(err, "invalid version constraint")
		}
		dep.Constraint = c
	}
	return dep, nil
}

// SatisfiedBy reports whether p fulfils the dependency.
func (d Dependency) SatisfiedBy(p *Plugin) bool {
	if p == nil || p.Name != d.Name {
		return false
	}
	if d.Constraint == nil {
		return true
	}
	v, err := semver.NewVersion(strconv.FormatFloat(p.Descriptor.Version, 'f', -1, 64))
	if err != nil {
		return false
	}
	return d.Constraint.Check(v)
}

func parseDependencies(entries []string) ([]Dependency, error) {
	deps := make([]Dependency, 0, len(entries))
	for _, entry := range entries {
		dep, err := ParseDependency(entry)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// unmet returns the first dependency of p not satisfied by lookup, where
// lookup yields nil for plugins that are absent or excluded.
func unmet(p *Plugin, lookup func(name string) *Plugin) (Dependency, bool) {
	for _, dep := range p.Depends {
		if !dep.SatisfiedBy(lookup(dep.Name)) {
			return dep, true
		}
	}
	return Dependency{}, false
}
