// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package bridge

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// PolicyConfig lists the type-name rules enforced by a Policy.
type PolicyConfig struct {
	// Deny holds glob patterns matched against full type names. An entry
	// without glob metacharacters matches as a substring.
	Deny []string `koanf:"policy-deny"`
	// AllowCore lists standard library roots scripts may reach
	// (e.g. "container" for collections, "reflect" for reflection).
	AllowCore []string `koanf:"policy-allow-core"`
	// HostModules lists package path prefixes belonging to the host
	// application. They are never treated as core runtime packages.
	HostModules []string `koanf:"policy-host-module"`
}

// DefaultPolicyConfig returns the rules used when nothing is configured.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Deny:      []string{"LState", "unsafe"},
		AllowCore: []string{"container", "reflect"},
	}
}

type compiledDeny struct {
	pattern string
	glob    glob.Glob
}

// Policy decides which type names scripts may resolve.
//
// The check is a name heuristic. It is advisory and is not a sandbox
// boundary: anything registered and allowed is fully reachable.
type Policy struct {
	deny        []compiledDeny
	allowCore   map[string]struct{}
	hostModules []string
}

// NewPolicy compiles cfg. Invalid glob patterns are reported with their index.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	p := &Policy{
		deny:      make([]compiledDeny, 0, len(cfg.Deny)),
		allowCore: make(map[string]struct{}, len(cfg.AllowCore)),
	}
	for i, pattern := range cfg.Deny {
		if pattern == "" {
			return nil, oops.In("bridge").Code("POLICY_INVALID").With("index", i).Errorf("empty deny pattern")
		}
		expr := pattern
		if !strings.ContainsAny(pattern, "*?[{") {
			expr = "*" + pattern + "*"
		}
		g, err := glob.Compile(expr)
		if err != nil {
			return nil, oops.In("bridge").Code("POLICY_INVALID").With("index", i).With("pattern", pattern).Wrap(err)
		}
		p.deny = append(p.deny, compiledDeny{pattern: pattern, glob: g})
	}
	for _, root := range cfg.AllowCore {
		p.allowCore[root] = struct{}{}
	}
	p.hostModules = append(p.hostModules, cfg.HostModules...)
	return p, nil
}

// Check returns a TYPE_BLOCKED error when name may not be exposed to scripts.
func (p *Policy) Check(name string) error {
	for _, d := range p.deny {
		if d.glob.Match(name) {
			return oops.In("bridge").Code("TYPE_BLOCKED").
				With("type", name).
				With("pattern", d.pattern).
				Errorf("type %q is denied", name)
		}
	}

	pkg := packageOf(name)
	if pkg == "" || p.isHostModule(pkg) {
		return nil
	}
	root, _, _ := strings.Cut(pkg, "/")
	if strings.Contains(root, ".") {
		return nil
	}
	if _, ok := p.allowCore[root]; ok {
		return nil
	}
	return oops.In("bridge").Code("TYPE_BLOCKED").
		With("type", name).
		With("package", pkg).
		Errorf("type %q belongs to a core runtime package", name)
}

func (p *Policy) isHostModule(pkg string) bool {
	for _, prefix := range p.hostModules {
		if pkg == prefix || strings.HasPrefix(pkg, prefix+"/") {
			return true
		}
	}
	return false
}

// packageOf returns the package path of a full type name, or "" for
// builtins and composite spellings such as "[]int" or "map[string]int".
func packageOf(name string) string {
	if name == "" || strings.ContainsAny(name[:1], "[*(") || strings.HasPrefix(name, "map[") ||
		strings.HasPrefix(name, "func(") || strings.HasPrefix(name, "chan ") {
		return ""
	}
	idx := strings.LastIndex(name, ".")
	if idx <= 0 {
		return ""
	}
	return name[:idx]
}
