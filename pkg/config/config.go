// Package config describes how a link is laid out: the output block (entry
// symbol, load alignment, position-independent output) and the ordered list
// of section rules that group input sections into output sections.
//
// A configuration is normally read from a TOML file:
//
//	[output]
//	entry = "_start"
//	alignment = 4096
//
//	[[section]]
//	name = ".text"
//	include = [".text.init", ".text*"]
//	alignment = 16
//
// YAML files (.yaml, .yml) with the same keys are accepted as well.
package config

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

const (
	DefaultEntry         = "_start"
	DefaultLoadAlignment = 4096
)

var DefaultDiscard = []string{".eh_frame*"}

type Config struct {
	Output   Output        `toml:"output" yaml:"output"`
	Sections []SectionRule `toml:"section" yaml:"section"`
}

type Output struct {
	Entry             string `toml:"entry" yaml:"entry"`
	Alignment         uint64 `toml:"alignment" yaml:"alignment"`
	DynamicRelocation bool   `toml:"dynamic_relocation" yaml:"dynamic_relocation"`

	// BaseAddress overrides the address of the first output section.
	BaseAddress *uint64 `toml:"base_address" yaml:"base_address"`

	// AllowUndefined lists symbols that may stay undefined; they resolve to 0.
	AllowUndefined []string `toml:"allow_undefined" yaml:"allow_undefined"`

	// Discard lists globs of allocatable input sections dropped from the link.
	Discard []string `toml:"discard" yaml:"discard"`
}

// SectionRule groups every input section whose name matches one of Include
// into the output section Name.
type SectionRule struct {
	Name        string   `toml:"name" yaml:"name"`
	Include     []string `toml:"include" yaml:"include"`
	Alignment   uint64   `toml:"alignment" yaml:"alignment"`
	StartSymbol string   `toml:"start_symbol" yaml:"start_symbol"`
	EndSymbol   string   `toml:"end_symbol" yaml:"end_symbol"`
}

// BoundarySymbols returns the synthetic symbols the rules define, in rule
// order, start before end.
func (c *Config) BoundarySymbols() []string {
	names := make([]string, 0)
	for _, rule := range c.Sections {
		if rule.StartSymbol != "" {
			names = append(names, rule.StartSymbol)
		}
		if rule.EndSymbol != "" {
			names = append(names, rule.EndSymbol)
		}
	}
	return names
}

// Normalize fills in defaults. Alignment values are left as given apart from
// zero; power-of-two checks belong to layout.
func (c *Config) Normalize() {
	if c.Output.Entry == "" {
		c.Output.Entry = DefaultEntry
	}
	if c.Output.Alignment == 0 {
		c.Output.Alignment = DefaultLoadAlignment
	}
	if c.Output.Discard == nil {
		c.Output.Discard = append([]string(nil), DefaultDiscard...)
	}

	for i := range c.Sections {
		rule := &c.Sections[i]
		rule.Name = strings.TrimSpace(rule.Name)
		if rule.Name != "" && !strings.HasPrefix(rule.Name, ".") {
			rule.Name = "." + rule.Name
		}
		if rule.Alignment == 0 {
			rule.Alignment = 1
		}
	}
}

// Validate checks the structure of a normalized configuration.
func (c *Config) Validate() error {
	if len(c.Sections) == 0 {
		return fmt.Errorf("no section rules")
	}

	names := make(map[string]bool)
	symbols := make(map[string]string)

	claim := func(sym, rule string) error {
		if sym == "" {
			return nil
		}
		if other, ok := symbols[sym]; ok {
			return fmt.Errorf("boundary symbol %s defined by both %s and %s", sym, other, rule)
		}
		symbols[sym] = rule
		return nil
	}

	for i, rule := range c.Sections {
		if rule.Name == "" {
			return fmt.Errorf("section rule %d has no name", i)
		}
		if names[rule.Name] {
			return fmt.Errorf("duplicate section rule %s", rule.Name)
		}
		names[rule.Name] = true

		if len(rule.Include) == 0 {
			return fmt.Errorf("section rule %s has no include patterns", rule.Name)
		}
		for _, pattern := range rule.Include {
			if _, err := glob.Compile(pattern); err != nil {
				return fmt.Errorf("section rule %s: bad pattern %q: %w", rule.Name, pattern, err)
			}
		}

		if err := claim(rule.StartSymbol, rule.Name); err != nil {
			return err
		}
		if err := claim(rule.EndSymbol, rule.Name); err != nil {
			return err
		}
	}

	for _, pattern := range c.Output.Discard {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("bad discard pattern %q: %w", pattern, err)
		}
	}

	return nil
}
