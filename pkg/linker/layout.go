package linker

import (
	"fmt"

	"github.com/gobwas/glob"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ksco/cfgld/pkg/config"
	"github.com/ksco/cfgld/pkg/utils"
)

type sectionMatcher struct {
	patterns []glob.Glob
}

func newSectionMatcher(patterns []string) (*sectionMatcher, error) {
	m := &sectionMatcher{}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, &LinkError{
				Kind:   KindInvalidConfig,
				Detail: fmt.Sprintf("bad section pattern %q", pattern),
				Cause:  err,
			}
		}
		m.patterns = append(m.patterns, g)
	}
	return m, nil
}

func (m *sectionMatcher) Match(name string) bool {
	for _, g := range m.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// BaseAddress is where the first output section is placed.
func BaseAddress(cfg *config.Config) uint64 {
	if cfg.Output.BaseAddress != nil {
		return *cfg.Output.BaseAddress
	}
	if cfg.Output.DynamicRelocation {
		return 0
	}
	return ImageBase
}

// LoadAlignment is the alignment of every segment start.
func LoadAlignment(cfg *config.Config) uint64 {
	if cfg.Output.Alignment == 0 {
		return config.DefaultLoadAlignment
	}
	return cfg.Output.Alignment
}

func checkAlignment(align uint64) bool {
	return align == 0 || utils.HasSingleBit(align)
}

// Layout groups the allocatable sections of objs into one output section per
// rule, assigns addresses, moves the section bytes into the output sections
// and resolves every symbol's final address.
func Layout(cfg *config.Config, objs []*ObjectFile, table *SymbolTable) ([]*OutputSection, error) {
	loadAlign := LoadAlignment(cfg)
	if !utils.HasSingleBit(loadAlign) {
		return nil, &LinkError{
			Kind:   KindInvalidAlignment,
			Detail: fmt.Sprintf("load alignment %d is not a power of two", loadAlign),
		}
	}

	matchers := make([]*sectionMatcher, len(cfg.Sections))
	for i := range cfg.Sections {
		rule := &cfg.Sections[i]
		if !checkAlignment(rule.Alignment) {
			return nil, &LinkError{
				Kind:    KindInvalidAlignment,
				Section: rule.Name,
				Detail:  fmt.Sprintf("alignment %d is not a power of two", rule.Alignment),
			}
		}

		m, err := newSectionMatcher(rule.Include)
		if err != nil {
			return nil, err
		}
		matchers[i] = m
	}

	discard, err := newSectionMatcher(cfg.Output.Discard)
	if err != nil {
		return nil, err
	}

	osecs, err := BinSections(cfg, objs, matchers, discard)
	if err != nil {
		return nil, err
	}

	for _, osec := range osecs {
		osec.ComputeSectionSize()
	}

	SetOsecAddresses(osecs, BaseAddress(cfg), loadAlign)

	for _, osec := range osecs {
		osec.CollectContents()
		Logger().Debug("output section",
			zap.String("section", osec.Name),
			zap.Int("members", len(osec.Members)),
			zap.String("addr", fmt.Sprintf("%#x", osec.Shdr.Addr)),
			zap.Uint64("size", osec.Shdr.Size),
			zap.Uint64("align", osec.Shdr.AddrAlign))
	}

	FixSyntheticSymbols(cfg, osecs, table)
	ResolveAddresses(objs, table)
	return osecs, nil
}

// BinSections hands every allocatable section to the first rule (in
// declared order) with a matching pattern. Objects are scanned in
// command-line order and sections in index order, so members keep their
// encounter order.
func BinSections(cfg *config.Config, objs []*ObjectFile,
	matchers []*sectionMatcher, discard *sectionMatcher) ([]*OutputSection, error) {
	osecs := make([]*OutputSection, 0, len(cfg.Sections))

	var errs error
	for i := range cfg.Sections {
		osec := NewOutputSection(&cfg.Sections[i], uint32(i))
		osecs = append(osecs, osec)

		for _, file := range objs {
			for _, isec := range file.Sections {
				if isec == nil || !isec.IsAlive || !isec.IsAlloc() || isec.OutputSection != nil {
					continue
				}
				if !matchers[i].Match(isec.Name) {
					continue
				}

				if !checkAlignment(isec.AddrAlign) {
					errs = multierr.Append(errs, &LinkError{
						Kind:    KindInvalidAlignment,
						Section: isec.Name,
						File:    file.File.Name,
						Detail:  fmt.Sprintf("alignment %d is not a power of two", isec.AddrAlign),
					})
					continue
				}

				isec.OutputSection = osec
				osec.Members = append(osec.Members, isec)
			}
		}
	}

	for _, file := range objs {
		for _, isec := range file.Sections {
			if isec == nil || !isec.IsAlive || !isec.IsAlloc() || isec.OutputSection != nil {
				continue
			}

			if discard.Match(isec.Name) || isec.ShSize == 0 {
				Logger().Debug("discarding section",
					zap.String("section", isec.Name), zap.String("file", file.File.Name))
				isec.IsAlive = false
				continue
			}

			errs = multierr.Append(errs, &LinkError{
				Kind:    KindUnmatchedSection,
				Section: isec.Name,
				File:    file.File.Name,
				Detail:  "no section rule includes it",
			})
		}
	}

	if errs != nil {
		return nil, errs
	}
	return osecs, nil
}

// SetOsecAddresses places output sections back to back from base. The first
// non-empty section and every change of permissions start a new segment,
// which is aligned to the load alignment as well.
func SetOsecAddresses(osecs []*OutputSection, base uint64, loadAlign uint64) {
	addr := base
	first := true
	var perm uint32

	for _, osec := range osecs {
		align := osec.Shdr.AddrAlign
		if osec.Shdr.Size > 0 {
			if first || osec.Perm() != perm {
				align = max(align, loadAlign)
			}
			first = false
			perm = osec.Perm()
		}

		addr = utils.AlignTo(addr, align)
		osec.Shdr.Addr = addr
		addr += osec.Shdr.Size
	}
}

// FixSyntheticSymbols binds each rule's start and end symbols to its output
// section.
func FixSyntheticSymbols(cfg *config.Config, osecs []*OutputSection, table *SymbolTable) {
	for _, osec := range osecs {
		if name := osec.Rule.StartSymbol; name != "" {
			if sym := table.Lookup(name); sym != nil && sym.IsSynthetic {
				sym.SetOutputSection(osec)
				sym.Value = 0
			}
		}
		if name := osec.Rule.EndSymbol; name != "" {
			if sym := table.Lookup(name); sym != nil && sym.IsSynthetic {
				sym.SetOutputSection(osec)
				sym.Value = osec.Shdr.Size
			}
		}
	}
}

// ResolveAddresses computes the final address of every symbol the live
// objects define, local or global, and of every linker-defined symbol.
// Symbols in sections that were not placed stay unresolved.
func ResolveAddresses(objs []*ObjectFile, table *SymbolTable) {
	unresolved := 0
	for _, file := range objs {
		for i := range file.LocalSyms {
			if !file.LocalSyms[i].Resolve() {
				unresolved++
			}
		}
	}

	for _, sym := range table.Symbols {
		if sym.IsDefined() || sym.IsAbs {
			if !sym.Resolve() {
				unresolved++
			}
		}
	}

	Logger().Debug("assigned symbol addresses", zap.Int("unresolved", unresolved))
}
