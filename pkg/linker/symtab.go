package linker

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ksco/cfgld/pkg/config"
	"github.com/ksco/cfgld/pkg/utils"
)

// SymbolTable maps global names to their winning definition. Symbols keeps
// first-seen order so that output stays deterministic.
type SymbolTable struct {
	SymbolMap map[string]*Symbol
	Symbols   []*Symbol
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{SymbolMap: make(map[string]*Symbol)}
}

func (t *SymbolTable) GetSymbolByName(name string) *Symbol {
	if sym, ok := t.SymbolMap[name]; ok {
		return sym
	}
	sym := NewSymbol(name)
	t.SymbolMap[name] = sym
	t.Symbols = append(t.Symbols, sym)
	return sym
}

// Lookup returns nil for names nothing mentioned.
func (t *SymbolTable) Lookup(name string) *Symbol {
	return t.SymbolMap[name]
}

// Defined returns the defined globals in first-seen order.
func (t *SymbolTable) Defined() []*Symbol {
	syms := make([]*Symbol, 0, len(t.Symbols))
	for _, sym := range t.Symbols {
		if sym.IsDefined() {
			syms = append(syms, sym)
		}
	}
	return syms
}

// ResolveSymbols builds the global symbol table from objs (command-line
// order) and returns it with the objects that take part in the link. Lazy
// archive members join only when they define a symbol a live object needs.
// Every conflict and missing definition found is reported in one error.
func ResolveSymbols(objs []*ObjectFile, cfg *config.Config) (*SymbolTable, []*ObjectFile, error) {
	table := NewSymbolTable()
	for _, file := range objs {
		file.BindSymbols(table)
	}

	synthetic := utils.NewMapSet(cfg.BoundarySymbols()...)
	entry := cfg.Output.Entry

	for _, file := range objs {
		file.ResolveSymbols()
	}

	MarkLiveObjects(objs, table, synthetic, entry)

	for _, file := range objs {
		file.ClearSymbols()
	}

	live := utils.RemoveIf[*ObjectFile](append([]*ObjectFile(nil), objs...), func(file *ObjectFile) bool {
		return !file.IsAlive
	})

	var errs error
	for _, file := range live {
		errs = multierr.Append(errs, file.ClaimSymbols())
	}

	for _, name := range cfg.BoundarySymbols() {
		sym := table.GetSymbolByName(name)
		if sym.IsDefined() && !sym.IsWeak {
			errs = multierr.Append(errs, &LinkError{
				Kind:   KindMultipleDefinition,
				Symbol: name,
				File:   sym.Location(),
				Other:  "linker configuration",
			})
			continue
		}
		sym.defineSynthetic()
	}

	allowed := utils.NewMapSet(cfg.Output.AllowUndefined...)
	reported := utils.NewMapSet[string]()
	zero := make([]*Symbol, 0)

	for _, file := range live {
		for i := file.FirstGlobal; i < int64(len(file.ElfSyms)); i++ {
			esym := &file.ElfSyms[i]
			sym := file.Symbols[i]
			if esym.IsDefined() || sym.IsDefined() {
				continue
			}

			if esym.IsUndefWeak() || allowed.Contains(sym.Name) {
				zero = append(zero, sym)
				continue
			}

			if reported.Contains(sym.Name) {
				continue
			}
			reported.Add(sym.Name)
			errs = multierr.Append(errs, &LinkError{
				Kind:   KindUndefinedSymbol,
				Symbol: sym.Name,
				File:   file.File.Name,
			})
		}
	}

	if sym := table.Lookup(entry); (sym == nil || !sym.IsDefined()) && !reported.Contains(entry) {
		errs = multierr.Append(errs, &LinkError{
			Kind:   KindUndefinedSymbol,
			Symbol: entry,
			Detail: "entry symbol is not defined",
		})
	}

	if errs != nil {
		return nil, nil, errs
	}

	for _, sym := range zero {
		if !sym.IsDefined() && !sym.IsAbs {
			Logger().Debug("undefined symbol resolves to zero", zap.String("symbol", sym.Name))
			sym.defineZero()
		}
	}

	Logger().Debug("resolved symbols",
		zap.Int("objects", len(live)),
		zap.Int("lazy_dropped", len(objs)-len(live)),
		zap.Int("globals", len(table.Symbols)))
	return table, live, nil
}

// MarkLiveObjects walks undefined references from the live objects (and the
// entry symbol) and revives the archive members that define them.
func MarkLiveObjects(objs []*ObjectFile, table *SymbolTable, skip utils.MapSet[string], entry string) {
	roots := make([]*ObjectFile, 0)
	for _, file := range objs {
		if file.IsAlive {
			roots = append(roots, file)
		}
	}

	if sym := table.Lookup(entry); sym != nil && sym.File != nil && !sym.File.SwapIsAlive(true) {
		roots = append(roots, sym.File)
	}

	for len(roots) > 0 {
		file := roots[0]
		roots = roots[1:]
		file.MarkLiveObjects(skip, func(o *ObjectFile) {
			Logger().Debug("loading archive member", zap.String("member", o.File.Name))
			roots = append(roots, o)
		})
	}
}

// ClaimSymbols records the object's global definitions in strict mode: a
// strong definition replaces a weak one, two strong ones conflict.
func (o *ObjectFile) ClaimSymbols() error {
	var errs error
	for i := o.FirstGlobal; i < int64(len(o.ElfSyms)); i++ {
		esym := &o.ElfSyms[i]
		if !esym.IsDefined() {
			continue
		}

		var isec *InputSection
		if !esym.IsAbs() {
			isec = o.GetSection(esym, i)
			if isec == nil {
				continue
			}
		}

		sym := o.Symbols[i]
		switch {
		case !sym.IsDefined():
			sym.define(o, i, isec)
		case esym.IsWeak():
			// The existing definition stays.
		case sym.IsWeak:
			sym.define(o, i, isec)
		default:
			errs = multierr.Append(errs, &LinkError{
				Kind:   KindMultipleDefinition,
				Symbol: sym.Name,
				File:   o.File.Name,
				Other:  sym.Location(),
			})
		}
	}
	return errs
}
