package linker

import (
	"debug/elf"
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ksco/cfgld/pkg/utils"
)

// DynReloc is a load-time fix-up of a position-independent image:
// *(base + Offset) = base + Addend.
type DynReloc struct {
	Offset  uint64
	Addend  int64
	Section Chunker
}

type relocator struct {
	dynamic   bool
	got       *GotSection
	hi20      map[uint64]uint64
	failed    utils.MapSet[uint64]
	dynRelocs []DynReloc
}

// Relocate patches the bytes of every placed input section in place. GOT
// relocations use the slots of got, which may be nil when none occur. In
// dynamic mode it also returns the R_RISCV_RELATIVE fix-ups the image needs,
// sorted by offset. All failures found are reported together.
func Relocate(osecs []*OutputSection, got *GotSection, dynamic bool) ([]DynReloc, error) {
	r := &relocator{
		dynamic: dynamic,
		got:     got,
		hi20:    make(map[uint64]uint64),
		failed:  utils.NewMapSet[uint64](),
	}

	var errs error
	for _, osec := range osecs {
		for _, isec := range osec.Members {
			errs = multierr.Append(errs, r.applySection(isec, false))
		}
	}

	// PCREL_LO12 reads the value of the HI20 it is paired with, so these go
	// after every HI20 has been computed.
	for _, osec := range osecs {
		for _, isec := range osec.Members {
			errs = multierr.Append(errs, r.applySection(isec, true))
		}
	}

	if errs != nil {
		return nil, errs
	}

	if dynamic && got != nil {
		for _, ent := range got.GetEntries() {
			if ent.IsRelative() {
				r.dynRelocs = append(r.dynRelocs, DynReloc{
					Offset:  got.Shdr.Addr + uint64(ent.Idx)*8,
					Addend:  int64(ent.Val),
					Section: got,
				})
			}
		}
	}

	sort.SliceStable(r.dynRelocs, func(i, j int) bool {
		return r.dynRelocs[i].Offset < r.dynRelocs[j].Offset
	})

	Logger().Debug("applied relocations", zap.Int("dynamic", len(r.dynRelocs)))
	return r.dynRelocs, nil
}

func (r *relocator) applySection(isec *InputSection, pairedLo bool) error {
	if len(isec.Rels) == 0 {
		return nil
	}

	file := isec.File
	relocErr := func(kind Kind, sym *Symbol, format string, args ...any) *LinkError {
		e := &LinkError{
			Kind:    kind,
			Section: isec.Name,
			File:    file.File.Name,
			Detail:  fmt.Sprintf(format, args...),
		}
		if sym != nil {
			e.Symbol = sym.Name
		}
		return e
	}

	var base []byte
	if !isec.IsNobits() {
		base = isec.OutputSection.Data[isec.Offset : isec.Offset+isec.ShSize]
	}

	var errs error
	for i := range isec.Rels {
		rel := &isec.Rels[i]
		P := isec.GetAddr() + rel.Offset

		// A failed high part is remembered so that its LO12 does not report
		// a missing pair on top.
		fail := func(e *LinkError) {
			errs = multierr.Append(errs, e)
			if !pairedLo {
				r.failed.Add(P)
			}
		}

		h, ok := lookupHowto(rel.Type)
		if !ok {
			if !pairedLo {
				fail(relocErr(KindUnsupportedRelocation, file.Symbols[rel.Sym],
					"%v at offset %#x", elf.R_RISCV(rel.Type), rel.Offset))
			}
			continue
		}
		if h.class == relocHint || (h.class == relocPCRelLo) != pairedLo {
			continue
		}

		sym := file.Symbols[rel.Sym]

		if isec.IsNobits() {
			fail(relocErr(KindMalformedObject, sym, "%s in a NOBITS section", h.name))
			continue
		}
		if rel.Offset > isec.ShSize || isec.ShSize-rel.Offset < uint64(h.size) {
			fail(relocErr(KindMalformedObject, sym,
				"%s at offset %#x is outside the section (size %#x)", h.name, rel.Offset, isec.ShSize))
			continue
		}

		if !sym.IsResolved {
			fail(relocErr(KindUnresolvedRelocationSymbol, sym, "%s at offset %#x", h.name, rel.Offset))
			continue
		}

		loc := base[rel.Offset:]
		S := sym.Addr
		A := uint64(rel.Addend)

		var val uint64
		switch h.class {
		case relocAbs, relocArith:
			val = S + A
		case relocPCRel:
			val = S + A - P
			if h.branch && isZeroResolved(sym) {
				val = 0
			}
		case relocGot:
			G, ok := r.got.SlotAddr(sym)
			if !ok {
				fail(relocErr(KindUnsupportedRelocation, sym,
					"%s at offset %#x has no GOT slot", h.name, rel.Offset))
				continue
			}
			val = G + A - P
		case relocPCRelLo:
			hi, ok := r.hi20[S]
			if !ok {
				if !r.failed.Contains(S) {
					fail(relocErr(KindMalformedObject, sym,
						"%s at offset %#x has no paired R_RISCV_PCREL_HI20", h.name, rel.Offset))
				}
				continue
			}
			val = hi
		}

		if h.check != nil && !h.check(int64(val)) {
			fail(relocErr(KindRelocationOverflow, sym,
				"%s value %#x out of range at %#x", h.name, val, P))
			continue
		}

		if r.dynamic && isRelocatable(sym) {
			switch {
			case elf.R_RISCV(rel.Type) == elf.R_RISCV_64:
				r.dynRelocs = append(r.dynRelocs, DynReloc{
					Offset:  P,
					Addend:  int64(val),
					Section: isec.OutputSection,
				})
			case h.absolute:
				fail(relocErr(KindUnsupportedRelocation, sym,
					"%s cannot be used in position-independent output; recompile with -fPIC", h.name))
				continue
			}
		}

		h.apply(loc, val)

		if h.pairsLo {
			r.hi20[P] = val
		}
	}
	return errs
}

// isRelocatable reports whether sym moves with the image base.
func isRelocatable(sym *Symbol) bool {
	return sym.IsDefined() && !sym.IsAbs
}

// isZeroResolved reports whether sym is a permitted undefined reference.
func isZeroResolved(sym *Symbol) bool {
	return !sym.IsDefined() && sym.IsAbs
}
