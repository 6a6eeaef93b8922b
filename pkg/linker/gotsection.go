package linker

import (
	"debug/elf"
	"fmt"

	"go.uber.org/zap"

	"github.com/ksco/cfgld/pkg/config"
	"github.com/ksco/cfgld/pkg/utils"
)

// GotSection holds one address slot for every symbol that code reaches
// through R_RISCV_GOT_HI20.
type GotSection struct {
	Chunk
	GotSyms []*Symbol
}

func NewGotSection() *GotSection {
	g := &GotSection{Chunk: NewChunk()}
	g.Name = ".got"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	return g
}

func (g *GotSection) AddGotSymbol(sym *Symbol) {
	if _, ok := g.SlotAddr(sym); ok {
		return
	}
	sym.GotIdx = int32(len(g.GotSyms))
	g.Shdr.Size += 8
	g.GotSyms = append(g.GotSyms, sym)
}

// SlotAddr returns the address of sym's slot. A nil section has no slots.
func (g *GotSection) SlotAddr(sym *Symbol) (uint64, bool) {
	if g == nil || sym.GotIdx < 0 || int(sym.GotIdx) >= len(g.GotSyms) || g.GotSyms[sym.GotIdx] != sym {
		return 0, false
	}
	return g.Shdr.Addr + uint64(sym.GotIdx)*8, true
}

func (g *GotSection) GetEntries() []GotEntry {
	entries := make([]GotEntry, 0, len(g.GotSyms))
	for _, sym := range g.GotSyms {
		entries = append(entries, NewGotEntry(int64(sym.GotIdx), sym.Addr, sym))
	}
	return entries
}

func (g *GotSection) CopyBuf(img *LinkImage) {
	buf := img.Buf[g.Shdr.Offset:]
	for _, ent := range g.GetEntries() {
		utils.Write[uint64](buf[ent.Idx*8:], ent.Val)
	}
}

// ScanRelocations gives every symbol referenced through R_RISCV_GOT_HI20 a
// slot and places the GOT on a fresh page after the last output section.
// It returns nil when no relocation needs one.
func ScanRelocations(cfg *config.Config, osecs []*OutputSection) *GotSection {
	got := NewGotSection()
	for _, osec := range osecs {
		for _, isec := range osec.Members {
			for _, rel := range isec.Rels {
				if elf.R_RISCV(rel.Type) == elf.R_RISCV_GOT_HI20 {
					got.AddGotSymbol(isec.File.Symbols[rel.Sym])
				}
			}
		}
	}
	if len(got.GotSyms) == 0 {
		return nil
	}

	end := BaseAddress(cfg)
	for _, osec := range osecs {
		end = max(end, osec.Shdr.Addr+osec.Shdr.Size)
	}
	got.Shdr.Addr = utils.AlignTo(end, LoadAlignment(cfg))

	Logger().Debug("global offset table",
		zap.Int("slots", len(got.GotSyms)),
		zap.String("addr", fmt.Sprintf("%#x", got.Shdr.Addr)))
	return got
}
