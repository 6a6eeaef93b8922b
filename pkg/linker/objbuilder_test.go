package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ksco/cfgld/pkg/config"
	"github.com/ksco/cfgld/pkg/utils"
)

// Instruction templates with zero immediates.
const (
	insnNop       uint32 = 0x00000013 // addi x0, x0, 0
	insnRet       uint32 = 0x00008067 // jalr x0, 0(ra)
	insnAuipcRa   uint32 = 0x00000097 // auipc ra, 0
	insnJalrRa    uint32 = 0x000080e7 // jalr ra, 0(ra)
	insnJal       uint32 = 0x0000006f // jal x0, 0
	insnBeq       uint32 = 0x00000063 // beq x0, x0, 0
	insnLuiA0     uint32 = 0x00000537 // lui a0, 0
	insnAddiA0    uint32 = 0x00050513 // addi a0, a0, 0
	insnAuipcA0   uint32 = 0x00000517 // auipc a0, 0
	insnSdA0      uint32 = 0x00a53023 // sd a0, 0(a0)
	insnLdA0      uint32 = 0x00053503 // ld a0, 0(a0)
	absSectionRef        = "*ABS*"
)

type testReloc struct {
	offset uint64
	typ    elf.R_RISCV
	sym    string
	addend int64
}

type testSection struct {
	name   string
	typ    elf.SectionType
	flags  elf.SectionFlag
	align  uint64
	data   []byte
	size   uint64
	relocs []testReloc
}

type testSymbol struct {
	name    string
	bind    elf.SymBind
	typ     elf.SymType
	section string
	value   uint64
	size    uint64
}

// objBuilder assembles a minimal RV64 relocatable object: the user sections
// followed by .symtab, .strtab, one .rela section per relocated section and
// .shstrtab.
type objBuilder struct {
	sections []*testSection
	symbols  []testSymbol
	flags    uint32
	mutate   func([]byte)
}

func newObj() *objBuilder {
	return &objBuilder{}
}

func words(ws ...uint32) []byte {
	buf := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

func (b *objBuilder) section(name string, typ elf.SectionType, flags elf.SectionFlag, align uint64, data []byte) *objBuilder {
	b.sections = append(b.sections, &testSection{
		name:  name,
		typ:   typ,
		flags: flags,
		align: align,
		data:  data,
		size:  uint64(len(data)),
	})
	return b
}

func (b *objBuilder) text(name string, ws ...uint32) *objBuilder {
	return b.section(name, elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, 4, words(ws...))
}

func (b *objBuilder) data(name string, data []byte) *objBuilder {
	return b.section(name, elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_WRITE, 8, data)
}

func (b *objBuilder) bss(name string, size, align uint64) *objBuilder {
	b.sections = append(b.sections, &testSection{
		name:  name,
		typ:   elf.SHT_NOBITS,
		flags: elf.SHF_ALLOC | elf.SHF_WRITE,
		align: align,
		size:  size,
	})
	return b
}

func (b *objBuilder) symbol(name string, bind elf.SymBind, typ elf.SymType, section string, value uint64) *objBuilder {
	b.symbols = append(b.symbols, testSymbol{
		name:    name,
		bind:    bind,
		typ:     typ,
		section: section,
		value:   value,
	})
	return b
}

func (b *objBuilder) global(name, section string, value uint64) *objBuilder {
	return b.symbol(name, elf.STB_GLOBAL, elf.STT_FUNC, section, value)
}

func (b *objBuilder) weak(name, section string, value uint64) *objBuilder {
	return b.symbol(name, elf.STB_WEAK, elf.STT_FUNC, section, value)
}

func (b *objBuilder) local(name, section string, value uint64) *objBuilder {
	return b.symbol(name, elf.STB_LOCAL, elf.STT_NOTYPE, section, value)
}

func (b *objBuilder) undef(name string) *objBuilder {
	return b.symbol(name, elf.STB_GLOBAL, elf.STT_NOTYPE, "", 0)
}

func (b *objBuilder) weakUndef(name string) *objBuilder {
	return b.symbol(name, elf.STB_WEAK, elf.STT_NOTYPE, "", 0)
}

func (b *objBuilder) reloc(section string, offset uint64, typ elf.R_RISCV, sym string, addend int64) *objBuilder {
	for _, sec := range b.sections {
		if sec.name == section {
			sec.relocs = append(sec.relocs, testReloc{offset, typ, sym, addend})
			return b
		}
	}
	panic("no section " + section)
}

func (b *objBuilder) build() []byte {
	// Relocation targets nobody declared become global undefined symbols.
	known := make(map[string]bool)
	for _, sym := range b.symbols {
		known[sym.name] = true
	}
	for _, sec := range b.sections {
		for _, rel := range sec.relocs {
			if !known[rel.sym] {
				known[rel.sym] = true
				b.undef(rel.sym)
			}
		}
	}

	syms := []testSymbol{{}}
	for _, sym := range b.symbols {
		if sym.bind == elf.STB_LOCAL {
			syms = append(syms, sym)
		}
	}
	firstGlobal := len(syms)
	for _, sym := range b.symbols {
		if sym.bind != elf.STB_LOCAL {
			syms = append(syms, sym)
		}
	}

	secIndex := make(map[string]int)
	for i, sec := range b.sections {
		secIndex[sec.name] = i + 1
	}
	symIndex := make(map[string]int)
	for i, sym := range syms {
		if i > 0 {
			symIndex[sym.name] = i
		}
	}

	strtab := []byte{0}
	var symtab bytes.Buffer
	for i, sym := range syms {
		esym := Sym{}
		if i > 0 {
			esym.Name = uint32(len(strtab))
			strtab = append(strtab, sym.name...)
			strtab = append(strtab, 0)
			esym.Info = symInfo(sym.bind, sym.typ)
			esym.Val = sym.value
			esym.Size = sym.size
			switch sym.section {
			case "":
				esym.Shndx = uint16(elf.SHN_UNDEF)
			case absSectionRef:
				esym.Shndx = uint16(elf.SHN_ABS)
			default:
				idx, ok := secIndex[sym.section]
				if !ok {
					panic("no section " + sym.section)
				}
				esym.Shndx = uint16(idx)
			}
		}
		binary.Write(&symtab, binary.LittleEndian, esym)
	}

	buf := make([]byte, utils.SizeOf[Ehdr]())
	place := func(data []byte, align uint64) uint64 {
		for uint64(len(buf))%align != 0 {
			buf = append(buf, 0)
		}
		off := uint64(len(buf))
		buf = append(buf, data...)
		return off
	}

	shstrtab := []byte{0}
	addName := func(name string) uint32 {
		off := uint32(len(shstrtab))
		shstrtab = append(shstrtab, name...)
		shstrtab = append(shstrtab, 0)
		return off
	}

	shdrs := []Shdr{{}}
	for _, sec := range b.sections {
		shdr := Shdr{
			Name:      addName(sec.name),
			Type:      uint32(sec.typ),
			Flags:     uint64(sec.flags),
			Size:      sec.size,
			AddrAlign: sec.align,
		}
		if sec.typ == elf.SHT_NOBITS {
			shdr.Offset = uint64(len(buf))
		} else {
			shdr.Offset = place(sec.data, 8)
		}
		shdrs = append(shdrs, shdr)
	}

	symtabIdx := len(shdrs)
	shdrs = append(shdrs, Shdr{
		Name:      addName(".symtab"),
		Type:      uint32(elf.SHT_SYMTAB),
		Offset:    place(symtab.Bytes(), 8),
		Size:      uint64(symtab.Len()),
		Link:      uint32(symtabIdx + 1),
		Info:      uint32(firstGlobal),
		AddrAlign: 8,
		EntSize:   uint64(utils.SizeOf[Sym]()),
	})
	shdrs = append(shdrs, Shdr{
		Name:      addName(".strtab"),
		Type:      uint32(elf.SHT_STRTAB),
		Offset:    place(strtab, 1),
		Size:      uint64(len(strtab)),
		AddrAlign: 1,
	})

	for i, sec := range b.sections {
		if len(sec.relocs) == 0 {
			continue
		}
		var rela bytes.Buffer
		for _, rel := range sec.relocs {
			binary.Write(&rela, binary.LittleEndian, Rela{
				Offset: rel.offset,
				Type:   uint32(rel.typ),
				Sym:    uint32(symIndex[rel.sym]),
				Addend: rel.addend,
			})
		}
		shdrs = append(shdrs, Shdr{
			Name:      addName(".rela" + sec.name),
			Type:      uint32(elf.SHT_RELA),
			Flags:     uint64(elf.SHF_INFO_LINK),
			Offset:    place(rela.Bytes(), 8),
			Size:      uint64(rela.Len()),
			Link:      uint32(symtabIdx),
			Info:      uint32(i + 1),
			AddrAlign: 8,
			EntSize:   uint64(utils.SizeOf[Rela]()),
		})
	}

	shstrtabIdx := len(shdrs)
	nameOff := addName(".shstrtab")
	shdrs = append(shdrs, Shdr{
		Name:      nameOff,
		Type:      uint32(elf.SHT_STRTAB),
		Offset:    place(shstrtab, 1),
		Size:      uint64(len(shstrtab)),
		AddrAlign: 1,
	})

	var shdrBuf bytes.Buffer
	for _, shdr := range shdrs {
		binary.Write(&shdrBuf, binary.LittleEndian, shdr)
	}
	shoff := place(shdrBuf.Bytes(), 8)

	ehdr := Ehdr{
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		ShOff:     shoff,
		Flags:     b.flags,
		EhSize:    uint16(utils.SizeOf[Ehdr]()),
		ShEntSize: uint16(utils.SizeOf[Shdr]()),
		ShNum:     uint16(len(shdrs)),
		ShStrndx:  uint16(shstrtabIdx),
	}
	WriteMagic(ehdr.Ident[:])
	ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS64)
	ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)
	utils.Write[Ehdr](buf, ehdr)

	if b.mutate != nil {
		b.mutate(buf)
	}
	return buf
}

// load decodes the builder's output as name.
func (b *objBuilder) load(t *testing.T, name string) *ObjectFile {
	t.Helper()
	obj, err := NewObjectFile(&File{Name: name, Contents: b.build()}, false)
	if err != nil {
		t.Fatalf("NewObjectFile(%s): %v", name, err)
	}
	return obj
}

func (b *objBuilder) write(t *testing.T, dir, name string) string {
	t.Helper()
	return writeTestFile(t, dir, name, b.build())
}

func writeTestFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type archiveMember struct {
	name string
	data []byte
}

// buildArchive writes a System V archive with short member names.
func buildArchive(members ...archiveMember) []byte {
	var buf bytes.Buffer
	buf.WriteString("!<arch>\n")
	for _, m := range members {
		fmt.Fprintf(&buf, "%-16s%-12s%-6s%-6s%-8s%-10d`\n", m.name+"/", "0", "0", "0", "644", len(m.data))
		buf.Write(m.data)
		if buf.Len()%2 == 1 {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// withPriority numbers objs the way ReadInputFiles does.
func withPriority(objs ...*ObjectFile) []*ObjectFile {
	for i, obj := range objs {
		obj.Priority = uint32(10000 + i)
	}
	return objs
}

func rule(name string, include ...string) config.SectionRule {
	return config.SectionRule{Name: name, Include: include}
}

func testConfig(rules ...config.SectionRule) *config.Config {
	cfg := &config.Config{Sections: rules}
	cfg.Normalize()
	return cfg
}

func textConfig() *config.Config {
	return testConfig(
		rule(".text", ".text*"),
		rule(".data", ".data*", ".sdata*"),
		rule(".bss", ".bss*", ".sbss*"),
	)
}

func withBase(cfg *config.Config, base uint64) *config.Config {
	cfg.Output.BaseAddress = &base
	return cfg
}

// runPipeline takes in-memory objects through resolution, layout, GOT
// allocation and relocation.
func runPipeline(cfg *config.Config, objs ...*ObjectFile) (*SymbolTable, []*OutputSection, []DynReloc, error) {
	table, live, err := ResolveSymbols(withPriority(objs...), cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	osecs, err := Layout(cfg, live, table)
	if err != nil {
		return table, nil, nil, err
	}
	dyn, err := Relocate(osecs, ScanRelocations(cfg, osecs), cfg.Output.DynamicRelocation)
	return table, osecs, dyn, err
}

func mustPipeline(t *testing.T, cfg *config.Config, objs ...*ObjectFile) (*SymbolTable, []*OutputSection, []DynReloc) {
	t.Helper()
	table, osecs, dyn, err := runPipeline(cfg, objs...)
	if err != nil {
		t.Fatalf("link failed: %v", err)
	}
	return table, osecs, dyn
}

func findOsec(t *testing.T, osecs []*OutputSection, name string) *OutputSection {
	t.Helper()
	for _, osec := range osecs {
		if osec.Name == name {
			return osec
		}
	}
	t.Fatalf("no output section %s", name)
	return nil
}

func symAddr(t *testing.T, table *SymbolTable, name string) uint64 {
	t.Helper()
	sym := table.Lookup(name)
	if sym == nil || !sym.IsResolved {
		t.Fatalf("symbol %s is not resolved", name)
	}
	return sym.Addr
}

// wordAt reads the instruction at addr from the output section holding it.
func wordAt(t *testing.T, osecs []*OutputSection, addr uint64) uint32 {
	t.Helper()
	for _, osec := range osecs {
		if addr >= osec.Shdr.Addr && addr+4 <= osec.Shdr.Addr+uint64(len(osec.Data)) {
			return binary.LittleEndian.Uint32(osec.Data[addr-osec.Shdr.Addr:])
		}
	}
	t.Fatalf("address %#x is not in any output section", addr)
	return 0
}

func expectKind(t *testing.T, err error, target *LinkError) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", target.Kind)
	}
	if !errors.Is(err, target) {
		t.Fatalf("expected %s error, got %v", target.Kind, err)
	}
}
