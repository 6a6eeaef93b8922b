package linker

import (
	"bytes"
	"debug/elf"
)

const SHF_EXCLUDE uint32 = 0x80000000
const SHT_LLVM_ADDRSIG uint32 = 0x6fff4c03

const ImageBase uint64 = 0x200000

// RISC-V e_flags.
const (
	EF_RISCV_RVC         uint32 = 0x0001
	EF_RISCV_FLOAT_ABI   uint32 = 0x0006
	EF_RISCV_RVE         uint32 = 0x0008
	EF_RISCV_TSO         uint32 = 0x0010
	EF_RISCV_USAGE_FLAGS        = EF_RISCV_RVC | EF_RISCV_RVE | EF_RISCV_TSO
)

const DF_1_PIE uint64 = 0x08000000

type Ehdr struct {
	Ident     [16]uint8
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrndx  uint16
}

type Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

type Phdr struct {
	Type     uint32
	Flags    uint32
	Offset   uint64
	VAddr    uint64
	PAddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

type Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Val   uint64
	Size  uint64
}

func (s *Sym) IsUndef() bool {
	return s.Shndx == uint16(elf.SHN_UNDEF)
}

func (s *Sym) IsDefined() bool {
	return !s.IsUndef()
}

func (s *Sym) IsCommon() bool {
	return s.Shndx == uint16(elf.SHN_COMMON)
}

func (s *Sym) IsAbs() bool {
	return s.Shndx == uint16(elf.SHN_ABS)
}

func (s *Sym) IsWeak() bool {
	return s.Bind() == uint8(elf.STB_WEAK)
}

func (s *Sym) IsUndefWeak() bool {
	return s.IsUndef() && s.IsWeak()
}

func (s *Sym) Type() uint8 {
	return s.Info & 0xf
}

func (s *Sym) Bind() uint8 {
	return s.Info >> 4
}

func (s *Sym) StVisibility() uint8 {
	return s.Other & 0b11
}

func symInfo(bind elf.SymBind, typ elf.SymType) uint8 {
	return uint8(bind)<<4 | uint8(typ)&0xf
}

// Rela mirrors Elf64_Rela; r_info is split so that Type lands in the low
// word on a little-endian target.
type Rela struct {
	Offset uint64
	Type   uint32
	Sym    uint32
	Addend int64
}

type Dyn struct {
	Tag uint64
	Val uint64
}

var elfMagic = []byte("\177ELF")

func CheckMagic(contents []byte) bool {
	return bytes.HasPrefix(contents, elfMagic)
}

func WriteMagic(contents []byte) {
	copy(contents, elfMagic)
}

func getName(strTab []byte, offset uint32) (string, bool) {
	if uint64(offset) >= uint64(len(strTab)) {
		return "", false
	}
	length := bytes.IndexByte(strTab[offset:], 0)
	if length < 0 {
		return "", false
	}
	return string(strTab[offset : offset+uint32(length)]), true
}
