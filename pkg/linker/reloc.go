package linker

import (
	"debug/elf"

	"github.com/ksco/cfgld/pkg/utils"
)

type relocClass int

const (
	// Markers for the assembler and relaxing linkers; nothing to patch.
	relocHint relocClass = iota
	// S + A
	relocAbs
	// S + A - P
	relocPCRel
	// Low half of the value computed by the PCREL_HI20 that S labels.
	relocPCRelLo
	// In-place arithmetic on the field with S + A.
	relocArith
	// G + A - P, G being the address of the symbol's GOT slot.
	relocGot
)

// howto describes how one relocation type patches its field.
type howto struct {
	name  string
	class relocClass
	size  int

	// check reports whether the computed value fits the field. nil means the
	// field wraps.
	check func(val int64) bool

	apply func(loc []byte, val uint64)

	// absolute marks absolute-address fields that a position-independent
	// image cannot fix up at load time.
	absolute bool

	// branch marks control transfers. One aimed at an undefined weak symbol
	// jumps to itself.
	branch bool

	// pairsLo marks high parts whose value a PCREL_LO12 reads back.
	pairsLo bool
}

func fitsSigned(bits int) func(int64) bool {
	return func(val int64) bool {
		return utils.IsInt(val, bits)
	}
}

func fitsHi20(val int64) bool {
	return utils.IsInt(val+0x800, 32)
}

func fitsWord32(val int64) bool {
	return utils.IsInt(val, 32) || utils.IsUint(uint64(val), 32)
}

var howtos = map[elf.R_RISCV]*howto{
	elf.R_RISCV_NONE:  {name: "R_RISCV_NONE", class: relocHint},
	elf.R_RISCV_RELAX: {name: "R_RISCV_RELAX", class: relocHint},
	elf.R_RISCV_ALIGN: {name: "R_RISCV_ALIGN", class: relocHint},

	elf.R_RISCV_32: {
		name: "R_RISCV_32", class: relocAbs, size: 4, check: fitsWord32, absolute: true,
		apply: func(loc []byte, val uint64) { utils.Write[uint32](loc, uint32(val)) },
	},
	elf.R_RISCV_64: {
		name: "R_RISCV_64", class: relocAbs, size: 8,
		apply: func(loc []byte, val uint64) { utils.Write[uint64](loc, val) },
	},
	elf.R_RISCV_BRANCH: {
		name: "R_RISCV_BRANCH", class: relocPCRel, size: 4, check: fitsSigned(13), branch: true,
		apply: func(loc []byte, val uint64) { writeBtype(loc, uint32(val)) },
	},
	elf.R_RISCV_JAL: {
		name: "R_RISCV_JAL", class: relocPCRel, size: 4, check: fitsSigned(21), branch: true,
		apply: func(loc []byte, val uint64) { writeJtype(loc, uint32(val)) },
	},
	elf.R_RISCV_CALL: {
		name: "R_RISCV_CALL", class: relocPCRel, size: 8, check: fitsHi20, branch: true,
		apply: writeCall,
	},
	elf.R_RISCV_CALL_PLT: {
		name: "R_RISCV_CALL_PLT", class: relocPCRel, size: 8, check: fitsHi20, branch: true,
		apply: writeCall,
	},
	elf.R_RISCV_PCREL_HI20: {
		name: "R_RISCV_PCREL_HI20", class: relocPCRel, size: 4, check: fitsHi20, pairsLo: true,
		apply: func(loc []byte, val uint64) { writeUtype(loc, uint32(val)) },
	},
	elf.R_RISCV_GOT_HI20: {
		name: "R_RISCV_GOT_HI20", class: relocGot, size: 4, check: fitsHi20, pairsLo: true,
		apply: func(loc []byte, val uint64) { writeUtype(loc, uint32(val)) },
	},
	elf.R_RISCV_PCREL_LO12_I: {
		name: "R_RISCV_PCREL_LO12_I", class: relocPCRelLo, size: 4,
		apply: func(loc []byte, val uint64) { writeItype(loc, uint32(val)) },
	},
	elf.R_RISCV_PCREL_LO12_S: {
		name: "R_RISCV_PCREL_LO12_S", class: relocPCRelLo, size: 4,
		apply: func(loc []byte, val uint64) { writeStype(loc, uint32(val)) },
	},
	elf.R_RISCV_HI20: {
		name: "R_RISCV_HI20", class: relocAbs, size: 4, check: fitsHi20, absolute: true,
		apply: func(loc []byte, val uint64) { writeUtype(loc, uint32(val)) },
	},
	elf.R_RISCV_LO12_I: {
		name: "R_RISCV_LO12_I", class: relocAbs, size: 4, absolute: true,
		apply: func(loc []byte, val uint64) { writeItype(loc, uint32(val)) },
	},
	elf.R_RISCV_LO12_S: {
		name: "R_RISCV_LO12_S", class: relocAbs, size: 4, absolute: true,
		apply: func(loc []byte, val uint64) { writeStype(loc, uint32(val)) },
	},
	elf.R_RISCV_RVC_BRANCH: {
		name: "R_RISCV_RVC_BRANCH", class: relocPCRel, size: 2, check: fitsSigned(9), branch: true,
		apply: func(loc []byte, val uint64) { writeCbtype(loc, uint16(val)) },
	},
	elf.R_RISCV_RVC_JUMP: {
		name: "R_RISCV_RVC_JUMP", class: relocPCRel, size: 2, check: fitsSigned(12), branch: true,
		apply: func(loc []byte, val uint64) { writeCjtype(loc, uint16(val)) },
	},
	elf.R_RISCV_32_PCREL: {
		name: "R_RISCV_32_PCREL", class: relocPCRel, size: 4, check: fitsSigned(32),
		apply: func(loc []byte, val uint64) { utils.Write[uint32](loc, uint32(val)) },
	},

	elf.R_RISCV_ADD8: {
		name: "R_RISCV_ADD8", class: relocArith, size: 1,
		apply: func(loc []byte, val uint64) { loc[0] += uint8(val) },
	},
	elf.R_RISCV_ADD16: {
		name: "R_RISCV_ADD16", class: relocArith, size: 2,
		apply: func(loc []byte, val uint64) {
			utils.Write[uint16](loc, utils.Read[uint16](loc)+uint16(val))
		},
	},
	elf.R_RISCV_ADD32: {
		name: "R_RISCV_ADD32", class: relocArith, size: 4,
		apply: func(loc []byte, val uint64) {
			utils.Write[uint32](loc, utils.Read[uint32](loc)+uint32(val))
		},
	},
	elf.R_RISCV_ADD64: {
		name: "R_RISCV_ADD64", class: relocArith, size: 8,
		apply: func(loc []byte, val uint64) {
			utils.Write[uint64](loc, utils.Read[uint64](loc)+val)
		},
	},
	elf.R_RISCV_SUB6: {
		name: "R_RISCV_SUB6", class: relocArith, size: 1,
		apply: func(loc []byte, val uint64) { writeLow6(loc, loc[0]-uint8(val)) },
	},
	elf.R_RISCV_SUB8: {
		name: "R_RISCV_SUB8", class: relocArith, size: 1,
		apply: func(loc []byte, val uint64) { loc[0] -= uint8(val) },
	},
	elf.R_RISCV_SUB16: {
		name: "R_RISCV_SUB16", class: relocArith, size: 2,
		apply: func(loc []byte, val uint64) {
			utils.Write[uint16](loc, utils.Read[uint16](loc)-uint16(val))
		},
	},
	elf.R_RISCV_SUB32: {
		name: "R_RISCV_SUB32", class: relocArith, size: 4,
		apply: func(loc []byte, val uint64) {
			utils.Write[uint32](loc, utils.Read[uint32](loc)-uint32(val))
		},
	},
	elf.R_RISCV_SUB64: {
		name: "R_RISCV_SUB64", class: relocArith, size: 8,
		apply: func(loc []byte, val uint64) {
			utils.Write[uint64](loc, utils.Read[uint64](loc)-val)
		},
	},
	elf.R_RISCV_SET6: {
		name: "R_RISCV_SET6", class: relocArith, size: 1,
		apply: func(loc []byte, val uint64) { writeLow6(loc, uint8(val)) },
	},
	elf.R_RISCV_SET8: {
		name: "R_RISCV_SET8", class: relocArith, size: 1,
		apply: func(loc []byte, val uint64) { loc[0] = uint8(val) },
	},
	elf.R_RISCV_SET16: {
		name: "R_RISCV_SET16", class: relocArith, size: 2,
		apply: func(loc []byte, val uint64) { utils.Write[uint16](loc, uint16(val)) },
	},
	elf.R_RISCV_SET32: {
		name: "R_RISCV_SET32", class: relocArith, size: 4,
		apply: func(loc []byte, val uint64) { utils.Write[uint32](loc, uint32(val)) },
	},
}

// writeCall patches an auipc+jalr pair.
func writeCall(loc []byte, val uint64) {
	writeUtype(loc, uint32(val))
	writeItype(loc[4:], uint32(val))
}

func lookupHowto(typ uint32) (*howto, bool) {
	h, ok := howtos[elf.R_RISCV(typ)]
	return h, ok
}
