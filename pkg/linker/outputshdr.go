package linker

import (
	"github.com/ksco/cfgld/pkg/utils"
)

type OutputShdr struct {
	Chunk
}

func NewOutputShdr() *OutputShdr {
	o := &OutputShdr{Chunk: NewChunk()}
	o.Shdr.AddrAlign = 8
	return o
}

func (o *OutputShdr) UpdateShdr(img *LinkImage) {
	n := uint64(0)
	for _, chunk := range img.Chunks {
		if chunk.GetShndx() > 0 {
			n = uint64(chunk.GetShndx())
		}
	}

	o.Shdr.Size = (n + 1) * uint64(utils.SizeOf[Shdr]())
}

func (o *OutputShdr) Kind() int {
	return ChunkKindHeader
}

func (o *OutputShdr) CopyBuf(img *LinkImage) {
	base := img.Buf[o.Shdr.Offset:]
	utils.Write[Shdr](base, Shdr{})

	size := int64(utils.SizeOf[Shdr]())
	for _, chunk := range img.Chunks {
		if chunk.GetShndx() > 0 {
			utils.Write[Shdr](base[chunk.GetShndx()*size:], *chunk.GetShdr())
		}
	}
}
