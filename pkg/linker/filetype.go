package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

type FileType = int8

const (
	FileTypeUnknown FileType = iota
	FileTypeEmpty
	FileTypeObject
	FileTypeDso
	FileTypeExec
	FileTypeAr
	FileTypeThinAr
)

func GetFileType(contents []byte) FileType {
	if len(contents) == 0 {
		return FileTypeEmpty
	}

	if CheckMagic(contents) {
		if len(contents) < 18 {
			return FileTypeUnknown
		}
		et := elf.Type(binary.LittleEndian.Uint16(contents[16:]))
		switch et {
		case elf.ET_REL:
			return FileTypeObject
		case elf.ET_DYN:
			return FileTypeDso
		case elf.ET_EXEC:
			return FileTypeExec
		}
		return FileTypeUnknown
	}

	if bytes.HasPrefix(contents, []byte("!<arch>\n")) {
		return FileTypeAr
	}
	if bytes.HasPrefix(contents, []byte("!<thin>\n")) {
		return FileTypeThinAr
	}

	return FileTypeUnknown
}

func fileTypeName(ft FileType) string {
	switch ft {
	case FileTypeEmpty:
		return "empty file"
	case FileTypeObject:
		return "relocatable object"
	case FileTypeDso:
		return "shared object"
	case FileTypeExec:
		return "executable"
	case FileTypeAr:
		return "archive"
	case FileTypeThinAr:
		return "thin archive"
	}
	return "unknown file type"
}
