package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

type Uint interface {
	uint8 | uint16 | uint32 | uint64
}

func HasSingleBit(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// Fatal prints a diagnostic in ld style and exits. Only the command-line
// driver calls it; library code returns errors.
func Fatal(v any) {
	Error(v)
	os.Exit(1)
}

// Error prints a diagnostic the way Fatal does without exiting.
func Error(v any) {
	prefix := "fatal:"
	if term.IsTerminal(int(os.Stderr.Fd())) {
		prefix = "\033[0;1;31mfatal:\033[0m"
	}
	fmt.Fprintln(os.Stderr, "cfgld: "+prefix, fmt.Sprintf("%s", v))
}

func MustNo(err error) {
	if err != nil {
		panic(err)
	}
}

func Assert(condition bool) {
	if !condition {
		panic("assert failed")
	}
}

func AlignTo(val, align uint64) uint64 {
	if align == 0 {
		return val
	}
	return (val + align - 1) & ^(align - 1)
}

// Read decodes a little-endian T from the head of data. Callers check the
// length first; a short buffer is a programming error.
func Read[T any](data []byte) (val T) {
	reader := bytes.NewReader(data)
	err := binary.Read(reader, binary.LittleEndian, &val)
	MustNo(err)
	return
}

func Write[T any](data []byte, e T) {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, binary.LittleEndian, e)
	MustNo(err)
	copy(data, buf.Bytes())
}

// SizeOf returns the encoded size of T as used by Read and Write.
func SizeOf[T any]() int {
	var v T
	return binary.Size(v)
}

func Bit[T Uint](val T, pos int) T {
	return (val >> pos) & 1
}

func Bits[T Uint](val T, hi T, lo T) T {
	return (val >> lo) & ((1 << (hi - lo + 1)) - 1)
}

// IsInt reports whether val fits in an n-bit two's complement field.
func IsInt(val int64, n int) bool {
	if n >= 64 {
		return true
	}
	min := -(int64(1) << (n - 1))
	max := int64(1)<<(n-1) - 1
	return val >= min && val <= max
}

// IsUint reports whether val fits in an n-bit unsigned field.
func IsUint(val uint64, n int) bool {
	if n >= 64 {
		return true
	}
	return val < uint64(1)<<n
}

func RemoveIf[T any](elems []T, condition func(T) bool) []T {
	i := 0

	for _, elem := range elems {
		if condition(elem) {
			continue
		}
		elems[i] = elem
		i++
	}
	return elems[:i]
}

func RemovePrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		s = strings.TrimPrefix(s, prefix)
		return s, true
	}
	return s, false
}
