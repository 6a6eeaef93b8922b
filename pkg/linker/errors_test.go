package linker

import (
	"errors"
	"io/fs"
	"testing"

	"go.uber.org/multierr"
)

func TestLinkErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *LinkError
		want string
	}{
		{
			name: "kind only",
			err:  &LinkError{Kind: KindInvalidConfig},
			want: "invalid configuration",
		},
		{
			name: "symbol and file",
			err:  &LinkError{Kind: KindUndefinedSymbol, Symbol: "main", File: "start.o"},
			want: "undefined symbol: main in start.o",
		},
		{
			name: "conflict",
			err:  &LinkError{Kind: KindMultipleDefinition, Symbol: "dup", File: "b.o", Other: "a.o"},
			want: "multiple definition: dup in b.o (also in a.o)",
		},
		{
			name: "relocation",
			err: &LinkError{
				Kind:    KindRelocationOverflow,
				Symbol:  "far",
				Section: ".text",
				File:    "a.o",
				Detail:  "R_RISCV_JAL value 0x200000 out of range at 0x200000",
			},
			want: "relocation overflow: far in section .text of a.o: R_RISCV_JAL value 0x200000 out of range at 0x200000",
		},
		{
			name: "cause",
			err:  ioError("a.o", fs.ErrNotExist),
			want: "i/o error in a.o: file does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLinkErrorIs(t *testing.T) {
	err := ioError("a.o", fs.ErrNotExist)
	if !errors.Is(err, ErrIoError) {
		t.Error("should match its kind")
	}
	if errors.Is(err, ErrMalformedObject) {
		t.Error("should not match another kind")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("should unwrap to its cause")
	}

	var linkErr *LinkError
	combined := multierr.Combine(malformed("x.o", "bad"), &LinkError{Kind: KindUndefinedSymbol, Symbol: "f"})
	if !errors.Is(combined, ErrUndefinedSymbol) || !errors.Is(combined, ErrMalformedObject) {
		t.Error("combined errors should match every kind they hold")
	}
	if !errors.As(combined, &linkErr) || linkErr.Kind != KindMalformedObject {
		t.Errorf("errors.As = %v", linkErr)
	}
}
