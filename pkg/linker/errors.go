package linker

import (
	"fmt"
	"strings"
)

// Kind categorizes a link failure. Every kind is fatal.
type Kind string

const (
	KindMalformedObject            Kind = "malformed object"
	KindUnmatchedSection           Kind = "unmatched section"
	KindInvalidAlignment           Kind = "invalid alignment"
	KindMultipleDefinition         Kind = "multiple definition"
	KindUndefinedSymbol            Kind = "undefined symbol"
	KindRelocationOverflow         Kind = "relocation overflow"
	KindUnresolvedRelocationSymbol Kind = "unresolved relocation symbol"
	KindUnsupportedRelocation      Kind = "unsupported relocation"
	KindInvalidConfig              Kind = "invalid configuration"
	KindIoError                    Kind = "i/o error"
)

// Sentinels for errors.Is; they match any LinkError of the same kind.
var (
	ErrMalformedObject            = &LinkError{Kind: KindMalformedObject}
	ErrUnmatchedSection           = &LinkError{Kind: KindUnmatchedSection}
	ErrInvalidAlignment           = &LinkError{Kind: KindInvalidAlignment}
	ErrMultipleDefinition         = &LinkError{Kind: KindMultipleDefinition}
	ErrUndefinedSymbol            = &LinkError{Kind: KindUndefinedSymbol}
	ErrRelocationOverflow         = &LinkError{Kind: KindRelocationOverflow}
	ErrUnresolvedRelocationSymbol = &LinkError{Kind: KindUnresolvedRelocationSymbol}
	ErrUnsupportedRelocation      = &LinkError{Kind: KindUnsupportedRelocation}
	ErrInvalidConfig              = &LinkError{Kind: KindInvalidConfig}
	ErrIoError                    = &LinkError{Kind: KindIoError}
)

// LinkError carries the identity of whatever made the link fail.
type LinkError struct {
	Cause   error
	Kind    Kind
	Symbol  string
	Section string
	File    string
	// Other names the second party of a conflict, e.g. the earlier definition.
	Other  string
	Detail string
}

func (e *LinkError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))

	if e.Symbol != "" {
		b.WriteString(": ")
		b.WriteString(e.Symbol)
	}

	if e.Section != "" {
		b.WriteString(" in section ")
		b.WriteString(e.Section)
	}

	if e.File != "" {
		if e.Section != "" {
			b.WriteString(" of ")
		} else {
			b.WriteString(" in ")
		}
		b.WriteString(e.File)
	}

	if e.Other != "" {
		b.WriteString(" (also in ")
		b.WriteString(e.Other)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}

	return b.String()
}

func (e *LinkError) Unwrap() error {
	return e.Cause
}

// Is matches on kind only, so sentinels compare equal to any instance.
func (e *LinkError) Is(target error) bool {
	if t, ok := target.(*LinkError); ok {
		return e.Kind == t.Kind
	}
	return false
}

func malformed(file string, format string, args ...any) *LinkError {
	return &LinkError{
		Kind:   KindMalformedObject,
		File:   file,
		Detail: fmt.Sprintf(format, args...),
	}
}

func ioError(file string, cause error) *LinkError {
	return &LinkError{
		Kind:  KindIoError,
		File:  file,
		Cause: cause,
	}
}
