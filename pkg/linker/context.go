package linker

import "github.com/ksco/cfgld/pkg/config"

type ContextArg struct {
	Output    string
	Emulation MachineType

	LibraryPaths []string

	// Inputs are object or archive paths and -l<name> arguments in
	// command-line order.
	Inputs []string
}

// Context carries one link from arguments to output. Each stage fills in
// the fields the next one consumes.
type Context struct {
	Arg    ContextArg
	Config *config.Config

	Objs           []*ObjectFile
	Symbols        *SymbolTable
	OutputSections []*OutputSection
	Got            *GotSection
	DynRelocs      []DynReloc
	Image          *LinkImage
}

func NewContext(cfg *config.Config) *Context {
	return &Context{
		Arg: ContextArg{
			Emulation: MachineTypeNone,
			Output:    "a.out",
		},
		Config: cfg,
	}
}
