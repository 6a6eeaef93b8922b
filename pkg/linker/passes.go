package linker

import (
	"context"

	"go.uber.org/zap"
)

// Link runs the whole pipeline: load, resolve, lay out, relocate and write.
// The output file is only created when every stage succeeds.
func Link(c context.Context, ctx *Context) error {
	if ctx.Config == nil {
		return &LinkError{Kind: KindInvalidConfig, Detail: "no configuration"}
	}
	if ctx.Arg.Emulation != MachineTypeNone && ctx.Arg.Emulation != MachineTypeRISCV64 {
		return &LinkError{
			Kind:   KindInvalidConfig,
			Detail: "unsupported emulation " + MachineTypeStringer{ctx.Arg.Emulation}.String(),
		}
	}

	log := Logger().With(zap.String("output", ctx.Arg.Output))
	log.Debug("linking", zap.Strings("inputs", ctx.Arg.Inputs))

	objs, err := ReadInputFiles(c, ctx.Arg.LibraryPaths, ctx.Arg.Inputs)
	if err != nil {
		return err
	}

	ctx.Symbols, ctx.Objs, err = ResolveSymbols(objs, ctx.Config)
	if err != nil {
		return err
	}

	ctx.OutputSections, err = Layout(ctx.Config, ctx.Objs, ctx.Symbols)
	if err != nil {
		return err
	}

	ctx.Got = ScanRelocations(ctx.Config, ctx.OutputSections)

	ctx.DynRelocs, err = Relocate(ctx.OutputSections, ctx.Got, ctx.Config.Output.DynamicRelocation)
	if err != nil {
		return err
	}

	ctx.Image, err = NewLinkImage(ctx.Config, ctx.Objs, ctx.OutputSections, ctx.Got, ctx.Symbols, ctx.DynRelocs)
	if err != nil {
		return err
	}

	if err := WriteImage(ctx.Image, ctx.Arg.Output); err != nil {
		return err
	}

	log.Debug("link finished", zap.Uint64("entry", ctx.Image.Entry))
	return nil
}
