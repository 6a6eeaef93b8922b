package linker

import (
	"debug/elf"
	"strings"
	"testing"

	"go.uber.org/multierr"
)

func TestResolveWeakAndStrong(t *testing.T) {
	strong := func() *objBuilder {
		return newObj().text(".text", insnNop, insnRet).global("handler", ".text", 4)
	}
	weak := func() *objBuilder {
		return newObj().text(".text", insnRet).weak("handler", ".text", 0)
	}
	start := func() *objBuilder {
		return newObj().text(".text", insnAuipcRa, insnJalrRa).
			global("_start", ".text", 0).
			reloc(".text", 0, elf.R_RISCV_CALL, "handler", 0)
	}

	tests := []struct {
		name  string
		order []string
	}{
		{"weak first", []string{"start", "weak", "strong"}},
		{"strong first", []string{"start", "strong", "weak"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objs := make([]*ObjectFile, 0)
			for _, name := range tt.order {
				var b *objBuilder
				switch name {
				case "start":
					b = start()
				case "weak":
					b = weak()
				case "strong":
					b = strong()
				}
				objs = append(objs, b.load(t, name+".o"))
			}

			table, osecs, _ := mustPipeline(t, testConfig(rule(".text", ".text*")), objs...)

			sym := table.Lookup("handler")
			if sym.File.File.Name != "strong.o" || sym.IsWeak {
				t.Fatalf("handler resolved to %s (weak=%v)", sym.Location(), sym.IsWeak)
			}

			// The strong definition sits 4 bytes into strong.o's .text.
			var strongText *InputSection
			for _, obj := range objs {
				if obj.File.Name == "strong.o" {
					strongText = obj.Sections[1]
				}
			}
			if want := strongText.GetAddr() + 4; sym.Addr != want {
				t.Errorf("handler = %#x, want %#x", sym.Addr, want)
			}

			site := symAddr(t, table, "_start")
			if got := decodeCall(wordAt(t, osecs, site), wordAt(t, osecs, site+4)); site+uint64(got) != sym.Addr {
				t.Errorf("call lands at %#x, want %#x", site+uint64(got), sym.Addr)
			}
		})
	}
}

func TestResolveConflicts(t *testing.T) {
	start := func() *objBuilder {
		return newObj().text(".text", insnRet).global("_start", ".text", 0)
	}

	tests := []struct {
		name    string
		cfg     func() []*objBuilder
		allow   []string
		want    *LinkError
		symbols []string
	}{
		{
			name: "two strong definitions",
			cfg: func() []*objBuilder {
				return []*objBuilder{
					start(),
					newObj().text(".text", insnRet).global("dup", ".text", 0),
					newObj().text(".text", insnRet).global("dup", ".text", 0),
				}
			},
			want:    ErrMultipleDefinition,
			symbols: []string{"dup"},
		},
		{
			name: "undefined reference",
			cfg: func() []*objBuilder {
				return []*objBuilder{
					start().reloc(".text", 0, elf.R_RISCV_JAL, "missing", 0),
				}
			},
			want:    ErrUndefinedSymbol,
			symbols: []string{"missing"},
		},
		{
			name: "every undefined name is reported",
			cfg: func() []*objBuilder {
				return []*objBuilder{
					start().
						reloc(".text", 0, elf.R_RISCV_JAL, "first", 0).
						reloc(".text", 0, elf.R_RISCV_JAL, "second", 0),
					newObj().text(".text", insnRet).global("other", ".text", 0).
						reloc(".text", 0, elf.R_RISCV_JAL, "first", 0),
				}
			},
			want:    ErrUndefinedSymbol,
			symbols: []string{"first", "second"},
		},
		{
			name: "missing entry",
			cfg: func() []*objBuilder {
				return []*objBuilder{
					newObj().text(".text", insnRet).global("main", ".text", 0),
				}
			},
			want:    ErrUndefinedSymbol,
			symbols: []string{"_start"},
		},
		{
			name: "strong definition of a boundary symbol",
			cfg: func() []*objBuilder {
				return []*objBuilder{
					start().global("__bss_start", ".text", 0),
				}
			},
			want:    ErrMultipleDefinition,
			symbols: []string{"__bss_start"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objs := make([]*ObjectFile, 0)
			for i, b := range tt.cfg() {
				objs = append(objs, b.load(t, string(rune('a'+i))+".o"))
			}

			cfg := textConfig()
			cfg.Sections[2].StartSymbol = "__bss_start"
			cfg.Sections[2].EndSymbol = "__bss_end"

			_, _, err := ResolveSymbols(withPriority(objs...), cfg)
			expectKind(t, err, tt.want)

			errs := multierr.Errors(err)
			if len(errs) != len(tt.symbols) {
				t.Fatalf("got %d errors, want %d: %v", len(errs), len(tt.symbols), err)
			}
			for i, sym := range tt.symbols {
				if !strings.Contains(errs[i].Error(), sym) {
					t.Errorf("error %q does not name %s", errs[i], sym)
				}
			}
		})
	}
}

func TestMultipleDefinitionNamesBothFiles(t *testing.T) {
	a := newObj().text(".text", insnRet).global("_start", ".text", 0).global("dup", ".text", 0).load(t, "first.o")
	b := newObj().text(".text", insnRet).global("dup", ".text", 0).load(t, "second.o")

	_, _, err := ResolveSymbols(withPriority(a, b), textConfig())
	expectKind(t, err, ErrMultipleDefinition)
	for _, want := range []string{"dup", "first.o", "second.o"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestUndefinedResolvesToZero(t *testing.T) {
	obj := newObj().
		text(".text", insnAuipcRa, insnJalrRa, insnLuiA0, insnAddiA0).
		global("_start", ".text", 0).
		weakUndef("optional_hook").
		reloc(".text", 0, elf.R_RISCV_CALL, "optional_hook", 0).
		reloc(".text", 8, elf.R_RISCV_HI20, "__guard", 0).
		reloc(".text", 12, elf.R_RISCV_LO12_I, "__guard", 0)

	cfg := textConfig()
	cfg.Output.AllowUndefined = []string{"__guard"}

	table, osecs, _ := mustPipeline(t, cfg, obj.load(t, "start.o"))

	for _, name := range []string{"optional_hook", "__guard"} {
		sym := table.Lookup(name)
		if !sym.IsResolved || sym.Addr != 0 {
			t.Errorf("%s = %#x (resolved=%v), want 0", name, sym.Addr, sym.IsResolved)
		}
	}

	site := symAddr(t, table, "_start")
	if w := wordAt(t, osecs, site); w != insnAuipcRa {
		t.Errorf("call to undefined weak = %#08x, want %#08x", w, insnAuipcRa)
	}
	if w := wordAt(t, osecs, site+8); w != insnLuiA0 {
		t.Errorf("lui of allowed undefined = %#08x, want %#08x", w, insnLuiA0)
	}
}

func TestWeakDefinitionYieldsToBoundarySymbol(t *testing.T) {
	obj := newObj().
		text(".text", insnRet).
		global("_start", ".text", 0).
		weak("__bss_start", ".text", 0).
		bss(".bss", 8, 8)

	cfg := textConfig()
	cfg.Sections[2].StartSymbol = "__bss_start"

	table, osecs, _ := mustPipeline(t, cfg, obj.load(t, "start.o"))

	sym := table.Lookup("__bss_start")
	if !sym.IsSynthetic {
		t.Fatalf("__bss_start should be linker-defined, got %s", sym.Location())
	}
	if bss := findOsec(t, osecs, ".bss"); sym.Addr != bss.Shdr.Addr {
		t.Errorf("__bss_start = %#x, want %#x", sym.Addr, bss.Shdr.Addr)
	}
}

func TestArchiveMembersAreLoadedOnDemand(t *testing.T) {
	dir := t.TempDir()

	main := newObj().
		text(".text", insnAuipcRa, insnJalrRa).
		global("_start", ".text", 0).
		global("clash", ".text", 4).
		reloc(".text", 0, elf.R_RISCV_CALL, "helper", 0)

	// helper.o is needed; unused.o is not and would otherwise clash.
	helper := newObj().
		text(".text", insnRet).
		global("helper", ".text", 0).
		reloc(".text", 0, elf.R_RISCV_JAL, "deep", 0)
	deep := newObj().text(".text", insnRet).global("deep", ".text", 0)
	unused := newObj().text(".text", insnRet).global("clash", ".text", 0)

	lib := writeTestFile(t, dir, "libutil.a", buildArchive(
		archiveMember{"unused.o", unused.build()},
		archiveMember{"helper.o", helper.build()},
		archiveMember{"deep.o", deep.build()},
	))
	mainPath := main.write(t, dir, "main.o")

	objs, err := ReadInputFiles(t.Context(), nil, []string{mainPath, lib})
	if err != nil {
		t.Fatalf("ReadInputFiles: %v", err)
	}

	cfg := testConfig(rule(".text", ".text*"))
	table, live, err := ResolveSymbols(objs, cfg)
	if err != nil {
		t.Fatalf("ResolveSymbols: %v", err)
	}

	names := make([]string, 0)
	for _, obj := range live {
		names = append(names, obj.File.Name)
	}
	want := []string{mainPath, lib + "(helper.o)", lib + "(deep.o)"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("live objects = %v, want %v", names, want)
	}

	if got := table.Lookup("clash").File.File.Name; got != mainPath {
		t.Errorf("clash defined by %s", got)
	}
	if got := table.Lookup("deep").File.File.Name; got != lib+"(deep.o)" {
		t.Errorf("deep defined by %s", got)
	}
}

func TestArchiveProvidesEntry(t *testing.T) {
	dir := t.TempDir()

	crt := newObj().text(".text", insnRet).global("_start", ".text", 0)
	lib := writeTestFile(t, dir, "libcrt.a", buildArchive(archiveMember{"crt.o", crt.build()}))
	obj := newObj().data(".data", make([]byte, 8)).global("table", ".data", 0).write(t, dir, "data.o")

	objs, err := ReadInputFiles(t.Context(), nil, []string{obj, lib})
	if err != nil {
		t.Fatalf("ReadInputFiles: %v", err)
	}
	table, live, err := ResolveSymbols(objs, textConfig())
	if err != nil {
		t.Fatalf("ResolveSymbols: %v", err)
	}
	if len(live) != 2 {
		t.Errorf("got %d live objects, want 2", len(live))
	}
	if !table.Lookup("_start").IsDefined() {
		t.Error("_start should come from the archive")
	}
}
