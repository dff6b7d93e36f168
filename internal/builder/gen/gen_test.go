package gen

import (
	"context"
	"strings"
	"testing"

	"github.com/qobs-build/mcubuild/internal/resolver"
	"github.com/qobs-build/mcubuild/internal/toolchain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPlan(t *testing.T, c ...string) *toolchain.Plan {
	t.Helper()
	plan, err := toolchain.NewPlan(toolchain.Options{
		Toolchain:    toolchain.Bare("arm-none-eabi-"),
		OutputDir:    "/out",
		Elf:          "/out/main.elf",
		Hex:          "/out/main.hex",
		Device:       "STM32F103xB",
		CPUFlags:     []string{"-mcpu=cortex-m3", "-mthumb"},
		LinkerScript: "/p/linker scripts/flash.ld",
	}, &resolver.Sources{C: c, ProjectIncDirs: []string{"/p/inc"}})
	require.NoError(t, err)
	return plan
}

func generate(t *testing.T, g Generator, plan *toolchain.Plan) string {
	t.Helper()
	out, err := g.Generate(plan)
	require.NoError(t, err)
	return out
}

func TestNinjaGenerate(t *testing.T) {
	g := &NinjaGen{}
	out := generate(t, g, testPlan(t, "/p/main.c", "/p/util.c"))

	assert.Equal(t, "build.ninja", g.BuildFile())
	assert.True(t, strings.HasPrefix(out, "ninja_required_version = 1.1\n"))
	assert.Contains(t, out, "rule run\n  command = $cmd\n")
	assert.Contains(t, out, "build /out/main.o: run /p/main.c\n")
	assert.Contains(t, out, "  desc = CC /out/main.o\n")
	assert.Contains(t, out, "build /out/main.elf: run /out/main.o /out/util.o\n")
	assert.Contains(t, out, `-T '/p/linker scripts/flash.ld'`)
	assert.True(t, strings.HasSuffix(out, "default /out/main.hex\n"))

	// deterministic output
	assert.Equal(t, out, generate(t, &NinjaGen{}, testPlan(t, "/p/main.c", "/p/util.c")))
}

func TestNinjaSkipsDuplicateEdges(t *testing.T) {
	out := generate(t, &NinjaGen{}, testPlan(t, "/p/a/util.c", "/p/b/util.c"))
	assert.Equal(t, 1, strings.Count(out, "build /out/util.o:"))
}

func TestNinjaEscaping(t *testing.T) {
	assert.Equal(t, "C$:/my$ proj/a$$b.c", quote("C:/my proj/a$b.c"))

	out := generate(t, &NinjaGen{}, testPlan(t, "/p/a$HOME.c"))
	assert.Contains(t, out, "build /out/a$$HOME.o: run /p/a$$HOME.c\n")
	assert.Contains(t, out, " -c '/p/a$$HOME.c' -o '/out/a$$HOME.o' ")
}

func TestNinjaRejectsNewlines(t *testing.T) {
	_, err := (&NinjaGen{}).Generate(testPlan(t, "/p/new\nline.c"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newline")
}

func TestDirectBuilder(t *testing.T) {
	r := &toolchain.RecordingRunner{}
	g := NewDirectBuilder(r, 1, false)
	require.ErrorIs(t, g.Invoke(context.Background(), "/out"), errNoPlan)

	plan := testPlan(t, "/p/main.c")
	assert.Empty(t, generate(t, g, plan))
	require.NoError(t, g.Invoke(context.Background(), "/out"))
	assert.Equal(t, plan.Steps(), r.Steps())
}

func TestDirectBuilderQuiet(t *testing.T) {
	r := &toolchain.RecordingRunner{}
	g := NewDirectBuilder(r, 2, true)
	generate(t, g, testPlan(t, "/p/main.c", "/p/util.c"))
	require.NoError(t, g.Invoke(context.Background(), "/out"))
	assert.Len(t, r.Steps(), 4)
}
