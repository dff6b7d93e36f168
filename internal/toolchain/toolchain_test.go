package toolchain

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qobs-build/mcubuild/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		Toolchain:    Bare("arm-none-eabi-"),
		OutputDir:    "/out",
		Elf:          "/out/main.elf",
		Hex:          "/out/main.hex",
		Device:       "STM32F103xB",
		CPUFlags:     []string{"-mcpu=cortex-m3", "-mthumb"},
		OptLevel:     "s",
		LinkerScript: "/proj/stm32f103c8tx_flash.ld",
	}
}

func testSources() *resolver.Sources {
	return &resolver.Sources{
		C:              []string{"/proj/Core/Src/main.c", "/proj/Core/Src/util.c"},
		Asm:            []string{"/proj/Core/Startup/startup_stm32f103xb.s"},
		ProjectIncDirs: []string{"/proj/Core/Inc"},
		SystemIncDirs:  []string{"/packs/CMSIS/Include", " "},
		UserIncDirs:    []string{"/usr/local/include/extra"},
	}
}

func TestObjectPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/out", "main.o"), ObjectPath("/out", "/proj/src/main.c"))
	assert.Equal(t, filepath.Join("/out", "startup.o"), ObjectPath("/out", "/proj/startup.s"))
	assert.Equal(t, filepath.Join("/out", "c_helpers.c.o"), ObjectPath("/out", "/proj/c_helpers.c.c"))
}

func TestDedupObjects(t *testing.T) {
	in := []string{"/out/b.o", "/out/a.o", "/out/b.o", "/out/c.o", "/out/a.o"}
	out := DedupObjects(in)
	assert.Equal(t, []string{"/out/b.o", "/out/a.o", "/out/c.o"}, out)
	assert.Empty(t, DedupObjects(nil))
}

func TestNewPlanArgs(t *testing.T) {
	opts := testOptions()
	opts.Defines = map[string]string{"USE_HAL_DRIVER": "", "HSE_VALUE": "8000000"}
	plan, err := NewPlan(opts, testSources())
	require.NoError(t, err)
	require.Len(t, plan.Compile, 3)

	cc := plan.Compile[0]
	assert.Equal(t, Compile, cc.Kind)
	assert.Equal(t, []string{
		"arm-none-eabi-gcc",
		"-mcpu=cortex-m3", "-mthumb", "-Os",
		"-c", "/proj/Core/Src/main.c", "-o", filepath.Join("/out", "main.o"),
		"-DSTM32F103xB", "-DHSE_VALUE=8000000", "-DUSE_HAL_DRIVER",
		"-I/proj/Core/Inc", "-I/packs/CMSIS/Include", "-I/usr/local/include/extra",
	}, cc.Argv())

	as := plan.Compile[2]
	assert.Equal(t, Assemble, as.Kind)
	assert.Equal(t, []string{
		"arm-none-eabi-as",
		"/proj/Core/Startup/startup_stm32f103xb.s", "-o", filepath.Join("/out", "startup_stm32f103xb.o"),
		"-I/proj/Core/Inc",
	}, as.Argv())

	assert.Equal(t, []string{
		"arm-none-eabi-gcc",
		"-mcpu=cortex-m3", "-mthumb", "-Os",
		"-T", "/proj/stm32f103c8tx_flash.ld",
		"-specs=nosys.specs", "-Wl,--gc-sections",
		"-o", "/out/main.elf",
		filepath.Join("/out", "main.o"), filepath.Join("/out", "util.o"), filepath.Join("/out", "startup_stm32f103xb.o"),
	}, plan.Link.Argv())

	assert.Equal(t, []string{"arm-none-eabi-objcopy", "-O", "ihex", "/out/main.elf", "/out/main.hex"}, plan.Objcopy.Argv())
	assert.Empty(t, plan.Warnings)
	assert.Len(t, plan.Steps(), 5)
}

func TestNewPlanNoLinkerScript(t *testing.T) {
	opts := testOptions()
	opts.LinkerScript = ""
	opts.OptLevel = ""
	opts.Ldflags = []string{"-Wl,-Map=main.map"}
	plan, err := NewPlan(opts, &resolver.Sources{C: []string{"/p/main.c"}})
	require.NoError(t, err)

	assert.NotContains(t, plan.Link.Args, "-T")
	assert.NotContains(t, plan.Link.Args, "-Os")
	assert.Contains(t, plan.Link.Args, "-Wl,-Map=main.map")
}

func TestNewPlanCollapsesDuplicateObjects(t *testing.T) {
	src := &resolver.Sources{C: []string{"/p/a/util.c", "/p/b/util.c", "/p/main.c"}}
	plan, err := NewPlan(testOptions(), src)
	require.NoError(t, err)

	assert.Len(t, plan.Compile, 3)
	assert.Equal(t, []string{filepath.Join("/out", "util.o"), filepath.Join("/out", "main.o")}, plan.Link.Inputs)
	require.Len(t, plan.Warnings, 1)
	assert.Contains(t, plan.Warnings[0], "util.o")
}

func TestNewPlanNoSources(t *testing.T) {
	_, err := NewPlan(testOptions(), &resolver.Sources{})
	require.ErrorIs(t, err, errNoSources)
}

func TestStepString(t *testing.T) {
	assert.Equal(t, `arm-none-eabi-gcc -T '/p/linker scripts/a.ld' -DX '-DREV="abc1234"'`,
		Step{Program: "arm-none-eabi-gcc", Args: []string{"-T", "/p/linker scripts/a.ld", "-DX", `-DREV="abc1234"`}}.String())
	assert.Equal(t, `gcc '' 'it'\''s.c'`, Step{Program: "gcc", Args: []string{"", "it's.c"}}.String())
}

func TestStepStringThroughShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	paths := []string{
		"/p/a$HOME/x.c",
		"/p/b`echo pwned`.c",
		"/p/it's here.c",
		"/p/new\nline.c",
		"/p/*;&|<>().c",
	}
	s := Step{Program: "printf", Args: append([]string{`%s\n`}, paths...)}

	out, err := exec.Command("/bin/sh", "-c", s.String()).Output()
	require.NoError(t, err)
	assert.Equal(t, strings.Join(paths, "\n")+"\n", string(out))
}

func TestExecuteOrder(t *testing.T) {
	plan, err := NewPlan(testOptions(), testSources())
	require.NoError(t, err)

	r := &RecordingRunner{}
	require.NoError(t, Execute(context.Background(), plan, r, 1))
	assert.Equal(t, plan.Steps(), r.Steps())
}

func TestExecuteFailFast(t *testing.T) {
	plan, err := NewPlan(testOptions(), testSources())
	require.NoError(t, err)

	boom := errors.New("exit status 1")
	r := &RecordingRunner{Fail: func(step Step) error {
		if strings.HasSuffix(step.Output, "main.o") {
			return boom
		}
		return nil
	}}
	err = Execute(context.Background(), plan, r, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, Compile, stepErr.Step.Kind)
	assert.Contains(t, err.Error(), "CC main.c")

	// nothing after the failing compile may run
	assert.Len(t, r.Steps(), 1)
}

func TestExecuteParallel(t *testing.T) {
	src := &resolver.Sources{}
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		src.C = append(src.C, "/p/"+n+".c")
	}
	plan, err := NewPlan(testOptions(), src)
	require.NoError(t, err)

	var compiled atomic.Int32
	r := RunnerFunc(func(ctx context.Context, step Step) error {
		switch step.Kind {
		case Compile:
			compiled.Add(1)
		case Link:
			if compiled.Load() != 6 {
				return errors.New("link started before every compile finished")
			}
		}
		return nil
	})
	require.NoError(t, Execute(context.Background(), plan, r, 4))
	assert.EqualValues(t, 6, compiled.Load())
}

func TestExecuteParallelSharedObject(t *testing.T) {
	src := &resolver.Sources{C: []string{"/p/a/util.c", "/p/b/util.c", "/p/main.c", "/p/c/util.c"}}
	plan, err := NewPlan(testOptions(), src)
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		inFlight = make(map[string]int)
		overlap  bool
		utilSeq  []string
	)
	r := RunnerFunc(func(ctx context.Context, step Step) error {
		mu.Lock()
		inFlight[step.Output]++
		if inFlight[step.Output] > 1 {
			overlap = true
		}
		if step.Kind == Compile && filepath.Base(step.Output) == "util.o" {
			utilSeq = append(utilSeq, step.Inputs[0])
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight[step.Output]--
		mu.Unlock()
		return nil
	})
	require.NoError(t, Execute(context.Background(), plan, r, 4))
	assert.False(t, overlap)
	assert.Equal(t, []string{"/p/a/util.c", "/p/b/util.c", "/p/c/util.c"}, utilSeq)
}

func TestExecuteLinkFailure(t *testing.T) {
	plan, err := NewPlan(testOptions(), testSources())
	require.NoError(t, err)

	r := &RecordingRunner{Fail: func(step Step) error {
		if step.Kind == Link {
			return errors.New("undefined reference to main")
		}
		return nil
	}}
	err = Execute(context.Background(), plan, r, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "linking failed")
	assert.Len(t, r.Steps(), 4)
}

func TestExecuteCancelled(t *testing.T) {
	plan, err := NewPlan(testOptions(), testSources())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &RecordingRunner{}
	require.ErrorIs(t, Execute(ctx, plan, r, 1), context.Canceled)
	assert.Empty(t, r.Steps())
}

func TestFind(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses shell script stand-ins")
	}
	bin := t.TempDir()
	for _, name := range []string{"test-none-eabi-gcc", "test-none-eabi-as", "test-none-eabi-objcopy"} {
		require.NoError(t, os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"), 0o755))
	}

	tc, err := Find("test-none-eabi-", bin)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(bin, "test-none-eabi-gcc"), tc.CC)
	assert.Equal(t, filepath.Join(bin, "test-none-eabi-objcopy"), tc.Objcopy)

	_, err = Find("surely-missing-prefix-", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "surely-missing-prefix-gcc")
}

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	var stdout, stderr strings.Builder
	r := &ExecRunner{Stdout: &stdout, Stderr: &stderr}

	ok := Step{Kind: Compile, Program: "/bin/sh", Args: []string{"-c", "echo compiled"}, Output: "/out/a.o"}
	require.NoError(t, r.Run(context.Background(), ok))
	assert.Equal(t, "CC /out/a.o\n    compiled\n", stdout.String())

	bad := Step{Kind: Link, Program: "/bin/sh", Args: []string{"-c", "echo nope >&2; exit 3"}, Output: "/out/main.elf"}
	err := r.Run(context.Background(), bad)
	require.Error(t, err)
	assert.Equal(t, "    nope\n", stderr.String())
}

func TestExecRunnerQuiet(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	var stdout, stderr strings.Builder
	r := &ExecRunner{Stdout: &stdout, Stderr: &stderr, Quiet: true}

	ok := Step{Kind: Compile, Program: "/bin/sh", Args: []string{"-c", "echo compiled; echo warning >&2"}, Output: "/out/a.o"}
	require.NoError(t, r.Run(context.Background(), ok))
	assert.Empty(t, stdout.String())
	assert.Empty(t, stderr.String())

	bad := Step{Kind: Link, Program: "/bin/sh", Args: []string{"-c", "echo nope >&2; exit 3"}, Output: "/out/main.elf"}
	require.Error(t, r.Run(context.Background(), bad))
	assert.Empty(t, stdout.String())
	assert.Equal(t, "\nLINK /out/main.elf\n    nope\n", stderr.String())
}
