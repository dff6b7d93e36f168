// Package toolchain turns resolved file sets into argument vectors for a GNU cross
// toolchain and runs them.
package toolchain

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Toolchain holds the programs of a cross toolchain. Linking goes through the
// compiler driver.
type Toolchain struct {
	CC      string
	AS      string
	Objcopy string
}

func exeName(name string) string {
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		return name + ".exe"
	}
	return name
}

// Bare returns the toolchain program names without looking them up
func Bare(prefix string) Toolchain {
	return Toolchain{
		CC:      prefix + "gcc",
		AS:      prefix + "as",
		Objcopy: prefix + "objcopy",
	}
}

// findProgram looks for name in binDir first, then in PATH
func findProgram(name, binDir string) (string, error) {
	if binDir != "" {
		if path, err := exec.LookPath(filepath.Join(binDir, exeName(name))); err == nil {
			return path, nil
		}
	}
	return exec.LookPath(name)
}

// Find locates the toolchain programs for prefix (e.g. "arm-none-eabi-")
func Find(prefix, binDir string) (Toolchain, error) {
	bare := Bare(prefix)
	var missing []string

	lookup := func(name string) string {
		path, err := findProgram(name, binDir)
		if err != nil {
			missing = append(missing, name)
			return name
		}
		return path
	}

	tc := Toolchain{
		CC:      lookup(bare.CC),
		AS:      lookup(bare.AS),
		Objcopy: lookup(bare.Objcopy),
	}
	if len(missing) > 0 {
		where := "PATH"
		if binDir != "" {
			where = binDir + " or PATH"
		}
		return tc, fmt.Errorf("toolchain programs not found in %s: %s", where, strings.Join(missing, ", "))
	}
	return tc, nil
}
