// mcubuild init [dir]
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/qobs-build/mcubuild/internal/config"
	"github.com/qobs-build/mcubuild/internal/msg"
	"github.com/spf13/cobra"
)

const configTemplate = `[project]
name = "%s"
root = "."
output-dir = "build"

[exclude]
# substrings of directory paths, matching directories are skipped entirely
dirs = ["Drivers/CMSIS/DSP", "Drivers/CMSIS/NN", "EWARM", "MDK-ARM"]
# substrings of file names
files = ["_template.c"]

[toolchain]
prefix = "arm-none-eabi-"
# header search roots outside the project, missing ones are skipped with a warning
system-dirs = []
user-dirs = []

[target]
device = "STM32F103xB"
cpu-flags = ["-mcpu=cortex-m3", "-mthumb"]
opt-level = "s"
linker-script = ""

# profiles layer extra settings on top of the sections above, e.g.
# [profile.f4.target]
# device = "STM32F407xx"
# cpu-flags = ["-mcpu=cortex-m4", "-mthumb", "-mfloat-abi=hard", "-mfpu=fpv4-sp-d16"]
# asm = true
`

// writefile writes content unless the file already exists
func writefile(content string, elem ...string) {
	path := filepath.Join(elem...)
	if _, err := os.Stat(path); err == nil {
		msg.Warn("%s already exists, leaving it alone", filepath.ToSlash(path))
		return
	} else if !os.IsNotExist(err) {
		msg.Fatal("stat %s: %v", path, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		msg.Fatal("create file %s: %v", path, err)
	}
	fmt.Printf("%s file: %s\n", color.HiGreenString("Created"), filepath.ToSlash(path))
}

func getProgramName() string {
	if len(os.Args) == 0 {
		return "mcubuild"
	}
	basename := filepath.Base(os.Args[0])
	return strings.TrimSuffix(basename, filepath.Ext(basename))
}

// initIn writes a starter config into an existing directory
func initIn(dir string) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		msg.Fatal("%v", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		msg.Fatal("mkdir %s: %v", dir, err)
	}

	writefile(fmt.Sprintf(configTemplate, filepath.Base(abs)), dir, config.Filename)
	writefile("build/\n.env\n", dir, ".gitignore")

	programName := getProgramName()
	fmt.Printf("Edit %s, then run %s to check the file sets or %s to build.\n",
		color.HiCyanString(config.Filename),
		color.HiCyanString(programName+" sources "+dir),
		color.HiCyanString(programName+" "+dir))
}

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a Mcubuild.toml in the given directory",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initIn(targetArg(args))
	},
}

func init() {
	// mcubuild init subcommand
	rootCmd.AddCommand(initCmd)
}
