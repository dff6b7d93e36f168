// mcubuild sources [path]
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/qobs-build/mcubuild/internal/builder"
	"github.com/qobs-build/mcubuild/internal/msg"
	"github.com/qobs-build/mcubuild/internal/resolver"
	"github.com/spf13/cobra"
)

var flagAbsolute bool

func printSet(w io.Writer, title, root string, paths []string) {
	fmt.Fprintf(w, "%s (%d)\n", color.HiCyanString(title), len(paths))
	for _, p := range paths {
		if !flagAbsolute {
			if rel, err := filepath.Rel(root, p); err == nil {
				p = rel
			}
		}
		fmt.Fprintf(w, "  %s\n", filepath.ToSlash(p))
	}
}

func printSources(w io.Writer, root string, src *resolver.Sources, asm bool) {
	printSet(w, "C sources", root, src.C)
	if asm {
		printSet(w, "Assembly sources", root, src.Asm)
	}
	printSet(w, "Project include dirs", root, src.ProjectIncDirs)
	printSet(w, "System include dirs", root, src.SystemIncDirs)
	printSet(w, "User include dirs", root, src.UserIncDirs)
}

func doSources(cmd *cobra.Command, args []string) {
	b, err := builder.NewBuilderInDirectory(targetArg(args), flagConfig, flagProfile)
	if err != nil {
		msg.Fatal("%v", err)
	}

	src, err := b.Resolve()
	if err != nil {
		msg.Fatal("failed to resolve sources: %v", err)
	}

	s := b.Settings()
	printSources(os.Stdout, s.Root, src, s.Asm)
	if len(src.C) == 0 && len(src.Asm) == 0 {
		msg.Warn("no sources found under %s", s.Root)
	}
}

var sourcesCmd = &cobra.Command{
	Use:   "sources [project path]",
	Short: "List the files and include directories a build would use",
	Args:  cobra.MaximumNArgs(1),
	Run:   doSources,
}

func init() {
	// mcubuild sources subcommand
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.Flags().BoolVarP(&flagAbsolute, "absolute", "a", false, "Print absolute paths")
}
