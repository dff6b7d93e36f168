// mcubuild [path], mcubuild build [path]
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/qobs-build/mcubuild/internal/builder"
	"github.com/qobs-build/mcubuild/internal/config"
	"github.com/qobs-build/mcubuild/internal/msg"
	"github.com/spf13/cobra"
)

var (
	flagProfile   string
	flagConfig    string
	flagJobs      int
	flagDryRun    bool
	flagQuiet     bool
	flagGenerator EnumValue = NewEnumValue(builder.GeneratorDirect, map[string]string{
		builder.GeneratorDirect: "Run the toolchain directly (default)",
		builder.GeneratorNinja:  "Generate build.ninja in the output directory and run ninja",
	})
)

func targetArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func doBuild(cmd *cobra.Command, args []string) {
	b, err := builder.NewBuilderInDirectory(targetArg(args), flagConfig, flagProfile)
	if err != nil {
		msg.Fatal("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = b.Build(ctx, builder.Options{
		Generator: flagGenerator.Value(),
		Jobs:      flagJobs,
		DryRun:    flagDryRun,
		Quiet:     flagQuiet,
	})
	if err != nil {
		msg.Fatal("%v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mcubuild [project path]",
	Short: "Build microcontroller firmware with a GNU cross toolchain",
	Long: `Build microcontroller firmware with a GNU cross toolchain.

Sources, assembly files and include directories are discovered below the project
root, then compiled, linked into an ELF image and converted to Intel-HEX.`,
	Args: cobra.MaximumNArgs(1),
	Run:  doBuild,
}

var buildCmd = &cobra.Command{
	Use:   "build [project path]",
	Short: "Build the firmware",
	Long:  `Build the firmware. If no project path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagProfile, "profile", "p", config.DefaultProfile, "Build with the given profile (built in: c-asm, c-only)")
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", config.Filename, "Config file name, relative to the project path")

	addBuildFlags(rootCmd)

	// mcubuild build subcommand
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&flagJobs, "jobs", "j", 1, "Number of compile steps to run at once")
	cmd.Flags().BoolVarP(&flagDryRun, "dry-run", "n", false, "Print the commands instead of running them")
	cmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "Show a progress bar instead of every command")
	cmd.Flags().VarP(&flagGenerator, "gen", "g", "Generator to build with, one of "+flagGenerator.HelpString())
	cmd.RegisterFlagCompletionFunc("gen", flagGenerator.CompletionFunc())
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
