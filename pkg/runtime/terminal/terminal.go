package terminal

import (
	"io"
	"os"

	"github.com/de-tools/revenue-atlas/pkg/runtime/terminal/commands"
	"github.com/de-tools/revenue-atlas/pkg/runtime/terminal/export"
	"github.com/de-tools/revenue-atlas/pkg/services/config"
	"github.com/spf13/cobra"
)

// CLI represents the command-line interface
type CLI struct {
	cfgPath  string
	reporter *export.Reporter
	rootCmd  *cobra.Command
}

type Options struct {
	Output io.Writer
}

func NewCLI(opts Options) *CLI {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	cli := &CLI{
		reporter: export.NewReporter(opts.Output),
	}

	cli.rootCmd = cli.newRootCmd()
	cli.rootCmd.SetOut(opts.Output)
	return cli
}

func (cli *CLI) Execute() error {
	return cli.rootCmd.Execute()
}

// Command exposes the root command, mainly so tests can set arguments.
func (cli *CLI) Command() *cobra.Command {
	return cli.rootCmd
}

func (cli *CLI) loadConfig() (*config.Config, error) {
	return config.Load(cli.cfgPath)
}

func (cli *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "revenue",
		Short:         "Cohort revenue attribution",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&cli.cfgPath, "config", "c", "", "Path to the YAML configuration file")

	cmd.AddCommand(commands.NewRunCmd(cli.loadConfig, cli.reporter))
	cmd.AddCommand(commands.NewCohortsCmd(cli.loadConfig))
	cmd.AddCommand(commands.NewRateCmd(cli.loadConfig))
	cmd.AddCommand(commands.NewImportCmd(cli.loadConfig))

	return cmd
}
