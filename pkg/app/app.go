package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"
	"k8s.io/component-base/term"
)

// RunFunc is the command body, invoked after the options were loaded,
// completed and validated.
type RunFunc func() error

// App is the main structure of a cli application.
type App struct {
	name        string
	shortDesc   string
	description string
	run         RunFunc
	options     NamedFlagSetOptions
	args        cobra.PositionalArgs
	commands    []*cobra.Command
	viper       *viper.Viper
	cmd         *cobra.Command
}

// Option configures an App.
type Option func(*App)

// WithOptions sets the options the command line and config file are loaded into.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.run = run }
}

func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithDefaultValidArgs rejects positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithCommands adds subcommands.
func WithCommands(cmds ...*cobra.Command) Option {
	return func(a *App) { a.commands = append(a.commands, cmds...) }
}

// NewApp creates a new application instance based on the given name and options.
func NewApp(name string, shortDesc string, opts ...Option) *App {
	a := &App{name: name, shortDesc: shortDesc, viper: viper.New()}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the root cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command line and exits the process on failure.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true
	cmd.AddCommand(a.commands...)

	if a.run != nil {
		cmd.RunE = a.runCommand
	}

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
	}
	addConfigFlag(a.name, namedFlagSets.FlagSet("global"))
	globalflag.AddGlobalFlags(namedFlagSets.FlagSet("global"), cmd.Name())

	// Subcommands share the option flags so they can load the same config.
	fs := cmd.PersistentFlags()
	for _, f := range namedFlagSets.FlagSets {
		fs.AddFlagSet(f)
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedFlagSets, cols)

	a.cmd = cmd
}

// LoadOptions binds the flags of cmd, the config file and the environment
// into the options, then completes and validates them. Subcommands call it
// before using the options.
func (a *App) LoadOptions(cmd *cobra.Command) error {
	if err := loadConfig(a.viper, cfgFile); err != nil {
		return err
	}
	if err := a.viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if a.options == nil {
		return nil
	}
	if err := a.viper.Unmarshal(a.options); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := a.options.Complete(); err != nil {
		return err
	}
	return a.options.Validate()
}

func (a *App) runCommand(cmd *cobra.Command, args []string) error {
	if err := a.LoadOptions(cmd); err != nil {
		return err
	}
	watchLogLevel(a.viper)
	return a.run()
}
