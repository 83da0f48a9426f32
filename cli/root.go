package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"microagent/core"
	localtools "microagent/tools"

	"github.com/labstack/gommon/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "microagent [flags] <objective>",
	Short: "MicroAgent - an autonomous agent that pursues an objective with shell, code and web commands",
	Long: `MicroAgent asks a language model for one command at a time, runs it, remembers
the result and repeats until the model declares the objective done.

Every command is shown for confirmation before it runs unless PROMPT_USER is
disabled. Configuration comes from environment variables and an optional YAML
file.

Example:
  microagent "Find the five largest files in this directory and summarize them"
  microagent --critic --max-iterations 20 "Write a haiku about Go into haiku.txt"
  microagent serve`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runObjective,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var failure *core.RunFailure
		if !errors.As(err, &failure) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return 1
	}
	return 0
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables override it")

	rootCmd.Flags().Bool("confirm", true, "ask for confirmation before every command runs")
	rootCmd.Flags().Bool("critic", false, "let a critic review every proposed command")
	rootCmd.Flags().Bool("planner", false, "ask for an action plan before the first iteration")
	rootCmd.Flags().Int("max-iterations", 0, "maximum number of iterations (0 uses MAX_ITERATIONS)")
	rootCmd.Flags().Bool("debug", false, "print prompts and raw model responses")
}

// loadConfig loads the configuration and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*core.Config, error) {
	config, err := core.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Lookup("confirm") != nil && flags.Changed("confirm") {
		config.PromptUser, _ = flags.GetBool("confirm")
	}
	if flags.Lookup("critic") != nil && flags.Changed("critic") {
		config.EnableCritic, _ = flags.GetBool("critic")
	}
	if flags.Lookup("planner") != nil && flags.Changed("planner") {
		config.EnablePlanner, _ = flags.GetBool("planner")
	}
	if flags.Lookup("max-iterations") != nil && flags.Changed("max-iterations") {
		if n, _ := flags.GetInt("max-iterations"); n > 0 {
			config.MaxIterations = n
		}
	}
	if flags.Lookup("debug") != nil && flags.Changed("debug") {
		config.DebugMode, _ = flags.GetBool("debug")
	}
	return config, nil
}

// newRuntime wires the executors and the model for config.
func newRuntime(ctx context.Context, config *core.Config, logger *logrus.Logger, metrics *core.Metrics) (*core.Runtime, error) {
	executors, err := localtools.NewExecutors(localtools.Options{
		WorkDir:          config.WorkDir,
		Shell:            config.Shell,
		ExecTimeout:      config.ExecTimeout,
		FetchTimeout:     config.FetchTimeout,
		SearchMaxResults: config.SearchMaxResults,
	})
	if err != nil {
		return nil, err
	}
	return core.NewRuntime(ctx, config, logger, executors, metrics)
}

func runObjective(cmd *cobra.Command, args []string) error {
	objective := strings.TrimSpace(strings.Join(args, " "))
	if objective == "" {
		return errors.New("objective must not be empty")
	}

	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := core.InitializeLogger(config, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime, err := newRuntime(ctx, config, logger, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize runtime")
		return err
	}
	defer func() {
		if err := runtime.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close long-term memory")
		}
	}()

	out := cmd.OutOrStdout()
	c := color.New()
	c.SetOutput(out)

	if config.PromptUser && !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		logger.Warn("Standard input is not a terminal; confirmations are read from piped input")
	}
	operator := core.NewConsoleOperator(cmd.InOrStdin(), out, c)
	reporter := newConsoleReporter(out, c, config.DebugMode)

	session, orchestrator := runtime.NewRun(objective, operator, core.RunOptions{}, reporter.Handle,
		core.NewVerboseCallbackHandler(logger.WithField("component", "cli"), config))

	result, err := orchestrator.Run(ctx, session)
	reporter.Finish(result, err)
	return err
}
