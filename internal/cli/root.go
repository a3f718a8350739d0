// Package cli implements the pb-img command tree.
//
// Commands receive their dependencies through [App] so tests can swap the
// remote clients for doubles. [Execute] is the process entry point; it loads
// configuration, wires the production clients and maps failures to exit codes.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ouiliame/pb-img/internal/config"
	"github.com/ouiliame/pb-img/internal/critique"
	"github.com/ouiliame/pb-img/internal/generator"
	"github.com/ouiliame/pb-img/internal/images"
	"github.com/ouiliame/pb-img/internal/logging"
	"github.com/ouiliame/pb-img/internal/output"
	"github.com/ouiliame/pb-img/internal/pipeline"
	"github.com/ouiliame/pb-img/internal/workflow"
)

// App holds the dependencies shared by all commands.
type App struct {
	Config    *config.Config
	Store     pipeline.WorkflowStore
	Generator pipeline.ImageGenerator
	Writer    pipeline.ImageWriter
	Critic    pipeline.Critic
	Printer   *output.Printer
	Logger    *slog.Logger

	// LogLevel controls Logger; --verbose lowers it to debug.
	LogLevel *slog.LevelVar
}

// NewApp wires the production clients from cfg. Logs go to stderr.
func NewApp(cfg *config.Config) *App {
	lv := new(slog.LevelVar)
	lv.Set(logging.ParseLevel(cfg.Log.Level))
	logger := logging.NewLeveled(lv, os.Stderr)

	return &App{
		Config:    cfg,
		Store:     workflow.NewStore(cfg.Workflow.Path),
		Generator: generator.NewFromConfig(cfg.Replicate, logger),
		Writer:    images.NewWriter(cfg.Output.Dir, cfg.Output.Pattern),
		Critic:    critique.New(cfg.Critique, nil, logger),
		Printer:   output.NewPrinter(),
		Logger:    logger,
		LogLevel:  lv,
	}
}

// NewRootCommand builds the command tree. Running the root command with no
// subcommand runs the full pipeline.
func NewRootCommand(app *App) *cobra.Command {
	var verbose bool
	opts := &runOptions{}

	rootCmd := &cobra.Command{
		Use:   "pb-img",
		Short: "Generate images from a ComfyUI workflow and critique them",
		Long: `pb-img injects a prompt into a ComfyUI workflow file, runs the workflow on
Replicate, saves every generated image and asks a vision model whether each
image matches the prompt.

Running pb-img with no subcommand is the same as "pb-img run".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !verbose {
				return
			}
			if app.LogLevel != nil {
				app.LogLevel.Set(slog.LevelDebug)
			}
			if app.Printer != nil {
				app.Printer.SetProgressWriter(cmd.ErrOrStderr())
			}
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, app, opts, false)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show step progress and debug logs on stderr")
	addRunFlags(rootCmd, opts)

	rootCmd.AddCommand(
		newRunCommand(app),
		newGenerateCommand(app),
		newInjectCommand(app),
		newCritiqueCommand(app),
	)

	return rootCmd
}

// ExecuteResult is the outcome of a command-line invocation.
type ExecuteResult struct {
	ExitCode int
	Err      error
}

// Execute runs pb-img with the process arguments and exits.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result := RunWithConfig(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(result.ExitCode)
}

// RunWithConfig loads configuration, wires the production [App] and runs args.
func RunWithConfig(ctx context.Context, args []string, stderr io.Writer) ExecuteResult {
	cfg, err := config.NewLoader().Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExecuteResult{ExitCode: 1, Err: err}
	}
	return Run(ctx, NewApp(cfg), args, stderr)
}

// Run executes args against app. Errors not already reported by a command
// are printed to stderr as "Error: <message>".
func Run(ctx context.Context, app *App, args []string, stderr io.Writer) ExecuteResult {
	rootCmd := NewRootCommand(app)
	rootCmd.SetArgs(args)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if code, ok := IsExitError(err); ok {
			return ExecuteResult{ExitCode: code, Err: err}
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExecuteResult{ExitCode: 1, Err: err}
	}
	return ExecuteResult{ExitCode: 0}
}

// fail reports err on the command's stderr and converts it to an exit code.
func fail(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	return NewExitError(1)
}
