package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ouiliame/pb-img/internal/images"
	"github.com/ouiliame/pb-img/internal/pipeline"
	"github.com/ouiliame/pb-img/internal/workflow"
)

// runOptions are the flags shared by the pipeline commands.
type runOptions struct {
	prompt     string
	promptFile string
	workflow   string
	outputDir  string
	parallel   bool
	dryRun     bool
}

func addPromptFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().StringVarP(&opts.prompt, "prompt", "p", "", "Prompt text (default: configured prompt)")
	cmd.Flags().StringVar(&opts.promptFile, "prompt-file", "", "Read the prompt from a file")
	cmd.MarkFlagsMutuallyExclusive("prompt", "prompt-file")
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	addPromptFlags(cmd, opts)
	cmd.Flags().StringVarP(&opts.workflow, "workflow", "w", "", "Workflow file (default: workflow.path, pb.json)")
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "Directory for generated images (default: output.dir)")
	cmd.Flags().BoolVar(&opts.parallel, "parallel", false, "Write and critique all images concurrently")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Show the planned steps without running them")
}

// resolvePrompt picks the prompt from --prompt, --prompt-file or config.
// An explicit --prompt "" injects the empty string.
func resolvePrompt(cmd *cobra.Command, app *App, opts *runOptions) (string, error) {
	switch {
	case cmd.Flags().Changed("prompt"):
		return opts.prompt, nil
	case cmd.Flags().Changed("prompt-file"):
		data, err := os.ReadFile(opts.promptFile)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file: %w", err)
		}
		return string(data), nil
	default:
		return app.Config.Prompt, nil
	}
}

// applyOverrides rebinds the workflow store and image writer when their
// locations were given on the command line.
func applyOverrides(cmd *cobra.Command, app *App, opts *runOptions) {
	if cmd.Flags().Changed("workflow") {
		app.Config.Workflow.Path = opts.workflow
		app.Store = workflow.NewStore(opts.workflow)
	}
	if cmd.Flags().Changed("output-dir") {
		app.Config.Output.Dir = opts.outputDir
		app.Writer = images.NewWriter(opts.outputDir, app.Config.Output.Pattern)
	}
	if cmd.Flags().Changed("parallel") {
		app.Config.Pipeline.Parallel = opts.parallel
	}
}

func newExecutor(app *App) *pipeline.Executor {
	exec := pipeline.NewExecutor(
		app.Store,
		app.Generator,
		app.Writer,
		app.Critic,
		app.Printer,
		app.Config.Workflow.PromptPath,
	)
	exec.SetProgressCallback(app.Printer.Step)
	exec.SetParallel(app.Config.Pipeline.Parallel)
	exec.SetLogger(app.Logger)
	return exec
}

func runPipeline(cmd *cobra.Command, app *App, opts *runOptions, skipCritique bool) error {
	applyOverrides(cmd, app, opts)

	prompt, err := resolvePrompt(cmd, app, opts)
	if err != nil {
		return fail(cmd, err)
	}

	exec := newExecutor(app)
	exec.SetSkipCritique(skipCritique)

	if opts.dryRun {
		app.Printer.Plan(exec.Steps())
		return nil
	}

	if _, err := exec.Run(cmd.Context(), prompt); err != nil {
		return fail(cmd, err)
	}
	return nil
}

func newRunCommand(app *App) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline",
		Long: `Run the full pipeline:
  1. load-workflow    - Read the workflow file
  2. inject-prompt    - Write the prompt into the CLIPTextEncode node
  3. save-workflow    - Save the workflow file in place
  4. generate-images  - Run the workflow on Replicate
  5. write-image      - Save each image as output_<i>.png
  6. critique         - Ask the vision model about each image
  7. report-critique  - Print the feedback

The run stops at the first failure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, app, opts, false)
		},
	}
	addRunFlags(cmd, opts)
	return cmd
}

func newGenerateCommand(app *App) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Inject, generate and save images without critique",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, app, opts, true)
		},
	}
	addRunFlags(cmd, opts)
	return cmd
}
