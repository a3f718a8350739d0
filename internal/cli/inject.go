package cli

import (
	"github.com/spf13/cobra"
)

func newInjectCommand(app *App) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Write the prompt into the workflow file and exit",
		Long: `Load the workflow file, replace the prompt text and save it in place.
No remote service is called.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyOverrides(cmd, app, opts)

			prompt, err := resolvePrompt(cmd, app, opts)
			if err != nil {
				return fail(cmd, err)
			}

			exec := newExecutor(app)
			if _, err := exec.Inject(cmd.Context(), prompt); err != nil {
				return fail(cmd, err)
			}

			app.Printer.Injected(app.Store.Path(), app.Config.Workflow.PromptPath.String())
			return nil
		},
	}
	addPromptFlags(cmd, opts)
	cmd.Flags().StringVarP(&opts.workflow, "workflow", "w", "", "Workflow file (default: workflow.path, pb.json)")
	return cmd
}
