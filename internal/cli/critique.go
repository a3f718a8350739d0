package cli

import (
	"github.com/spf13/cobra"
)

func newCritiqueCommand(app *App) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "critique <image>",
		Short: "Critique an existing image against the prompt",
		Long: `Send one image file and the prompt to the vision model and print its feedback.
The workflow file is not touched.

Example:
  pb-img critique output_0.png --prompt "a cat asleep on a windowsill"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := resolvePrompt(cmd, app, opts)
			if err != nil {
				return fail(cmd, err)
			}

			feedback, err := app.Critic.Critique(cmd.Context(), args[0], prompt)
			if err != nil {
				return fail(cmd, err)
			}

			app.Printer.Critique(args[0], feedback)
			return nil
		},
	}
	addPromptFlags(cmd, opts)
	return cmd
}
