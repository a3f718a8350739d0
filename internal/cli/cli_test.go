package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ouiliame/pb-img/internal/config"
	"github.com/ouiliame/pb-img/internal/generator"
	"github.com/ouiliame/pb-img/internal/workflow"
)

func TestRunCommand_FullPipeline(t *testing.T) {
	for _, args := range [][]string{
		{"run", "--prompt", "a cat on a bed"},
		{"--prompt", "a cat on a bed"},
	} {
		t.Run(fmt.Sprint(args), func(t *testing.T) {
			env := newTestEnv(t, "first", "second")

			result := env.run(args...)

			require.Equal(t, 0, result.ExitCode, env.errOut.String())
			assert.Equal(t, "a cat on a bed", promptIn(t, env.workflowPath))

			for i, want := range []string{"first", "second"} {
				got, err := os.ReadFile(filepath.Join(env.dir, fmt.Sprintf("output_%d.png", i)))
				require.NoError(t, err)
				assert.Equal(t, want, string(got))
			}

			require.Len(t, env.critic.Calls, 2)
			for _, c := range env.critic.Calls {
				assert.Equal(t, "a cat on a bed", c.Prompt)
			}

			assert.Equal(t, "Generated images\n\nFeedback for image 0:\nok output_0.png\n\nFeedback for image 1:\nok output_1.png\n", env.out.String())
			assert.Empty(t, env.errOut.String())
		})
	}
}

func TestRunCommand_DefaultPrompt(t *testing.T) {
	env := newTestEnv(t, "img")

	result := env.run("run")

	require.Equal(t, 0, result.ExitCode, env.errOut.String())
	assert.Equal(t, config.DefaultPrompt, promptIn(t, env.workflowPath))
	require.Len(t, env.critic.Calls, 1)
	assert.Equal(t, config.DefaultPrompt, env.critic.Calls[0].Prompt)
}

func TestRunCommand_PromptFile(t *testing.T) {
	env := newTestEnv(t, "img")
	promptFile := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(promptFile, []byte("from a file\n"), 0644))

	result := env.run("run", "--prompt-file", promptFile)

	require.Equal(t, 0, result.ExitCode, env.errOut.String())
	assert.Equal(t, "from a file\n", promptIn(t, env.workflowPath))
}

func TestRunCommand_ExplicitEmptyPrompt(t *testing.T) {
	env := newTestEnv(t, "img")

	result := env.run("run", "--prompt", "")

	require.Equal(t, 0, result.ExitCode, env.errOut.String())
	assert.Equal(t, "", promptIn(t, env.workflowPath))
	require.Len(t, env.critic.Calls, 1)
	assert.Equal(t, "", env.critic.Calls[0].Prompt)
}

func TestRunCommand_Failures(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		setup      func(env *testEnv)
		wantStderr string
	}{
		{
			name: "generation fails",
			args: []string{"run", "--prompt", "p"},
			setup: func(env *testEnv) {
				env.gen.Err = fmt.Errorf("%w: invalid token", generator.ErrRemoteService)
			},
			wantStderr: "Error: generate-images failed: image generation service error: invalid token\n",
		},
		{
			name: "workflow missing",
			args: []string{"run", "--prompt", "p"},
			setup: func(env *testEnv) {
				require.NoError(t, os.Remove(env.workflowPath))
			},
			wantStderr: "Error: load-workflow failed: workflow not found: ",
		},
		{
			name: "critique fails",
			args: []string{"run", "--prompt", "p"},
			setup: func(env *testEnv) {
				env.critic.Err = errors.New("quota exceeded")
			},
			wantStderr: "Error: critique failed for image 0: quota exceeded\n",
		},
		{
			name:       "prompt file missing",
			args:       []string{"run", "--prompt-file", "/nonexistent/prompt.txt"},
			wantStderr: "Error: failed to read prompt file: ",
		},
		{
			name:       "both prompt flags",
			args:       []string{"run", "--prompt", "a", "--prompt-file", "b"},
			wantStderr: "Error: if any flags in the group [prompt prompt-file] are set none of the others can be",
		},
		{
			name:       "unexpected argument",
			args:       []string{"run", "extra"},
			wantStderr: "Error: unknown command \"extra\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "img")
			if tt.setup != nil {
				tt.setup(env)
			}

			result := env.run(tt.args...)

			assert.Equal(t, 1, result.ExitCode)
			require.Error(t, result.Err)
			assert.Contains(t, env.errOut.String(), tt.wantStderr)
		})
	}
}

func TestRunCommand_GenerationFailureLeavesNoImages(t *testing.T) {
	env := newTestEnv(t, "img")
	env.gen.Err = fmt.Errorf("%w: boom", generator.ErrRemoteService)

	env.run("run", "--prompt", "p")

	assert.NoFileExists(t, filepath.Join(env.dir, "output_0.png"))
	assert.Empty(t, env.critic.Calls)
	assert.Empty(t, env.out.String())
}

func TestRunCommand_DryRun(t *testing.T) {
	env := newTestEnv(t, "img")
	before, err := os.ReadFile(env.workflowPath)
	require.NoError(t, err)

	result := env.run("run", "--prompt", "p", "--dry-run")

	require.Equal(t, 0, result.ExitCode)
	after, err := os.ReadFile(env.workflowPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Zero(t, env.gen.Calls)
	assert.Contains(t, env.out.String(), "Planned steps:")
	assert.Contains(t, env.out.String(), "critique (per image)")
}

func TestRunCommand_Overrides(t *testing.T) {
	env := newTestEnv(t, "img")
	altDir := t.TempDir()
	altWorkflow := filepath.Join(altDir, "other.json")
	require.NoError(t, os.WriteFile(altWorkflow, []byte(testWorkflow), 0644))
	outDir := filepath.Join(altDir, "renders")

	result := env.run("run", "--prompt", "p", "--workflow", altWorkflow, "--output-dir", outDir)

	require.Equal(t, 0, result.ExitCode, env.errOut.String())
	assert.Equal(t, "p", promptIn(t, altWorkflow))
	assert.Equal(t, "old prompt", promptIn(t, env.workflowPath))
	assert.FileExists(t, filepath.Join(outDir, "output_0.png"))
	assert.NoFileExists(t, filepath.Join(env.dir, "output_0.png"))
}

func TestRunCommand_Parallel(t *testing.T) {
	env := newTestEnv(t, "a", "b", "c")

	result := env.run("run", "--prompt", "p", "--parallel")

	require.Equal(t, 0, result.ExitCode, env.errOut.String())
	assert.True(t, env.app.Config.Pipeline.Parallel)
	assert.Len(t, env.critic.Calls, 3)
	assert.Equal(t, "Generated images\n\nFeedback for image 0:\nok output_0.png\n\nFeedback for image 1:\nok output_1.png\n\nFeedback for image 2:\nok output_2.png\n", env.out.String())
}

func TestRunCommand_Verbose(t *testing.T) {
	env := newTestEnv(t, "img")

	result := env.run("run", "--prompt", "p", "--verbose")

	require.Equal(t, 0, result.ExitCode)
	assert.Contains(t, env.errOut.String(), "→ load-workflow")
	assert.Contains(t, env.errOut.String(), "→ critique [0]")
	assert.Contains(t, env.errOut.String(), "→ done")
	assert.NotContains(t, env.out.String(), "→")
}

func TestGenerateCommand(t *testing.T) {
	env := newTestEnv(t, "a", "b")

	result := env.run("generate", "--prompt", "p")

	require.Equal(t, 0, result.ExitCode, env.errOut.String())
	assert.Empty(t, env.critic.Calls)
	assert.Equal(t, fmt.Sprintf("Generated images\nImage 0: %s\nImage 1: %s\n",
		filepath.Join(env.dir, "output_0.png"), filepath.Join(env.dir, "output_1.png")), env.out.String())
}

func TestInjectCommand(t *testing.T) {
	env := newTestEnv(t, "img")

	result := env.run("inject", "--prompt", "fresh prompt")

	require.Equal(t, 0, result.ExitCode, env.errOut.String())
	assert.Equal(t, "fresh prompt", promptIn(t, env.workflowPath))
	assert.Zero(t, env.gen.Calls)
	assert.Empty(t, env.critic.Calls)
	assert.Equal(t, fmt.Sprintf("Prompt injected into %s (6.inputs.text)\n", env.workflowPath), env.out.String())
}

func TestInjectCommand_ReportsStorePath(t *testing.T) {
	env := newTestEnv(t)
	other := filepath.Join(t.TempDir(), "portrait.json")
	require.NoError(t, os.WriteFile(other, []byte(testWorkflow), 0644))
	env.app.Store = workflow.NewStore(other)

	result := env.run("inject", "--prompt", "x")

	require.Equal(t, 0, result.ExitCode, env.errOut.String())
	assert.Equal(t, "x", promptIn(t, other))
	assert.Equal(t, "old prompt", promptIn(t, env.workflowPath))
	assert.Equal(t, fmt.Sprintf("Prompt injected into %s (6.inputs.text)\n", other), env.out.String())
}

func TestInjectCommand_SchemaMismatch(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(env.workflowPath, []byte(`{"6": {"inputs": {}}}`), 0644))

	result := env.run("inject", "--prompt", "x")

	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, env.errOut.String(), "Error: inject-prompt failed: workflow schema mismatch")

	data, err := os.ReadFile(env.workflowPath)
	require.NoError(t, err)
	assert.Equal(t, `{"6": {"inputs": {}}}`, string(data))
}

func TestCritiqueCommand(t *testing.T) {
	env := newTestEnv(t)
	img := filepath.Join(env.dir, "existing.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0644))

	result := env.run("critique", img, "--prompt", "a dog")

	require.Equal(t, 0, result.ExitCode, env.errOut.String())
	require.Len(t, env.critic.Calls, 1)
	assert.Equal(t, CritiqueCall{Path: img, Prompt: "a dog"}, env.critic.Calls[0])
	assert.Equal(t, fmt.Sprintf("Feedback for %s:\nok existing.png\n", img), env.out.String())
	assert.Equal(t, "old prompt", promptIn(t, env.workflowPath))
}

func TestCritiqueCommand_Errors(t *testing.T) {
	t.Run("no image argument", func(t *testing.T) {
		env := newTestEnv(t)

		result := env.run("critique")

		assert.Equal(t, 1, result.ExitCode)
		assert.Contains(t, env.errOut.String(), "Error: accepts 1 arg(s), received 0")
	})

	t.Run("critic fails", func(t *testing.T) {
		env := newTestEnv(t)
		env.critic.Err = errors.New("unauthorized")

		result := env.run("critique", "x.png")

		assert.Equal(t, 1, result.ExitCode)
		assert.Equal(t, "Error: unauthorized\n", env.errOut.String())
	})
}

func TestExitError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOK   bool
	}{
		{name: "exit error", err: NewExitError(2), wantCode: 2, wantOK: true},
		{name: "wrapped exit error", err: fmt.Errorf("run: %w", NewExitError(1)), wantCode: 1, wantOK: true},
		{name: "plain error", err: errors.New("boom"), wantCode: 0, wantOK: false},
		{name: "nil", err: nil, wantCode: 0, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := IsExitError(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantOK, ok)
		})
	}

	assert.Equal(t, "exit status 3", NewExitError(3).Error())
}
