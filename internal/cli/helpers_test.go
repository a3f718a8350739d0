package cli

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ouiliame/pb-img/internal/config"
	"github.com/ouiliame/pb-img/internal/generator"
	"github.com/ouiliame/pb-img/internal/images"
	"github.com/ouiliame/pb-img/internal/logging"
	"github.com/ouiliame/pb-img/internal/output"
	"github.com/ouiliame/pb-img/internal/workflow"
)

const testWorkflow = `{
  "3": {
    "class_type": "KSampler",
    "inputs": {
      "seed": 156680208700286,
      "steps": 20
    }
  },
  "6": {
    "class_type": "CLIPTextEncode",
    "inputs": {
      "text": "old prompt"
    }
  }
}
`

// MockGenerator returns fixed images and counts calls.
type MockGenerator struct {
	Images []generator.Image
	Err    error
	Calls  int
}

func (m *MockGenerator) Generate(ctx context.Context, doc workflow.Document) ([]generator.Image, error) {
	m.Calls++
	return m.Images, m.Err
}

// CritiqueCall records one critique request.
type CritiqueCall struct {
	Path   string
	Prompt string
}

// MockCritic answers "ok <file>" and records every call.
// It is safe for concurrent use.
type MockCritic struct {
	mu    sync.Mutex
	Calls []CritiqueCall
	Err   error
}

func (m *MockCritic) Critique(ctx context.Context, imagePath, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, CritiqueCall{Path: imagePath, Prompt: prompt})
	if m.Err != nil {
		return "", m.Err
	}
	return "ok " + filepath.Base(imagePath), nil
}

// testEnv is an App wired to mocks and a temporary workspace.
type testEnv struct {
	app          *App
	dir          string
	workflowPath string
	gen          *MockGenerator
	critic       *MockCritic
	out          *bytes.Buffer
	errOut       *bytes.Buffer
}

func newTestEnv(t *testing.T, imgs ...string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	workflowPath := filepath.Join(dir, "pb.json")
	require.NoError(t, os.WriteFile(workflowPath, []byte(testWorkflow), 0644))

	cfg := config.DefaultConfig()
	cfg.Workflow.Path = workflowPath
	cfg.Output.Dir = dir

	gen := &MockGenerator{}
	for _, s := range imgs {
		gen.Images = append(gen.Images, generator.NewInlineImage([]byte(s)))
	}
	critic := &MockCritic{}
	out := &bytes.Buffer{}

	app := &App{
		Config:    cfg,
		Store:     workflow.NewStore(workflowPath),
		Generator: gen,
		Writer:    images.NewWriter(dir, cfg.Output.Pattern),
		Critic:    critic,
		Printer:   output.NewPrinterWithWriter(out),
		Logger:    logging.Discard(),
		LogLevel:  new(slog.LevelVar),
	}

	return &testEnv{
		app:          app,
		dir:          dir,
		workflowPath: workflowPath,
		gen:          gen,
		critic:       critic,
		out:          out,
		errOut:       &bytes.Buffer{},
	}
}

func (e *testEnv) run(args ...string) ExecuteResult {
	return Run(context.Background(), e.app, args, e.errOut)
}

// promptIn reads the prompt currently stored in the workflow file at path.
func promptIn(t *testing.T, path string) string {
	t.Helper()
	doc, err := workflow.NewStore(path).Load()
	require.NoError(t, err)
	text, err := workflow.FieldPath{"6", "inputs", "text"}.Get(doc)
	require.NoError(t, err)
	return text
}
