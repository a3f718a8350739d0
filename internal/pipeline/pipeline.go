// Package pipeline runs one prompt through the workflow, generation and
// critique stages.
//
// The pipeline package provides [Executor], which loads the workflow document,
// injects the prompt, saves it back, generates images, writes each image to
// disk and asks the critic about it. The run is fail-fast: the first error
// stops it and is returned as a [StepError].
//
// Key concepts:
//   - Every collaborator is a small interface so tests can substitute doubles
//   - [Plan] lists the steps a run goes through
//   - Progress can be tracked via [ProgressCallback]
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ouiliame/pb-img/internal/generator"
	"github.com/ouiliame/pb-img/internal/images"
	"github.com/ouiliame/pb-img/internal/logging"
	"github.com/ouiliame/pb-img/internal/workflow"
)

// WorkflowStore reads and writes the workflow document.
// The [workflow.Store] type implements this interface.
type WorkflowStore interface {
	Path() string
	Load() (workflow.Document, error)
	Save(doc workflow.Document) error
}

// ImageGenerator runs a workflow document and returns the images in order.
// The [generator.Client] type implements this interface.
type ImageGenerator interface {
	Generate(ctx context.Context, doc workflow.Document) ([]generator.Image, error)
}

// ImageWriter persists image payloads. The [images.Writer] type implements
// this interface.
type ImageWriter interface {
	Path(index int) string
	Write(ctx context.Context, src images.Source, path string) error
}

// Critic returns free-text feedback on how well an image matches a prompt.
// The [critique.Client] type implements this interface.
type Critic interface {
	Critique(ctx context.Context, imagePath, prompt string) (string, error)
}

// Reporter receives user-facing results as the run progresses.
// The output.Printer type implements this interface.
type Reporter interface {
	GeneratedImages(count int)
	ImageSaved(index int, path string)
	Feedback(index int, critique string)
}

// ProgressCallback is invoked before each step begins.
//
// index is the image index for per-image steps and -1 otherwise. In parallel
// mode per-image callbacks arrive concurrently.
type ProgressCallback func(step Step, index int)

// Result is the outcome for one generated image.
type Result struct {
	Index    int
	Path     string
	Critique string // empty when critique is skipped
}

// Executor orchestrates a single pipeline run.
//
// Use [NewExecutor] to create an instance and [Executor.Run] to execute it.
type Executor struct {
	store        WorkflowStore
	generator    ImageGenerator
	writer       ImageWriter
	critic       Critic
	reporter     Reporter
	promptPath   workflow.FieldPath
	progress     ProgressCallback
	parallel     bool
	skipCritique bool
	logger       *slog.Logger
}

// NewExecutor creates an [Executor] with the required dependencies.
// promptPath locates the prompt string inside the workflow document.
func NewExecutor(store WorkflowStore, gen ImageGenerator, writer ImageWriter, critic Critic, reporter Reporter, promptPath workflow.FieldPath) *Executor {
	return &Executor{
		store:      store,
		generator:  gen,
		writer:     writer,
		critic:     critic,
		reporter:   reporter,
		promptPath: promptPath,
		logger:     logging.Discard(),
	}
}

// SetProgressCallback configures an optional progress callback.
func (e *Executor) SetProgressCallback(cb ProgressCallback) {
	e.progress = cb
}

// SetParallel runs the per-image steps of all images concurrently.
// The first failure still cancels the others and aborts the run.
func (e *Executor) SetParallel(parallel bool) {
	e.parallel = parallel
}

// SetSkipCritique stops the run after the images are written.
func (e *Executor) SetSkipCritique(skip bool) {
	e.skipCritique = skip
}

// SetLogger replaces the default discarding logger.
func (e *Executor) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Steps returns the steps a run would go through without executing them.
func (e *Executor) Steps() []Step {
	return Plan(e.skipCritique)
}

func (e *Executor) step(step Step, index int) {
	if e.progress != nil {
		e.progress(step, index)
	}
}

// Inject loads the workflow, writes prompt into it and saves it back.
// It returns the updated document.
func (e *Executor) Inject(ctx context.Context, prompt string) (workflow.Document, error) {
	e.step(StepLoadWorkflow, -1)
	doc, err := e.store.Load()
	if err != nil {
		return nil, stepErr(StepLoadWorkflow, -1, err)
	}

	e.step(StepInjectPrompt, -1)
	updated, err := workflow.Inject(doc, e.promptPath, prompt)
	if err != nil {
		return nil, stepErr(StepInjectPrompt, -1, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, stepErr(StepSaveWorkflow, -1, err)
	}
	e.step(StepSaveWorkflow, -1)
	if err := e.store.Save(updated); err != nil {
		return nil, stepErr(StepSaveWorkflow, -1, err)
	}
	e.logger.Debug("workflow saved", "path", e.store.Path(), "field", e.promptPath.String())
	return updated, nil
}

// Run executes the whole pipeline for prompt and returns one [Result] per
// generated image, in generation order.
func (e *Executor) Run(ctx context.Context, prompt string) ([]Result, error) {
	logger, _ := logging.WithRun(e.logger)
	logger.Info("run started", "parallel", e.parallel, "skip_critique", e.skipCritique)
	start := time.Now()

	doc, err := e.Inject(ctx, prompt)
	if err != nil {
		logger.Error("run failed", "error", err)
		return nil, err
	}

	e.step(StepGenerateImages, -1)
	imgs, err := e.generator.Generate(ctx, doc)
	if err != nil {
		logger.Error("run failed", "error", err)
		return nil, stepErr(StepGenerateImages, -1, err)
	}
	e.reporter.GeneratedImages(len(imgs))
	logger.Info("images generated", "count", len(imgs))

	var results []Result
	if e.parallel {
		results, err = e.runParallel(ctx, logger, imgs, prompt)
	} else {
		results, err = e.runSequential(ctx, logger, imgs, prompt)
	}
	if err != nil {
		logger.Error("run failed", "error", err)
		return nil, err
	}

	e.step(StepDone, -1)
	logger.Info("run complete", "images", len(results), "duration", time.Since(start).Round(time.Millisecond))
	return results, nil
}

func (e *Executor) runSequential(ctx context.Context, logger *slog.Logger, imgs []generator.Image, prompt string) ([]Result, error) {
	results := make([]Result, 0, len(imgs))
	for i, img := range imgs {
		res, err := e.processImage(ctx, logger, i, img, prompt)
		if err != nil {
			return nil, err
		}
		e.report(res)
		results = append(results, res)
	}
	return results, nil
}

func (e *Executor) runParallel(ctx context.Context, logger *slog.Logger, imgs []generator.Image, prompt string) ([]Result, error) {
	results := make([]Result, len(imgs))
	g, gctx := errgroup.WithContext(ctx)
	for i, img := range imgs {
		g.Go(func() error {
			res, err := e.processImage(gctx, logger, i, img, prompt)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, res := range results {
		e.report(res)
	}
	return results, nil
}

// processImage writes one image and, unless skipped, critiques it.
func (e *Executor) processImage(ctx context.Context, logger *slog.Logger, index int, img generator.Image, prompt string) (Result, error) {
	res := Result{Index: index, Path: e.writer.Path(index)}

	if err := ctx.Err(); err != nil {
		return res, stepErr(StepWriteImage, index, err)
	}
	e.step(StepWriteImage, index)
	if err := e.writer.Write(ctx, img, res.Path); err != nil {
		return res, stepErr(StepWriteImage, index, err)
	}
	logger.Debug("image written", "index", index, "path", res.Path)

	if e.skipCritique {
		return res, nil
	}

	e.step(StepCritique, index)
	feedback, err := e.critic.Critique(ctx, res.Path, prompt)
	if err != nil {
		return res, stepErr(StepCritique, index, err)
	}
	res.Critique = feedback
	return res, nil
}

func (e *Executor) report(res Result) {
	if e.skipCritique {
		e.reporter.ImageSaved(res.Index, res.Path)
		return
	}
	e.step(StepReportCritique, res.Index)
	e.reporter.Feedback(res.Index, res.Critique)
}
