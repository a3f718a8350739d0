// Package output renders pb-img results for the terminal.
//
// Results go to the main writer (stdout). Step progress goes to an optional
// separate writer so stdout stays the plain result stream.
package output

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/ouiliame/pb-img/internal/pipeline"
)

// Printer writes run results and progress.
//
// Styles are bound to a renderer for the destination writer, so output to a
// file or buffer carries no escape sequences.
type Printer struct {
	out      io.Writer
	progress io.Writer

	header lipgloss.Style
	label  lipgloss.Style
	muted  lipgloss.Style
	step   lipgloss.Style
}

// NewPrinter creates a [Printer] writing to stdout.
func NewPrinter() *Printer {
	return NewPrinterWithWriter(os.Stdout)
}

// NewPrinterWithWriter creates a [Printer] writing results to w.
// Progress output is off until [Printer.SetProgressWriter] is called.
func NewPrinterWithWriter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		out:    w,
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		label:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		muted:  r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// SetProgressWriter enables step progress lines on w. nil disables them.
func (p *Printer) SetProgressWriter(w io.Writer) {
	p.progress = w
	if w != nil {
		p.step = lipgloss.NewRenderer(w).NewStyle().Foreground(lipgloss.Color("8"))
	}
}

// GeneratedImages announces that generation finished.
func (p *Printer) GeneratedImages(count int) {
	fmt.Fprintln(p.out, p.header.Render("Generated images"))
}

// Feedback prints the critique for the image at index.
func (p *Printer) Feedback(index int, critique string) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, p.label.Render(fmt.Sprintf("Feedback for image %d:", index)))
	fmt.Fprintln(p.out, critique)
}

// ImageSaved reports a written image when no critique follows.
func (p *Printer) ImageSaved(index int, path string) {
	fmt.Fprintf(p.out, "%s %s\n", p.label.Render(fmt.Sprintf("Image %d:", index)), path)
}

// Injected reports that the prompt was written into the workflow file.
func (p *Printer) Injected(path string, field string) {
	fmt.Fprintf(p.out, "%s %s %s\n", p.header.Render("Prompt injected into"), path, p.muted.Render("("+field+")"))
}

// Critique prints a standalone critique of one existing image.
func (p *Printer) Critique(path, critique string) {
	fmt.Fprintln(p.out, p.label.Render(fmt.Sprintf("Feedback for %s:", path)))
	fmt.Fprintln(p.out, critique)
}

// Plan lists the steps a run would execute.
func (p *Printer) Plan(steps []pipeline.Step) {
	fmt.Fprintln(p.out, p.header.Render("Planned steps:"))
	for i, s := range steps {
		suffix := ""
		if s.PerImage() {
			suffix = " " + p.muted.Render("(per image)")
		}
		fmt.Fprintf(p.out, "  %d. %s%s\n", i+1, s, suffix)
	}
}

// Step prints a progress line. It matches [pipeline.ProgressCallback].
func (p *Printer) Step(step pipeline.Step, index int) {
	if p.progress == nil {
		return
	}
	line := "→ " + step.String()
	if index >= 0 {
		line += fmt.Sprintf(" [%d]", index)
	}
	fmt.Fprintln(p.progress, p.step.Render(line))
}

