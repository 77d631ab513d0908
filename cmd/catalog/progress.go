package main

import (
	"context"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/WessleyAI/catalog-vectors/engine/ingest"
)

// progress renders loaded records on a terminal. The total is unknown up
// front, so the bar counts without a percentage.
type progress struct {
	bar *progressbar.ProgressBar
}

var (
	_ ingest.Observer    = (*progress)(nil)
	_ ingest.RunObserver = (*progress)(nil)
)

func newProgress(w io.Writer) *progress {
	return &progress{bar: progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("loading"),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("records"),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)}
}

func (p *progress) BatchLoaded(_ context.Context, r ingest.BatchReport) {
	_ = p.bar.Add(r.Loaded)
}

func (p *progress) RunFinished(context.Context, ingest.Result, error) {
	_ = p.bar.Finish()
}

// progressEnabled resolves --progress: "auto" shows the bar only when w is a
// terminal.
func progressEnabled(mode string, w io.Writer) bool {
	switch mode {
	case "on", "true":
		return true
	case "off", "false":
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
