package bar

import (
	"io"
	"sync"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

func newBar(w io.Writer, length int, text string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		length,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription(text),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Percent draws the overall progress of a transfer, 0 to 100.
type Percent struct {
	mu   sync.Mutex
	bar  *progressbar.ProgressBar
	last int
}

func NewPercent(text string) *Percent {
	return NewPercentWriter(ansi.NewAnsiStdout(), text)
}

func NewPercentWriter(w io.Writer, text string) *Percent {
	return &Percent{bar: newBar(w, 100, text)}
}

// Update moves the bar forward, lower values than already shown are ignored.
func (p *Percent) Update(percent int) {
	if percent > 100 {
		percent = 100
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent <= p.last {
		return
	}
	p.last = percent
	_ = p.bar.Set(percent)
}

func (p *Percent) Last() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Close completes the bar.
func (p *Percent) Close() error {
	return p.bar.Finish()
}
