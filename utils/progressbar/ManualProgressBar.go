// Package progressbar implements functionality of printing a progress
// bar to a terminal
package progressbar

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ManualProgressBar implement progress bar functionality that must
// be manually managed. That is, the Display() function must be called
// whenever an updated progress bar should be printed.
//
// ManualProgressBar is safe for concurrent use.
type ManualProgressBar struct {
	mu              sync.Mutex
	out             io.Writer
	width           float64
	maxProgress     float64
	currentProgress float64
	bar             strings.Builder
	startTime       time.Time
}

// NewManualProgressBar returns a new ManualProgressBar which prints to
// out, is width characters wide, and reaches 100% at max
func NewManualProgressBar(out io.Writer, width, max int) *ManualProgressBar {
	return &ManualProgressBar{
		out:         out,
		width:       float64(width),
		maxProgress: float64(max),
		startTime:   time.Now(),
	}
}

// Increment increments the interal progress counter
func (p *ManualProgressBar) Increment() {
	p.Add(1)
}

// Add advances the progress counter by n, saturating at the maximum
func (p *ManualProgressBar) Add(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(p.currentProgress + float64(n))
}

// Set sets the progress counter, saturating at the maximum
func (p *ManualProgressBar) Set(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(float64(n))
}

func (p *ManualProgressBar) set(progress float64) {
	if progress > p.maxProgress {
		progress = p.maxProgress
	}
	if progress < 0 {
		progress = 0
	}
	p.currentProgress = progress
}

// Fraction returns the fraction of progress made
func (p *ManualProgressBar) Fraction() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxProgress <= 0 {
		return 1
	}
	return p.currentProgress / p.maxProgress
}

// String returns the current bar without terminal control codes
func (p *ManualProgressBar) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.render()
}

func (p *ManualProgressBar) render() string {
	frac := 1.0
	if p.maxProgress > 0 {
		frac = p.currentProgress / p.maxProgress
	}

	p.bar.Reset()
	p.bar.WriteString("|")
	currentProg := frac * p.width
	for i := 0.0; i < currentProg; i++ {
		p.bar.WriteString("█")
	}
	for i := currentProg; i < p.width; i++ {
		p.bar.WriteString(" ")
	}
	p.bar.WriteString(fmt.Sprintf("| [%.2f%v | elapsed: %v]", frac*100, "%",
		time.Since(p.startTime).Truncate(time.Second)))
	return p.bar.String()
}

// Display prints the progress bar over the previous one
func (p *ManualProgressBar) Display() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.out, "\n\033[1A\033[K%v", p.render())
	return err
}

// Close moves the output past the progress bar
func (p *ManualProgressBar) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.out)
	return err
}
