package util

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gosuri/uilive"
)

// TerminalPrinter periodically redraws one live terminal line per registered
// output, so a long run shows rolling progress instead of scrolling text.
type TerminalPrinter struct {
	outputs   []*ProgressOutput
	frequency time.Duration
	doneCh    chan struct{}

	writer  *uilive.Writer
	writers []io.Writer
}

func NewTerminalPrinter(frequency time.Duration) *TerminalPrinter {
	return &TerminalPrinter{
		outputs:   make([]*ProgressOutput, 0),
		frequency: frequency,
		doneCh:    make(chan struct{}),

		writer:  uilive.New(),
		writers: make([]io.Writer, 0),
	}
}

// NewOutput registers a line on the live display and returns its handle.
func (p *TerminalPrinter) NewOutput() *ProgressOutput {
	out := NewProgressOutput()
	p.outputs = append(p.outputs, out)
	p.writers = append(p.writers, p.writer.Newline())
	return out
}

func (p *TerminalPrinter) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-p.doneCh:
				p.writer.Stop()
				return
			case <-ctx.Done():
				p.writer.Stop()
				return
			case <-time.After(p.frequency):
				p.print()
			}
		}
	}()
}

func (p *TerminalPrinter) Stop() {
	p.print()
	close(p.doneCh)
}

func (p *TerminalPrinter) print() {
	for i, output := range p.outputs {
		fmt.Fprint(p.writers[i], output.Get()+"\n")
	}
	p.writer.Flush()
}

// ProgressOutput holds the latest status line of one producer. It implements
// io.Writer so a runner can Fprintf progress into it; only the most recent
// line is kept.
type ProgressOutput struct {
	mu        *sync.Mutex
	printable string
}

func NewProgressOutput() *ProgressOutput {
	return &ProgressOutput{
		mu:        new(sync.Mutex),
		printable: "",
	}
}

// Set replaces the status line (blocking).
func (p *ProgressOutput) Set(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printable = s
}

// Write replaces the status line with the last non-empty line written.
func (p *ProgressOutput) Write(bs []byte) (int, error) {
	s := strings.TrimRight(string(bs), "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if s != "" {
		p.Set(s)
	}
	return len(bs), nil
}

// Get returns the current status line (blocking).
func (p *ProgressOutput) Get() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.printable
}
