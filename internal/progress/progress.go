// Package progress renders transfer progress on the terminal: a single
// progressbar for one stream and mpb bars for concurrent file transfers.
// When stderr is not a terminal, progress is reported through the logger.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/rescale/chunkvault/internal/cloud"
	"github.com/rescale/chunkvault/internal/constants"
	"github.com/rescale/chunkvault/internal/logging"
)

// Reporter is implemented by every progress sink.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// New returns a bar on a terminal stderr, otherwise a log-based reporter.
func New(log *logging.Logger) Reporter {
	if IsTerminal(os.Stderr) {
		return NewCLIProgress(os.Stderr)
	}
	return NewLogProgress(log, constants.ProgressLogInterval)
}

// CLIProgress implements progress reporting for CLI mode using progress bars.
type CLIProgress struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewCLIProgress creates a new CLI progress reporter writing to out.
func NewCLIProgress(out io.Writer) *CLIProgress {
	return &CLIProgress{out: out}
}

// Start initializes the progress bar with total size and description.
func (p *CLIProgress) Start(total int64, description string) {
	enableANSIOnWindows(p.out)
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update updates the progress bar to the current position.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the progress bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error displays an error message.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// SetDescription updates the progress bar description.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// LogProgress reports progress as periodic log lines, for non-TTY output.
type LogProgress struct {
	log      *logging.Logger
	interval time.Duration

	mu      sync.Mutex
	desc    string
	total   int64
	current int64
	started time.Time
	lastLog time.Time
}

// NewLogProgress creates a reporter that logs at most once per interval.
func NewLogProgress(log *logging.Logger, interval time.Duration) *LogProgress {
	if log == nil {
		log = logging.Nop()
	}
	return &LogProgress{log: log, interval: interval}
}

// Start records the total and logs the start of the transfer.
func (p *LogProgress) Start(total int64, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.current = 0
	p.desc = description
	p.started = time.Now()
	p.lastLog = p.started
	p.log.Info().Str("op", description).Int64("total", total).Msg("transfer started")
}

// Update logs the position when the interval has elapsed.
func (p *LogProgress) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = current
	if time.Since(p.lastLog) < p.interval {
		return
	}
	p.lastLog = time.Now()
	p.log.Info().
		Str("op", p.desc).
		Int64("bytes", current).
		Int64("total", p.total).
		Str("percent", percent(current, p.total)).
		Msg("transfer progress")
}

// Finish logs completion with the average rate.
func (p *LogProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := time.Since(p.started)
	p.log.Info().
		Str("op", p.desc).
		Int64("bytes", p.current).
		Dur("elapsed", elapsed).
		Str("rate", FormatRate(p.current, elapsed)).
		Msg("transfer finished")
}

// Error logs the failure.
func (p *LogProgress) Error(err error) {
	if err != nil {
		p.log.Error().Str("op", p.desc).Err(err).Msg("transfer failed")
	}
}

// SetDescription changes the logged operation name.
func (p *LogProgress) SetDescription(desc string) {
	p.mu.Lock()
	p.desc = desc
	p.mu.Unlock()
}

// NoOpProgress is a progress reporter that does nothing (for background/silent operations).
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

// Start does nothing.
func (p *NoOpProgress) Start(total int64, description string) {}

// Update does nothing.
func (p *NoOpProgress) Update(current int64) {}

// Finish does nothing.
func (p *NoOpProgress) Finish() {}

// Error does nothing.
func (p *NoOpProgress) Error(err error) {}

// SetDescription does nothing.
func (p *NoOpProgress) SetDescription(desc string) {}

// Func adapts r to the incremental callbacks the transfer engines emit.
// The returned func is safe for concurrent use.
func Func(r Reporter) cloud.ProgressFunc {
	var mu sync.Mutex
	var current int64
	return func(n int64) {
		mu.Lock()
		defer mu.Unlock()
		current += n
		r.Update(current)
	}
}

// FormatRate renders bytes over elapsed as MiB/s.
func FormatRate(bytes int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f MiB/s", float64(bytes)/elapsed.Seconds()/(1024*1024))
}

func percent(current, total int64) string {
	if total <= 0 {
		return "100%"
	}
	return fmt.Sprintf("%.0f%%", float64(current)*100/float64(total))
}

// enableANSIOnWindows turns on virtual terminal processing when w is a
// Windows console.
func enableANSIOnWindows(w io.Writer) {
	if f, ok := w.(*os.File); ok {
		enableANSI(f)
	}
}
