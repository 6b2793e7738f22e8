package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// TransferUI manages concurrent file transfer bars using mpb. Outside a
// terminal it prints one line per started and finished file.
type TransferUI struct {
	progress   *mpb.Progress
	out        io.Writer
	verb       string
	isTerminal bool
	totalFiles int
	started    int32 // Atomic counter for file index (1, 2, 3, ...)
	completed  int32
	failed     int32
}

// FileBar tracks one file's transfer.
type FileBar struct {
	bar       *mpb.Bar
	ui        *TransferUI
	index     int
	name      string
	size      int64
	done      atomic.Int64
	startTime time.Time
	lastTick  atomic.Int64 // unix nanos of the previous Add
}

// NewTransferUI creates a UI for totalFiles transfers. verb labels the
// non-TTY lines ("Uploading", "Downloading").
func NewTransferUI(verb string, totalFiles int) *TransferUI {
	if IsTerminal(os.Stderr) {
		return newTransferUI(verb, totalFiles, os.Stderr, true)
	}
	return newTransferUI(verb, totalFiles, os.Stderr, false)
}

func newTransferUI(verb string, totalFiles int, out io.Writer, isTerminal bool) *TransferUI {
	var p *mpb.Progress
	if isTerminal {
		// Enable ANSI escape sequences on Windows for proper progress bar rendering
		enableANSIOnWindows(out)

		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond), // ~3 times per second
			mpb.WithWidth(100),
		)
	} else {
		// Non-TTY: disable progress bars, just use text output
		p = mpb.New(mpb.WithOutput(io.Discard))
	}
	return &TransferUI{
		progress:   p,
		out:        out,
		verb:       verb,
		isTerminal: isTerminal,
		totalFiles: totalFiles,
	}
}

// AddFileBar creates a new progress bar for one file.
func (u *TransferUI) AddFileBar(name string, size int64) *FileBar {
	index := int(atomic.AddInt32(&u.started, 1))
	label := truncatePath(name, 2)

	fb := &FileBar{
		ui:        u,
		index:     index,
		name:      name,
		size:      size,
		startTime: time.Now(),
	}
	fb.lastTick.Store(fb.startTime.UnixNano())

	if u.isTerminal {
		fb.bar = u.progress.New(size,
			mpb.BarStyle().
				Lbound("[").
				Filler("█").
				Tip("█").
				Padding("░").
				Rbound("]"),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("[%d/%d] %s (%.1f MiB)", index, u.totalFiles, label, mib(size)), decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
				decor.Name("  "),
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
				decor.Name("  "),
				decor.Name("ETA ", decor.WCSyncWidth),
				decor.EwmaETA(decor.ET_STYLE_GO, 30),
			),
			mpb.BarRemoveOnComplete(),
		)
	} else {
		fmt.Fprintf(u.out, "%s [%d/%d]: %s (%.1f MiB)\n", u.verb, index, u.totalFiles, label, mib(size))
	}
	return fb
}

// Add records n more bytes. It has the shape of cloud.ProgressFunc and is
// safe for concurrent use.
func (f *FileBar) Add(n int64) {
	f.done.Add(n)
	if f.bar == nil {
		return
	}
	now := time.Now().UnixNano()
	prev := f.lastTick.Swap(now)
	f.bar.EwmaIncrInt64(n, time.Duration(now-prev))
}

// Complete marks the transfer as finished and prints a summary line.
func (f *FileBar) Complete(id string, err error) {
	elapsed := time.Since(f.startTime)
	var msg string
	if err == nil {
		if f.bar != nil {
			// Exact 100%, which also triggers BarRemoveOnComplete.
			f.bar.SetCurrent(f.size)
			f.bar.SetTotal(f.size, true)
		}
		msg = fmt.Sprintf("✓ %s (%s, %.1f MiB, %s, %s)\n",
			truncatePath(f.name, 2), id, mib(f.size), elapsed.Round(time.Second), FormatRate(f.size, elapsed))
		atomic.AddInt32(&f.ui.completed, 1)
	} else {
		if f.bar != nil {
			f.bar.Abort(false) // keep the failed bar visible
		}
		msg = fmt.Sprintf("✗ %s: %v\n", truncatePath(f.name, 2), err)
		atomic.AddInt32(&f.ui.failed, 1)
	}
	// Write through mpb's writer so the bars are not torn.
	fmt.Fprint(f.ui.Writer(), msg)
}

// Transferred returns the bytes recorded so far.
func (f *FileBar) Transferred() int64 {
	return f.done.Load()
}

// Wait blocks until all progress bars complete.
func (u *TransferUI) Wait() {
	u.progress.Wait()
}

// Counts returns the number of completed and failed files.
func (u *TransferUI) Counts() (completed, failed int) {
	return int(atomic.LoadInt32(&u.completed)), int(atomic.LoadInt32(&u.failed))
}

// Writer returns an io.Writer that safely prints above the progress bars.
func (u *TransferUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal returns true if progress bars are active.
func (u *TransferUI) IsTerminal() bool {
	return u.isTerminal
}

func mib(n int64) float64 {
	return float64(n) / (1024 * 1024)
}

// truncatePath truncates a file path to show only the last N components
// Example: truncatePath("/a/b/c/d/file.txt", 3) → "…/c/d/file.txt"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}
