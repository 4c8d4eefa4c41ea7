package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/voiceify/voiceify/pkg/types"
)

// progressDisplay reports the progress of several jobs at once.
type progressDisplay interface {
	Update(idx int, ev types.StatusEvent)
	Finish()
}

func newProgressDisplay(w io.Writer, names []string) progressDisplay {
	if isTerminal(w) {
		return newBarDisplay(w, names)
	}
	return &lineDisplay{w: w, names: names, last: make([]types.StatusEvent, len(names))}
}

func isTerminal(w io.Writer) bool {
	if sw, ok := w.(*syncWriter); ok {
		w = sw.w
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// barDisplay draws one bar for all jobs combined.
type barDisplay struct {
	mu       sync.Mutex
	bar      *progressbar.ProgressBar
	progress []int
	finished []bool
}

func newBarDisplay(w io.Writer, names []string) *barDisplay {
	bar := progressbar.NewOptions(100*len(names),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(describe(0, len(names))),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
	return &barDisplay{
		bar:      bar,
		progress: make([]int, len(names)),
		finished: make([]bool, len(names)),
	}
}

func (d *barDisplay) Update(idx int, ev types.StatusEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.progress[idx] = min(max(ev.Progress, 0), 100)
	if ev.Status.Terminal() {
		d.finished[idx] = true
		d.progress[idx] = 100
	}

	total, done := 0, 0
	for i, p := range d.progress {
		total += p
		if d.finished[i] {
			done++
		}
	}
	d.bar.Describe(describe(done, len(d.progress)))
	d.bar.Set(total)
}

func (d *barDisplay) Finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bar.Finish()
}

func describe(done, total int) string {
	return fmt.Sprintf("converting (%d/%d)", done, total)
}

// lineDisplay prints one line per change, for logs and pipes.
type lineDisplay struct {
	mu    sync.Mutex
	w     io.Writer
	names []string
	last  []types.StatusEvent
}

func (d *lineDisplay) Update(idx int, ev types.StatusEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.last[idx] == ev {
		return
	}
	d.last[idx] = ev
	fmt.Fprintf(d.w, "%s: %s %d%% %s\n", d.names[idx], ev.Status, ev.Progress, ev.Message)
}

func (d *lineDisplay) Finish() {}
