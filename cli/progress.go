package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/bsaid97/go-spike-fixer/logging"
	"github.com/bsaid97/go-spike-fixer/utils"
	"github.com/mattn/go-isatty"
	"github.com/tj/go-spin"
)

const spinnerInterval = 100 * time.Millisecond

// spinnerProgress counts scanned features and, on a terminal, redraws a
// spinner line with the tracker's progress until Stop.
type spinnerProgress struct {
	tracker *utils.ProgressTracker
	out     io.Writer
	done    chan struct{}
	wg      sync.WaitGroup
}

func startProgress(out io.Writer, total int64, name string, logger logging.Logger) *spinnerProgress {
	p := &spinnerProgress{
		tracker: utils.NewProgressTracker(total, name, logger),
		out:     out,
		done:    make(chan struct{}),
	}
	if !isTerminal(out) {
		return p
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *spinnerProgress) Increment() {
	p.tracker.Increment()
}

func (p *spinnerProgress) run() {
	defer p.wg.Done()
	s := spin.New()
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			processed, total, _ := p.tracker.GetProgress()
			fmt.Fprintf(p.out, "\r%s %d/%d done\n", p.tracker.Name, processed, total)
			return
		case <-ticker.C:
			processed, total, pct := p.tracker.GetProgress()
			fmt.Fprintf(p.out, "\r%s %s %d/%d (%.0f%%)", s.Next(), p.tracker.Name, processed, total, pct)
		}
	}
}

// Stop ends the spinner and waits for its final line.
func (p *spinnerProgress) Stop() {
	close(p.done)
	p.wg.Wait()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
