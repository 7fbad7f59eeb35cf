package download

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nugget/jarvis-core/internal/resource"
)

// ProgressPrinter renders transfer progress on a single terminal line.
type ProgressPrinter struct {
	w        io.Writer
	label    string
	interval time.Duration

	mu      sync.Mutex
	start   time.Time
	last    time.Time
	lastLen int
	latest  resource.Progress
}

// NewProgressPrinter creates a printer writing to w, prefixing lines
// with label.
func NewProgressPrinter(w io.Writer, label string) *ProgressPrinter {
	return &ProgressPrinter{w: w, label: label, interval: 200 * time.Millisecond}
}

// Update records progress and redraws at most every 200ms. It has the
// resource.ProgressFunc signature.
func (p *ProgressPrinter) Update(pr resource.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.start.IsZero() {
		p.start = now
	}
	p.latest = pr
	if now.Sub(p.last) < p.interval && !(pr.Total > 0 && pr.Done >= pr.Total) {
		return
	}
	p.last = now
	p.draw(now)
}

// Done finishes the line. Safe to call when nothing was printed.
func (p *ProgressPrinter) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start.IsZero() {
		return
	}
	p.draw(time.Now())
	fmt.Fprintln(p.w)
}

func (p *ProgressPrinter) draw(now time.Time) {
	line := FormatProgress(p.label, p.latest, now.Sub(p.start))
	pad := ""
	if n := p.lastLen - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	p.lastLen = len(line)
	fmt.Fprintf(p.w, "\r%s%s", line, pad)
}

// FormatProgress renders one progress line, e.g.
// "model: 1.2 GiB / 4.6 GiB (26.1%) 38 MiB/s".
func FormatProgress(label string, pr resource.Progress, elapsed time.Duration) string {
	var b strings.Builder
	if label != "" {
		b.WriteString(label)
		b.WriteString(": ")
	}
	b.WriteString(humanize.IBytes(uint64(max(pr.Done, 0))))
	if pr.Total > 0 {
		fmt.Fprintf(&b, " / %s (%.1f%%)", humanize.IBytes(uint64(pr.Total)), pr.Percent())
	}
	if secs := elapsed.Seconds(); secs > 0 && pr.Done > 0 {
		fmt.Fprintf(&b, " %s/s", humanize.IBytes(uint64(float64(pr.Done)/secs)))
	}
	return b.String()
}
