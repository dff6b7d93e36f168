package msg

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ProgressBar draws how many of Total steps have finished on a single line
type ProgressBar struct {
	Total   int
	Current int
	Label   string
	Start   time.Time
	W       io.Writer

	mu sync.Mutex
}

func NewProgressBar(total int, label string, w io.Writer) *ProgressBar {
	return &ProgressBar{
		Total: total,
		Label: label,
		Start: time.Now(),
		W:     w,
	}
}

// Step marks one more step as done, it is safe for concurrent use
func (pb *ProgressBar) Step() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.Current = min(pb.Current+1, pb.Total)
	pb.print()
}

func (pb *ProgressBar) print() {
	width := 40
	percent := float64(pb.Current) / float64(max(pb.Total, 1))

	filled := min(int(percent*float64(width)), width)
	bar := strings.Repeat("█", filled) + strings.Repeat("-", width-filled)

	fmt.Fprintf(pb.W, "\r%s %6.f%% [%s] %d/%d",
		pb.Label,
		percent*100,
		bar,
		pb.Current,
		pb.Total,
	)
}

// Finish prints the final state and the elapsed time
func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.print()
	fmt.Fprintf(pb.W, " in %s\n", time.Since(pb.Start).Round(time.Millisecond))
}
