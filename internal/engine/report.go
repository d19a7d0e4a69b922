package engine

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/orodw/pkg/query"
)

// Result is the outcome of one job.
type Result struct {
	Target string
	Group  string
	Mode   query.Mode
	// State is the last state entered; on failure, the state that failed.
	State   State
	Rows    int
	Columns int
	Skipped bool
	// Previous is the watermark read before extraction.
	Previous string
	// Watermark is the committed watermark after the job.
	Watermark    string
	Placeholders []string
	Artifacts    []string
	Duration     time.Duration
	Err          error
}

// OK reports whether the job succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Report summarises a run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Results  []Result
}

func (r *Report) finish() *Report {
	r.Finished = time.Now()
	return r
}

// Total returns the number of jobs that ran.
func (r *Report) Total() int { return len(r.Results) }

// Succeeded returns the number of jobs without error.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Failed returns the failed results.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Ratio returns the share of succeeded jobs. An empty run counts as fully
// successful.
func (r *Report) Ratio() float64 {
	if r.Total() == 0 {
		return 1
	}
	return float64(r.Succeeded()) / float64(r.Total())
}

// Summary renders "K/N targets succeeded".
func (r *Report) Summary() string {
	return fmt.Sprintf("%d/%d targets succeeded", r.Succeeded(), r.Total())
}
