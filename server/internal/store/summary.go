package store

import (
	"math"

	"github.com/probewatch/probewatch/server/internal/status"
)

// Summary is the aggregate view of a session. Failed includes Dead and
// Timeout results and, once the session is closed, Missing probes that
// never reported; those fields break that figure down, so
// Completed == Success + Failed always holds.
type Summary struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	Timeout    int `json:"timeout"`
	Dead       int `json:"dead"`
	Missing    int `json:"missing"`
	InProgress int `json:"in_progress"`
	Percentage int `json:"percentage"`
}

// Summarize derives a Summary from the given results. total is the number of
// probes the batch announced, not len(results).
func Summarize(total int, results []ProbeResult) Summary {
	s := Summary{Total: total}
	for i := range results {
		s.add(results[i].State)
	}
	s.finish()
	return s
}

func (s *Summary) add(st status.State) {
	if !st.Terminal() {
		return
	}
	s.Completed++
	switch st.Kind {
	case status.Success:
		s.Success++
	case status.Timeout:
		s.Timeout++
		s.Failed++
	case status.Dead:
		s.Dead++
		s.Failed++
	case status.Failed:
		s.Failed++
	}
}

func (s *Summary) finish() {
	s.InProgress = s.Total - s.Completed
	if s.InProgress < 0 {
		s.InProgress = 0
	}
	if s.Total > 0 {
		s.Percentage = int(math.Round(float64(s.Completed) / float64(s.Total) * 100))
		if s.Percentage > 100 {
			s.Percentage = 100
		}
	}
}
