package rewriter

import (
	"encoding/json"
	"os"
	"strings"
	"time"
)

// TimingEnv names a JSONL file that receives stage timings. It wins over
// Rewriter.TimingPath.
const TimingEnv = "SK_TIMING_JSONL"

// stageStats are the sizes a stage produced. Zero fields are omitted from
// the JSONL line.
type stageStats struct {
	Bytes        int `json:"bytes,omitempty"`
	Lines        int `json:"lines,omitempty"`
	Added        int `json:"added,omitempty"`
	Constants    int `json:"constants,omitempty"`
	PacketFields int `json:"packet_fields,omitempty"`
	StateFields  int `json:"state_fields,omitempty"`
	Leftovers    int `json:"leftovers,omitempty"`
	Violations   int `json:"violations,omitempty"`
}

// stageEvent is one line of the timing file.
type stageEvent struct {
	Stage      string  `json:"stage"`
	Source     string  `json:"source,omitempty"`
	Status     string  `json:"status,omitempty"`
	StartMS    float64 `json:"start_ms"`
	DurationMS float64 `json:"duration_ms"`
	stageStats
}

// stageClock times the stages of one run. A nil clock is valid and records
// nothing, which is how Rewrite runs.
type stageClock struct {
	origin time.Time
	source string
	file   *os.File
	enc    *json.Encoder
	events []stageEvent
	err    error
}

func openStageClock(origin time.Time, source, path string) *stageClock {
	sc := &stageClock{origin: origin, source: source}
	if path == "" {
		return sc
	}
	f, err := os.Create(path)
	if err != nil {
		sc.err = err
		return sc
	}
	sc.file = f
	sc.enc = json.NewEncoder(f)
	return sc
}

func (sc *stageClock) Err() error {
	if sc == nil {
		return nil
	}
	return sc.err
}

func (sc *stageClock) Close() {
	if sc == nil || sc.file == nil {
		return
	}
	_ = sc.file.Close()
}

// Stage records a stage that began at start and ended now.
func (sc *stageClock) Stage(name string, start time.Time, err error, stats stageStats) {
	if sc == nil {
		return
	}
	ev := stageEvent{
		Stage:      name,
		Source:     sc.source,
		Status:     status(err),
		StartMS:    millis(start.Sub(sc.origin)),
		DurationMS: millis(time.Since(start)),
		stageStats: stats,
	}
	sc.events = append(sc.events, ev)
	if sc.enc != nil {
		_ = sc.enc.Encode(ev)
	}
}

// Elapsed returns the recorded duration of a stage, or zero.
func (sc *stageClock) Elapsed(name string) time.Duration {
	if sc == nil {
		return 0
	}
	for i := len(sc.events) - 1; i >= 0; i-- {
		if sc.events[i].Stage == name {
			return time.Duration(sc.events[i].DurationMS * float64(time.Millisecond))
		}
	}
	return 0
}

func millis(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

func (rw *Rewriter) resolveTimingPath() string {
	if envPath := os.Getenv(TimingEnv); envPath != "" {
		return envPath
	}
	if rw.Timing || envBool("SK_TIMING") {
		if rw.TimingPath != "" {
			return rw.TimingPath
		}
		return "timing.jsonl"
	}
	return ""
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
