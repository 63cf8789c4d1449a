package poller

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/quaketrack/quaketrack/internal/fetch"
	"github.com/quaketrack/quaketrack/internal/quake"
)

// Phase is the tag of a State.
type Phase int

const (
	Idle Phase = iota
	Loading
	Success
	Error
)

var phaseNames = map[Phase]string{
	Idle:    "idle",
	Loading: "loading",
	Success: "success",
	Error:   "error",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for phase, n := range phaseNames {
		if n == name {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", name)
}

// State is the observable status of the polling loop. Events is set only in
// Success; Kind and Err only in Error. FetchedAt is the completion time of
// the fetch that produced the Success or Error.
type State struct {
	Phase               Phase
	Events              []quake.Event
	FetchedAt           time.Time
	Kind                fetch.Kind
	Err                 error
	ConsecutiveFailures int
	Seq                 uint64 // increments on every transition
}

// clone copies the event slice so observers cannot alias controller state.
func (s State) clone() State {
	s.Events = quake.Clone(s.Events)
	return s
}

// Message returns the error text, or "" when the state carries no error.
func (s State) Message() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}
