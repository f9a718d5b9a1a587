package logger

import (
	"encoding/json"
	"io"
	"sort"
	"strings"
)

// Entry is one decoded event log line.
type Entry struct {
	Timestamp  string `json:"ts"`
	Event      string `json:"event"`
	SessionID  string `json:"session_id,omitempty"`
	JobID      int    `json:"job_id,omitempty"`
	Pgid       int    `json:"pgid,omitempty"`
	Command    string `json:"command,omitempty"`
	Background bool   `json:"background,omitempty"`
	Foreground bool   `json:"foreground,omitempty"`
	Pids       []int  `json:"pids,omitempty"`
	Status     string `json:"status,omitempty"`
	Op         string `json:"op,omitempty"`
	Error      string `json:"error,omitempty"`
	Signal     string `json:"signal,omitempty"`
	User       string `json:"user,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Accepted   bool   `json:"accepted,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
}

// Program is the first word of the entry's command.
func (e *Entry) Program() string {
	fields := strings.Fields(e.Command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// ReadJSONLinesLog parses a newline delimited JSON log.
func ReadJSONLinesLog(r io.Reader, handler func(le *Entry)) error {
	decoder := json.NewDecoder(r)
	for decoder.More() {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			return err
		}

		handler(&entry)
	}
	return nil
}

// Report holds statistics about the logged events.
type Report struct {
	LogEntries int        `json:"log_entries"`
	Sessions   int        `json:"sessions"`
	Events     StrCounter `json:"events"`

	Jobs           JobReport    `json:"job_report"`
	LaunchFailures *PathCounter `json:"launch_failures"`
	Logins         *PathCounter `json:"ssh_logins"`

	seenSessions map[string]bool
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{
		LaunchFailures: NewPathCounter("command", "op"),
		Logins:         NewPathCounter("user", "accepted"),
		seenSessions:   make(map[string]bool),
	}
}

// Update folds one entry into the report.
func (r *Report) Update(le *Entry) {
	if r.seenSessions == nil {
		r.seenSessions = make(map[string]bool)
	}
	if r.LaunchFailures == nil {
		r.LaunchFailures = NewPathCounter("command", "op")
	}
	if r.Logins == nil {
		r.Logins = NewPathCounter("user", "accepted")
	}

	r.LogEntries++
	r.Events.Increment(le.Event)

	if le.SessionID != "" && !r.seenSessions[le.SessionID] {
		r.seenSessions[le.SessionID] = true
		r.Sessions++
	}

	switch le.Event {
	case EventJobLaunch:
		r.Jobs.Launched++
		if le.Background {
			r.Jobs.Background++
		}
		r.Jobs.Programs.Increment(le.Program())
		if len(le.Pids) > 1 {
			r.Jobs.Pipelines++
		}
	case EventJobStopped:
		r.Jobs.Stopped.Increment(le.Program())
	case EventJobDone:
		r.Jobs.Statuses.Increment(le.Status)
	case EventLaunchFailed:
		r.LaunchFailures.Increment(le.Program(), le.Op)
	case EventSSHLogin:
		accepted := "rejected"
		if le.Accepted {
			accepted = "accepted"
		}
		r.Logins.Increment(le.User, accepted)
	}
}

// JobReport summarizes launched jobs.
type JobReport struct {
	Launched   int `json:"launched"`
	Background int `json:"background"`
	Pipelines  int `json:"pipelines"`

	// Programs counts the first program of each launched job.
	Programs StrCounter `json:"programs"`
	// Stopped counts stopped jobs by first program.
	Stopped StrCounter `json:"stopped"`
	// Statuses counts final statuses of finished jobs.
	Statuses StrCounter `json:"statuses"`
}

// StrCounter counts the number of strings seen.
type StrCounter struct {
	internal map[string]int
}

// Increment adds one to the given key.
func (s *StrCounter) Increment(toAdd string) {
	if s.internal == nil {
		s.internal = make(map[string]int)
	}

	s.internal[toAdd]++
}

// Get returns the count for a key.
func (s *StrCounter) Get(key string) int {
	return s.internal[key]
}

// MarshalJSON implemnts custom JSON marshaler.
func (s StrCounter) MarshalJSON() ([]byte, error) {
	if s.internal == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.internal)
}

func NewPathCounter(cols ...string) *PathCounter {
	return &PathCounter{
		cols:     cols,
		internal: make(map[string]int),
	}
}

// PathCounter counts tuples of strings seen.
type PathCounter struct {
	cols     []string
	internal map[string]int
}

// Increment adds one to the given key.
func (ctr *PathCounter) Increment(toAdd ...string) {
	if len(toAdd) != len(ctr.cols) {
		panic("wrong number of columns to add")
	}

	ctr.internal[toKey(toAdd...)]++
}

// Get returns the count for a tuple.
func (ctr *PathCounter) Get(vals ...string) int {
	return ctr.internal[toKey(vals...)]
}

// MarshalJSON implemnts custom JSON marshaler.
func (ctr *PathCounter) MarshalJSON() ([]byte, error) {
	type Count struct {
		Count  int               `json:"count"`
		Fields map[string]string `json:"event"`
		Path   string            `json:"-"`
	}

	out := []Count{}
	for k, v := range ctr.internal {
		count := Count{
			Count:  v,
			Path:   k,
			Fields: make(map[string]string),
		}

		splitPath := fromKey(k)
		for colNum, colVal := range ctr.cols {
			count.Fields[colVal] = splitPath[colNum]
		}

		out = append(out, count)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Path < out[j].Path
		}
		return out[i].Count > out[j].Count
	})

	return json.Marshal(out)
}

func toKey(vals ...string) string {
	key, _ := json.Marshal(vals)
	return string(key)
}

func fromKey(key string) (out []string) {
	json.Unmarshal([]byte(key), &out)
	return
}
