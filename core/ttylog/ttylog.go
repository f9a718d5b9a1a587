// Package ttylog records terminal sessions and plays them back.
package ttylog

import (
	"io"
	"sync"
	"time"
)

// Stream identifies the direction of recorded data.
type Stream string

const (
	Input  Stream = "i"
	Output Stream = "o"
)

// Event is a chunk of terminal data, timed relative to the start of the
// recording.
type Event struct {
	Offset time.Duration
	Stream Stream
	Data   []byte
}

// LogSink receives log events.
type LogSink func(e *Event) error

// LogSource adapts log readers.
type LogSource interface {
	// Next fetches the next available log entry. It returns io.EOF if the source
	// has no more log entries.
	Next() (*Event, error)
}

// NewRealTimePlayback plays back the results in real-time.
// If maxSleep > 0, it's used as the maximum duration to pause.
func NewRealTimePlayback(maxSleep time.Duration, next LogSink) LogSink {
	return newPlayback(maxSleep, time.Sleep, next)
}

func newPlayback(maxSleep time.Duration, sleep func(time.Duration), next LogSink) LogSink {
	var once sync.Once
	var prev time.Duration

	return func(e *Event) error {
		once.Do(func() {
			prev = e.Offset
		})

		delta := e.Offset - prev
		prev = e.Offset

		if maxSleep > 0 && delta > maxSleep {
			delta = maxSleep
		}
		if delta > 0 {
			sleep(delta)
		}

		return next(e)
	}
}

// NewClientOutput writes what the client saw to the given writer.
func NewClientOutput(w io.Writer) LogSink {
	return func(e *Event) error {
		if e.Stream != Output {
			return nil
		}
		_, err := w.Write(e.Data)
		return err
	}
}

// Replay reads a stream of events to a callback.
func Replay(recording LogSource, callback LogSink) error {
	for {
		e, err := recording.Next()
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			return err
		}

		if err := callback(e); err != nil {
			return err
		}
	}
}
