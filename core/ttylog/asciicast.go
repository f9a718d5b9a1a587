package ttylog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// AsciicastFileExt holds the suggested file extension for asciicast files.
const AsciicastFileExt = "cast"

// AsciicastHeader is the first line of an asciicast v2 file.
//
// See: https://github.com/asciinema/asciinema/blob/develop/doc/asciicast-v2.md
type AsciicastHeader struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

func writeJSONLine(w io.Writer, structure interface{}) error {
	line, err := json.Marshal(structure)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "%s\n", string(line))
	return err
}

// AsciicastRecorder writes terminal traffic in asciicast v2 format. It is
// safe for concurrent use so input and output can be recorded from separate
// goroutines.
type AsciicastRecorder struct {
	mu    sync.Mutex
	w     io.Writer
	start time.Time
	now   func() time.Time
	err   error
}

// NewAsciicastRecorder writes the header and starts the recording clock.
func NewAsciicastRecorder(w io.Writer, header AsciicastHeader) (*AsciicastRecorder, error) {
	return newAsciicastRecorder(w, header, time.Now)
}

func newAsciicastRecorder(w io.Writer, header AsciicastHeader, now func() time.Time) (*AsciicastRecorder, error) {
	start := now()
	header.Version = 2
	if header.Timestamp == 0 {
		header.Timestamp = start.Unix()
	}
	if err := writeJSONLine(w, header); err != nil {
		return nil, err
	}

	return &AsciicastRecorder{w: w, start: start, now: now}, nil
}

// Record appends one event. After the first write error every later call
// returns that error.
func (r *AsciicastRecorder) Record(stream Stream, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	line := asciicastLogLine{
		TimeSeconds: r.now().Sub(r.start).Seconds(),
		EventType:   string(stream),
		EventData:   string(data),
	}
	r.err = writeJSONLine(r.w, &line)
	return r.err
}

// Writer returns a writer that records everything written to it as stream.
// Recording errors are not reported to callers so a broken recording never
// interrupts the session.
func (r *AsciicastRecorder) Writer(stream Stream) io.Writer {
	return streamWriter{r: r, stream: stream}
}

type streamWriter struct {
	r      *AsciicastRecorder
	stream Stream
}

func (w streamWriter) Write(p []byte) (int, error) {
	w.r.Record(w.stream, p)
	return len(p), nil
}

// Err returns the first error encountered while recording.
func (r *AsciicastRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

type AsciicastLogSource struct {
	r             *bufio.Reader
	consumeHeader sync.Once
	header        AsciicastHeader
	headerErr     error
}

var _ LogSource = (*AsciicastLogSource)(nil)

// NewAsciicastLogSource reads log events from an Asciicast formatted file.
func NewAsciicastLogSource(r io.Reader) *AsciicastLogSource {
	return &AsciicastLogSource{r: bufio.NewReader(r)}
}

func (log *AsciicastLogSource) readHeader() {
	log.consumeHeader.Do(func() {
		line, err := log.r.ReadBytes('\n')
		if err == io.EOF && len(line) == 0 {
			log.headerErr = io.ErrUnexpectedEOF
			return
		}
		if err != nil && err != io.EOF {
			log.headerErr = err
			return
		}
		if err := json.Unmarshal(line, &log.header); err != nil {
			log.headerErr = fmt.Errorf("malformed header: %w", err)
		}
	})
}

// Header returns the recording's header.
func (log *AsciicastLogSource) Header() (AsciicastHeader, error) {
	log.readHeader()
	return log.header, log.headerErr
}

// Next gets the next log entry, it returns io.EOF if there are no more.
func (log *AsciicastLogSource) Next() (*Event, error) {
	log.readHeader()
	if log.headerErr != nil {
		return nil, log.headerErr
	}

	for {
		line, err := log.r.ReadBytes('\n')
		if err != nil && (err != io.EOF || len(line) == 0) {
			return nil, err
		}

		if len(line) <= 1 {
			// Skip blank lines
			continue
		}

		var asciicastLine asciicastLogLine
		if err := json.Unmarshal(line, &asciicastLine); err != nil {
			return nil, err
		}

		switch Stream(asciicastLine.EventType) {
		case Input, Output:
		default:
			// skip unknown events
			continue
		}

		return &Event{
			Offset: secondsToDuration(asciicastLine.TimeSeconds),
			Stream: Stream(asciicastLine.EventType),
			Data:   []byte(asciicastLine.EventData),
		}, nil
	}
}

type asciicastLogLine struct {
	TimeSeconds float64
	EventType   string
	EventData   string
}

func (log *asciicastLogLine) UnmarshalJSON(data []byte) error {
	var v []interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if count := len(v); count != 3 {
		return fmt.Errorf("malformed line, expected 3 entries got %d", count)
	}

	var timeOk, typeOk, dataOk bool
	log.TimeSeconds, timeOk = v[0].(float64)
	log.EventType, typeOk = v[1].(string)
	log.EventData, dataOk = v[2].(string)

	if !timeOk || !typeOk || !dataOk {
		return fmt.Errorf("malformed data in line: %q", v)
	}

	return nil
}

func (log *asciicastLogLine) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{log.TimeSeconds, log.EventType, log.EventData})
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second)).Round(time.Microsecond)
}
