// Package capture records the bytes crossing a serial bridge as JSON lines.
//
// A capture starts with a header line followed by one event per line:
//
//	{"version":1,"path":"/serial","timestamp":1700000000,"encoding":"base64"}
//	[0.012, "i", "aGVsbG8="]
//	[0.013, "d", "3"]
//	[0.250, "o", "b2s="]
//
// "i" is data accepted into the receive ring, "o" is one broadcast message and
// "d" is the number of inbound bytes dropped because the receive ring was full.
package capture

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types.
const (
	EventInput   = "i"
	EventOutput  = "o"
	EventDropped = "d"
)

// Header is the first line of a capture.
type Header struct {
	Version   int    `json:"version"`
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
	Encoding  string `json:"encoding"`
}

// Event is one recorded line after the header.
type Event struct {
	TimeOffset float64
	Type       string
	Data       []byte
}

// MarshalJSON encodes the event as [time_offset, type, data].
func (e Event) MarshalJSON() ([]byte, error) {
	var payload string
	if e.Type == EventDropped {
		payload = string(e.Data)
	} else {
		payload = base64.StdEncoding.EncodeToString(e.Data)
	}
	return json.Marshal([]interface{}{e.TimeOffset, e.Type, payload})
}

// UnmarshalJSON decodes an event written by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	timeOffset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	eventType, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event type")
	}
	payload, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data type")
	}

	e.TimeOffset = timeOffset
	e.Type = eventType
	if eventType == EventDropped {
		e.Data = []byte(payload)
		return nil
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}
	e.Data = decoded
	return nil
}

// Recorder writes a capture. It implements serial.Observer, so it can be
// attached to a bridge with serial.WithObserver.
type Recorder struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
	logger    *zap.Logger
	mu        sync.Mutex
	err       error
}

// NewRecorder creates a capture file at filePath and writes its header.
func NewRecorder(filePath, path string, logger *zap.Logger) (*Recorder, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}

	r := newRecorder(file, logger)
	r.file = file
	if err := r.writeHeader(path); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// NewRecorderWithWriter creates a Recorder on w and writes the header.
func NewRecorderWithWriter(w io.Writer, path string, logger *zap.Logger) (*Recorder, error) {
	r := newRecorder(w, logger)
	if err := r.writeHeader(path); err != nil {
		return nil, err
	}
	return r, nil
}

func newRecorder(w io.Writer, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		writer:    w,
		startTime: time.Now(),
		logger:    logger.With(zap.String("component", "capture")),
	}
}

func (r *Recorder) writeHeader(path string) error {
	header := Header{
		Version:   1,
		Path:      path,
		Timestamp: r.startTime.Unix(),
		Encoding:  "base64",
	}

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// OnReceive records bytes accepted into the receive ring and any drop.
func (r *Recorder) OnReceive(accepted []byte, dropped int) {
	if len(accepted) > 0 {
		r.record(EventInput, accepted)
	}
	if dropped > 0 {
		r.record(EventDropped, []byte(strconv.Itoa(dropped)))
	}
}

// OnSend records one broadcast message.
func (r *Recorder) OnSend(data []byte) {
	r.record(EventOutput, data)
}

// record writes an event. The first write error is kept and later events are
// skipped.
func (r *Recorder) record(eventType string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}

	event := Event{
		TimeOffset: time.Since(r.startTime).Seconds(),
		Type:       eventType,
		Data:       data,
	}

	line, err := json.Marshal(event)
	if err == nil {
		_, err = r.writer.Write(append(line, '\n'))
	}
	if err != nil {
		r.err = fmt.Errorf("failed to write event: %w", err)
		r.logger.Warn("capture stopped", zap.Error(err))
	}
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the capture file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// ReadCapture parses a capture produced by a Recorder.
func ReadCapture(rd io.Reader) (*Header, []Event, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to read header: %w", err)
		}
		return nil, nil, fmt.Errorf("empty capture")
	}

	var header Header
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return nil, nil, fmt.Errorf("invalid header: %w", err)
	}

	var events []Event
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, nil, fmt.Errorf("invalid event on line %d: %w", len(events)+2, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read events: %w", err)
	}

	return &header, events, nil
}
