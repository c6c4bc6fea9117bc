// Package summary writes scalar metrics as TensorBoard event files.
//
// Each file is a sequence of TFRecords holding protobuf-encoded
// tensorflow.Event messages, so a directory written here can be opened
// directly with `tensorboard --logdir runs`.
package summary

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const filePrefix = "events.out.tfevents."

var fileSeq atomic.Uint64

// Writer appends scalar summaries to an event file under a log directory.
// Writing after Close opens a new event file in the same directory.
type Writer struct {
	mu     sync.Mutex
	logDir string
	now    func() time.Time

	file  *os.File
	buf   *bufio.Writer
	files []string
}

// NewWriter creates logDir if needed and opens a fresh event file in it.
func NewWriter(logDir string) (*Writer, error) {
	w := &Writer{logDir: logDir, now: time.Now}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// LogDir returns the directory the writer writes to.
func (w *Writer) LogDir() string {
	return w.logDir
}

// Files returns the event files created so far, oldest first.
func (w *Writer) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.files...)
}

// AddScalar records value under tag at step.
func (w *Writer) AddScalar(tag string, value float64, step int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.open(); err != nil {
			return err
		}
	}

	e := &Event{
		WallTime: wallTime(w.now()),
		Step:     int64(step),
		Values:   []Value{{Tag: tag, SimpleValue: float32(value)}},
	}
	if err := writeRecord(w.buf, e.marshal()); err != nil {
		return fmt.Errorf("failed to write scalar %s: %w", tag, err)
	}
	return nil
}

// Flush writes buffered events to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf == nil {
		return nil
	}
	return w.buf.Flush()
}

// Close flushes and closes the current event file. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	flushErr := w.buf.Flush()
	closeErr := w.file.Close()
	w.file, w.buf = nil, nil
	if flushErr != nil {
		return fmt.Errorf("failed to flush event file: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close event file: %w", closeErr)
	}
	return nil
}

// open must be called with w.mu held.
func (w *Writer) open() error {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	now := w.now()
	name := fmt.Sprintf("%s%d.%s.%d.%d", filePrefix, now.Unix(), host, os.Getpid(), fileSeq.Add(1))
	path := filepath.Join(w.logDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create event file: %w", err)
	}
	buf := bufio.NewWriter(f)

	header := &Event{WallTime: wallTime(now), FileVersion: fileVersion}
	if err := writeRecord(buf, header.marshal()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file version: %w", err)
	}

	w.file, w.buf = f, buf
	w.files = append(w.files, path)
	return nil
}

func wallTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// ReadEvents decodes every event of an event file, file-version header included.
func ReadEvents(path string) ([]*Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var events []*Event
	for {
		payload, err := readRecord(r)
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("%s: %w", path, err)
		}
		e, err := unmarshalEvent(payload)
		if err != nil {
			return events, fmt.Errorf("%s: %w", path, err)
		}
		events = append(events, e)
	}
}

// ReadScalars returns the scalars of one event file in write order.
func ReadScalars(path string) ([]Scalar, error) {
	events, err := ReadEvents(path)
	if err != nil {
		return nil, err
	}
	var scalars []Scalar
	for _, e := range events {
		for _, v := range e.Values {
			scalars = append(scalars, Scalar{Tag: v.Tag, Value: v.SimpleValue, Step: e.Step, WallTime: e.WallTime})
		}
	}
	return scalars, nil
}

// ReadDir returns the scalars of every event file in dir, ordered by file
// creation and then write order.
func ReadDir(dir string) ([]Scalar, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), filePrefix) {
			files = append(files, entry.Name())
		}
	}
	sort.Slice(files, func(i, j int) bool {
		ti, si := fileOrder(files[i])
		tj, sj := fileOrder(files[j])
		if ti != tj {
			return ti < tj
		}
		if si != sj {
			return si < sj
		}
		return files[i] < files[j]
	})

	var all []Scalar
	for _, name := range files {
		scalars, err := ReadScalars(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		all = append(all, scalars...)
	}
	return all, nil
}

// fileOrder extracts the creation second and sequence number of an event file name.
func fileOrder(name string) (int64, uint64) {
	rest := strings.TrimPrefix(name, filePrefix)
	var unix int64
	if i := strings.Index(rest, "."); i > 0 {
		unix, _ = strconv.ParseInt(rest[:i], 10, 64)
	}
	seq, _ := strconv.ParseUint(rest[strings.LastIndex(rest, ".")+1:], 10, 64)
	return unix, seq
}
