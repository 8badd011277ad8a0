package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/aurora-assistant/ragmemory/internal/xlog"
)

const defaultMaxLines = 5000

// FileSink is the reference TelemetrySink: one JSON object per line,
// trimmed to MaxLines, malformed lines skipped on read without failing
// the batch (Design Note: telemetry file format has no transactional
// guarantees beyond "the tail is ignored if malformed").
type FileSink struct {
	mu       sync.Mutex
	path     string
	maxLines int
	logger   *zap.Logger
}

// NewFileSink opens (creating if needed) a newline-delimited JSON
// telemetry file at path.
func NewFileSink(path string, logger *zap.Logger) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	f.Close()
	return &FileSink{path: path, maxLines: defaultMaxLines, logger: xlog.OrNop(logger)}, nil
}

var _ Sink = (*FileSink)(nil)

func (s *FileSink) Record(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(e)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return s.trimIfNeededLocked()
}

// trimIfNeededLocked rewrites the file keeping only the last maxLines
// lines once it grows past that bound. Called with mu held.
func (s *FileSink) trimIfNeededLocked() error {
	lines, err := s.readAllLinesLocked()
	if err != nil {
		return err
	}
	if len(lines) <= s.maxLines {
		return nil
	}
	keep := lines[len(lines)-s.maxLines:]
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, l := range keep {
		w.WriteString(l)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, s.path)
}

func (s *FileSink) readAllLinesLocked() ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// ReadRecent returns the most recent limit events in chronological
// order, skipping any line that fails to parse.
func (s *FileSink) ReadRecent(limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readAllLinesLocked()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	events := make([]Event, 0, len(lines))
	for _, l := range lines {
		var e Event
		if err := json.Unmarshal([]byte(l), &e); err != nil {
			xlog.Warn(s.logger, "telemetry: skipping malformed line", zap.Error(err))
			continue
		}
		events = append(events, e)
	}
	return events, nil
}
