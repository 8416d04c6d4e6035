package logging

import (
	"bytes"
	"io"
	"strconv"
	"sync"
	"time"
)

const maxPartialLine = 1 << 20

// LineStamper prefixes every complete line with a sequence number and a timestamp.
// A trailing partial line is held until its newline arrives or Close is called.
type LineStamper struct {
	mu      sync.Mutex
	target  io.Writer
	seq     uint64
	partial bytes.Buffer
	now     func() time.Time
}

func NewLineStamper(target io.Writer) *LineStamper {
	return &LineStamper{target: target, now: time.Now}
}

// Write reports len(p) on success so callers like slog never see a short write.
func (s *LineStamper) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partial.Write(p)
	for {
		data := s.partial.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(data[:idx], []byte{'\r'})
		if err := s.writeLine(line); err != nil {
			return 0, err
		}
		s.partial.Next(idx + 1)
	}

	if s.partial.Len() > maxPartialLine {
		if err := s.flushLocked(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (s *LineStamper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *LineStamper) flushLocked() error {
	if s.partial.Len() == 0 {
		return nil
	}
	line := s.partial.Bytes()
	s.partial.Reset()
	return s.writeLine(line)
}

func (s *LineStamper) writeLine(line []byte) error {
	s.seq++
	buf := make([]byte, 0, len(line)+64)
	buf = append(buf, "line="...)
	buf = strconv.AppendUint(buf, s.seq, 10)
	buf = append(buf, " time="...)
	buf = s.now().AppendFormat(buf, time.RFC3339)
	buf = append(buf, ' ')
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := s.target.Write(buf)
	return err
}
