package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// TurnDumper appends one JSON line per turn to a debug file, for
// offline inspection of a session's eviction behavior.
type TurnDumper struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

func NewTurnDumper(path string) (*TurnDumper, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open turn dump: %w", err)
	}
	return &TurnDumper{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (d *TurnDumper) Dump(m TurnMetrics) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	line, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("dump turn: %w", err)
	}
	if _, err := d.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("dump turn: %w", err)
	}
	return nil
}

func (d *TurnDumper) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.w.Flush(); err != nil {
		return fmt.Errorf("flush turn dump: %w", err)
	}
	return nil
}

func (d *TurnDumper) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.w.Flush(); err != nil {
		_ = d.f.Close()
		return fmt.Errorf("close turn dump: %w", err)
	}
	return d.f.Close()
}

// ReadTurnDump loads a dump file back into memory. Blank lines are
// skipped; a malformed line fails the whole read.
func ReadTurnDump(path string) ([]TurnMetrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read turn dump: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []TurnMetrics
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m TurnMetrics
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("read turn dump: %w", err)
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read turn dump: %w", err)
	}
	return out, nil
}

// SummarizeDump aggregates a previously written dump the same way the
// live collector does.
func SummarizeDump(path string) (Summary, error) {
	turns, err := ReadTurnDump(path)
	if err != nil {
		return Summary{}, err
	}
	c := NewCollector()
	for _, m := range turns {
		c.Record(m)
	}
	return c.Summary(), nil
}
