package landmark

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ReplayDetector serves pre-recorded observations from a JSON-lines fixture
// file. Used in dev mode and tests; with loop set the sequence repeats
// forever, otherwise Detect returns io.EOF when exhausted.
type ReplayDetector struct {
	mu   sync.Mutex
	obs  []*Observation
	next int
	loop bool
}

// LoadReplay parses a fixtures file of one JSON observation per line.
// Blank lines and lines starting with # are skipped.
func LoadReplay(path string, loop bool) (*ReplayDetector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixtures file: %w", err)
	}
	defer f.Close()

	var obs []*Observation
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var o Observation
		if err := json.Unmarshal([]byte(text), &o); err != nil {
			return nil, fmt.Errorf("fixtures line %d: %w", line, err)
		}
		obs = append(obs, &o)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fixtures file: %w", err)
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("fixtures file %s contains no observations", path)
	}
	return &ReplayDetector{obs: obs, loop: loop}, nil
}

func (d *ReplayDetector) Detect(ctx context.Context) (*Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.next >= len(d.obs) {
		if !d.loop {
			return nil, io.EOF
		}
		d.next = 0
	}
	o := d.obs[d.next]
	d.next++
	return o, nil
}

// StreamDetector decodes observations from a JSON-lines stream, one per
// Detect call. This is the production adapter: the external vision process
// pipes its per-frame geometry into the monitor.
type StreamDetector struct {
	dec *json.Decoder
}

func NewStreamDetector(r io.Reader) *StreamDetector {
	return &StreamDetector{dec: json.NewDecoder(r)}
}

func (d *StreamDetector) Detect(ctx context.Context) (*Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var o Observation
	if err := d.dec.Decode(&o); err != nil {
		return nil, fmt.Errorf("detector stream: %w", err)
	}
	return &o, nil
}
