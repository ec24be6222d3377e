package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Record is one line of a JSONL export. Exactly one payload field is set.
type Record struct {
	Type   string  `json:"type"` // "run", "frame" or "final"
	Run    *Run    `json:"run,omitempty"`
	Frame  *Frame  `json:"frame,omitempty"`
	Sample *Sample `json:"sample,omitempty"`
}

// ExportJSONL writes a run, its frames and its final samples to w, one JSON
// object per line.
func ExportJSONL(ctx context.Context, rec Recorder, runID string, w io.Writer) error {
	runs, err := rec.Runs(ctx)
	if err != nil {
		return err
	}
	var run *Run
	for i := range runs {
		if runs[i].ID == runID {
			run = &runs[i]
			break
		}
	}
	if run == nil {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	frames, err := rec.Frames(ctx, runID)
	if err != nil {
		return err
	}
	final, err := rec.Final(ctx, runID)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	if err := enc.Encode(Record{Type: "run", Run: run}); err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	for i := range frames {
		if err := enc.Encode(Record{Type: "frame", Frame: &frames[i]}); err != nil {
			return fmt.Errorf("failed to encode frame %d: %w", frames[i].Step, err)
		}
	}
	for i := range final {
		if err := enc.Encode(Record{Type: "final", Sample: &final[i]}); err != nil {
			return fmt.Errorf("failed to encode sample: %w", err)
		}
	}
	return bw.Flush()
}
