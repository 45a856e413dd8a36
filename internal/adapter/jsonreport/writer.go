package jsonreport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bytemomo/armada/internal/domain"
	"bytemomo/armada/internal/workspace"
)

const (
	ResultFile  = "result.json"
	SummaryFile = "summary.json"
)

type Writer struct {
	OutDir string // the run workspace, e.g. ./armada-output
}

func New(out string) *Writer { return &Writer{OutDir: out} }

// Save writes one device result next to that device's artifacts.
func (w *Writer) Save(ctx context.Context, runID string, res domain.ExecutionResult) error {
	dir := workspace.DeviceDir(w.OutDir, res.Device)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}
	return writeJSON(filepath.Join(dir, ResultFile), struct {
		Version string                 `json:"version"`
		RunID   string                 `json:"run_id"`
		Result  domain.ExecutionResult `json:"result"`
	}{
		Version: "1.0",
		RunID:   runID,
		Result:  res,
	})
}

// Aggregate writes the sealed outcome to the workspace root and returns the
// file path.
func (w *Writer) Aggregate(outcome *domain.AggregateOutcome) (string, error) {
	if outcome == nil {
		return "", fmt.Errorf("nil outcome")
	}
	if !outcome.Sealed() {
		return "", fmt.Errorf("outcome %s is not sealed", outcome.RunID)
	}
	if err := os.MkdirAll(w.OutDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(w.OutDir, SummaryFile)
	return path, writeJSON(path, struct {
		Version     string                   `json:"version"`
		GeneratedAt time.Time                `json:"generated_at"`
		Outcome     *domain.AggregateOutcome `json:"outcome"`
	}{
		Version:     "1.0",
		GeneratedAt: time.Now().UTC(),
		Outcome:     outcome,
	})
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
