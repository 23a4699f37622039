package voice

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/xr-voice-gateway/internal/audio"
	"github.com/xr-voice-gateway/internal/logging"
)

// Recorder saves each received clip as <ts>_<session>_cid<run>.wav next to
// a JSON sidecar, and merges later pipeline facts (transcript, reply,
// outcome) into that sidecar. A nil *Recorder records nothing.
type Recorder struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	runs map[string]*captureRun
}

// captureRun serializes sidecar merges for one run so file I/O never holds
// the recorder-wide lock.
type captureRun struct {
	mu   sync.Mutex
	path string
}

func NewRecorder(dir string) (*Recorder, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("capture dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("capture dir: %w", err)
	}
	return &Recorder{dir: dir, now: time.Now, runs: make(map[string]*captureRun)}, nil
}

func (r *Recorder) Dir() string { return r.dir }

// Begin writes the clip and its initial sidecar.
func (r *Recorder) Begin(sessionID, runID string, clip []byte) {
	if r == nil {
		return
	}
	now := r.now().UTC()
	base := fmt.Sprintf("%s_%s_cid%s", now.Format("20060102T150405.000Z"), sessionID, runID)
	wavPath := filepath.Join(r.dir, base+".wav")
	jsonPath := filepath.Join(r.dir, base+".json")

	if err := writeFileAtomic(wavPath, clip, 0o644); err != nil {
		logging.Warnw("capture: failed to save clip", "path", wavPath, "err", err, "run_id", runID)
		return
	}
	sc := map[string]any{
		"session_id":     sessionID,
		"correlation_id": runID,
		"wav_path":       wavPath,
		"bytes":          len(clip),
		"riff":           audio.HasContainerTag(clip),
		"received_utc":   now.Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		logging.Warnw("capture: marshal sidecar", "err", err, "run_id", runID)
		return
	}
	if err := writeFileAtomic(jsonPath, b, 0o644); err != nil {
		logging.Warnw("capture: failed to save sidecar", "path", jsonPath, "err", err, "run_id", runID)
		return
	}

	r.mu.Lock()
	r.runs[runID] = &captureRun{path: jsonPath}
	r.mu.Unlock()
	logging.Debugw("capture: saved clip", "path", wavPath, "bytes", len(clip), "run_id", runID)
}

// Update merges fields into the run's sidecar. An "outcome" field is the
// last update a run receives. Runs that were never begun are ignored.
func (r *Recorder) Update(runID string, fields map[string]any) {
	if r == nil || len(fields) == 0 {
		return
	}
	r.mu.Lock()
	run, ok := r.runs[runID]
	if ok {
		if _, final := fields["outcome"]; final {
			delete(r.runs, runID)
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	if err := mergeSidecar(run.path, fields); err != nil {
		logging.Warnw("capture: sidecar update failed", "path", run.path, "err", err, "run_id", runID)
	}
}

func readSidecar(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc map[string]any
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("invalid sidecar JSON %s: %w", path, err)
	}
	return sc, nil
}

func mergeSidecar(path string, fields map[string]any) error {
	sc, err := readSidecar(path)
	if err != nil {
		return err
	}
	for k, v := range fields {
		sc[k] = v
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar %s: %w", path, err)
	}
	return writeFileAtomic(path, b, 0o644)
}
