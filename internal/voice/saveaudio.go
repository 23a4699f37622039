package voice

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xr-voice-gateway/internal/logging"
)

// Cleaner prunes captured clip/sidecar pairs older than Retention and keeps
// at most MaxFiles pairs. Zero values disable the respective limit.
type Cleaner struct {
	Dir       string
	Retention time.Duration
	MaxFiles  int
	Interval  time.Duration
}

type capturePair struct {
	jsonPath string
	wavPath  string
	mod      time.Time
}

// Run sweeps every Interval until ctx is done.
func (c Cleaner) Run(ctx context.Context) {
	interval := c.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := c.Sweep(now); n > 0 {
				logging.Infow("capture: cleaned old clips", "dir", c.Dir, "removed", n)
			}
		}
	}
}

// Sweep removes expired and excess pairs and returns how many it removed.
func (c Cleaner) Sweep(now time.Time) int {
	pairs := c.scan()
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].mod.Before(pairs[j].mod) })

	expired := 0
	if c.Retention > 0 {
		cutoff := now.Add(-c.Retention)
		for expired < len(pairs) && pairs[expired].mod.Before(cutoff) {
			expired++
		}
	}
	drop := expired
	if c.MaxFiles > 0 && len(pairs)-drop > c.MaxFiles {
		drop = len(pairs) - c.MaxFiles
	}
	for _, p := range pairs[:drop] {
		_ = os.Remove(p.jsonPath)
		if p.wavPath != "" {
			_ = os.Remove(p.wavPath)
		}
	}
	return drop
}

func (c Cleaner) scan() []capturePair {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		logging.Debugw("capture: cleanup readDir failed", "dir", c.Dir, "err", err)
		return nil
	}
	var pairs []capturePair
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		jsonPath := filepath.Join(c.Dir, name)
		info, err := e.Info()
		if err != nil {
			continue
		}
		wavPath := strings.TrimSuffix(jsonPath, ".json") + ".wav"
		if sc, err := readSidecar(jsonPath); err == nil {
			if v, ok := sc["wav_path"].(string); ok && v != "" {
				wavPath = v
			}
		}
		pairs = append(pairs, capturePair{jsonPath: jsonPath, wavPath: wavPath, mod: info.ModTime()})
	}
	return pairs
}
