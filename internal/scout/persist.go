package scout

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/scout-cli/internal/model"
)

// resumeMarker lists the regions that were fully attempted, so a restarted
// run can skip straight past them.
type resumeMarker struct {
	CompletedRegions []string  `json:"completed_regions"`
	Progress         Progress  `json:"progress"`
	SavedAt          time.Time `json:"saved_at"`
}

type resultsSnapshot struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Results     []*model.RegionResolution `json:"results"`
}

// persist writes the resolution snapshot, the resume marker and the cost
// engine state. Persistence failures are logged, never fatal; losing a
// checkpoint costs re-work, not correctness.
func (s *Scout) persist() {
	dir := s.cfg.Scan.OutputDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		zap.L().Warn("scout: persist mkdir", zap.Error(err))
		return
	}

	snap := resultsSnapshot{GeneratedAt: time.Now().UTC(), Results: s.Results()}
	writeJSON(filepath.Join(dir, "results.json"), snap)

	marker := resumeMarker{Progress: s.Progress(), SavedAt: time.Now().UTC()}
	s.mu.Lock()
	for _, name := range s.regionOrder() {
		rr := s.regions[name]
		attempted := true
		for _, lr := range rr.Localities {
			if !lr.IsFullyAttempted() {
				attempted = false
				break
			}
		}
		if attempted {
			marker.CompletedRegions = append(marker.CompletedRegions, name)
		}
	}
	s.mu.Unlock()
	writeJSON(filepath.Join(dir, "_resume.json"), marker)

	if err := s.cost.Save(filepath.Join(dir, "cost_state.json")); err != nil {
		zap.L().Warn("scout: persist cost state", zap.Error(err))
	}
}

// loadResume reads the resume marker left by a previous run, returning the
// set of region names to skip. A missing or unreadable marker means a
// fresh start.
func (s *Scout) loadResume() map[string]bool {
	path := filepath.Join(s.cfg.Scan.OutputDir, "_resume.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var marker resumeMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		zap.L().Warn("scout: resume marker unreadable", zap.Error(err))
		return nil
	}
	if len(marker.CompletedRegions) == 0 {
		return nil
	}
	done := make(map[string]bool, len(marker.CompletedRegions))
	for _, name := range marker.CompletedRegions {
		done[name] = true
	}
	zap.L().Info("scout: resuming previous run",
		zap.Int("completed_regions", len(done)),
		zap.Time("saved_at", marker.SavedAt))
	return done
}

func writeJSON(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		zap.L().Warn("scout: persist encode", zap.String("path", path), zap.Error(err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		zap.L().Warn("scout: persist write", zap.String("path", path), zap.Error(err))
	}
}
