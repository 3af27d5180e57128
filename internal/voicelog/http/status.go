package http

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/sjzar/voicelog/internal/errors"
	"github.com/sjzar/voicelog/internal/model"
)

// DiskStatus reports the data directory footprint and the free space left on its volume.
type DiskStatus struct {
	Path        string  `json:"path"`
	AudioMB     float64 `json:"audio_mb"`
	DatabaseMB  float64 `json:"database_mb"`
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedPercent float64 `json:"used_percent"`
}

type Status struct {
	Segments        map[string]int           `json:"segments"`
	Queued          int                      `json:"queued"`
	InFlight        int                      `json:"in_flight"`
	Online          bool                     `json:"online"`
	Provider        string                   `json:"provider"`
	LocalPermission string                   `json:"local_permission,omitempty"`
	MaxAttempts     int                      `json:"max_attempts"`
	Index           *model.SearchIndexStatus `json:"index,omitempty"`
	Disk            *DiskStatus              `json:"disk,omitempty"`
}

// GET /api/v1/status
func (s *Service) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	counts, err := s.deps.Store.CountSegmentsByStatus(ctx)
	if err != nil {
		errors.Err(c, err)
		return
	}
	queued, err := s.deps.Store.ListQueuedSegments(ctx)
	if err != nil {
		errors.Err(c, err)
		return
	}

	st := Status{
		Segments:    counts,
		Queued:      len(queued),
		InFlight:    s.deps.Pipeline.InFlight(),
		Online:      true,
		Provider:    s.deps.Config.Speech().Provider,
		MaxAttempts: s.deps.Pipeline.Policy().MaxAttempts,
	}
	if s.deps.Online != nil {
		st.Online = s.deps.Online()
	}
	if s.deps.LocalPermission != nil {
		st.LocalPermission = s.deps.LocalPermission()
	}
	if s.deps.Search != nil {
		idx := s.deps.Search.Status()
		st.Index = &idx
	}
	if dir := s.deps.Config.Get().DataDir; dir != "" {
		st.Disk = diskStatus(dir)
	}
	c.JSON(http.StatusOK, st)
}

func diskStatus(dataDir string) *DiskStatus {
	ds := &DiskStatus{
		Path:       dataDir,
		AudioMB:    roundMB(safeDirSize(filepath.Join(dataDir, "audio"))),
		DatabaseMB: roundMB(estimateDBSize(dataDir)),
	}
	usage, err := disk.Usage(dataDir)
	if err != nil {
		log.Debug().Err(err).Str("path", dataDir).Msg("disk usage unavailable")
		return ds
	}
	ds.TotalMB = roundMB(int64(usage.Total))
	ds.FreeMB = roundMB(int64(usage.Free))
	ds.UsedPercent = float64(int(usage.UsedPercent*100+0.5)) / 100.0
	return ds
}

func roundMB(bytes int64) float64 {
	if bytes <= 0 {
		return 0
	}
	// 1 MB = 1024*1024
	mb := float64(bytes) / (1024.0 * 1024.0)
	// round to 2 decimals
	return float64(int(mb*100+0.5)) / 100.0
}

// safeDirSize walks a directory and sums file sizes; returns 0 on error.
func safeDirSize(path string) int64 {
	var total int64
	if path == "" {
		return 0
	}
	_ = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

// estimateDBSize sums the SQLite database and its WAL/SHM files in dataDir.
func estimateDBSize(dataDir string) int64 {
	matches, _ := filepath.Glob(filepath.Join(dataDir, "*.sqlite*"))
	var total int64
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() {
			total += info.Size()
		}
	}
	return total
}
