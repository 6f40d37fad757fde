package api

import (
	"net/http"
	"time"

	"transitopt/internal/buildinfo"
)

// DebugJSON reports build metadata, non-secret settings and graph size.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  s.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":              s.cfg.HTTP.Port,
			"rateRps":           s.cfg.HTTP.RateRPS,
			"rateBurst":         s.cfg.HTTP.RateBurst,
			"allowOrigins":      s.cfg.HTTP.AllowOrigins,
			"maxSequenceStops":  s.cfg.Engine.MaxSequenceStops,
			"parallelThreshold": s.cfg.Engine.ParallelThreshold,
			"densityRefresh":    s.cfg.Density.RefreshInterval.String(),
			"networkFile":       s.cfg.Network.File,
			"hasDatabaseUrl":    s.cfg.Database.URL != "",
			"hasRedisUrl":       s.cfg.Redis.URL != "",
		},
		"graph": map[string]int{
			"stops":       s.Engine.Len(),
			"connections": len(s.Engine.Connections()),
		},
	})
}
