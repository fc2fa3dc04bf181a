package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/alphapulse/internal/database"
	"github.com/aristath/alphapulse/internal/scheduler"
)

// TickerLister lists the tickers held in the price cache.
type TickerLister interface {
	ListTickers() ([]string, error)
}

// SystemStatusResponse is the payload of GET /api/system/status
type SystemStatusResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	StartedAt     string  `json:"started_at"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Goroutines    int     `json:"goroutines"`
	NumCPU        int     `json:"num_cpu"`
	CachedTickers int     `json:"cached_tickers"`
}

// SystemHandlers handles system monitoring and job endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	version     string
	startupTime time.Time
	historyDB   *database.DB
	tickers     TickerLister
	scheduler   *scheduler.Scheduler
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(
	log zerolog.Logger,
	version string,
	historyDB *database.DB,
	tickers TickerLister,
	sched *scheduler.Scheduler,
) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		version:     version,
		startupTime: time.Now(),
		historyDB:   historyDB,
		tickers:     tickers,
		scheduler:   sched,
	}
}

// HandleSystemStatus returns process and host status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		Version:       h.version,
		StartedAt:     h.startupTime.Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
	}

	if h.tickers != nil {
		tickers, err := h.tickers.ListTickers()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to list cached tickers")
			response.Status = "degraded"
		}
		response.CachedTickers = len(tickers)
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     response,
		"metadata": metadata(),
	})
}

// HandleDatabaseStats returns price cache database statistics
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	if h.historyDB == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":    "history database not configured",
			"metadata": metadata(),
		})
		return
	}

	stats, err := h.historyDB.GetStats()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get database stats")
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":    "failed to get database stats",
			"metadata": metadata(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"name":    h.historyDB.Name(),
			"path":    h.historyDB.Path(),
			"profile": h.historyDB.Profile(),
			"stats":   stats,
		},
		"metadata": metadata(),
	})
}

// HandleJobsStatus lists scheduled jobs and their last outcome
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobStatus{}
	if h.scheduler != nil {
		jobs = h.scheduler.Status()
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     jobs,
		"metadata": metadata(),
	})
}

// HandleTriggerJob runs a scheduled job immediately
// POST /api/system/jobs/{name}/run
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.scheduler == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":    "scheduler not configured",
			"metadata": metadata(),
		})
		return
	}

	if err := h.scheduler.RunNow(name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrJobNotFound) {
			status = http.StatusNotFound
		}
		h.writeJSON(w, status, map[string]interface{}{
			"error":    err.Error(),
			"metadata": metadata(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"job":     name,
			"status":  "success",
			"message": "Job completed",
		},
		"metadata": metadata(),
	})
}

// getSystemStats calculates CPU and RAM usage percentages over a short window
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func metadata() map[string]interface{} {
	return map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
	}
}
