package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/slidecast/slidecast/internal/api/response"
	"github.com/slidecast/slidecast/internal/store"
	"github.com/slidecast/slidecast/pkg/models"
)

type dashboardStats struct {
	TotalJobs    int            `json:"total_jobs"`
	JobsByStatus map[string]int `json:"jobs_by_status"`
	ActiveJobs   []activeJob    `json:"active_jobs"`
}

type activeJob struct {
	ID             uuid.UUID `json:"id"`
	Status         string    `json:"status"`
	SlideCount     int       `json:"slide_count"`
	SlidesFinished int       `json:"slides_finished"`
}

// NewDashboardStatsHandler returns the handler for
// GET /api/v1/dashboard/stats: job counts by status plus per-slide progress
// for every job currently in flight.
func NewDashboardStatsHandler(st store.Store) http.HandlerFunc {
	activeStatuses := []string{
		models.JobStatusPending,
		models.JobStatusDecomposing,
		models.JobStatusSynthesizing,
		models.JobStatusAssembling,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := st.CountJobsByStatus(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to count jobs", nil)
			return
		}
		stats := dashboardStats{JobsByStatus: counts, ActiveJobs: []activeJob{}}
		for _, n := range counts {
			stats.TotalJobs += n
		}

		for _, status := range activeStatuses {
			jobs, _, err := st.ListJobs(r.Context(), store.JobFilter{Status: status, Limit: 100})
			if err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list active jobs", nil)
				return
			}
			for _, job := range jobs {
				entry := activeJob{ID: job.ID, Status: job.Status, SlideCount: job.SlideCount}
				if job.SlideCount > 0 {
					finished, err := st.CountTerminalSlideTasks(r.Context(), job.ID)
					if err == nil {
						entry.SlidesFinished = finished
					}
				}
				stats.ActiveJobs = append(stats.ActiveJobs, entry)
			}
		}

		response.JSON(w, stats)
	}
}
