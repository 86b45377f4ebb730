package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jobrunner/dataspatial/internal/application"
	"github.com/jobrunner/dataspatial/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// handleGetResource returns a registered resource.
func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	res, err := s.services.Resources.GetResource(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handlePutResource creates or replaces a resource. New GeoJSON resources
// are submitted for georeferencing.
func (s *Server) handlePutResource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var res domain.Resource
	if err := decodeBody(r, &res); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if res.ID != "" && res.ID != id {
		s.writeError(w, http.StatusBadRequest, "resource id does not match the path")
		return
	}
	res.ID = id

	created, err := s.services.Resources.PutResource(r.Context(), &res)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, res)
}

// handleSubmit queues a georeference job for the resource.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	result, err := s.services.Submission.Submit(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.writeSubmitResult(w, result)
}

// handleStatus returns the status of the resource's latest job.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.services.Submission.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// handlePopulate updates the source fields if given and populates the
// geometry columns before responding.
func (s *Server) handlePopulate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req domain.PopulateRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.ResourceID = id

	if err := s.services.Enrichment.Populate(r.Context(), req); err != nil {
		s.handleServiceError(w, err)
		return
	}

	res, err := s.services.Resources.GetResource(r.Context(), id)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleHook records a status transition reported by a worker.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	var update domain.StatusUpdate
	if err := decodeBody(r, &update); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := update.Validate(); err != nil {
		s.handleServiceError(w, err)
		return
	}

	if err := s.services.StatusHook.HandleStatusUpdate(r.Context(), update); err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleResourceCreated reacts to a resource created in the catalog.
func (s *Server) handleResourceCreated(w http.ResponseWriter, r *http.Request) {
	var res domain.Resource
	if err := decodeBody(r, &res); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if res.ID == "" {
		s.writeError(w, http.StatusBadRequest, "a resource id is required")
		return
	}

	result, err := s.services.Events.ResourceCreated(r.Context(), &res)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.writeEventResult(w, res.ID, result)
}

// handleDatastorePushed reacts to a finished datastore load.
func (s *Server) handleDatastorePushed(w http.ResponseWriter, r *http.Request) {
	var ev domain.DatastorePushEvent
	if err := decodeBody(r, &ev); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.services.Events.DatastorePushed(r.Context(), ev)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.writeEventResult(w, ev.ResourceID, result)
}

// handleExtent computes the extent of a query over a datastore table.
func (s *Server) handleExtent(w http.ResponseWriter, r *http.Request) {
	var q domain.ExtentQuery
	if err := decodeBody(r, &q); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.services.Extent.QueryExtent(r.Context(), q)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.services.Sync.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
			return
		}
		s.logger.Error("sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.services.Health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy || !details.Ready {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":     boolToStatus(details.Healthy),
		"ready":      details.Ready,
		"components": details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.services.Health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.services.Health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// writeSubmitResult maps a submission outcome to a status code. A queue
// failure is not an error of the request, but the job is not queued.
func (s *Server) writeSubmitResult(w http.ResponseWriter, result *domain.SubmitResult) {
	switch result.Outcome {
	case domain.OutcomeSubmitted:
		s.writeJSON(w, http.StatusAccepted, result)
	case domain.OutcomeFailed:
		s.writeJSON(w, http.StatusServiceUnavailable, result)
	default:
		s.writeJSON(w, http.StatusOK, result)
	}
}

// writeEventResult reports the submission an event caused, if any.
func (s *Server) writeEventResult(w http.ResponseWriter, resourceID string, result *domain.SubmitResult) {
	if result == nil {
		s.writeJSON(w, http.StatusOK, &domain.SubmitResult{
			ResourceID: resourceID,
			Outcome:    domain.OutcomeSkipped,
			Reason:     "event ignored",
		})
		return
	}
	s.writeSubmitResult(w, result)
}

// handleServiceError maps service errors to HTTP status codes.
func (s *Server) handleServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupported):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotEligible):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		s.logger.Warn("dependency unavailable", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "Service unavailable")
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Request failed")
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(r *http.Request, v any) error {
	err := decodeBody(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
