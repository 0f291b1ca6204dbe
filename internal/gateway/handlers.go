// File: internal/gateway/handlers.go
package gateway

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserd/api/schemas"
	"github.com/xkilldash9x/browserd/internal/executor"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxRequestBody bounds POST /tasks bodies; scripts with embedded payloads
// stay well under this.
const maxRequestBody = 10 << 20

// handleTask is POST /tasks: validate, admit, acquire a session, execute.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	var req schemas.TaskRequest
	body := io.LimitReader(r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.respondError(w, r, schemas.NewTaskError(schemas.ErrBadRequest, err, "malformed request body"))
		return
	}
	if err := executor.ValidateRequest(&req, s.cfg.Task); err != nil {
		s.respondError(w, r, err)
		return
	}

	// Admission happens after validation so malformed requests never count
	// against the queue.
	if !s.admission.TryAcquire(1) {
		s.respondError(w, r, schemas.NewTaskError(schemas.ErrServiceBusy, nil, "request queue is full"))
		return
	}
	defer s.admission.Release(1)
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	sess, err := s.pool.Acquire(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer s.pool.Release(sess)

	result, err := s.runner.Execute(r.Context(), sess, &req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if req.Operation == schemas.OpScript && s.reporter != nil && s.reporter.Enabled() {
		// Fire and forget; the collector never blocks the response.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Report.Timeout)
			defer cancel()
			s.reporter.Submit(ctx, result)
		}()
	}

	s.respondJSON(w, http.StatusOK, result)
}

// handleHealth is GET /health: pool occupancy plus in-flight request count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.pool.Stats()
	status := "ok"
	if stats.ReadyProcesses == 0 && stats.LaunchesFailed > 0 {
		status = "degraded"
	}
	s.respondJSON(w, http.StatusOK, schemas.HealthResponse{
		Status:    status,
		PoolStats: stats,
		InFlight:  s.inFlight.Load(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response.", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	taskErr := schemas.AsTaskError(err)
	if taskErr.Kind == schemas.ErrInternal {
		s.logger.Error("Request failed.",
			zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
	}
	s.respondJSON(w, taskErr.HTTPStatus(), taskErr.Body())
}
