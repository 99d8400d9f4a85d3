package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ignite/mailblast/internal/dispatch"
)

const apiVersion = "1.0.0"

// TemplateGenerator turns operator prose into an HTML template string.
type TemplateGenerator interface {
	Enabled() bool
	GenerateTemplate(ctx context.Context, prompt string) (string, error)
}

// Handlers holds the API dependencies.
type Handlers struct {
	gen       TemplateGenerator
	engine    *dispatch.Engine
	jobs      *JobStore
	startTime time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(gen TemplateGenerator, engine *dispatch.Engine) *Handlers {
	return &Handlers{
		gen:       gen,
		engine:    engine,
		jobs:      NewJobStore(),
		startTime: time.Now(),
	}
}

// HealthCheck reports service liveness.
//
//	GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": apiVersion,
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// HandleGenerateTemplate converts free-text email copy into an HTML template
// via the generative-text service.
//
//	POST /api/generate-template
func (h *Handlers) HandleGenerateTemplate(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(input.Prompt) == "" {
		respondError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if !h.gen.Enabled() {
		respondError(w, http.StatusBadRequest, "generative API key not set on server")
		return
	}

	template, err := h.gen.GenerateTemplate(r.Context(), input.Prompt)
	if err != nil {
		respondSafeError(w, http.StatusBadGateway, err, "template generation failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"template": template})
}

// dispatchRequest is the wire shape of one dispatch job.
type dispatchRequest struct {
	SMTPUser   string               `json:"smtp_user"`
	SMTPPass   string               `json:"smtp_pass"`
	Recipients []dispatch.Recipient `json:"recipients"`
	Template   string               `json:"template"`
	Subject    string               `json:"subject"`
	BCC        string               `json:"bcc"`
}

func (req *dispatchRequest) toJob() *dispatch.Job {
	return &dispatch.Job{
		Credentials: dispatch.Credentials{User: req.SMTPUser, Pass: req.SMTPPass},
		Template:    req.Template,
		Subject:     req.Subject,
		BCC:         req.BCC,
		Recipients:  req.Recipients,
	}
}

// HandleGenerateEmails runs one dispatch job synchronously and returns the
// ordered per-recipient outcomes. Precondition failures are rejected before
// any relay interaction; an initial connect failure aborts the whole job
// with the relay's diagnostic text.
//
//	POST /api/generate-emails
func (h *Handlers) HandleGenerateEmails(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	job := req.toJob()
	if err := job.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("[api] dispatch job accepted: %d recipients, subject %q", len(job.Recipients), job.Subject)

	result, err := h.engine.Run(r.Context(), job)
	if err != nil {
		var connErr *dispatch.ConnectError
		if errors.As(err, &connErr) {
			respondJSON(w, http.StatusInternalServerError, map[string]string{
				"error":   "SMTP connection failed",
				"details": connErr.Unwrap().Error(),
			})
			return
		}
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// HandleCreateDispatchJob accepts the same payload as the synchronous
// endpoint but runs the job in the background and returns a job id to poll.
//
//	POST /api/dispatch-jobs
func (h *Handlers) HandleCreateDispatchJob(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	job := req.toJob()
	if err := job.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := h.jobs.Create()
	log.Printf("[api] dispatch job %s queued: %d recipients", rec.ID, len(job.Recipients))

	// The job outlives the request; it owns its own context.
	go h.runJob(rec.ID, job)

	respondJSON(w, http.StatusAccepted, rec)
}

func (h *Handlers) runJob(id uuid.UUID, job *dispatch.Job) {
	h.jobs.SetRunning(id)
	result, err := h.engine.Run(context.Background(), job)
	if err != nil {
		log.Printf("[api] dispatch job %s failed: %v", id, err)
		h.jobs.SetFailed(id, err)
		return
	}
	log.Printf("[api] dispatch job %s completed: %d/%d sent", id, result.SentCount, len(job.Recipients))
	h.jobs.SetCompleted(id, result)
}

// HandleGetDispatchJob returns the current state of a background job.
//
//	GET /api/dispatch-jobs/{id}
func (h *Handlers) HandleGetDispatchJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	rec, ok := h.jobs.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", id))
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
