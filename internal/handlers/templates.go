package handlers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mritsurgeon/veeam-ml/internal/config"
	"github.com/mritsurgeon/veeam-ml/internal/database"
	"github.com/mritsurgeon/veeam-ml/internal/models"
)

// ListTemplatesHandler lists job templates, system presets first.
// GET /api/extraction-jobs/templates
func ListTemplatesHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templates, err := database.ListTemplates(db)
		if err != nil {
			slog.Error("failed to list templates", "error", err)
			sendError(w, "Failed to list templates", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}

		responses := make([]models.JobTemplateResponse, 0, len(templates))
		for _, tmpl := range templates {
			responses = append(responses, tmpl.Response())
		}
		sendJSON(w, map[string]any{"templates": responses, "count": len(responses)}, http.StatusOK)
	}
}

// CreateTemplateHandler stores a user-defined template.
// POST /api/extraction-jobs/templates
func CreateTemplateHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Category    string          `json:"category"`
			Config      json.RawMessage `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
			return
		}
		if req.Name == "" || len(req.Config) == 0 {
			sendError(w, "name and config are required", "MISSING_FIELDS", http.StatusBadRequest)
			return
		}

		// Config must itself be a valid job fragment
		var probe extractionJobRequest
		if err := json.Unmarshal(req.Config, &probe); err != nil {
			sendError(w, "config is not a valid job configuration", "INVALID_CONFIG", http.StatusBadRequest)
			return
		}

		tmpl := &models.JobTemplate{
			Name:        req.Name,
			Description: req.Description,
			Category:    req.Category,
			Config:      string(req.Config),
		}
		if err := database.CreateTemplate(db, tmpl); err != nil {
			slog.Error("failed to create template", "error", err)
			sendError(w, "Failed to create template", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		sendJSON(w, tmpl.Response(), http.StatusCreated)
	}
}

// DeleteTemplateHandler removes a user template. System templates are
// protected.
// DELETE /api/extraction-jobs/templates/{id}
func DeleteTemplateHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			sendError(w, "Invalid template ID", "INVALID_ID", http.StatusBadRequest)
			return
		}

		tmpl, err := database.GetTemplate(db, id)
		if err != nil {
			sendError(w, "Failed to get template", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		if tmpl == nil {
			sendError(w, "Template not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		if tmpl.IsSystem {
			sendError(w, "System templates cannot be deleted", "SYSTEM_TEMPLATE", http.StatusForbidden)
			return
		}

		if err := database.DeleteTemplate(db, id); err != nil {
			slog.Error("failed to delete template", "id", id, "error", err)
			sendError(w, "Failed to delete template", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		sendJSON(w, map[string]any{"status": "deleted"}, http.StatusOK)
	}
}

// CreateJobFromTemplateHandler stamps out an extraction job from a
// template, overlaying any fields supplied in the body.
// POST /api/extraction-jobs/templates/{id}/create-job
func CreateJobFromTemplateHandler(db *sql.DB, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			sendError(w, "Invalid template ID", "INVALID_ID", http.StatusBadRequest)
			return
		}

		tmpl, err := database.GetTemplate(db, id)
		if err != nil {
			sendError(w, "Failed to get template", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}
		if tmpl == nil {
			sendError(w, "Template not found", "NOT_FOUND", http.StatusNotFound)
			return
		}

		job := defaultExtractionJob(cfg)

		var preset extractionJobRequest
		if err := json.Unmarshal([]byte(tmpl.Config), &preset); err != nil {
			slog.Error("template config is corrupt", "id", id, "error", err)
			sendError(w, "Template configuration is invalid", "INVALID_CONFIG", http.StatusInternalServerError)
			return
		}
		preset.apply(job)

		var req extractionJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
			return
		}
		req.apply(job)

		if job.Name == "" {
			job.Name = tmpl.Name
		}
		if message, valid := validateExtractionJob(job); !valid {
			sendError(w, message, "INVALID_JOB", http.StatusBadRequest)
			return
		}

		if err := database.CreateExtractionJob(db, job); err != nil {
			slog.Error("failed to create job from template", "template_id", id, "error", err)
			sendError(w, "Failed to create job", "DATABASE_ERROR", http.StatusInternalServerError)
			return
		}

		slog.Info("extraction job created from template", "job_id", job.ID, "template_id", id)
		sendJSON(w, job.Response(), http.StatusCreated)
	}
}
