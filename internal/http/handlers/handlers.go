package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/fire-routing/backend/internal/db"
	"github.com/fire-routing/backend/internal/engine"
	"github.com/fire-routing/backend/internal/service"
)

type Handler struct {
	Store     *db.Store
	Engine    *engine.Engine
	Enricher  *service.Enricher
	Params    engine.Params
	Validator *validator.Validate
	Logger    zerolog.Logger
	AdminKey  string
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type ImportSummary struct {
	Offices struct {
		Parsed   int `json:"parsed"`
		Inserted int `json:"inserted"`
	} `json:"offices"`
	Managers struct {
		Parsed   int `json:"parsed"`
		Inserted int `json:"inserted"`
	} `json:"managers"`
	Tickets struct {
		Parsed   int `json:"parsed"`
		Inserted int `json:"inserted"`
	} `json:"tickets"`
	Errors []string `json:"errors"`
}

// @Summary Import reference and ticket data
// @Description Upload offices, managers and tickets as CSV files, or a single ZIP archive containing them
// @Tags import
// @Accept multipart/form-data
// @Produce json
// @Param archive formData file false "archive.zip with offices.csv, managers.csv, tickets.csv"
// @Param offices formData file false "offices.csv"
// @Param managers formData file false "managers.csv"
// @Param tickets formData file false "tickets.csv"
// @Success 200 {object} ImportSummary
// @Failure 400 {object} map[string]any
// @Router /api/import [post]
func (h *Handler) Import(c *gin.Context) {
	files, err := collectImportFiles(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	summary := ImportSummary{Errors: []string{}}

	offices, errs := parseOfficesCSV(files.offices)
	summary.Offices.Parsed = len(offices)
	summary.Errors = append(summary.Errors, errs...)

	tickets, errs := parseTicketsCSV(files.tickets)
	summary.Tickets.Parsed = len(tickets)
	summary.Errors = append(summary.Errors, errs...)

	if len(summary.Errors) > 0 {
		writeError(c, http.StatusBadRequest, "CSV_PARSE_ERROR", "CSV validation errors", summary.Errors)
		return
	}

	ctx := c.Request.Context()
	if err := h.Store.TruncateAll(ctx); err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to reset tables", err.Error())
		return
	}

	inserted, err := h.Store.InsertOffices(ctx, offices)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to insert offices", err.Error())
		return
	}
	summary.Offices.Inserted = int(inserted)

	// Managers reference offices by name, resolve against the freshly
	// inserted rows.
	stored, err := h.Store.Offices(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load offices", err.Error())
		return
	}
	officeIDs := make(map[string]int64, len(stored))
	for _, o := range stored {
		officeIDs[normalizeKey(o.Name)] = o.ID
	}

	managers, errs := parseManagersCSV(files.managers, officeIDs)
	summary.Managers.Parsed = len(managers)
	summary.Errors = append(summary.Errors, errs...)
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "CSV_PARSE_ERROR", "CSV validation errors", summary.Errors)
		return
	}

	inserted, err = h.Store.InsertManagers(ctx, managers)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to insert managers", err.Error())
		return
	}
	summary.Managers.Inserted = int(inserted)

	inserted, err = h.Store.InsertTickets(ctx, tickets)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to insert tickets", err.Error())
		return
	}
	summary.Tickets.Inserted = int(inserted)

	c.JSON(http.StatusOK, summary)
}

// @Summary Enrich and assign all pending tickets
// @Tags process
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/process [post]
func (h *Handler) Process(c *gin.Context) {
	ctx := c.Request.Context()

	runID, err := h.Store.CreateRun(ctx, "RUNNING")
	if err != nil {
		h.Logger.Error().Err(err).Msg("failed to create run")
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create run", err.Error())
		return
	}

	enrichStats, err := h.Enricher.EnrichPending(ctx)
	if err != nil {
		h.finishRun(ctx, runID, "FAILED", gin.H{"error": err.Error()})
		writeError(c, http.StatusInternalServerError, "PROCESSING_ERROR", "Enrichment failed", err.Error())
		return
	}

	batch, err := h.Engine.ProcessAll(ctx)
	summary := gin.H{"enrichment": enrichStats, "assignment": batch}
	status := "SUCCESS"
	if err != nil {
		status = "FAILED"
		summary["error"] = err.Error()
	}
	h.finishRun(ctx, runID, status, summary)

	if err != nil {
		h.Logger.Error().Err(err).Msg("processing failed")
		writeError(c, http.StatusInternalServerError, "PROCESSING_ERROR", "Processing failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) finishRun(ctx context.Context, runID int64, status string, summary gin.H) {
	b, _ := json.Marshal(summary)
	if err := h.Store.FinishRun(ctx, runID, status, b); err != nil {
		h.Logger.Error().Err(err).Int64("run_id", runID).Msg("failed to finish run")
	}
}

// @Summary Assign a single ticket
// @Tags process
// @Produce json
// @Param id path int true "Ticket ID"
// @Success 200 {object} engine.Outcome
// @Router /api/tickets/{id}/process [post]
func (h *Handler) ProcessOne(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid ticket id", nil)
		return
	}

	outcome, err := h.Engine.ProcessSingle(c.Request.Context(), id)
	if errors.Is(err, engine.ErrTicketNotFound) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "PROCESSING_ERROR", "Processing failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// @Summary Latest run
// @Tags runs
// @Produce json
// @Success 200 {object} models.Run
// @Router /api/runs/latest [get]
func (h *Handler) RunsLatest(c *gin.Context) {
	run, err := h.Store.GetLatestRun(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "No runs found", err.Error())
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) TicketsList(c *gin.Context) {
	segment := strings.TrimSpace(c.Query("segment"))
	language := strings.ToUpper(strings.TrimSpace(c.Query("language")))
	q := c.Query("q")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	var assigned *bool
	if v := c.Query("assigned"); v != "" {
		b := v == "1" || strings.EqualFold(v, "true")
		assigned = &b
	}

	items, err := h.Store.ListTickets(c.Request.Context(), segment, language, q, assigned, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list tickets", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

func (h *Handler) TicketDetails(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid ticket id", nil)
		return
	}

	result, err := h.Store.GetTicketDetails(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get ticket", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ManagersList(c *gin.Context) {
	officeID, _ := strconv.ParseInt(c.Query("office_id"), 10, 64)
	items, err := h.Store.ListManagers(c.Request.Context(), officeID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list managers", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) OfficesList(c *gin.Context) {
	items, err := h.Store.Offices(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list offices", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Debug eligibility
// @Description Evaluate the rule ladder for a ticket without persisting anything
// @Tags debug
// @Produce json
// @Param ticket_id query int true "Ticket ID"
// @Success 200 {object} map[string]any
// @Router /api/debug/eligibility [get]
func (h *Handler) DebugEligibility(c *gin.Context) {
	ticketID, err := strconv.ParseInt(strings.TrimSpace(c.Query("ticket_id")), 10, 64)
	if err != nil || ticketID <= 0 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "ticket_id is required", nil)
		return
	}

	ctx := c.Request.Context()
	pt, err := h.Store.TicketWithAnalytics(ctx, ticketID)
	if errors.Is(err, engine.ErrTicketNotFound) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load ticket", err.Error())
		return
	}
	if pt.Analytics == nil {
		writeError(c, http.StatusBadRequest, "INVALID_STATE", "Ticket has no analytics yet", nil)
		return
	}

	offices, err := h.Store.Offices(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load offices", err.Error())
		return
	}
	managers, err := h.Store.ActiveManagers(ctx)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load managers", err.Error())
		return
	}

	elig := engine.BuildCandidates(pt.Ticket, *pt.Analytics, offices, managers, h.Params)

	candidates := make([]gin.H, 0, len(elig.Candidates))
	for _, cand := range elig.Candidates {
		candidates = append(candidates, gin.H{
			"manager_id":   cand.Manager.ID,
			"manager_name": cand.Manager.Name,
			"office_id":    cand.Office.ID,
			"office_name":  cand.Office.Name,
			"distance_km":  cand.DistanceKm,
			"current_load": cand.Manager.CurrentLoad,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"ticket_id":     ticketID,
		"rotation_key":  elig.RotationKey,
		"reason_code":   elig.ReasonCode,
		"reason":        elig.Reason,
		"fallback_used": elig.FallbackUsed,
		"trace":         elig.Trace,
		"candidates":    candidates,
	})
}

type ReassignRequest struct {
	ManagerID int64  `json:"manager_id" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"required"`
}

// @Summary Reassign a ticket to a specific manager
// @Tags tickets
// @Accept json
// @Produce json
// @Param id path int true "Ticket ID"
// @Param request body ReassignRequest true "reassign request"
// @Success 200 {object} map[string]any
// @Router /api/tickets/{id}/reassign [post]
func (h *Handler) Reassign(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid ticket id", nil)
		return
	}

	var req ReassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	ctx := c.Request.Context()
	override, err := h.reassignIsOverride(ctx, id, req.ManagerID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to evaluate eligibility", err.Error())
		return
	}

	if err := h.Store.Reassign(ctx, id, req.ManagerID, req.Reason, override); err != nil {
		if errors.Is(err, engine.ErrTicketNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket has no assignment to replace", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to reassign", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "override": override})
}

// reassignIsOverride reports whether the target manager falls outside the
// ticket's eligible candidate set. Tickets without analytics cannot be
// evaluated, any manual pick counts as an override there.
func (h *Handler) reassignIsOverride(ctx context.Context, ticketID, managerID int64) (bool, error) {
	pt, err := h.Store.TicketWithAnalytics(ctx, ticketID)
	if err != nil {
		if errors.Is(err, engine.ErrTicketNotFound) {
			return false, nil
		}
		return false, err
	}
	if pt.Analytics == nil {
		return true, nil
	}

	offices, err := h.Store.Offices(ctx)
	if err != nil {
		return false, err
	}
	managers, err := h.Store.ActiveManagers(ctx)
	if err != nil {
		return false, err
	}

	elig := engine.BuildCandidates(pt.Ticket, *pt.Analytics, offices, managers, h.Params)
	for _, cand := range elig.Candidates {
		if cand.Manager.ID == managerID {
			return false, nil
		}
	}
	return true, nil
}

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
