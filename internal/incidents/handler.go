package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/respondr-uk/respondr/internal/domain"
	"github.com/respondr-uk/respondr/internal/pkg/ctxlog"
	"github.com/respondr-uk/respondr/internal/pkg/httputil"
	"github.com/respondr-uk/respondr/internal/pkg/markdown"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound, Message: "incident not found"},
	{Error: ErrTransitionNotAllowed, Status: http.StatusConflict},
	{Error: ErrPersistence, Status: http.StatusServiceUnavailable, Message: "storage unavailable, retry"},
}

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	markdown  *markdown.Renderer
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service, renderer *markdown.Renderer) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	return &Handler{
		service:   service,
		markdown:  renderer,
		validator: v,
	}
}

// jsonFieldName reports validation failures under the JSON field name.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

// RegisterReadRoutes registers routes that need no actor.
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/incidents", h.ListIncidents)
	r.Get("/incidents/export", h.ExportIncidents)
	r.Get("/incidents/stats", h.GetStats)
	r.Get("/incidents/{id}", h.GetIncident)
}

// RegisterWriteRoutes registers mutating routes. The caller must install
// httputil.RequireActor in front of them.
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/incidents", h.CreateIncident)
	r.Patch("/incidents/{id}", h.EditIncident)
	r.Delete("/incidents/{id}", h.DeleteIncident)
	r.Post("/incidents/{id}/status", h.ChangeStatus)
	r.Post("/incidents/{id}/comments", h.AddComment)
	r.Post("/incidents/{id}/updates", h.PostUpdate)
}

// CreateIncidentRequest represents the request body for creating an incident.
type CreateIncidentRequest struct {
	Title       string     `json:"title" validate:"required,max=255"`
	Description string     `json:"description" validate:"required"`
	Priority    string     `json:"priority" validate:"required,oneof=low medium high critical"`
	Impact      string     `json:"impact" validate:"required,oneof=low medium high critical"`
	AssignedTo  *string    `json:"assigned_to" validate:"omitempty,max=255"`
	DueDate     *time.Time `json:"due_date"`
	Components  []string   `json:"components" validate:"max=50,dive,max=100"`
	Tags        []string   `json:"tags" validate:"max=50,dive,max=100"`
}

// ToInput converts the request to service input.
func (r *CreateIncidentRequest) ToInput() CreateIncidentInput {
	return CreateIncidentInput{
		Title:       r.Title,
		Description: r.Description,
		Priority:    domain.Level(r.Priority),
		Impact:      domain.Level(r.Impact),
		AssignedTo:  r.AssignedTo,
		DueDate:     r.DueDate,
		Components:  r.Components,
		Tags:        r.Tags,
	}
}

// Nullable distinguishes an absent JSON field from an explicit null.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// EditIncidentRequest represents the request body for a partial update.
// assigned_to and due_date accept null to clear the field.
type EditIncidentRequest struct {
	Title       *string             `json:"title" validate:"omitempty,max=255"`
	Description *string             `json:"description"`
	Priority    *string             `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	Impact      *string             `json:"impact" validate:"omitempty,oneof=low medium high critical"`
	AssignedTo  Nullable[string]    `json:"assigned_to"`
	DueDate     Nullable[time.Time] `json:"due_date"`
	Components  *[]string           `json:"components" validate:"omitempty,max=50,dive,max=100"`
	Tags        *[]string           `json:"tags" validate:"omitempty,max=50,dive,max=100"`
}

// ToInput converts the request to service input.
func (r *EditIncidentRequest) ToInput() EditInput {
	in := EditInput{
		Title:       r.Title,
		Description: r.Description,
		Components:  r.Components,
		Tags:        r.Tags,
	}
	if r.Priority != nil {
		p := domain.Level(*r.Priority)
		in.Priority = &p
	}
	if r.Impact != nil {
		i := domain.Level(*r.Impact)
		in.Impact = &i
	}
	if r.AssignedTo.Set {
		in.AssignedTo = r.AssignedTo.Value
		in.ClearAssignedTo = r.AssignedTo.Value == nil
	}
	if r.DueDate.Set {
		in.DueDate = r.DueDate.Value
		in.ClearDueDate = r.DueDate.Value == nil
	}
	return in
}

// ChangeStatusRequest represents the request body for a status change.
type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=investigating identified monitoring resolved"`
}

// CommentRequest represents the request body for comments and updates.
type CommentRequest struct {
	Content string `json:"content" validate:"required,max=10000"`
}

// CommentResponse is a comment with its rendered HTML.
type CommentResponse struct {
	domain.Comment
	ContentHTML string `json:"content_html"`
}

// IncidentResponse is the incident read model returned by the API.
type IncidentResponse struct {
	*domain.Incident
	Comments []CommentResponse `json:"comments"`
}

// CreateIncident handles POST /incidents request.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.CreateIncident(r.Context(), req.ToInput(), httputil.GetActor(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, h.toResponse(r, incident))
}

// GetIncident handles GET /incidents/{id} request.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, h.toResponse(r, incident))
}

// ListIncidents handles GET /incidents request.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := DefaultListLimit
	offset := 0

	if l := query.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	if o := query.Get("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			httputil.Error(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = parsed
	}

	filter, err := NewListFilter(query.Get("search"), query.Get("status"), limit, offset)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	items, total, err := h.service.ListIncidents(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"incidents": items,
		"total":     total,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

// ExportIncidents handles GET /incidents/export request.
// The response is newline-delimited JSON, one summary per line.
func (h *Handler) ExportIncidents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter, err := NewListFilter(query.Get("search"), query.Get("status"), 0, 0)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var (
		enc     *json.Encoder
		written int
	)
	for item, err := range h.service.AllIncidents(r.Context(), filter) {
		if err != nil {
			if enc == nil {
				h.handleServiceError(w, r, err)
				return
			}
			ctxlog.FromContext(r.Context()).Error("export interrupted", "written", written, "error", err)
			return
		}
		if enc == nil {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			enc = json.NewEncoder(w)
		}
		if err := enc.Encode(item); err != nil {
			ctxlog.FromContext(r.Context()).Error("failed to write export line", "error", err)
			return
		}
		written++
	}

	if enc == nil {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}

// GetStats handles GET /incidents/stats request.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.DashboardStats(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// EditIncident handles PATCH /incidents/{id} request.
func (h *Handler) EditIncident(w http.ResponseWriter, r *http.Request) {
	var req EditIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.EditIncident(r.Context(), chi.URLParam(r, "id"), req.ToInput(), httputil.GetActor(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, h.toResponse(r, incident))
}

// DeleteIncident handles DELETE /incidents/{id} request.
func (h *Handler) DeleteIncident(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteIncident(r.Context(), chi.URLParam(r, "id"), httputil.GetActor(r.Context())); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChangeStatus handles POST /incidents/{id}/status request.
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.ChangeStatus(r.Context(), chi.URLParam(r, "id"),
		domain.IncidentStatus(req.Status), httputil.GetActor(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusOK, h.toResponse(r, incident))
}

// AddComment handles POST /incidents/{id}/comments request.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	h.appendComment(w, r, h.service.AddComment)
}

// PostUpdate handles POST /incidents/{id}/updates request.
func (h *Handler) PostUpdate(w http.ResponseWriter, r *http.Request) {
	h.appendComment(w, r, h.service.PostUpdate)
}

type appendFunc func(ctx context.Context, id, content, author string) (*domain.Incident, error)

func (h *Handler) appendComment(w http.ResponseWriter, r *http.Request, fn appendFunc) {
	var req CommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := fn(r.Context(), chi.URLParam(r, "id"), req.Content, httputil.GetActor(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, h.toResponse(r, incident))
}

func (h *Handler) toResponse(r *http.Request, incident *domain.Incident) IncidentResponse {
	comments := make([]CommentResponse, 0, len(incident.Comments))
	for _, c := range incident.Comments {
		rendered, err := h.markdown.Render(c.Content)
		if err != nil {
			ctxlog.FromContext(r.Context()).Warn("failed to render comment",
				"comment_id", c.ID, "error", err)
			rendered = html.EscapeString(c.Content)
		}
		comments = append(comments, CommentResponse{Comment: c, ContentHTML: rendered})
	}
	return IncidentResponse{Incident: incident, Comments: comments}
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		httputil.FieldError(w, vErr.Field, vErr.Message)
		return
	}
	httputil.HandleError(r.Context(), w, err, errorMappings)
}
