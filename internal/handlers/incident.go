package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/neighborwatch/incident-server/internal/apperr"
	"github.com/neighborwatch/incident-server/internal/models"
	"github.com/neighborwatch/incident-server/internal/search"
	"github.com/neighborwatch/incident-server/internal/services"
)

// IncidentHandler handles incident endpoints and their sub-resources
type IncidentHandler struct {
	incidents *services.IncidentService
	comments  *services.CommentService
	photos    *services.PhotoService
	feedback  *services.FeedbackService
	maxUpload int64
	logger    *zap.SugaredLogger
}

// NewIncidentHandler creates a new incident handler
func NewIncidentHandler(
	incidents *services.IncidentService,
	comments *services.CommentService,
	photos *services.PhotoService,
	feedback *services.FeedbackService,
	maxUpload int64,
	logger *zap.SugaredLogger,
) *IncidentHandler {
	return &IncidentHandler{
		incidents: incidents,
		comments:  comments,
		photos:    photos,
		feedback:  feedback,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// Report handles POST /api/v1/incidents
func (h *IncidentHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req models.IncidentReport
	if !decodeJSON(w, r, &req) {
		return
	}
	inc, err := h.incidents.Report(r.Context(), actor(r), req)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, inc)
}

var errBoundsIncomplete = apperr.New(apperr.KindValidation, "min_lat, min_lng, max_lat and max_lng must be given together")

func parseIncidentFilter(r *http.Request) (models.IncidentFilter, error) {
	q := r.URL.Query()
	filter := models.IncidentFilter{
		Status:     models.IncidentStatus(q.Get("status")),
		Priority:   models.Priority(q.Get("priority")),
		Category:   q.Get("category"),
		Search:     q.Get("q"),
		Unassigned: q.Get("unassigned") == "true",
	}

	var err error
	if filter.AssignedTo, err = queryID(r, "assigned_to"); err != nil {
		return filter, err
	}
	if filter.ReporterID, err = queryID(r, "reporter_id"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		return filter, err
	}

	var box models.BoundingBox
	var set [4]bool
	for i, p := range []struct {
		name string
		dst  *float64
	}{
		{"min_lat", &box.MinLat},
		{"min_lng", &box.MinLng},
		{"max_lat", &box.MaxLat},
		{"max_lng", &box.MaxLng},
	} {
		if *p.dst, set[i], err = queryFloat(r, p.name); err != nil {
			return filter, err
		}
	}
	switch set {
	case [4]bool{true, true, true, true}:
		filter.Bounds = &box
	case [4]bool{}:
	default:
		return filter, errBoundsIncomplete
	}
	return filter, nil
}

// List handles GET /api/v1/incidents
func (h *IncidentHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseIncidentFilter(r)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	incidents, err := h.incidents.List(r.Context(), actor(r), filter)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// Search handles GET /api/v1/incidents/search?q=
func (h *IncidentHandler) Search(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	qs := r.URL.Query()
	res, err := h.incidents.Search(r.Context(), actor(r), search.Query{
		Text:     qs.Get("q"),
		Status:   models.IncidentStatus(qs.Get("status")),
		Category: qs.Get("category"),
		Priority: models.Priority(qs.Get("priority")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Get handles GET /api/v1/incidents/{id}
func (h *IncidentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	inc, err := h.incidents.Get(r.Context(), actor(r), id)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

// Transition handles POST /api/v1/incidents/{id}/transitions
func (h *IncidentHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.TransitionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inc, err := h.incidents.Transition(r.Context(), actor(r), id, req.Status)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

// AllowedTransitions handles GET /api/v1/incidents/{id}/transitions
func (h *IncidentHandler) AllowedTransitions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	next, err := h.incidents.AllowedTransitions(r.Context(), actor(r), id)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"allowed": next})
}

// Assign handles POST /api/v1/incidents/{id}/assign
func (h *IncidentHandler) Assign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.AssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inc, err := h.incidents.Assign(r.Context(), actor(r), id, req)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

// BulkAssign handles POST /api/v1/incidents/bulk-assign
func (h *IncidentHandler) BulkAssign(w http.ResponseWriter, r *http.Request) {
	var req models.BulkAssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	incidents, err := h.incidents.BulkAssign(r.Context(), actor(r), req)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// Assignments handles GET /api/v1/incidents/{id}/assignments
func (h *IncidentHandler) Assignments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	history, err := h.incidents.Assignments(r.Context(), actor(r), id)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// Comments handles GET /api/v1/incidents/{id}/comments
func (h *IncidentHandler) Comments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	comments, err := h.comments.List(r.Context(), actor(r), id)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, comments)
}

// AddComment handles POST /api/v1/incidents/{id}/comments
func (h *IncidentHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.CommentInput
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.comments.Add(r.Context(), actor(r), id, req)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// Photos handles GET /api/v1/incidents/{id}/photos
func (h *IncidentHandler) Photos(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	photos, err := h.photos.List(r.Context(), actor(r), id)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, photos)
}

// UploadPhoto handles POST /api/v1/incidents/{id}/photos (multipart field "photo")
func (h *IncidentHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+maxBodyBytes)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(w, "File is too large")
			return
		}
		badRequest(w, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("photo")
	if err != nil {
		badRequest(w, "Missing photo file")
		return
	}
	defer file.Close()

	photo, err := h.photos.Upload(r.Context(), actor(r), id, services.Upload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, photo)
}

// Feedback handles GET /api/v1/incidents/{id}/feedback
func (h *IncidentHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	history, err := h.feedback.ListForIncident(r.Context(), actor(r), id)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// SubmitFeedback handles POST /api/v1/incidents/{id}/feedback
func (h *IncidentHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.FeedbackSubmission
	if !decodeJSON(w, r, &req) {
		return
	}
	fb, err := h.feedback.Submit(r.Context(), actor(r), id, req)
	if err != nil {
		respondErr(w, h.logger, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, fb)
}
