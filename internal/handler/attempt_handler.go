package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog"
	"github.com/stemsi/savetest-backend/internal/lifecycle"
	"github.com/stemsi/savetest-backend/internal/model"
	"github.com/stemsi/savetest-backend/internal/response"
	"github.com/stemsi/savetest-backend/internal/service"
	"github.com/stemsi/savetest-backend/internal/validator"
)

// maxExamDataBytes caps a single exam data payload.
const maxExamDataBytes = 8 << 20

const defaultPerPage = 20

type AttemptHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

func NewAttemptHandler(attemptService *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// List godoc
// GET /api/v1/savetests
func (h *AttemptHandler) List(c *gin.Context) {
	var q model.ListAttemptsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = defaultPerPage
	}

	attempts, total, err := h.attemptService.List(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": attempts},
		response.NewPagination(q.Page, q.PerPage, total))
}

// Latest godoc
// GET /api/v1/savetests/latest?task_id=
func (h *AttemptHandler) Latest(c *gin.Context) {
	var q model.LatestAttemptQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.attemptService.ResolveCurrent(c.Request.Context(), q.TaskID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": a})
}

// CompletedLatest godoc
// GET /api/v1/savetests/completed-latest
func (h *AttemptHandler) CompletedLatest(c *gin.Context) {
	var q model.CompletedLatestQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.attemptService.ResolveLatestCompleted(c.Request.Context(), q.TaskID)
	if errors.Is(err, lifecycle.ErrNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrNoCompleted)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": a})
}

// Get godoc
// GET /api/v1/savetests/:id
func (h *AttemptHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	a, err := h.attemptService.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": a})
}

// Create godoc
// POST /api/v1/savetests
func (h *AttemptHandler) Create(c *gin.Context) {
	var req model.CreateAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		failBinding(c, fields)
		return
	}

	a, err := h.attemptService.Create(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"attempt": a})
}

// Update godoc
// PUT /api/v1/savetests/:id
func (h *AttemptHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req model.UpdateAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		failBinding(c, fields)
		return
	}

	a, err := h.attemptService.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": a})
}

// Delete godoc
// DELETE /api/v1/savetests/:id
func (h *AttemptHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.attemptService.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Attempt deleted successfully"})
}

// UpdateExamData godoc
// PUT /api/v1/savetests/:id/exam_data
//
// Form-encoded requests store their form fields merged with the query string.
// Any other body is parsed as JSON; when it is an object the query parameters
// are merged into it. A request without a body stores the query parameters.
func (h *AttemptHandler) UpdateExamData(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	data, err := readExamData(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	a, err := h.attemptService.AttachExamData(c.Request.Context(), id, []byte(data.String()))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"message": "Exam data updated successfully",
		"attempt": a,
	})
}

// readExamData builds the exam data document from the request's parameter set.
// Body fields take precedence over query parameters of the same name.
func readExamData(c *gin.Context) (model.ExamData, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxExamDataBytes)
	query := c.Request.URL.Query()

	switch c.ContentType() {
	case binding.MIMEPOSTForm:
		if err := c.Request.ParseForm(); err != nil {
			return model.ExamData{}, fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
		}
		return model.ExamDataFromDocument(model.ParamsDocument(query, c.Request.PostForm))
	case binding.MIMEMultipartPOSTForm:
		if err := c.Request.ParseMultipartForm(maxExamDataBytes); err != nil {
			return model.ExamData{}, fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
		}
		return model.ExamDataFromDocument(model.ParamsDocument(query, c.Request.MultipartForm.Value))
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return model.ExamData{}, fmt.Errorf("%w: %v", model.ErrMalformedPayload, err)
	}
	return model.MergeExamParams(raw, query)
}

// fail maps service and lifecycle errors onto the response envelope.
func (h *AttemptHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, lifecycle.ErrMalformedPayload):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload,
			map[string]string{"exam_data": err.Error()})
	case errors.Is(err, service.ErrAttemptCompleted):
		response.Fail(c, http.StatusConflict, response.ErrAttemptCompleted)
	case errors.Is(err, lifecycle.ErrRetakeTooSoon):
		response.FailWithMessage(c, http.StatusConflict, response.ErrRetakeTooSoon, err.Error())
	case errors.Is(err, lifecycle.ErrTaskHasNoTest):
		response.Fail(c, http.StatusConflict, response.ErrTaskHasNoTest)
	default:
		h.log.Error().Err(err).
			Str("request_id", c.GetString(response.ContextKeyRequestID)).
			Str("route", c.FullPath()).
			Msg("Request failed")
		response.FailWithMessage(c, http.StatusInternalServerError, response.ErrInternal, err.Error())
	}
}

// failBinding reports a malformed exam_data document as INVALID_PAYLOAD and
// everything else as a validation failure.
func failBinding(c *gin.Context, fields map[string]string) {
	if _, ok := fields["exam_data"]; ok {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, fields)
		return
	}
	response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}
