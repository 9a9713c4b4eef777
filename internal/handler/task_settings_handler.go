package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/savetest-backend/internal/model"
	"github.com/stemsi/savetest-backend/internal/repository"
	"github.com/stemsi/savetest-backend/internal/response"
	"github.com/stemsi/savetest-backend/internal/service"
	"github.com/stemsi/savetest-backend/internal/validator"
)

type TaskSettingsHandler struct {
	settingsService *service.TaskSettingsService
}

func NewTaskSettingsHandler(settingsService *service.TaskSettingsService) *TaskSettingsHandler {
	return &TaskSettingsHandler{settingsService: settingsService}
}

// Get godoc
// GET /api/v1/tasks/:task_id/test-settings
func (h *TaskSettingsHandler) Get(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	s, err := h.settingsService.Get(c.Request.Context(), taskID)
	if errors.Is(err, repository.ErrNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	if err != nil {
		response.FailWithMessage(c, http.StatusInternalServerError, response.ErrInternal, err.Error())
		return
	}
	response.Success(c, http.StatusOK, gin.H{"settings": s})
}

// Upsert godoc
// PUT /api/v1/tasks/:task_id/test-settings
func (h *TaskSettingsHandler) Upsert(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}

	var req model.UpsertTaskTestSettingsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	s, err := h.settingsService.Upsert(c.Request.Context(), taskID, &req)
	if err != nil {
		response.FailWithMessage(c, http.StatusInternalServerError, response.ErrInternal, err.Error())
		return
	}
	response.Success(c, http.StatusOK, gin.H{"settings": s})
}

func parseTaskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("task_id"), 10, 64)
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}
