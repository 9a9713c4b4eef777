package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/savetest-backend/internal/model"
	"github.com/stretchr/testify/assert"
)

func bindBody(body string, dst interface{}) map[string]string {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return Bind(c, dst)
}

func TestBindReportsRequiredFieldsByJSONName(t *testing.T) {
	Setup()

	var req model.CreateAttemptRequest
	fields := bindBody(`{"name":"x"}`, &req)
	assert.Contains(t, fields, "task_id")
	assert.Contains(t, fields, "pass_status")
	assert.Contains(t, fields, "completed")
	assert.NotContains(t, fields, "name")
}

func TestBindAcceptsFalseBooleans(t *testing.T) {
	Setup()

	var req model.CreateAttemptRequest
	fields := bindBody(`{"task_id":1,"name":"x","attempt_number":1,"pass_status":false,"completed":false}`, &req)
	assert.Nil(t, fields)
	assert.False(t, *req.PassStatus)
}

func TestBindRejectsUnknownCmiEntry(t *testing.T) {
	Setup()

	var req model.UpdateAttemptRequest
	fields := bindBody(`{"cmi_entry":"paused"}`, &req)
	assert.Contains(t, fields, "cmi_entry")
}

func TestBindMalformedExamData(t *testing.T) {
	Setup()

	var req model.UpdateAttemptRequest
	fields := bindBody(`{"exam_data":"{broken"}`, &req)
	assert.Contains(t, fields, "exam_data")
}

func TestBindQuery(t *testing.T) {
	Setup()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?task_id=0", nil)

	var q model.LatestAttemptQuery
	fields := BindQuery(c, &q)
	assert.Contains(t, fields, "task_id")
}
