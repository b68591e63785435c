package validator

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const renderDoc = `
openapi: 3.0.3
info:
  title: render
  version: "1"
paths:
  /api/prompts/render:
    post:
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [content]
              properties:
                content:
                  type: string
                project_id:
                  type: integer
      responses:
        "200":
          description: ok
`

func newEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	v, err := NewOpenAPIValidatorFromData([]byte(renderDoc))
	require.NoError(t, err)

	r := gin.New()
	r.Use(v.Middleware())
	r.POST("/api/prompts/render", func(c *gin.Context) {
		var body struct {
			Content string `json:"content"`
		}
		_ = c.ShouldBindJSON(&body)
		c.String(http.StatusOK, body.Content)
	})
	r.GET("/undocumented", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/prompts/render", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestValidBodyReachesHandler(t *testing.T) {
	w := post(newEngine(t), `{"content":"{{世界观}}","project_id":1}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "{{世界观}}", w.Body.String())
}

func TestInvalidBodyIsRejected(t *testing.T) {
	r := newEngine(t)

	w := post(r, `{"project_id":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_REQUEST")

	w = post(r, `{"content":"x","project_id":"one"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUndocumentedRoutesPassThrough(t *testing.T) {
	w := httptest.NewRecorder()
	newEngine(t).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/undocumented", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestInvalidDocumentIsRejected(t *testing.T) {
	_, err := NewOpenAPIValidatorFromData([]byte("openapi: 3.0.3\ninfo: {}\n"))
	assert.Error(t, err)
}

func TestValidatorFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openapi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(renderDoc), 0o600))

	v, err := NewOpenAPIValidator(path)
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(v.Middleware())
	r.POST("/api/prompts/render", func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusBadRequest, post(r, `{"project_id":1}`).Code)

	_, err = NewOpenAPIValidator(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
