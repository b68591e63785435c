package api

import (
	"fmt"
	"strconv"

	"storyforge/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// idParam parses a positive numeric path parameter, recording a 400 on failure.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		_ = c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, fmt.Sprintf("invalid %s", name)))
		return 0, false
	}
	return uint(id), true
}

// optionalIDQuery parses an optional numeric query parameter.
func optionalIDQuery(c *gin.Context, name string) (*uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		_ = c.Error(errors.NewBadRequestError(errors.CodeInvalidRequest, fmt.Sprintf("invalid %s", name)))
		return nil, false
	}
	v := uint(id)
	return &v, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		_ = c.Error(errors.BadRequestWithDetails(errors.CodeInvalidRequest, "invalid request body", err.Error()))
		return false
	}
	return true
}
