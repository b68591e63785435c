package router

import (
	"fmt"
	"os"
	"path/filepath"

	"storyforge/backend/pkg/validator"
)

// AddOpenAPIValidation validates requests against the schema at schemaPath
// and serves the schema under /api/docs. Gin applies middleware only to
// routes registered afterwards, so call it before SetupRoutes.
func (r *Router) AddOpenAPIValidation(schemaPath string) error {
	if !fileExists(schemaPath) {
		return fmt.Errorf("OpenAPI schema file not found: %s", schemaPath)
	}

	v, err := validator.NewOpenAPIValidator(schemaPath)
	if err != nil {
		return err
	}

	r.Engine.Use(v.Middleware())
	r.Logger.Info("OpenAPI validation enabled", "schema", schemaPath)

	schemaFile := filepath.Base(schemaPath)
	r.Engine.StaticFile("/api/docs/"+schemaFile, schemaPath)
	r.Logger.Info("OpenAPI schema available at", "url", "/api/docs/"+schemaFile)
	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
