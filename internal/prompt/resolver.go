// Package prompt expands {{ keyword }} placeholders with story resources and
// builds the message list for a chat turn.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"storyforge/backend/internal/models"
	"storyforge/backend/internal/repository"
	"storyforge/backend/pkg/logger"
)

// Pseudo-keywords handled before the entity scan.
const (
	SelectedTextKeyword = "选择文字"
	WorldviewKeyword    = "世界观"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// ResolutionContext is supplied per request and never persisted.
type ResolutionContext struct {
	ProjectID    *uint
	SelectedText string
	// Resources are request-supplied values consulted after the entity scan misses.
	Resources map[string]string
}

// Result is the rendered text plus the keywords that were left verbatim,
// in order of first appearance.
type Result struct {
	Text       string
	Unresolved []string
}

// Resolver substitutes placeholders using the entity store.
type Resolver struct {
	store repository.EntityRepository
}

func NewResolver(store repository.EntityRepository) *Resolver {
	return &Resolver{store: store}
}

// Resolve expands every placeholder in content. Each distinct keyword is
// looked up once and its value replaces all of its occurrences. Store
// failures abort resolution; a keyword that matches nothing is not an error.
func (r *Resolver) Resolve(ctx context.Context, content string, rc ResolutionContext) (Result, error) {
	if !strings.Contains(content, "{{") {
		return Result{Text: content}, nil
	}

	matches := placeholderRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return Result{Text: content}, nil
	}

	values := make(map[string]string)
	seen := make(map[string]bool)
	var unresolved []string

	for _, m := range matches {
		keyword := strings.TrimSpace(m[1])
		if seen[keyword] {
			continue
		}
		seen[keyword] = true

		value, ok, err := r.resolveKeyword(ctx, keyword, rc)
		if err != nil {
			return Result{}, fmt.Errorf("resolve %q: %w", keyword, err)
		}
		if ok {
			values[keyword] = value
		} else {
			unresolved = append(unresolved, keyword)
		}
	}

	text := placeholderRe.ReplaceAllStringFunc(content, func(match string) string {
		sub := placeholderRe.FindStringSubmatch(match)
		if v, ok := values[strings.TrimSpace(sub[1])]; ok {
			return v
		}
		return match
	})

	if len(unresolved) > 0 {
		logger.FromContext(ctx).Debug("template placeholders left unresolved", "keywords", unresolved)
	}

	return Result{Text: text, Unresolved: unresolved}, nil
}

func (r *Resolver) resolveKeyword(ctx context.Context, keyword string, rc ResolutionContext) (string, bool, error) {
	if keyword == SelectedTextKeyword {
		return rc.SelectedText, rc.SelectedText != "", nil
	}

	if keyword == WorldviewKeyword && rc.ProjectID != nil {
		w, err := r.store.FindWorldview(ctx, *rc.ProjectID)
		switch {
		case err == nil && w.Content != "":
			return w.Content, true, nil
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return "", false, err
		}
	}

	if rc.ProjectID == nil {
		return "", false, nil
	}

	for _, kind := range models.ResolutionOrder {
		entity, err := r.store.FindOne(ctx, kind, repository.Filter{
			ProjectID: rc.ProjectID,
			Key:       keyword,
			Prefix:    kind == models.KindChapter,
		})
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", false, err
		}
		return entity.Body(), true, nil
	}

	if v, ok := rc.Resources[keyword]; ok {
		return v, true, nil
	}
	return "", false, nil
}
