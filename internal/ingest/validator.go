package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/internal/media"
	apperrors "github.com/Adithya-Monish-Kumar-K/Media-RAG-Platform/pkg/errors"
)

const (
	maxFileNameLength = 255
	maxScopeIDLength  = 128
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s:%s", k, e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return apperrors.ErrValidation }

// Limits are the per-media-type upload ceilings in bytes. A missing or
// non-positive entry means no ceiling.
type Limits map[media.Type]int64

// LimitsFromConfig converts the configured map keyed by media type name.
func LimitsFromConfig(maxBytes map[string]int64) Limits {
	l := make(Limits, len(maxBytes))
	for k, v := range maxBytes {
		l[media.Type(k)] = v
	}
	return l
}

// Largest returns the biggest ceiling, used to bound request bodies.
func (l Limits) Largest() int64 {
	var m int64
	for _, v := range l {
		m = max(m, v)
	}
	return m
}

// ValidateUpload checks required fields, then the content type, then the
// size against the ceiling for the resolved media type.
func ValidateUpload(up Upload, limits Limits) (media.Type, error) {
	errs := make(map[string]string)
	if strings.TrimSpace(up.OwnerID) == "" {
		errs["ownerId"] = "owner is required"
	}
	name := strings.TrimSpace(up.FileName)
	if name == "" {
		errs["file"] = "file name is required"
	} else if len(name) > maxFileNameLength {
		errs["file"] = fmt.Sprintf("file name must be at most %d characters", maxFileNameLength)
	}
	if up.Size <= 0 {
		errs["file"] = "file must not be empty"
	}
	if len(up.ScopeID) > maxScopeIDLength {
		errs["scopeId"] = fmt.Sprintf("scope id must be at most %d characters", maxScopeIDLength)
	}
	if len(errs) > 0 {
		return "", &ValidationError{Fields: errs}
	}

	t, ok := media.TypeForContentType(up.ContentType)
	if !ok {
		return "", apperrors.Newf(apperrors.ErrUnsupportedMediaType, 415,
			"content type %q is not supported", up.ContentType)
	}
	if limit := limits[t]; limit > 0 && up.Size > limit {
		return "", apperrors.Newf(apperrors.ErrFileTooLarge, 413,
			"%s uploads are limited to %d MB", t, limit>>20)
	}
	return t, nil
}
