package directory

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxSlugLen        = 64
	MaxNameLen        = 120
	MaxDescriptionLen = 2000
	MaxCategoryLen    = 64
	MaxTags           = 16
	MaxTagLen         = 32
)

var slugRE = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Tool is one directory listing.
type Tool struct {
	ID          uuid.UUID `json:"id" yaml:"-"`
	Slug        string    `json:"slug" yaml:"slug"`
	Name        string    `json:"name" yaml:"name"`
	URL         string    `json:"url" yaml:"url"`
	Description string    `json:"description" yaml:"description"`
	Category    string    `json:"category" yaml:"category"`
	Tags        []string  `json:"tags" yaml:"tags"`
	Featured    bool      `json:"featured" yaml:"featured"`
	CreatedAt   time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"-"`
}

// ValidationError names the first invalid field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Msg }

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Normalize trims text fields, lowercases the category and tags, and drops
// empty or duplicate tags.
func (t *Tool) Normalize() {
	t.Slug = strings.TrimSpace(t.Slug)
	t.Name = strings.TrimSpace(t.Name)
	t.URL = strings.TrimSpace(t.URL)
	t.Description = strings.TrimSpace(t.Description)
	t.Category = strings.ToLower(strings.TrimSpace(t.Category))

	seen := make(map[string]struct{}, len(t.Tags))
	tags := t.Tags[:0]
	for _, tag := range t.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	t.Tags = tags
}

// Validate checks t as it would be stored. Call Normalize first.
func Validate(t Tool) error {
	switch {
	case t.Slug == "":
		return invalid("slug", "required")
	case len(t.Slug) > MaxSlugLen:
		return invalid("slug", "must be at most %d characters", MaxSlugLen)
	case !slugRE.MatchString(t.Slug):
		return invalid("slug", "must be lowercase letters, digits and single hyphens")
	}

	if n := utf8.RuneCountInString(t.Name); n == 0 {
		return invalid("name", "required")
	} else if n > MaxNameLen {
		return invalid("name", "must be at most %d characters", MaxNameLen)
	}

	u, err := url.Parse(t.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("url", "must be an absolute http or https URL")
	}

	if utf8.RuneCountInString(t.Description) > MaxDescriptionLen {
		return invalid("description", "must be at most %d characters", MaxDescriptionLen)
	}
	if utf8.RuneCountInString(t.Category) > MaxCategoryLen {
		return invalid("category", "must be at most %d characters", MaxCategoryLen)
	}

	if len(t.Tags) > MaxTags {
		return invalid("tags", "at most %d tags", MaxTags)
	}
	for _, tag := range t.Tags {
		if utf8.RuneCountInString(tag) > MaxTagLen {
			return invalid("tags", "tag %q is longer than %d characters", tag, MaxTagLen)
		}
	}
	return nil
}
