// Package publish drives one note through the creator console: navigate,
// pick the upload mode, upload media, wait for processing, fill metadata,
// submit, and wait for the platform's verdict.
package publish

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shehryarbajwa/rednote-publisher/internal/site"
)

// Mode is the kind of note being published.
type Mode string

const (
	ModeImage Mode = "image"
	ModeVideo Mode = "video"
)

// Job is one publish request with media already resolved to local files.
type Job struct {
	Title  string
	Body   string
	Images []string
	Video  string
	Cover  string
	Tags   []string
}

// Mode returns the upload mode the job needs.
func (j Job) Mode() Mode {
	if j.Video != "" {
		return ModeVideo
	}
	return ModeImage
}

// Files returns the files uploaded through the main upload input.
func (j Job) Files() []string {
	if j.Mode() == ModeVideo {
		return []string{j.Video}
	}
	return j.Images
}

// Validate checks the job against the platform's limits before any browser
// work happens.
func (j Job) Validate(p site.Profile) error {
	title := strings.TrimSpace(j.Title)
	if title == "" {
		return validationError("title is required")
	}
	if n := utf8.RuneCountInString(title); p.MaxTitleRunes > 0 && n > p.MaxTitleRunes {
		return validationError(fmt.Sprintf("title is %d characters, limit is %d", n, p.MaxTitleRunes))
	}

	switch {
	case j.Video != "" && len(j.Images) > 0:
		return validationError("a note has either images or a video, not both")
	case j.Video == "" && len(j.Images) == 0:
		return validationError("at least one image or a video is required")
	case p.MaxImages > 0 && len(j.Images) > p.MaxImages:
		return validationError(fmt.Sprintf("%d images given, limit is %d", len(j.Images), p.MaxImages))
	case j.Cover != "" && j.Video == "":
		return validationError("a cover is only used with a video")
	}

	for i, img := range j.Images {
		if strings.TrimSpace(img) == "" {
			return validationError(fmt.Sprintf("image %d is empty", i+1))
		}
	}
	for i, tag := range j.Tags {
		if NormalizeTag(tag) == "" {
			return validationError(fmt.Sprintf("tag %d is empty", i+1))
		}
	}
	return nil
}

// NormalizeTag strips whitespace and leading '#' characters.
func NormalizeTag(tag string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(tag), "#"))
}

func validationError(msg string) *Error {
	return &Error{Kind: KindValidation, Stage: StageValidate, Msg: msg}
}
