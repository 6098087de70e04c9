package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
	"github.com/shehryarbajwa/rednote-publisher/internal/media"
	"github.com/shehryarbajwa/rednote-publisher/internal/poll"
)

// Kind classifies why a job failed.
type Kind string

const (
	// KindAuthInvalid: the user was signed out mid-job.
	KindAuthInvalid Kind = "AUTH_INVALID"
	// KindUploadTimeout: media did not finish processing in time.
	KindUploadTimeout Kind = "UPLOAD_TIMEOUT"
	// KindContentLength: the platform's character counter is over its limit.
	KindContentLength Kind = "CONTENT_LENGTH_EXCEEDED"
	// KindValidation: the job itself is malformed.
	KindValidation Kind = "VALIDATION"
	// KindPublishTimeout: no verdict arrived after submitting.
	KindPublishTimeout Kind = "PUBLISH_TIMEOUT"
	// KindPublishRejected: the platform refused the note with a message.
	KindPublishRejected Kind = "PUBLISH_REJECTED"
	// KindMediaFetch: a remote image could not be downloaded.
	KindMediaFetch Kind = "MEDIA_FETCH"
	// KindBrowser: the browser went away or the page lacked an element.
	KindBrowser Kind = "BROWSER"
)

// Retryable reports whether running the same job again may succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindUploadTimeout, KindPublishTimeout, KindMediaFetch:
		return true
	default:
		return false
	}
}

// Error is a classified job failure.
type Error struct {
	Kind  Kind
	Stage Stage
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Stage, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// classify turns any error raised during stage into an *Error.
func classify(stage Stage, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		if perr.Stage == "" {
			perr.Stage = stage
		}
		return perr
	}

	var invalidated *poll.SessionInvalidatedError
	var timeout *poll.TimeoutError
	var fetch *media.FetchError

	switch {
	case errors.As(err, &invalidated):
		return &Error{Kind: KindAuthInvalid, Stage: stage, Msg: "signed out: redirected to " + invalidated.URL, Err: err}
	case errors.As(err, &timeout):
		kind := KindBrowser
		switch stage {
		case StageAwaitUpload:
			kind = KindUploadTimeout
		case StageAwaitResult:
			kind = KindPublishTimeout
		}
		return &Error{Kind: kind, Stage: stage, Msg: err.Error(), Err: err}
	case errors.As(err, &fetch):
		return &Error{Kind: KindMediaFetch, Stage: stage, Msg: err.Error(), Err: err}
	case errors.Is(err, media.ErrMissingFile), errors.Is(err, media.ErrUnsupportedType):
		return &Error{Kind: KindValidation, Stage: stage, Msg: err.Error(), Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindBrowser, Stage: stage, Msg: "job cancelled", Err: err}
	case errors.Is(err, browser.ErrHandleClosed), errors.Is(err, browser.ErrStaleHandle):
		return &Error{Kind: KindBrowser, Stage: stage, Msg: "browser closed: " + err.Error(), Err: err}
	default:
		return &Error{Kind: KindBrowser, Stage: stage, Msg: err.Error(), Err: err}
	}
}
