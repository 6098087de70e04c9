package publish

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
	"github.com/shehryarbajwa/rednote-publisher/internal/media"
	"github.com/shehryarbajwa/rednote-publisher/internal/poll"
)

func TestClassify(t *testing.T) {
	timeout := &poll.TimeoutError{Name: "wait", Elapsed: time.Second}

	tests := []struct {
		name      string
		stage     Stage
		err       error
		kind      Kind
		retryable bool
	}{
		{"signed out", StageAwaitUpload, &poll.SessionInvalidatedError{URL: "https://x/login?redirectReason=401"}, KindAuthInvalid, false},
		{"upload timeout", StageAwaitUpload, timeout, KindUploadTimeout, true},
		{"result timeout", StageAwaitResult, fmt.Errorf("wrapped: %w", timeout), KindPublishTimeout, true},
		{"timeout elsewhere", StageSelectMode, timeout, KindBrowser, false},
		{"fetch", StageValidate, &media.FetchError{URL: "https://x/a.png", Err: errors.New("503")}, KindMediaFetch, true},
		{"missing file", StageValidate, fmt.Errorf("a.png: %w", media.ErrMissingFile), KindValidation, false},
		{"closed", StageUpload, fmt.Errorf("%w: boom", browser.ErrHandleClosed), KindBrowser, false},
		{"cancelled", StageSubmit, context.Canceled, KindBrowser, false},
		{"unknown", StageSubmit, errors.New("element not visible"), KindBrowser, false},
		{"already classified", StageSubmit, &Error{Kind: KindPublishRejected, Msg: "no"}, KindPublishRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.stage, tt.err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.stage, got.Stage)
			assert.Equal(t, tt.retryable, got.Retryable())
			assert.NotEmpty(t, got.Error())
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := &poll.SessionInvalidatedError{URL: "https://x/login?redirectReason=401"}
	err := classify(StageAwaitResult, cause)

	var invalidated *poll.SessionInvalidatedError
	assert.True(t, errors.As(err, &invalidated))
	assert.Contains(t, err.Error(), "AUTH_INVALID at await_result")
}

func TestReporterIsMonotonic(t *testing.T) {
	var got []int
	r := newReporter(func(p Progress) { got = append(got, p.Percent) })

	r.report(StageUpload, 15, "")
	r.within(StageAwaitUpload, StageFillMetadata, 2, 4, "")
	r.within(StageAwaitUpload, StageFillMetadata, 1, 4, "")
	r.report(StageDone, 120, "")

	assert.Equal(t, []int{15, 37, 37, 100}, got)
}
