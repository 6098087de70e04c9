package publish

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/rednote-publisher/internal/site"
)

func TestJobValidate(t *testing.T) {
	p := site.DefaultProfile()
	nine := make([]string, 9)
	for i := range nine {
		nine[i] = "img.png"
	}

	tests := []struct {
		name    string
		job     Job
		wantErr string
	}{
		{name: "images", job: Job{Title: "周末去爬山", Images: []string{"a.png"}}},
		{name: "video with cover", job: Job{Title: "vlog", Video: "v.mp4", Cover: "c.png"}},
		{name: "nine images", job: Job{Title: "t", Images: nine}},
		{name: "twenty rune title", job: Job{Title: strings.Repeat("字", 20), Images: []string{"a.png"}}},
		{name: "title trimmed before counting", job: Job{Title: "  " + strings.Repeat("字", 20) + " ", Images: []string{"a.png"}}},
		{name: "empty title", job: Job{Title: "   ", Images: []string{"a.png"}}, wantErr: "title is required"},
		{name: "long title", job: Job{Title: strings.Repeat("字", 21), Images: []string{"a.png"}}, wantErr: "title is 21 characters"},
		{name: "no media", job: Job{Title: "t"}, wantErr: "at least one image"},
		{name: "images and video", job: Job{Title: "t", Images: []string{"a.png"}, Video: "v.mp4"}, wantErr: "not both"},
		{name: "too many images", job: Job{Title: "t", Images: append(nine, "x.png")}, wantErr: "10 images given"},
		{name: "cover without video", job: Job{Title: "t", Images: []string{"a.png"}, Cover: "c.png"}, wantErr: "cover"},
		{name: "blank image", job: Job{Title: "t", Images: []string{"a.png", " "}}, wantErr: "image 2 is empty"},
		{name: "hash only tag", job: Job{Title: "t", Images: []string{"a.png"}, Tags: []string{"ok", "##"}}, wantErr: "tag 2 is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate(p)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var perr *Error
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, KindValidation, perr.Kind)
			assert.Equal(t, StageValidate, perr.Stage)
			assert.False(t, perr.Retryable())
			assert.Contains(t, perr.Msg, tt.wantErr)
		})
	}
}

func TestJobMode(t *testing.T) {
	img := Job{Images: []string{"a.png", "b.png"}}
	assert.Equal(t, ModeImage, img.Mode())
	assert.Equal(t, []string{"a.png", "b.png"}, img.Files())

	vid := Job{Video: "v.mp4"}
	assert.Equal(t, ModeVideo, vid.Mode())
	assert.Equal(t, []string{"v.mp4"}, vid.Files())
}

func TestNormalizeTag(t *testing.T) {
	assert.Equal(t, "golang", NormalizeTag("#golang"))
	assert.Equal(t, "golang", NormalizeTag("  ##golang "))
	assert.Equal(t, "旅行 日记", NormalizeTag("# 旅行 日记"))
	assert.Equal(t, "", NormalizeTag("#"))
}
