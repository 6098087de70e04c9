package publish

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser/browsertest"
	"github.com/shehryarbajwa/rednote-publisher/internal/site"
)

var (
	profile = site.DefaultProfile()
	sel     = profile.Selectors
)

const (
	noteURL    = "https://www.xiaohongshu.com/explore/64f1a2b3c4d5e6f7a8b9c0d1"
	revokedURL = "https://creator.xiaohongshu.com/login?redirectReason=401"
)

func testConfig() Config {
	return Config{
		UploadTimeout:      2 * time.Second,
		VideoUploadTimeout: 2 * time.Second,
		ResultTimeout:      2 * time.Second,
		PollInterval:       5 * time.Millisecond,
		SuggestWait:        50 * time.Millisecond,
		NavigationTimeout:  time.Second,
		ActionTimeout:      200 * time.Millisecond,
	}
}

// console scripts a publish page: uploads turn into thumbnails shortly after
// files are set, "golang" gets a topic suggestion, and submitting opens the
// published note.
func console(p *browsertest.Page) {
	p.Show(sel.ImageTab)
	p.Show(sel.VideoTab)
	p.Show(sel.UploadArea)
	p.Set(sel.UploadInput, browsertest.Element{Attached: true})
	p.Set(sel.CoverInput, browsertest.Element{Attached: true})
	p.Show(sel.TitleInput)
	p.Show(sel.BodyEditor)
	p.Show(sel.SubmitButton)
	p.SetText(sel.ContentCounter, "12/1000")

	p.OnFiles(sel.UploadInput, func(p *browsertest.Page, files []string) {
		p.Hide(sel.UploadArea)
		p.After(20*time.Millisecond, func(p *browsertest.Page) {
			p.SetCount(sel.Thumbnail, len(files))
		})
	})
	p.OnType(func(p *browsertest.Page, text string) {
		if text == "golang" {
			p.Show(sel.Suggestions)
			p.Set(sel.SuggestionItem, browsertest.Element{Visible: true, Attached: true, Text: "#Golang\n12.3k views"})
		}
	})
	p.OnClick(sel.SuggestionItem, func(p *browsertest.Page) {
		p.Remove(sel.Suggestions)
		p.Remove(sel.SuggestionItem)
	})
	p.OnClick(sel.SubmitButton, func(p *browsertest.Page) {
		p.SetURL(noteURL)
	})
}

func newConsole() *browsertest.Page {
	p := browsertest.NewPage()
	console(p)
	return p
}

func imageJob() Job {
	return Job{
		Title:  "周末去爬山",
		Body:   "天气很好",
		Images: []string{"/tmp/a.png", "/tmp/b.png"},
		Tags:   []string{"#golang", "weekend"},
	}
}

func runJob(t *testing.T, cfg Config, page *browsertest.Page, job Job) (Result, *Error, []Progress) {
	t.Helper()
	var (
		mu     sync.Mutex
		events []Progress
	)
	o := NewOrchestrator(profile, cfg, zap.NewNop())
	res, err := o.Run(context.Background(), page, job, func(p Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})

	var perr *Error
	if err != nil {
		require.True(t, errors.As(err, &perr), "unexpected error type %T", err)
		assert.False(t, res.Success)
		assert.Equal(t, perr.Kind, res.ErrorKind)
		assert.Equal(t, perr.Stage, res.Stage)
	}
	mu.Lock()
	defer mu.Unlock()
	return res, perr, append([]Progress(nil), events...)
}

func TestRunPublishesImageNote(t *testing.T) {
	page := newConsole()

	res, perr, _ := runJob(t, testConfig(), page, imageJob())
	require.Nil(t, perr)

	assert.True(t, res.Success)
	assert.Equal(t, "64f1a2b3c4d5e6f7a8b9c0d1", res.NoteID)
	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, []TagResult{
		{Input: "golang", Text: "Golang", Canonical: true},
		{Input: "weekend", Text: "weekend", Canonical: false},
	}, res.Tags)

	assert.Equal(t, []string{profile.PublishURL}, page.Gotos())
	assert.Equal(t, []string{"/tmp/a.png", "/tmp/b.png"}, page.Files(sel.UploadInput))
	assert.Equal(t, "周末去爬山", page.Filled(sel.TitleInput))
	assert.Equal(t, []string{"天气很好", "#", "golang", "#", "weekend"}, page.Typed())
	// Only the freeform tag is closed with the delimiter.
	assert.Equal(t, []string{editorEnd, editorEnd, tagDelimiter}, page.Keys())
	assert.Contains(t, page.Clicks(), sel.ImageTab)
	assert.NotContains(t, page.Clicks(), sel.VideoTab)
}

func TestRunReportsMonotonicProgress(t *testing.T) {
	_, perr, events := runJob(t, testConfig(), newConsole(), imageJob())
	require.Nil(t, perr)
	require.NotEmpty(t, events)

	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent, "event %d: %+v", i, events[i])
	}
	last := events[len(events)-1]
	assert.Equal(t, StageDone, last.Stage)
	assert.Equal(t, 100, last.Percent)

	var stages []Stage
	for _, e := range events {
		if len(stages) == 0 || stages[len(stages)-1] != e.Stage {
			stages = append(stages, e.Stage)
		}
	}
	assert.Equal(t, []Stage{
		StageValidate, StageNavigate, StageSelectMode, StageUpload, StageAwaitUpload,
		StageFillMetadata, StageSubmit, StageAwaitResult, StageDone,
	}, stages)
}

func TestRunRejectsInvalidJobBeforeNavigating(t *testing.T) {
	page := newConsole()
	job := imageJob()
	job.Title = ""

	_, perr, _ := runJob(t, testConfig(), page, job)
	require.NotNil(t, perr)

	assert.Equal(t, KindValidation, perr.Kind)
	assert.Equal(t, StageValidate, perr.Stage)
	assert.Empty(t, page.Gotos())
}

func TestRunContentLengthExceeded(t *testing.T) {
	page := newConsole()
	page.OnType(func(p *browsertest.Page, _ string) {
		p.SetText(sel.ContentCounter, "1232/1000")
	})

	_, perr, _ := runJob(t, testConfig(), page, imageJob())
	require.NotNil(t, perr)

	assert.Equal(t, KindContentLength, perr.Kind)
	assert.Equal(t, StageFillMetadata, perr.Stage)
	assert.Contains(t, perr.Msg, "1232/1000")
	assert.False(t, perr.Retryable())
	assert.NotContains(t, page.Clicks(), sel.SubmitButton)
}

func TestRunAbortsWhenSignedOutDuringUpload(t *testing.T) {
	cfg := testConfig()
	cfg.UploadTimeout = 30 * time.Second

	page := newConsole()
	page.OnFiles(sel.UploadInput, func(p *browsertest.Page, _ []string) {
		p.After(50*time.Millisecond, func(p *browsertest.Page) {
			p.SetURL(revokedURL)
		})
	})

	start := time.Now()
	res, perr, _ := runJob(t, cfg, page, imageJob())
	require.NotNil(t, perr)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, KindAuthInvalid, perr.Kind)
	assert.Equal(t, StageAwaitUpload, perr.Stage)
	assert.False(t, res.Retryable)
}

func TestRunAbortsWhenPublishPageRedirectsToRevokedLogin(t *testing.T) {
	page := newConsole()
	page.OnGoto(func(p *browsertest.Page, _ string) {
		p.SetURL(revokedURL)
	})

	_, perr, _ := runJob(t, testConfig(), page, imageJob())
	require.NotNil(t, perr)

	assert.Equal(t, KindAuthInvalid, perr.Kind)
	assert.Equal(t, StageNavigate, perr.Stage)
}

func TestRunUploadTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.UploadTimeout = 100 * time.Millisecond

	page := newConsole()
	page.OnFiles(sel.UploadInput, func(p *browsertest.Page, _ []string) {
		p.SetCount(sel.Thumbnail, 1)
	})

	res, perr, _ := runJob(t, cfg, page, imageJob())
	require.NotNil(t, perr)

	assert.Equal(t, KindUploadTimeout, perr.Kind)
	assert.Equal(t, StageAwaitUpload, perr.Stage)
	assert.Contains(t, perr.Msg, "1/2 images processed")
	assert.True(t, res.Retryable)
}

func TestRunPublishRejected(t *testing.T) {
	page := newConsole()
	page.OnClick(sel.SubmitButton, func(p *browsertest.Page) {
		p.Set(sel.ErrorMessage, browsertest.Element{Visible: true, Attached: true, Text: " 标题含有违规内容 "})
	})

	_, perr, _ := runJob(t, testConfig(), page, imageJob())
	require.NotNil(t, perr)

	assert.Equal(t, KindPublishRejected, perr.Kind)
	assert.Equal(t, StageAwaitResult, perr.Stage)
	assert.Equal(t, "标题含有违规内容", perr.Msg)
}

func TestRunPublishTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ResultTimeout = 100 * time.Millisecond

	page := newConsole()
	page.OnClick(sel.SubmitButton, func(*browsertest.Page) {})

	res, perr, _ := runJob(t, cfg, page, imageJob())
	require.NotNil(t, perr)

	assert.Equal(t, KindPublishTimeout, perr.Kind)
	assert.Equal(t, StageAwaitResult, perr.Stage)
	assert.True(t, res.Retryable)
	assert.Len(t, res.Tags, 2)
}

func TestRunPublishesVideoNote(t *testing.T) {
	page := newConsole()
	page.SetEnabled(sel.SubmitButton, false)
	page.OnFiles(sel.UploadInput, func(p *browsertest.Page, _ []string) {
		p.After(30*time.Millisecond, func(p *browsertest.Page) {
			p.SetEnabled(sel.SubmitButton, true)
		})
	})
	page.OnClick(sel.SubmitButton, func(p *browsertest.Page) {
		p.Show(sel.SuccessText)
	})

	job := Job{Title: "vlog", Video: "/tmp/v.mp4", Cover: "/tmp/cover.png"}
	res, perr, _ := runJob(t, testConfig(), page, job)
	require.Nil(t, perr)

	assert.True(t, res.Success)
	assert.Empty(t, res.NoteID)
	assert.Contains(t, page.Clicks(), sel.VideoTab)
	assert.Equal(t, []string{"/tmp/v.mp4"}, page.Files(sel.UploadInput))
	assert.Equal(t, []string{"/tmp/cover.png"}, page.Files(sel.CoverInput))
}

func TestRunCoverFailureIsNotFatal(t *testing.T) {
	page := newConsole()
	page.Remove(sel.CoverInput)
	page.OnClick(sel.SubmitButton, func(p *browsertest.Page) {
		p.Show(sel.SuccessText)
	})

	res, perr, _ := runJob(t, testConfig(), page, Job{Title: "vlog", Video: "/tmp/v.mp4", Cover: "/tmp/cover.png"})
	require.Nil(t, perr)
	assert.True(t, res.Success)
}

func TestRunRenavigatesOnceFromLoginVariant(t *testing.T) {
	page := newConsole()
	var gotos atomic.Int32
	page.OnGoto(func(p *browsertest.Page, _ string) {
		if gotos.Add(1) == 1 {
			p.SetURL("https://creator.xiaohongshu.com/login?source=official")
		}
	})

	res, perr, _ := runJob(t, testConfig(), page, imageJob())
	require.Nil(t, perr)

	assert.True(t, res.Success)
	assert.Len(t, page.Gotos(), 2)
}

func TestRunFailsWhenLoginVariantPersists(t *testing.T) {
	page := newConsole()
	page.OnGoto(func(p *browsertest.Page, _ string) {
		p.SetURL("https://creator.xiaohongshu.com/login")
	})

	_, perr, _ := runJob(t, testConfig(), page, imageJob())
	require.NotNil(t, perr)

	assert.Equal(t, KindAuthInvalid, perr.Kind)
	assert.Equal(t, StageSelectMode, perr.Stage)
	assert.Len(t, page.Gotos(), 2)
}

func TestRunReselectsModeAfterReloadDuringUpload(t *testing.T) {
	page := newConsole()
	var uploads atomic.Int32
	page.OnFiles(sel.UploadInput, func(p *browsertest.Page, files []string) {
		if uploads.Add(1) == 1 {
			// The console reloads and drops the selected files.
			p.After(20*time.Millisecond, func(p *browsertest.Page) {
				p.SetURL(profile.PublishURL + "&reload=1")
				p.Show(sel.UploadArea)
			})
			return
		}
		p.Hide(sel.UploadArea)
		p.SetCount(sel.Thumbnail, len(files))
	})

	res, perr, _ := runJob(t, testConfig(), page, imageJob())
	require.Nil(t, perr)

	assert.True(t, res.Success)
	assert.Equal(t, int32(2), uploads.Load())

	tabClicks := 0
	for _, c := range page.Clicks() {
		if c == sel.ImageTab {
			tabClicks++
		}
	}
	assert.Equal(t, 2, tabClicks)
}

func TestRunRecoversFromLoginVariantDuringUpload(t *testing.T) {
	page := newConsole()
	var uploads atomic.Int32
	page.OnFiles(sel.UploadInput, func(p *browsertest.Page, files []string) {
		if uploads.Add(1) == 1 {
			p.After(20*time.Millisecond, func(p *browsertest.Page) {
				p.SetURL("https://creator.xiaohongshu.com/login")
			})
			return
		}
		p.SetCount(sel.Thumbnail, len(files))
	})

	res, perr, _ := runJob(t, testConfig(), page, imageJob())
	require.Nil(t, perr)

	assert.True(t, res.Success)
	assert.Len(t, page.Gotos(), 2)
	assert.Equal(t, int32(2), uploads.Load())
}

// spaReload moves the console to a new URL mid-upload; loads of that URL
// time out until failures runs out.
func spaReload(page *browsertest.Page, failures int32) *atomic.Int32 {
	reloadURL := profile.PublishURL + "&spa=1"
	var loads atomic.Int32
	page.OnFiles(sel.UploadInput, func(p *browsertest.Page, files []string) {
		p.Hide(sel.UploadArea)
		p.After(10*time.Millisecond, func(p *browsertest.Page) {
			p.SetURL(reloadURL)
		})
		p.After(40*time.Millisecond, func(p *browsertest.Page) {
			p.SetCount(sel.Thumbnail, len(files))
		})
	})
	page.OnLoad(func(p *browsertest.Page) error {
		if p.URL() != reloadURL {
			return nil
		}
		if loads.Add(1) <= failures {
			return errors.New("Timeout 1000ms exceeded.")
		}
		return nil
	})
	return &loads
}

func TestRunWaitsOutSlowLoadAfterNavigationDuringUpload(t *testing.T) {
	page := newConsole()
	loads := spaReload(page, 2)

	res, perr, _ := runJob(t, testConfig(), page, imageJob())
	require.Nil(t, perr)

	assert.True(t, res.Success)
	assert.Equal(t, int32(3), loads.Load())
	assert.Len(t, page.Files(sel.UploadInput), 2)
}

func TestRunReportsUploadTimeoutWhenPageNeverLoads(t *testing.T) {
	cfg := testConfig()
	cfg.UploadTimeout = 150 * time.Millisecond

	page := newConsole()
	spaReload(page, 1<<30)

	res, perr, _ := runJob(t, cfg, page, imageJob())
	require.NotNil(t, perr)

	assert.Equal(t, KindUploadTimeout, perr.Kind)
	assert.Equal(t, StageAwaitUpload, perr.Stage)
	assert.Contains(t, perr.Msg, "to load")
	assert.True(t, res.Retryable)
}

func TestRunDismissesPopups(t *testing.T) {
	page := newConsole()
	page.Show(sel.PopupClose)
	page.OnClick(sel.PopupClose, func(p *browsertest.Page) {
		p.Remove(sel.PopupClose)
	})

	res, perr, _ := runJob(t, testConfig(), page, imageJob())
	require.Nil(t, perr)

	assert.True(t, res.Success)
	assert.Contains(t, page.Clicks(), sel.PopupClose)
}

func TestRunFailsOnClosedPage(t *testing.T) {
	page := newConsole()
	require.NoError(t, page.Close())

	res, perr, _ := runJob(t, testConfig(), page, imageJob())
	require.NotNil(t, perr)

	assert.Equal(t, KindBrowser, perr.Kind)
	assert.Equal(t, StageNavigate, perr.Stage)
	assert.False(t, res.Retryable)
}

func TestRunHonoursCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.UploadTimeout = 30 * time.Second

	page := newConsole()
	page.OnFiles(sel.UploadInput, func(*browsertest.Page, []string) {})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	o := NewOrchestrator(profile, cfg, zap.NewNop())
	start := time.Now()
	_, err := o.Run(ctx, page, imageJob(), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}
