package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
	"github.com/shehryarbajwa/rednote-publisher/internal/poll"
	"github.com/shehryarbajwa/rednote-publisher/internal/site"
)

// Config holds the orchestrator's time budgets.
type Config struct {
	UploadTimeout      time.Duration
	VideoUploadTimeout time.Duration
	ResultTimeout      time.Duration
	PollInterval       time.Duration
	SuggestWait        time.Duration
	NavigationTimeout  time.Duration
	ActionTimeout      time.Duration
	TypeDelay          time.Duration
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		UploadTimeout:      60 * time.Second,
		VideoUploadTimeout: 300 * time.Second,
		ResultTimeout:      60 * time.Second,
		PollInterval:       time.Second,
		SuggestWait:        3 * time.Second,
		NavigationTimeout:  30 * time.Second,
		ActionTimeout:      10 * time.Second,
		TypeDelay:          30 * time.Millisecond,
	}
}

// Result is the outcome of one job.
type Result struct {
	Success   bool        `json:"success"`
	NoteID    string      `json:"noteId,omitempty"`
	ErrorKind Kind        `json:"errorKind,omitempty"`
	Stage     Stage       `json:"stage,omitempty"`
	Message   string      `json:"message,omitempty"`
	Retryable bool        `json:"retryable"`
	Tags      []TagResult `json:"tags,omitempty"`
}

// FailedResult builds the Result for err.
func FailedResult(err *Error) Result {
	return Result{
		ErrorKind: err.Kind,
		Stage:     err.Stage,
		Message:   err.Msg,
		Retryable: err.Retryable(),
	}
}

// Orchestrator runs publish jobs against a page. It holds no per-job state
// and may be shared.
type Orchestrator struct {
	profile site.Profile
	cfg     Config
	logger  *zap.Logger
}

func NewOrchestrator(profile site.Profile, cfg Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		profile: profile,
		cfg:     cfg,
		logger:  logger,
	}
}

// Profile returns the site profile jobs are validated against.
func (o *Orchestrator) Profile() site.Profile {
	return o.profile
}

// Run drives job through every stage on page. The caller must hold the
// page exclusively. On failure the returned error is an *Error and the
// Result carries the same classification.
func (o *Orchestrator) Run(ctx context.Context, page browser.Page, job Job, progress ProgressFunc) (Result, error) {
	r := &run{
		o:        o,
		page:     page,
		job:      job,
		sel:      o.profile.Selectors,
		progress: newReporter(progress),
		logger:   o.logger.With(zap.String("mode", string(job.Mode()))),
	}
	return r.execute(ctx)
}

// run is the state of one job.
type run struct {
	o        *Orchestrator
	page     browser.Page
	job      Job
	sel      site.Selectors
	progress *reporter
	logger   *zap.Logger

	reselected bool
	noteID     string
	tags       []TagResult
}

type step struct {
	stage Stage
	msg   string
	fn    func(context.Context) error
}

func (r *run) execute(ctx context.Context) (Result, error) {
	start := time.Now()
	steps := []step{
		{StageValidate, "validating", r.validate},
		{StageNavigate, "opening publish page", r.navigate},
		{StageSelectMode, "selecting " + string(r.job.Mode()) + " mode", r.selectMode},
		{StageUpload, "uploading media", r.upload},
		{StageAwaitUpload, "waiting for upload", r.awaitUpload},
		{StageFillMetadata, "filling title and content", r.fillMetadata},
		{StageSubmit, "submitting", r.submit},
		{StageAwaitResult, "waiting for result", r.awaitResult},
	}

	for _, s := range steps {
		r.progress.report(s.stage, stageStart[s.stage], s.msg)
		if err := s.fn(ctx); err != nil {
			perr := classify(s.stage, err)
			r.logger.Warn("Publish failed",
				zap.String("stage", string(perr.Stage)),
				zap.String("kind", string(perr.Kind)),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			res := FailedResult(perr)
			res.Tags = r.tags
			return res, perr
		}
	}

	r.progress.report(StageDone, stageStart[StageDone], "published")
	r.logger.Info("Publish succeeded",
		zap.String("note_id", r.noteID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Result{Success: true, NoteID: r.noteID, Stage: StageDone, Tags: r.tags}, nil
}

func (r *run) validate(context.Context) error {
	return r.job.Validate(r.o.profile)
}

func (r *run) navigate(ctx context.Context) error {
	if err := r.page.Goto(ctx, r.o.profile.PublishURL); err != nil {
		return err
	}
	if err := r.page.WaitForLoad(ctx, r.o.cfg.NavigationTimeout); err != nil && !browser.IsNavigationError(err) {
		return err
	}
	if u := r.page.URL(); r.o.profile.IsAuthFailure(u) {
		return &poll.SessionInvalidatedError{Name: "navigate", URL: u}
	}
	r.dismissPopups(ctx)
	return nil
}

// dismissPopups closes permission and announcement dialogs. Failures are
// ignored.
func (r *run) dismissPopups(ctx context.Context) {
	visible, err := r.page.IsVisible(ctx, r.sel.PopupClose, 0)
	if err != nil || !visible {
		return
	}
	if err := r.page.Click(ctx, r.sel.PopupClose, r.o.cfg.ActionTimeout); err != nil {
		r.logger.Debug("Failed to dismiss popup", zap.Error(err))
	}
}

func (r *run) selectMode(ctx context.Context) error {
	if u := r.page.URL(); r.o.profile.IsLoginPage(u) {
		r.logger.Warn("Publish page redirected to login, navigating again", zap.String("url", u))
		if err := r.navigate(ctx); err != nil {
			return err
		}
		if u := r.page.URL(); r.o.profile.IsLoginPage(u) {
			return &poll.SessionInvalidatedError{Name: "select_mode", URL: u}
		}
	}
	return r.selectTab(ctx)
}

func (r *run) selectTab(ctx context.Context) error {
	tab := r.sel.ImageTab
	if r.job.Mode() == ModeVideo {
		tab = r.sel.VideoTab
	}
	if err := r.page.Click(ctx, tab, r.o.cfg.ActionTimeout); err != nil {
		return fmt.Errorf("select %s tab: %w", r.job.Mode(), err)
	}
	ok, err := r.page.IsAttached(ctx, r.sel.UploadInput, r.o.cfg.ActionTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("upload input not found")
	}
	return nil
}

func (r *run) upload(ctx context.Context) error {
	files := r.job.Files()
	if err := r.page.SetInputFiles(ctx, r.sel.UploadInput, files, r.o.cfg.ActionTimeout); err != nil {
		return err
	}
	r.logger.Debug("Media submitted", zap.Int("files", len(files)))
	return nil
}

func (r *run) awaitUpload(ctx context.Context) error {
	opts := r.navOptions("image upload", r.o.cfg.UploadTimeout)
	cond := r.imagesUploaded
	if r.job.Mode() == ModeVideo {
		opts = r.navOptions("video upload", r.o.cfg.VideoUploadTimeout)
		cond = r.videoUploaded
	}
	opts.OnNavigate = r.recoverUpload

	if err := poll.UntilStable(ctx, opts, cond); err != nil {
		return err
	}

	if r.job.Cover != "" {
		if err := r.page.SetInputFiles(ctx, r.sel.CoverInput, []string{r.job.Cover}, r.o.cfg.ActionTimeout); err != nil {
			r.logger.Warn("Failed to upload cover", zap.Error(err))
		}
	}
	return nil
}

func (r *run) imagesUploaded(ctx context.Context) (bool, string, error) {
	want := len(r.job.Images)
	n, err := r.page.Count(ctx, r.sel.Thumbnail)
	if err != nil {
		return false, "", err
	}
	if n > want {
		n = want
	}
	state := fmt.Sprintf("%d/%d images processed", n, want)
	r.progress.within(StageAwaitUpload, StageFillMetadata, n, want, state)
	return n >= want, state, nil
}

func (r *run) videoUploaded(ctx context.Context) (bool, string, error) {
	enabled, err := r.page.IsEnabled(ctx, r.sel.SubmitButton)
	if err != nil {
		return false, "", err
	}
	if !enabled {
		return false, "video processing", nil
	}
	return true, "video processed", nil
}

// recoverUpload restores the mode tab and files once if a navigation during
// upload discarded them or bounced the page to a login variant.
func (r *run) recoverUpload(ctx context.Context, from, to string) error {
	r.logger.Info("Page navigated during upload", zap.String("from", from), zap.String("to", to))
	loginPage := r.o.profile.IsLoginPage(to)
	if r.reselected {
		if loginPage {
			return &poll.SessionInvalidatedError{Name: "await_upload", URL: to}
		}
		return nil
	}

	if loginPage {
		r.reselected = true
		if err := r.navigate(ctx); err != nil {
			return err
		}
		if u := r.page.URL(); r.o.profile.IsLoginPage(u) {
			return &poll.SessionInvalidatedError{Name: "await_upload", URL: u}
		}
		if err := r.selectTab(ctx); err != nil {
			return err
		}
		return r.upload(ctx)
	}

	lost, err := r.uploadLost(ctx)
	if err != nil || !lost {
		return err
	}

	r.reselected = true
	if err := r.selectTab(ctx); err != nil {
		return err
	}
	return r.upload(ctx)
}

// uploadLost reports whether the page is back at an empty upload area.
func (r *run) uploadLost(ctx context.Context) (bool, error) {
	visible, err := r.page.IsVisible(ctx, r.sel.UploadArea, 0)
	if err != nil || !visible {
		return false, err
	}
	n, err := r.page.Count(ctx, r.sel.Thumbnail)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (r *run) fillMetadata(ctx context.Context) error {
	if err := r.page.Fill(ctx, r.sel.TitleInput, strings.TrimSpace(r.job.Title), r.o.cfg.ActionTimeout); err != nil {
		return err
	}

	if r.job.Body != "" {
		if err := r.page.Click(ctx, r.sel.BodyEditor, r.o.cfg.ActionTimeout); err != nil {
			return err
		}
		if err := r.page.Type(ctx, r.job.Body, r.o.cfg.TypeDelay); err != nil {
			return err
		}
	}

	for i, tag := range r.job.Tags {
		res, err := r.attachTag(ctx, tag)
		if err != nil {
			return fmt.Errorf("tag %q: %w", NormalizeTag(tag), err)
		}
		r.tags = append(r.tags, res)
		r.progress.within(StageFillMetadata, StageSubmit, i+1, len(r.job.Tags), "added tag "+res.Text)
	}

	return r.checkCounter(ctx)
}

// checkCounter fails when the editor's character counter is over its limit.
func (r *run) checkCounter(ctx context.Context) error {
	text, err := r.page.Text(ctx, r.sel.ContentCounter)
	if err != nil {
		return err
	}
	used, limit, ok := site.ParseCounter(text)
	if !ok || used <= limit {
		return nil
	}
	return &Error{
		Kind: KindContentLength,
		Msg:  fmt.Sprintf("content is %d/%d characters", used, limit),
	}
}

func (r *run) submit(ctx context.Context) error {
	if err := r.checkCounter(ctx); err != nil {
		return err
	}
	return r.page.Click(ctx, r.sel.SubmitButton, r.o.cfg.ActionTimeout)
}

func (r *run) awaitResult(ctx context.Context) error {
	return poll.UntilStable(ctx, r.navOptions("publish result", r.o.cfg.ResultTimeout), r.published)
}

func (r *run) published(ctx context.Context) (bool, string, error) {
	if id, ok := r.o.profile.NoteID(r.page.URL()); ok {
		r.noteID = id
		return true, "note page " + id, nil
	}

	visible, err := r.page.IsVisible(ctx, r.sel.SuccessText, 0)
	if err != nil {
		return false, "", err
	}
	if visible {
		return true, "success message", nil
	}

	visible, err = r.page.IsVisible(ctx, r.sel.ErrorMessage, 0)
	if err != nil {
		return false, "", err
	}
	if visible {
		text, err := r.page.Text(ctx, r.sel.ErrorMessage)
		if err != nil {
			return false, "", err
		}
		if r.o.profile.IsSuccessText(text) {
			return true, "success message", nil
		}
		return false, "", &Error{Kind: KindPublishRejected, Msg: strings.TrimSpace(text)}
	}

	if err := r.checkCounter(ctx); err != nil {
		return false, "", err
	}
	return false, "awaiting confirmation", nil
}

func (r *run) navOptions(name string, timeout time.Duration) poll.NavOptions {
	return poll.NavOptions{
		Options: poll.Options{
			Name:     name,
			Interval: r.o.cfg.PollInterval,
			Timeout:  timeout,
		},
		URL:         r.page.URL,
		AuthFailure: r.o.profile.IsAuthFailure,
		Stabilize: func(ctx context.Context) error {
			return r.page.WaitForLoad(ctx, r.o.cfg.NavigationTimeout)
		},
		IsNavigation: browser.IsNavigationError,
	}
}
