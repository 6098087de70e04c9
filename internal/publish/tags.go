package publish

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	tagTypeDelay = 50 * time.Millisecond
	tagDelimiter = "Space"
	editorEnd    = "ControlOrMeta+End"
)

// TagResult records how one requested tag ended up in the note.
type TagResult struct {
	Input string `json:"input"`
	// Text is the topic the platform suggested, or Input when no suggestion
	// appeared and the tag was left as literal text.
	Text      string `json:"text"`
	Canonical bool   `json:"canonical"`
}

// attachTag types "#tag" at the end of the editor and picks the platform's
// first suggestion. Without a suggestion the tag is closed with a space and
// stays freeform.
func (r *run) attachTag(ctx context.Context, raw string) (TagResult, error) {
	tag := NormalizeTag(raw)
	res := TagResult{Input: tag, Text: tag}

	if err := r.page.Click(ctx, r.sel.BodyEditor, r.o.cfg.ActionTimeout); err != nil {
		return res, err
	}
	if err := r.page.Press(ctx, editorEnd); err != nil {
		return res, err
	}
	if err := r.page.Type(ctx, "#", 0); err != nil {
		return res, err
	}
	if err := r.page.Type(ctx, tag, tagTypeDelay); err != nil {
		return res, err
	}

	if canonical, ok := r.pickSuggestion(ctx); ok {
		res.Text = canonical
		res.Canonical = true
		return res, nil
	}

	if err := r.page.Press(ctx, tagDelimiter); err != nil {
		return res, err
	}
	r.logger.Debug("No topic suggestion, keeping tag as text", zap.String("tag", tag))
	return res, nil
}

func (r *run) pickSuggestion(ctx context.Context) (string, bool) {
	visible, err := r.page.IsVisible(ctx, r.sel.Suggestions, r.o.cfg.SuggestWait)
	if err != nil || !visible {
		return "", false
	}
	text, err := r.page.Text(ctx, r.sel.SuggestionItem)
	if err != nil {
		return "", false
	}
	canonical := suggestionTopic(text)
	if canonical == "" {
		return "", false
	}
	if err := r.page.Click(ctx, r.sel.SuggestionItem, r.o.cfg.ActionTimeout); err != nil {
		r.logger.Debug("Failed to pick topic suggestion", zap.Error(err))
		return "", false
	}
	return canonical, true
}

// suggestionTopic extracts the topic name from a suggestion row such as
// "#golang\n1.2k views".
func suggestionTopic(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return NormalizeTag(line)
}
