// Package browsertest provides scriptable in-memory fakes of the browser
// interfaces for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
)

// ErrClosed is returned by every Page method after Close.
var ErrClosed = errors.New("target page, context or browser has been closed")

const pollStep = 5 * time.Millisecond

// Element is the state of one selector on a fake page.
type Element struct {
	Visible  bool
	Attached bool
	Enabled  bool
	Text     string
	// Count overrides the number of matches reported by Count.
	Count int
}

func (e *Element) present() bool {
	return e != nil && (e.Visible || e.Attached || e.Count > 0)
}

// Page is a fake browser.Page. Elements are keyed by the exact selector
// string the code under test passes in.
type Page struct {
	mu       sync.Mutex
	url      string
	elements map[string]*Element
	closed   bool

	gotos  []string
	clicks []string
	fills  map[string]string
	typed  []string
	keys   []string
	files  map[string][]string

	onClick map[string]func(*Page)
	onFiles map[string]func(*Page, []string)
	onGoto  func(*Page, string)
	onType  func(*Page, string)
	onKey   func(*Page, string)
	onLoad  func(*Page) error
}

// NewPage returns an empty page at about:blank.
func NewPage() *Page {
	return &Page{
		url:      "about:blank",
		elements: make(map[string]*Element),
		fills:    make(map[string]string),
		files:    make(map[string][]string),
		onClick:  make(map[string]func(*Page)),
		onFiles:  make(map[string]func(*Page, []string)),
	}
}

// Scripting.

// Set replaces the state of selector.
func (p *Page) Set(selector string, el Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := el
	p.elements[selector] = &e
}

// Show makes selector visible and enabled.
func (p *Page) Show(selector string) {
	p.update(selector, func(e *Element) {
		e.Visible = true
		e.Attached = true
		e.Enabled = true
	})
}

// Hide leaves selector attached but not visible.
func (p *Page) Hide(selector string) {
	p.update(selector, func(e *Element) {
		e.Visible = false
		e.Attached = true
	})
}

// Remove deletes selector from the page.
func (p *Page) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, selector)
}

// SetText sets the text of selector, attaching it if needed.
func (p *Page) SetText(selector, text string) {
	p.update(selector, func(e *Element) {
		e.Attached = true
		e.Text = text
	})
}

// SetCount sets how many matches selector has.
func (p *Page) SetCount(selector string, n int) {
	p.update(selector, func(e *Element) {
		e.Count = n
		e.Attached = n > 0
	})
}

// SetEnabled toggles whether selector is enabled.
func (p *Page) SetEnabled(selector string, enabled bool) {
	p.update(selector, func(e *Element) {
		e.Attached = true
		e.Enabled = enabled
	})
}

// SetURL moves the page to u without recording a Goto.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

// After runs fn on the page once d has passed.
func (p *Page) After(d time.Duration, fn func(*Page)) {
	time.AfterFunc(d, func() { fn(p) })
}

// OnClick registers fn to run after selector is clicked.
func (p *Page) OnClick(selector string, fn func(*Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onClick[selector] = fn
}

// OnFiles registers fn to run after files are set on selector.
func (p *Page) OnFiles(selector string, fn func(*Page, []string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFiles[selector] = fn
}

// OnGoto registers fn to run after every navigation.
func (p *Page) OnGoto(fn func(*Page, string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onGoto = fn
}

// OnType registers fn to run after every Type call.
func (p *Page) OnType(fn func(*Page, string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onType = fn
}

// OnKey registers fn to run after every Press call.
func (p *Page) OnKey(fn func(*Page, string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onKey = fn
}

// OnLoad registers fn to decide the outcome of every WaitForLoad call.
func (p *Page) OnLoad(fn func(*Page) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLoad = fn
}

func (p *Page) update(selector string, fn func(*Element)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.elements[selector]
	if !ok {
		e = &Element{}
		p.elements[selector] = e
	}
	fn(e)
}

// Recorded interactions.

func (p *Page) Gotos() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.gotos...)
}

func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

func (p *Page) Typed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.typed...)
}

func (p *Page) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// Filled returns the last value filled into selector.
func (p *Page) Filled(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills[selector]
}

// Files returns the files last set on selector.
func (p *Page) Files(selector string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.files[selector]...)
}

// browser.Page implementation.

func (p *Page) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.gotos = append(p.gotos, url)
	p.url = url
	hook := p.onGoto
	p.mu.Unlock()

	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) WaitForLoad(ctx context.Context, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.checkOpen(); err != nil {
		return err
	}
	p.mu.Lock()
	hook := p.onLoad
	p.mu.Unlock()

	if hook != nil {
		return hook(p)
	}
	return nil
}

func (p *Page) IsVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	return p.waitFor(ctx, timeout, func() bool {
		e := p.elements[selector]
		return e != nil && e.Visible
	})
}

func (p *Page) IsAttached(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	return p.waitFor(ctx, timeout, func() bool {
		return p.elements[selector].present()
	})
}

func (p *Page) IsEnabled(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false, ErrClosed
	}
	e := p.elements[selector]
	return e.present() && e.Enabled, nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	e := p.elements[selector]
	switch {
	case e == nil:
		return 0, nil
	case e.Count > 0:
		return e.Count, nil
	case e.present():
		return 1, nil
	default:
		return 0, nil
	}
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrClosed
	}
	if e := p.elements[selector]; e.present() {
		return e.Text, nil
	}
	return "", nil
}

func (p *Page) Click(ctx context.Context, selector string, timeout time.Duration) error {
	ok, err := p.IsVisible(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("click %s: element not visible", selector)
	}

	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	hook := p.onClick[selector]
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	ok, err := p.IsVisible(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("fill %s: element not visible", selector)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills[selector] = value
	if e := p.elements[selector]; e != nil {
		e.Text = value
	}
	return nil
}

func (p *Page) SetInputFiles(ctx context.Context, selector string, files []string, timeout time.Duration) error {
	ok, err := p.IsAttached(ctx, selector, timeout)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("set input files on %s: element not attached", selector)
	}

	p.mu.Lock()
	p.files[selector] = append([]string(nil), files...)
	hook := p.onFiles[selector]
	p.mu.Unlock()

	if hook != nil {
		hook(p, files)
	}
	return nil
}

func (p *Page) Type(ctx context.Context, text string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.typed = append(p.typed, text)
	hook := p.onType
	p.mu.Unlock()

	if hook != nil {
		hook(p, text)
	}
	return nil
}

func (p *Page) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.keys = append(p.keys, key)
	hook := p.onKey
	p.mu.Unlock()

	if hook != nil {
		hook(p, key)
	}
	return nil
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Page) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

// waitFor evaluates match under the page lock until it holds, the page
// closes, or timeout passes.
func (p *Page) waitFor(ctx context.Context, timeout time.Duration, match func() bool) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		p.mu.Lock()
		closed := p.closed
		ok := !closed && match()
		p.mu.Unlock()

		if closed {
			return false, ErrClosed
		}
		if ok {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(pollStep)
	}
}

var _ browser.Page = (*Page)(nil)
