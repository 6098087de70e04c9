package browsertest

import (
	"context"
	"sync"

	"github.com/shehryarbajwa/rednote-publisher/internal/browser"
)

// Launcher is a fake browser.Launcher that records every launch.
type Launcher struct {
	mu        sync.Mutex
	instances []*Instance
	options   []browser.LaunchOptions
	setup     func(*Page)
	err       error
	closed    bool
}

func NewLauncher() *Launcher {
	return &Launcher{}
}

// Setup registers fn to script every page the launcher creates.
func (l *Launcher) Setup(fn func(*Page)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setup = fn
}

// Fail makes subsequent launches return err.
func (l *Launcher) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.err != nil {
		err := l.err
		l.mu.Unlock()
		return nil, err
	}
	setup := l.setup
	l.mu.Unlock()

	page := NewPage()
	if setup != nil {
		setup(page)
	}
	inst := NewInstance(page)

	l.mu.Lock()
	l.instances = append(l.instances, inst)
	l.options = append(l.options, opts)
	l.mu.Unlock()
	return inst, nil
}

func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Launches returns how many instances were started.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.instances)
}

// Instances returns every launched instance in order.
func (l *Launcher) Instances() []*Instance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Instance(nil), l.instances...)
}

// Last returns the most recent instance, or nil.
func (l *Launcher) Last() *Instance {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.instances) == 0 {
		return nil
	}
	return l.instances[len(l.instances)-1]
}

// LastOptions returns the options of the most recent launch.
func (l *Launcher) LastOptions() browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.options) == 0 {
		return browser.LaunchOptions{}
	}
	return l.options[len(l.options)-1]
}

// Live counts instances that are still connected.
func (l *Launcher) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, inst := range l.instances {
		if inst.Connected() {
			n++
		}
	}
	return n
}

var _ browser.Launcher = (*Launcher)(nil)
