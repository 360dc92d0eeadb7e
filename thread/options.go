package thread

import (
	"context"
	"time"

	"github.com/NetPo4ki/isothread/attr"
	"github.com/NetPo4ki/isothread/isolate"
)

// Outcome is how a thread's entry function ended.
type Outcome int

const (
	Running Outcome = iota
	Completed
	Cancelled
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "running"
}

// Opener prepares a freshly allocated isolate before any value is
// transferred into it, e.g. by installing modules.
type Opener func(*isolate.Isolate) error

type Option func(*Options)

type Options struct {
	Observer   Observer
	MaxThreads int
	Openers    []Opener
	Isolate    isolate.Options
	Defaults   *attr.Thread
}

func defaultOptions() Options { return Options{} }

func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

// WithMaxThreads bounds the number of live threads; Spawn fails with EAGAIN
// beyond it.
func WithMaxThreads(n int) Option { return func(o *Options) { o.MaxThreads = n } }

func WithOpener(fn Opener) Option {
	return func(o *Options) { o.Openers = append(o.Openers, fn) }
}

func WithIsolateOptions(iso isolate.Options) Option { return func(o *Options) { o.Isolate = iso } }

// WithDefaults sets the attributes used by Spawn calls that pass none.
func WithDefaults(a *attr.Thread) Option { return func(o *Options) { o.Defaults = a } }

// Observer receives thread lifecycle events. The context is the one the
// thread was spawned with, minus its cancellation.
type Observer interface {
	ThreadStarted(ctx context.Context)
	ThreadFinished(ctx context.Context, dur time.Duration, outcome Outcome)
	ThreadJoined(ctx context.Context, wait time.Duration)
	ThreadCancelled(ctx context.Context)
}

// Observers fans events out to every non-nil observer in obs.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0]
	}
	return m
}

type multiObserver []Observer

func (m multiObserver) ThreadStarted(ctx context.Context) {
	for _, o := range m {
		o.ThreadStarted(ctx)
	}
}

func (m multiObserver) ThreadFinished(ctx context.Context, dur time.Duration, outcome Outcome) {
	for _, o := range m {
		o.ThreadFinished(ctx, dur, outcome)
	}
}

func (m multiObserver) ThreadJoined(ctx context.Context, wait time.Duration) {
	for _, o := range m {
		o.ThreadJoined(ctx, wait)
	}
}

func (m multiObserver) ThreadCancelled(ctx context.Context) {
	for _, o := range m {
		o.ThreadCancelled(ctx)
	}
}
