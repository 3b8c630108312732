package logx

import (
	"fmt"
	"sync"
	"time"
)

// Throttled wraps a Logger, limiting each distinct message type (the key
// passed to Allow) to at most one emitted line per Window. Suppressed
// messages are counted; the count is attached, as the throttled_prior_count
// field, to the next line of that type that is allowed through. No separate
// summary line is emitted.
type Throttled struct {
	logger Logger
	window time.Duration

	mu    sync.Mutex
	state map[string]*throttleState
}

type throttleState struct {
	lastEmit   time.Time
	suppressed uint64
}

// NewThrottled constructs a Throttled logger with the given per-type window.
// A non-positive window disables throttling (every call passes through).
func NewThrottled(logger Logger, window time.Duration) *Throttled {
	if logger == nil {
		panic(`logx: nil Logger`)
	}
	return &Throttled{
		logger: logger,
		window: window,
		state:  make(map[string]*throttleState),
	}
}

// Allow reports whether a message of the given type should be emitted now,
// per the configured window. When it returns false, the caller should skip
// logging; the suppression is recorded and folded into the next allowed
// line for msgType.
func (x *Throttled) Allow(msgType string, now time.Time) (logger Logger, ok bool) {
	if x.window <= 0 {
		return x.logger, true
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	st, found := x.state[msgType]
	if !found {
		st = &throttleState{}
		x.state[msgType] = st
	}

	if found && now.Sub(st.lastEmit) < x.window {
		st.suppressed++
		return nil, false
	}

	suppressed := st.suppressed
	st.suppressed = 0
	st.lastEmit = now

	logger = x.logger
	if suppressed > 0 {
		logger = logger.WithField(`throttled_prior_count`, suppressed)
	}
	return logger, true
}

// Log emits a message of the given type through the throttle, formatting
// args the way fmt.Sprint does. When earlier messages of msgType were
// suppressed, the emitted line carries their count in the
// throttled_prior_count field.
func (x *Throttled) Log(level LogLevel, msgType string, now time.Time, args ...any) {
	logger, ok := x.Allow(msgType, now)
	if !ok {
		return
	}
	switch level {
	case LevelDebug:
		logger.Debug(args...)
	case LevelWarn:
		logger.Warn(args...)
	case LevelError:
		logger.Error(args...)
	default:
		logger.Info(args...)
	}
}

// LogLevel is the severity passed to Throttled.Log.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return `debug`
	case LevelWarn:
		return `warn`
	case LevelError:
		return `error`
	default:
		return fmt.Sprintf(`info(%d)`, int(l))
	}
}
