package urltable

// sessionState is the lifecycle position of one read or write pass.
type sessionState int

const (
	stateUnopened sessionState = iota
	stateOpen
	stateFinished // end-of-stream hook fired
	stateReleased // released without the end-of-stream hook
	stateFailed
)

func (s sessionState) String() string {
	switch s {
	case stateUnopened:
		return "unopened"
	case stateOpen:
		return "open"
	case stateFinished:
		return "finished"
	case stateReleased:
		return "released"
	case stateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// lifecycle moves a session from unopened to open to finished, firing the
// start hook on the first transition and the end hook on the second. Each
// hook runs at most once; the methods below are the only way to change state.
//
// A lifecycle is not safe for concurrent use. Sessions are sequential.
type lifecycle struct {
	op    string
	state sessionState
	err   error
}

// begin runs start exactly once, on the first call from the unopened state.
// Later calls on an open session are no-ops.
func (l *lifecycle) begin(start func() error) error {
	switch l.state {
	case stateOpen:
		return nil
	case stateUnopened:
		if err := start(); err != nil {
			l.fail(err)
			return l.err
		}
		l.state = stateOpen
		return nil
	default:
		return l.terminalErr()
	}
}

// finish runs end exactly once and moves the session to finished. The
// session must be open.
func (l *lifecycle) finish(end func() error) error {
	if l.state == stateUnopened {
		return errorf(KindLifecycle, l.op, "session not open")
	}
	if l.state != stateOpen {
		return l.terminalErr()
	}
	if err := end(); err != nil {
		l.fail(err)
		return l.err
	}
	l.state = stateFinished
	return nil
}

// release marks a non-terminal session as released. It reports whether the
// state changed.
func (l *lifecycle) release() bool {
	if l.terminal() {
		return false
	}
	l.state = stateReleased
	return true
}

// fail records err and moves the session to failed.
func (l *lifecycle) fail(err error) {
	if l.state == stateFailed {
		return
	}
	l.state = stateFailed
	l.err = err
}

func (l *lifecycle) terminal() bool {
	return l.state == stateFinished || l.state == stateReleased || l.state == stateFailed
}

func (l *lifecycle) terminalErr() error {
	switch l.state {
	case stateFailed:
		return l.err
	case stateUnopened, stateOpen:
		return nil
	default:
		return &Error{Kind: KindLifecycle, Op: l.op, Err: ErrSessionClosed}
	}
}
