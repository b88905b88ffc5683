package urltable

import "io"

// drainLimit bounds how much of an unread response body drainClose discards
// before closing it. Bodies longer than this are closed without draining and
// their connection is not reused.
const drainLimit = 64 << 10

// closer returns a function that closes c and ignores the error, for use with
// defer on pipe ends and error-path response bodies.
func closer(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// drainClose discards up to drainLimit bytes of rc and closes it, so the HTTP
// client can return the connection to its pool.
func drainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, drainLimit))
	_ = rc.Close()
}
