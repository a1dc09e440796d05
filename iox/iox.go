// Package iox provides I/O helpers for stream and response cleanup.
package iox

import "io"

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(stream)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DrainLimit bounds how many bytes DrainClose reads before closing.
// Error responses are small; anything beyond this is not worth reading
// just to keep the connection alive.
const DrainLimit = 4096

// DrainClose reads up to DrainLimit bytes from body and closes it.
// Draining before close lets the HTTP client reuse the underlying
// connection:
//
//	iox.DrainClose(resp.Body)
func DrainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, DrainLimit))
	_ = body.Close()
}
