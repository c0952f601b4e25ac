// Package visual renders compiled PDFs to page images and checks them for
// rendering defects, both deterministically and with a vision model.
package visual

import "fmt"

// RasterError reports a failure turning a PDF into page images
type RasterError struct {
	Page    int
	Message string
	Cause   error
}

func (e *RasterError) Error() string {
	msg := "raster error: " + e.Message
	if e.Page > 0 {
		msg = fmt.Sprintf("raster error: page %d: %s", e.Page, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RasterError) Unwrap() error {
	return e.Cause
}
