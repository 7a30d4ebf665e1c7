// Package export provides PDF export for documents via headless Chrome.
package export

import "errors"

// Request contains parameters for an export operation
type Request struct {
	// HTML is the rendered document body supplied by the editor client.
	HTML     string
	Filename string
	Title    string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
