package export

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Document v1.2", "My-Document-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "document"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},       // Spaces encoded as %20, not +
		{"test+sign", "test%2Bsign"},           // + signs are encoded
		{"special<>", "special%3C%3E"},         // Special chars encoded
		{"normal-text.txt", "normal-text.txt"}, // Unreserved chars pass through
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

type fakeArchiver struct {
	objects map[string][]byte
	fail    bool
}

func (f *fakeArchiver) Archive(_ context.Context, objectName string, data []byte, _ string) error {
	if f.fail {
		return errors.New("storage down")
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[objectName] = data
	return nil
}

func stubRender(html, filename string) (*Result, error) {
	return &Result{
		Data:     []byte("%PDF-1.4 " + html),
		Filename: sanitizeFilename(filename) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}

func TestExportPDFEmptyHTML(t *testing.T) {
	svc := NewService(nil)
	svc.render = stubRender

	_, err := svc.ExportPDF(context.Background(), Request{HTML: "   "})
	if !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
}

func TestExportPDFArchives(t *testing.T) {
	archiver := &fakeArchiver{}
	svc := NewService(archiver)
	svc.render = stubRender

	result, err := svc.ExportPDF(context.Background(), Request{
		HTML:     "<p>body</p>",
		Filename: "report.txt",
	})
	if err != nil {
		t.Fatalf("ExportPDF failed: %v", err)
	}
	if result.Filename != "reporttxt.pdf" {
		t.Errorf("unexpected filename: %s", result.Filename)
	}
	if result.MimeType != "application/pdf" {
		t.Errorf("unexpected mime type: %s", result.MimeType)
	}
	if len(archiver.objects) != 1 {
		t.Fatalf("expected 1 archived object, got %d", len(archiver.objects))
	}
	for name := range archiver.objects {
		if !strings.HasSuffix(name, "/reporttxt.pdf") {
			t.Errorf("unexpected object name: %s", name)
		}
	}
}

func TestExportPDFArchiveFailureIsNotFatal(t *testing.T) {
	svc := NewService(&fakeArchiver{fail: true})
	svc.render = stubRender

	result, err := svc.ExportPDF(context.Background(), Request{HTML: "<p>x</p>", Title: "Notes"})
	if err != nil {
		t.Fatalf("ExportPDF failed: %v", err)
	}
	if len(result.Data) == 0 {
		t.Error("expected pdf data despite archive failure")
	}
}

func TestExportPDFFallsBackToTitle(t *testing.T) {
	svc := NewService(nil)
	svc.render = stubRender

	result, err := svc.ExportPDF(context.Background(), Request{HTML: "<p>x</p>", Title: "My Notes"})
	if err != nil {
		t.Fatalf("ExportPDF failed: %v", err)
	}
	if result.Filename != "My-Notes.pdf" {
		t.Errorf("unexpected filename: %s", result.Filename)
	}
}
