package loader

import (
	"context"
	"errors"
	"testing"
)

func TestFileTypeOf(t *testing.T) {
	tests := []struct {
		name    string
		want    FileType
		wantErr bool
	}{
		{"paper.pdf", FileTypePDF, false},
		{"PAPER.PDF", FileTypePDF, false},
		{"notes.txt", FileTypeText, false},
		{"README.md", FileTypeText, false},
		{"slides.pptx", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FileTypeOf(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FileTypeOf() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FileTypeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	doc, err := r.Load(ctx, "a.txt", []byte("\ufeffhello \xffworld"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc.Text != "hello world" {
		t.Errorf("Text = %q", doc.Text)
	}

	if _, err := r.Load(ctx, "a.pdf", []byte("%PDF")); !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("pdf without loader: error = %v", err)
	}
	if _, err := r.Load(ctx, "a.docx", nil); !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("docx: error = %v", err)
	}
	if _, err := r.Load(ctx, "blank.txt", []byte(" \n\t")); !errors.Is(err, ErrNoText) {
		t.Errorf("blank text: error = %v", err)
	}
}
