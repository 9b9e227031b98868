// Package loader turns uploaded files into plain text plus whatever
// bibliographic metadata the file format carries.
package loader

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedFile is returned for file types no loader handles.
	ErrUnsupportedFile = errors.New("unsupported file type")
	// ErrNoText is returned when a file contains no extractable text.
	ErrNoText = errors.New("no extractable text")
)

// FileType groups file extensions handled by the same loader.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeText FileType = "text"
)

// Metadata is the document information embedded in a file. Fields the file
// does not carry are left empty.
type Metadata struct {
	Title           string
	Authors         []string
	Subject         string
	Keywords        string
	PublicationDate string
	PageCount       int
}

// Document is the result of loading a file.
type Document struct {
	Text     string
	Metadata Metadata
}

// Loader extracts text from the raw bytes of a file.
type Loader interface {
	Load(ctx context.Context, filename string, content []byte) (Document, error)
}

// FileTypeOf maps a filename to the loader family that reads it.
func FileTypeOf(filename string) (FileType, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FileTypePDF, nil
	case ".txt", ".md", ".markdown":
		return FileTypeText, nil
	}
	return "", ErrUnsupportedFile
}

// Registry dispatches files to loaders by type.
type Registry struct {
	loaders map[FileType]Loader
}

func NewRegistry(loaders map[FileType]Loader) *Registry {
	r := &Registry{loaders: make(map[FileType]Loader, len(loaders)+1)}
	r.loaders[FileTypeText] = TextLoader{}
	for t, l := range loaders {
		r.loaders[t] = l
	}
	return r
}

func (r *Registry) Load(ctx context.Context, filename string, content []byte) (Document, error) {
	t, err := FileTypeOf(filename)
	if err != nil {
		return Document{}, err
	}
	l, ok := r.loaders[t]
	if !ok {
		return Document{}, ErrUnsupportedFile
	}
	return l.Load(ctx, filename, content)
}

// TextLoader reads UTF-8 text files. Invalid byte sequences are dropped.
type TextLoader struct{}

func (TextLoader) Load(ctx context.Context, filename string, content []byte) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	text = strings.TrimPrefix(text, "\ufeff")
	if strings.TrimSpace(text) == "" {
		return Document{}, ErrNoText
	}
	return Document{Text: text}, nil
}
