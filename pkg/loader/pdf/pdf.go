package pdf

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/OFFIS-RIT/scholargraph/pkg/loader"
	"github.com/OFFIS-RIT/scholargraph/pkg/logger"

	lpdf "github.com/ledongthuc/pdf"
	"golang.org/x/sync/singleflight"
)

// PDFLoader extracts text and document information from PDF files.
// Concurrent loads of identical content are parsed once.
type PDFLoader struct {
	pdftotext bool
	group     singleflight.Group
}

type PDFLoaderOption func(*PDFLoader)

// WithPDFToText enables the pdftotext command as a fallback for files the
// native parser cannot read.
func WithPDFToText(enabled bool) PDFLoaderOption {
	return func(l *PDFLoader) {
		l.pdftotext = enabled
	}
}

func NewPDFLoader(opts ...PDFLoaderOption) *PDFLoader {
	l := &PDFLoader{}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load parses content as a PDF.
func (l *PDFLoader) Load(ctx context.Context, filename string, content []byte) (loader.Document, error) {
	sum := md5.Sum(content)
	key := hex.EncodeToString(sum[:])

	res, err, _ := l.group.Do(key, func() (any, error) {
		return l.load(ctx, content)
	})
	if err != nil {
		return loader.Document{}, fmt.Errorf("load pdf %s: %w", filename, err)
	}
	return res.(loader.Document), nil
}

func (l *PDFLoader) load(ctx context.Context, content []byte) (loader.Document, error) {
	doc, err := parseNative(content)
	if err == nil && strings.TrimSpace(doc.Text) != "" {
		return doc, nil
	}
	if !l.pdftotext {
		if err == nil {
			err = loader.ErrNoText
		}
		return loader.Document{}, err
	}

	logger.Debug("[Loader] Falling back to pdftotext", "err", err)
	text, ferr := parsePDFToText(ctx, content)
	if ferr != nil {
		return loader.Document{}, fmt.Errorf("native: %v, pdftotext: %w", err, ferr)
	}
	if strings.TrimSpace(text) == "" {
		return loader.Document{}, loader.ErrNoText
	}
	doc.Text = text
	return doc, nil
}

// parseNative reads the text layer and the Info dictionary. The parser
// panics on some malformed files, which is reported as an error.
func parseNative(content []byte) (doc loader.Document, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	r, err := lpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return loader.Document{}, err
	}
	doc.Metadata = readInfo(r)

	plain, err := r.GetPlainText()
	if err != nil {
		return doc, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return doc, err
	}
	doc.Text = buf.String()
	return doc, nil
}

func readInfo(r *lpdf.Reader) loader.Metadata {
	info := r.Trailer().Key("Info")
	md := loader.Metadata{
		Title:           strings.TrimSpace(info.Key("Title").Text()),
		Subject:         strings.TrimSpace(info.Key("Subject").Text()),
		Keywords:        strings.TrimSpace(info.Key("Keywords").Text()),
		PublicationDate: parsePDFDate(info.Key("CreationDate").Text()),
		PageCount:       r.NumPage(),
	}
	if author := strings.TrimSpace(info.Key("Author").Text()); author != "" {
		md.Authors = splitAuthors(author)
	}
	return md
}

// splitAuthors splits an Author entry on the separators commonly used by
// authoring tools.
func splitAuthors(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ',' })
	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		f = strings.TrimPrefix(f, "and ")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// parsePDFDate turns "D:YYYYMMDDHHmmSS..." into YYYY-MM-DD, YYYY-MM or YYYY
// depending on how much of the date is present.
func parsePDFDate(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	digits := 0
	for digits < len(s) && digits < 8 && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	switch {
	case digits >= 8:
		return s[:4] + "-" + s[4:6] + "-" + s[6:8]
	case digits >= 6:
		return s[:4] + "-" + s[4:6]
	case digits >= 4:
		return s[:4]
	}
	return ""
}

var _ loader.Loader = (*PDFLoader)(nil)
