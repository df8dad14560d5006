package api

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
)

const (
	formFileField = "file"
	formTextField = "textContent"

	// formOverhead is the room left for multipart boundaries and the text field on top of the file ceiling.
	formOverhead = 1 << 20
	// multipartMemory is how much of a multipart body is buffered in memory before spilling to disk.
	multipartMemory = 32 << 20

	octetStream = "application/octet-stream"
)

// allowedMIMETypes is the upload allow-list.
var allowedMIMETypes = map[string]bool{
	"application/pdf": true,
}

// input is a validated generation request body. Exactly one of File and Text is set.
type input struct {
	File *fileInput
	Text string
}

type fileInput struct {
	Name     string
	MIMEType string
	Data     []byte
}

// readInput parses and validates the multipart body.
func (h *Handler) readInput(c *gin.Context) (*input, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.settings.MaxFileBytes+formOverhead)

	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, badRequest(fmt.Sprintf("File must be smaller than %s", humanBytes(h.settings.MaxFileBytes)))
		case errors.Is(err, http.ErrNotMultipart):
			if err := c.Request.ParseForm(); err != nil {
				return nil, badRequest("Invalid form data")
			}
		default:
			return nil, badRequest("Invalid form data")
		}
	}

	text := c.Request.PostFormValue(formTextField)
	hasText := strings.TrimSpace(text) != ""

	var header *multipart.FileHeader
	if c.Request.MultipartForm != nil {
		if files := c.Request.MultipartForm.File[formFileField]; len(files) > 0 {
			header = files[0]
		}
	}

	switch {
	case header != nil && hasText:
		return nil, badRequest("Provide either a file or textContent, not both")
	case header == nil && !hasText:
		return nil, badRequest("Either a file or textContent is required")
	case hasText:
		if utf8.RuneCountInString(text) > h.settings.MaxTextChars {
			return nil, badRequest(fmt.Sprintf("textContent must be at most %d characters", h.settings.MaxTextChars))
		}
		return &input{Text: text}, nil
	}

	file, err := h.readFile(header)
	if err != nil {
		return nil, err
	}
	return &input{File: file}, nil
}

func (h *Handler) readFile(header *multipart.FileHeader) (*fileInput, error) {
	if header.Size == 0 {
		return nil, badRequest("Uploaded file is empty")
	}
	if header.Size > h.settings.MaxFileBytes {
		return nil, badRequest(fmt.Sprintf("File must be smaller than %s", humanBytes(h.settings.MaxFileBytes)))
	}

	mimeType, err := resolveMIMEType(header.Header.Get("Content-Type"), header.Filename)
	if err != nil {
		return nil, err
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("opening uploaded file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.settings.MaxFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading uploaded file: %w", err)
	}
	if int64(len(data)) > h.settings.MaxFileBytes {
		return nil, badRequest(fmt.Sprintf("File must be smaller than %s", humanBytes(h.settings.MaxFileBytes)))
	}
	if !mimetype.Detect(data).Is(mimeType) {
		return nil, badRequest("File content does not match its type")
	}

	return &fileInput{Name: filepath.Base(header.Filename), MIMEType: mimeType, Data: data}, nil
}

// resolveMIMEType picks the upload's MIME type from the declared content type,
// falling back to the filename extension when nothing specific was declared.
// An extension that maps to a known type must itself be allowed, whatever was declared.
func resolveMIMEType(declared, filename string) (string, error) {
	byExtension := ""
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		byExtension = normalizeMIMEType(mime.TypeByExtension(ext))
	}
	if byExtension != "" && !allowedMIMETypes[byExtension] {
		return "", badRequest(unsupportedTypeMessage())
	}

	resolved := normalizeMIMEType(declared)
	if resolved == "" || resolved == octetStream {
		resolved = byExtension
	}
	if resolved == "" {
		return "", badRequest("Could not determine the file type")
	}
	if !allowedMIMETypes[resolved] {
		return "", badRequest(unsupportedTypeMessage())
	}
	return resolved, nil
}

func normalizeMIMEType(v string) string {
	if v == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return strings.ToLower(mediaType)
}

func unsupportedTypeMessage() string {
	return "Unsupported file type, allowed: " + strings.Join(slices.Sorted(maps.Keys(allowedMIMETypes)), ", ")
}

func humanBytes(n int64) string {
	const mb = 1 << 20
	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
