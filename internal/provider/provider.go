// Package provider is the boundary to the generative-AI service. Everything
// above it talks in these types and sees errors already classified as
// capacity or fatal.
package provider

import (
	"context"
	"errors"
)

// FileState is the processing state of an uploaded file.
type FileState int

const (
	FileStateUnknown FileState = iota
	FileStateProcessing
	FileStateActive
	FileStateFailed
)

func (s FileState) String() string {
	switch s {
	case FileStateProcessing:
		return "processing"
	case FileStateActive:
		return "active"
	case FileStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// File is a provider-side handle to an uploaded asset.
type File struct {
	Name     string
	URI      string
	MIMEType string
	State    FileState
	// Error carries the provider's failure message when State is FileStateFailed.
	Error string
}

// Part is either inline text or a reference to an uploaded file.
type Part struct {
	Text     string
	FileURI  string
	MIMEType string
}

// TextPart returns a Part carrying inline text.
func TextPart(text string) Part {
	return Part{Text: text}
}

// FilePart returns a Part referencing an active uploaded file.
func FilePart(f *File) Part {
	return Part{FileURI: f.URI, MIMEType: f.MIMEType}
}

// IsFile reports whether p references an uploaded file.
func (p Part) IsFile() bool {
	return p.FileURI != ""
}

// GenerateRequest is one generate-content call.
type GenerateRequest struct {
	Model             string
	SystemInstruction string
	Temperature       float32
	MaxOutputTokens   int32
	Parts             []Part
}

// ErrEmptyRequest is returned for a GenerateRequest without parts.
var ErrEmptyRequest = errors.New("generate request has no parts")

// Validate checks the request before it is sent.
func (r GenerateRequest) Validate() error {
	if len(r.Parts) == 0 {
		return ErrEmptyRequest
	}
	return nil
}

// UploadRequest is one file upload.
type UploadRequest struct {
	DisplayName string
	MIMEType    string
	Data        []byte
}

// Client is the contract required from the generative service. Every call is
// made with one explicit API key so the caller controls rotation. Returned
// errors are *Error values.
type Client interface {
	GenerateContent(ctx context.Context, apiKey string, req GenerateRequest) (string, error)
	UploadFile(ctx context.Context, apiKey string, req UploadRequest) (*File, error)
	GetFile(ctx context.Context, apiKey, name string) (*File, error)
}
