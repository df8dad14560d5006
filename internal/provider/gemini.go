package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ErrEmptyResponse is returned when the model answered without any text.
var ErrEmptyResponse = errors.New("model returned no text")

// Gemini implements Client on top of the generative-ai-go SDK. One SDK client
// is kept per API key and reused across requests.
type Gemini struct {
	opts []option.ClientOption

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGemini creates a Gemini client. opts are applied to every per-key SDK client.
func NewGemini(opts ...option.ClientOption) *Gemini {
	return &Gemini{
		opts:    opts,
		clients: make(map[string]*genai.Client),
	}
}

func (g *Gemini) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, g.opts...)
	// The SDK client outlives the request that created it.
	c, err := genai.NewClient(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, err
	}
	g.clients[apiKey] = c
	return c, nil
}

func (g *Gemini) GenerateContent(ctx context.Context, apiKey string, req GenerateRequest) (string, error) {
	const op = "generate content"
	if err := req.Validate(); err != nil {
		return "", &Error{Kind: KindFatal, Op: op, Err: err}
	}
	c, err := g.client(ctx, apiKey)
	if err != nil {
		return "", Classify(op, err)
	}

	model := c.GenerativeModel(req.Model)
	if req.SystemInstruction != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.SystemInstruction))
	}
	if req.Temperature > 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(req.MaxOutputTokens)
	}

	resp, err := model.GenerateContent(ctx, toGenaiParts(req.Parts)...)
	if err != nil {
		return "", Classify(op, err)
	}
	text, err := responseText(resp)
	if err != nil {
		return "", &Error{Kind: KindFatal, Op: op, Err: err}
	}
	return text, nil
}

func (g *Gemini) UploadFile(ctx context.Context, apiKey string, req UploadRequest) (*File, error) {
	const op = "upload file"
	c, err := g.client(ctx, apiKey)
	if err != nil {
		return nil, Classify(op, err)
	}
	f, err := c.UploadFile(ctx, "", bytes.NewReader(req.Data), &genai.UploadFileOptions{
		DisplayName: req.DisplayName,
		MIMEType:    req.MIMEType,
	})
	if err != nil {
		return nil, Classify(op, err)
	}
	return fromGenaiFile(f), nil
}

func (g *Gemini) GetFile(ctx context.Context, apiKey, name string) (*File, error) {
	const op = "get file"
	c, err := g.client(ctx, apiKey)
	if err != nil {
		return nil, Classify(op, err)
	}
	f, err := c.GetFile(ctx, name)
	if err != nil {
		return nil, Classify(op, err)
	}
	return fromGenaiFile(f), nil
}

// Close releases every SDK client.
func (g *Gemini) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for key, c := range g.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(g.clients, key)
	}
	return errors.Join(errs...)
}

func toGenaiParts(parts []Part) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.IsFile() {
			out = append(out, genai.FileData{MIMEType: p.MIMEType, URI: p.FileURI})
			continue
		}
		out = append(out, genai.Text(p.Text))
	}
	return out
}

func fromGenaiFile(f *genai.File) *File {
	out := &File{
		Name:     f.Name,
		URI:      f.URI,
		MIMEType: f.MIMEType,
	}
	switch f.State {
	case genai.FileStateProcessing:
		out.State = FileStateProcessing
	case genai.FileStateActive:
		out.State = FileStateActive
	case genai.FileStateFailed:
		out.State = FileStateFailed
	default:
		out.State = FileStateUnknown
	}
	if f.Error != nil {
		out.Error = fmt.Sprint(f.Error)
	}
	return out
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			return sb.String(), nil
		}
	}
	return "", ErrEmptyResponse
}
