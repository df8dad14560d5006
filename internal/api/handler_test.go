package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubuygold/studygen/internal/auth"
	"github.com/ubuygold/studygen/internal/config"
	"github.com/ubuygold/studygen/internal/db"
	"github.com/ubuygold/studygen/internal/failover"
	"github.com/ubuygold/studygen/internal/ingest"
	"github.com/ubuygold/studygen/internal/keypool"
	"github.com/ubuygold/studygen/internal/logger"
	"github.com/ubuygold/studygen/internal/model"
	"github.com/ubuygold/studygen/internal/provider"
	"github.com/ubuygold/studygen/internal/quota"
)

const (
	testSecret = "test-secret"
	testUser   = "student-1"
	cardsJSON  = `Sure, here you go:
[{"term":"A","definition":"B"}]
Hope that helps!`
	pdfBytes = "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n"
)

// fakeClient is an in-memory provider.Client.
type fakeClient struct {
	mu sync.Mutex

	answer       string
	generateErrs map[string][]error
	generateReqs []provider.GenerateRequest
	generateKeys []string

	uploadErrs  map[string][]error
	uploadKeys  []string
	uploads     []provider.UploadRequest
	fileStates  []provider.FileState
	getFileKeys []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		answer:       cardsJSON,
		generateErrs: map[string][]error{},
		uploadErrs:   map[string][]error{},
	}
}

func pop(m map[string][]error, key string) error {
	queue := m[key]
	if len(queue) == 0 {
		return nil
	}
	m[key] = queue[1:]
	return queue[0]
}

func (f *fakeClient) GenerateContent(_ context.Context, apiKey string, req provider.GenerateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateKeys = append(f.generateKeys, apiKey)
	if err := pop(f.generateErrs, apiKey); err != nil {
		return "", err
	}
	f.generateReqs = append(f.generateReqs, req)
	return f.answer, nil
}

func (f *fakeClient) UploadFile(_ context.Context, apiKey string, req provider.UploadRequest) (*provider.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadKeys = append(f.uploadKeys, apiKey)
	if err := pop(f.uploadErrs, apiKey); err != nil {
		return nil, err
	}
	f.uploads = append(f.uploads, req)
	return &provider.File{Name: "files/upload", URI: "https://files/upload", MIMEType: req.MIMEType, State: provider.FileStateProcessing}, nil
}

func (f *fakeClient) GetFile(_ context.Context, apiKey, name string) (*provider.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getFileKeys = append(f.getFileKeys, apiKey)
	state := provider.FileStateProcessing
	if len(f.fileStates) > 0 {
		state = f.fileStates[0]
		f.fileStates = f.fileStates[1:]
	}
	return &provider.File{Name: name, URI: "https://files/upload", MIMEType: "application/pdf", State: state}, nil
}

type testEnv struct {
	router *gin.Engine
	client *fakeClient
	db     db.Service
	token  string
}

type envOptions struct {
	keys  []string
	limit int
}

func setupEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if opts.keys == nil {
		opts.keys = []string{"key-one", "key-two", "key-three"}
	}
	if opts.limit == 0 {
		opts.limit = 10
	}

	dbService, err := db.NewService(config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	t.Cleanup(func() { dbService.Close() })

	log := logger.Discard()
	client := newFakeClient()
	pool := keypool.New(opts.keys)
	ledger := quota.NewLedger(quota.NewDatabaseStore(dbService), dbService, opts.limit, log)
	invoker := failover.New(pool, client, time.Millisecond, log)
	poller := ingest.NewPoller(client, time.Millisecond, 5, log)

	handler := NewHandler(pool, ledger, invoker, poller, Settings{
		Model:           "gemini-test",
		Temperature:     0.2,
		MaxOutputTokens: 1024,
		MaxFileBytes:    1 << 20,
		MaxTextChars:    100,
	}, log)

	router := gin.New()
	router.Use(RequestID())
	SetupRoutes(router, handler, auth.IdentityMiddleware(testSecret, log))

	token, err := auth.IssueToken(testSecret, testUser, time.Hour)
	require.NoError(t, err)

	return &testEnv{router: router, client: client, db: dbService, token: token}
}

type testFile struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, text *string, file *testFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if text != nil {
		require.NoError(t, writer.WriteField("textContent", *text))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, file.name))
		if file.contentType != "" {
			h.Set("Content-Type", file.contentType)
		}
		part, err := writer.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func (e *testEnv) post(t *testing.T, path string, text *string, file *testFile) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, text, file)
	req, _ := http.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) usage(t *testing.T) int {
	t.Helper()
	counter, err := e.db.GetUsage(context.Background(), testUser, model.DayOf(time.Now()))
	require.NoError(t, err)
	return counter.Count
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func ptr(s string) *string { return &s }

func TestGenerateCards_Text(t *testing.T) {
	env := setupEnv(t, envOptions{})

	rr := env.post(t, "/api/generate-cards", ptr("Photosynthesis converts light into chemical energy."), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Cards     []map[string]string `json:"cards"`
		Remaining int                 `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []map[string]string{{"term": "A", "definition": "B"}}, resp.Cards)
	assert.Equal(t, 9, resp.Remaining)
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))

	require.Len(t, env.client.generateReqs, 1)
	req := env.client.generateReqs[0]
	assert.Equal(t, "gemini-test", req.Model)
	assert.NotEmpty(t, req.SystemInstruction)
	require.Len(t, req.Parts, 2)
	assert.Equal(t, "Photosynthesis converts light into chemical energy.", req.Parts[0].Text)
	assert.False(t, req.Parts[0].IsFile())
	assert.Empty(t, env.client.uploadKeys)
}

func TestGenerateReviewer(t *testing.T) {
	env := setupEnv(t, envOptions{})
	env.client.answer = `[{"title":"Cells","content":"The basic unit of life."}]`

	rr := env.post(t, "/api/generate-reviewer", ptr("Cells are the basic unit of life."), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decode(t, rr)
	sections, ok := resp["sections"].([]any)
	require.True(t, ok)
	require.Len(t, sections, 1)
	assert.Equal(t, "Cells", sections[0].(map[string]any)["title"])
}

func TestGenerateCards_NoKeysConfigured(t *testing.T) {
	env := setupEnv(t, envOptions{keys: []string{}})

	rr := env.post(t, "/api/generate-cards", ptr("some text"), nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "No Gemini API keys configured", decode(t, rr)["error"])
	assert.Equal(t, 0, env.usage(t), "an unconfigured pool must not consume quota")
}

func TestGenerateCards_RequiresIdentity(t *testing.T) {
	env := setupEnv(t, envOptions{})
	env.token = ""

	rr := env.post(t, "/api/generate-cards", ptr("some text"), nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, env.client.generateKeys)
}

func TestGenerateCards_QuotaExceeded(t *testing.T) {
	env := setupEnv(t, envOptions{limit: 1})

	rr := env.post(t, "/api/generate-cards", ptr("first"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 0, decode(t, rr)["remaining"])

	rr = env.post(t, "/api/generate-cards", ptr("second"), nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	resp := decode(t, rr)
	assert.NotEmpty(t, resp["error"])
	assert.EqualValues(t, 0, resp["remaining"])
	resetAt, err := time.Parse(time.RFC3339, resp["resetAt"].(string))
	require.NoError(t, err)
	assert.Equal(t, quota.NextReset(time.Now()), resetAt.UTC())

	assert.Len(t, env.client.generateKeys, 1, "a denied request must not reach the provider")
}

func TestGenerateCards_InputValidation(t *testing.T) {
	testCases := []struct {
		name string
		text *string
		file *testFile
		want int
	}{
		{"neither file nor text", nil, nil, http.StatusBadRequest},
		{"blank text", ptr("   "), nil, http.StatusBadRequest},
		{"both file and text", ptr("text"), &testFile{name: "notes.pdf", contentType: "application/pdf", data: []byte(pdfBytes)}, http.StatusBadRequest},
		{"text over the ceiling", ptr(strings.Repeat("a", 101)), nil, http.StatusBadRequest},
		{"text at the ceiling", ptr(strings.Repeat("é", 100)), nil, http.StatusOK},
		{"png named file", nil, &testFile{name: "image.png", contentType: "application/pdf", data: []byte(pdfBytes)}, http.StatusBadRequest},
		{"declared png", nil, &testFile{name: "scan", contentType: "image/png", data: []byte(pdfBytes)}, http.StatusBadRequest},
		{"unknown type", nil, &testFile{name: "notes", data: []byte(pdfBytes)}, http.StatusBadRequest},
		{"empty file", nil, &testFile{name: "notes.pdf", contentType: "application/pdf", data: []byte{}}, http.StatusBadRequest},
		{"content is not a pdf", nil, &testFile{name: "notes.pdf", contentType: "application/pdf", data: []byte("just some text")}, http.StatusBadRequest},
		{"file over the ceiling", nil, &testFile{name: "notes.pdf", contentType: "application/pdf", data: append([]byte(pdfBytes), make([]byte, 1<<20)...)}, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := setupEnv(t, envOptions{})
			env.client.fileStates = []provider.FileState{provider.FileStateActive}

			rr := env.post(t, "/api/generate-cards", tc.text, tc.file)
			assert.Equal(t, tc.want, rr.Code, rr.Body.String())
			if tc.want == http.StatusBadRequest {
				assert.NotEmpty(t, decode(t, rr)["error"])
				assert.Empty(t, env.client.generateKeys)
			}
			// Quota is charged before validation, so rejected requests still count.
			assert.Equal(t, 1, env.usage(t))
		})
	}
}

func TestGenerateCards_File(t *testing.T) {
	env := setupEnv(t, envOptions{})
	env.client.uploadErrs["key-one"] = []error{&provider.Error{Kind: provider.KindCapacity, Op: "upload file", Err: errors.New("429")}}
	env.client.fileStates = []provider.FileState{provider.FileStateProcessing, provider.FileStateProcessing, provider.FileStateActive}

	rr := env.post(t, "/api/generate-cards", nil, &testFile{name: "notes.pdf", data: []byte(pdfBytes)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.Len(t, env.client.uploads, 1)
	assert.Equal(t, "application/pdf", env.client.uploads[0].MIMEType)
	assert.Equal(t, "notes.pdf", env.client.uploads[0].DisplayName)
	assert.Equal(t, []string{"key-two", "key-two", "key-two"}, env.client.getFileKeys, "the file is polled with the key that uploaded it")

	require.Len(t, env.client.generateReqs, 1)
	part := env.client.generateReqs[0].Parts[0]
	assert.True(t, part.IsFile())
	assert.Equal(t, "https://files/upload", part.FileURI)
}

func TestGenerateCards_FileProcessingFailed(t *testing.T) {
	env := setupEnv(t, envOptions{})
	env.client.fileStates = []provider.FileState{provider.FileStateProcessing, provider.FileStateFailed}

	rr := env.post(t, "/api/generate-cards", nil, &testFile{name: "notes.pdf", contentType: "application/pdf", data: []byte(pdfBytes)})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, msgFileFailed, decode(t, rr)["error"])
	assert.Empty(t, env.client.generateKeys, "generation must not start for a failed file")
}

func TestGenerateCards_FileIngestionTimedOut(t *testing.T) {
	env := setupEnv(t, envOptions{})

	rr := env.post(t, "/api/generate-cards", nil, &testFile{name: "notes.pdf", contentType: "application/pdf", data: []byte(pdfBytes)})
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
	assert.Empty(t, env.client.generateKeys)
}

func TestGenerateCards_ParseFailure(t *testing.T) {
	env := setupEnv(t, envOptions{})
	env.client.answer = "I could not find any terms."

	rr := env.post(t, "/api/generate-cards", ptr("some text"), nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Failed to parse AI response", decode(t, rr)["error"])
	assert.Equal(t, 1, env.usage(t))
}

func TestGenerateCards_AllKeysExhausted(t *testing.T) {
	env := setupEnv(t, envOptions{keys: []string{"key-one", "key-two"}})
	capacity := &provider.Error{Kind: provider.KindCapacity, Op: "generate content", Err: errors.New("quota exceeded for key-one")}
	env.client.generateErrs["key-one"] = []error{capacity, capacity}
	env.client.generateErrs["key-two"] = []error{capacity, capacity}

	rr := env.post(t, "/api/generate-cards", ptr("some text"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, msgBusy, decode(t, rr)["error"])
	assert.Len(t, env.client.generateKeys, 4)
}

func TestGenerateCards_FatalProviderErrorIsSanitized(t *testing.T) {
	env := setupEnv(t, envOptions{})
	env.client.generateErrs["key-one"] = []error{&provider.Error{Kind: provider.KindFatal, Op: "generate content", Err: errors.New("API key key-one not valid")}}

	rr := env.post(t, "/api/generate-cards", ptr("some text"), nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, msgGenerateFailed, decode(t, rr)["error"])
	assert.NotContains(t, rr.Body.String(), "key-one")
	assert.Equal(t, []string{"key-one"}, env.client.generateKeys)
}

func TestGenerateCards_MethodNotAllowed(t *testing.T) {
	env := setupEnv(t, envOptions{})

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		req, _ := http.NewRequest(method, "/api/generate-cards", nil)
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, method)
	}
}

func TestHealth(t *testing.T) {
	env := setupEnv(t, envOptions{})

	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "req-123", rr.Header().Get(RequestIDHeader))
	resp := decode(t, rr)
	assert.Equal(t, "ok", resp["status"])
	assert.EqualValues(t, 3, resp["keys"])
}
