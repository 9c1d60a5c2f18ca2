package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/cardid/cardid/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeIdentifier struct {
	verdict domain.ScanVerdict
	err     error
	called  bool
	attempt int
}

func (f *fakeIdentifier) Identify(ctx context.Context, raw []byte, previousAttempt int) (domain.ScanVerdict, error) {
	f.called = true
	f.attempt = previousAttempt
	return f.verdict, f.err
}

type fakeSeeder struct {
	processed int
	generated int
	err       error
	setCode   string
}

func (f *fakeSeeder) SeedSet(ctx context.Context, setCode string) (int, int, error) {
	f.setCode = setCode
	return f.processed, f.generated, f.err
}

func newMultipartRequest(t *testing.T, fieldName, filename, contentType string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	mh := make(textproto.MIMEHeader)
	mh.Set("Content-Disposition", `form-data; name="`+fieldName+`"; filename="`+filename+`"`)
	if contentType != "" {
		mh.Set("Content-Type", contentType)
	}

	part, err := w.CreatePart(mh)
	if err != nil {
		t.Fatalf("failed building multipart part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed writing multipart content: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/scanner/identify", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestIdentify_MissingFileReturns400(t *testing.T) {
	h := NewScannerHandler(&fakeIdentifier{}, &fakeSeeder{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/scanner/identify", bytes.NewReader(nil))
	c.Request.Header.Set("Content-Type", "multipart/form-data; boundary=x")

	h.Identify(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestIdentify_EmptyFileReturns400(t *testing.T) {
	h := NewScannerHandler(&fakeIdentifier{}, &fakeSeeder{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newMultipartRequest(t, "file", "card.jpg", "image/jpeg", []byte{})

	h.Identify(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestIdentify_OversizedFileReturns413(t *testing.T) {
	h := NewScannerHandler(&fakeIdentifier{}, &fakeSeeder{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newMultipartRequest(t, "file", "card.jpg", "image/jpeg", bytes.Repeat([]byte{0xAB}, maxUploadBytes+1))

	h.Identify(c)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestIdentify_UnsupportedContentTypeReturns400(t *testing.T) {
	h := NewScannerHandler(&fakeIdentifier{}, &fakeSeeder{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newMultipartRequest(t, "file", "card.gif", "image/gif", []byte("not really a gif"))

	h.Identify(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestIdentify_PipelineErrorReturns500(t *testing.T) {
	fake := &fakeIdentifier{err: errors.New("boom")}
	h := NewScannerHandler(fake, &fakeSeeder{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newMultipartRequest(t, "file", "card.jpg", "image/jpeg", []byte("fake-image-bytes"))

	h.Identify(c)

	if !fake.called {
		t.Fatal("expected pipeline.Identify to be called")
	}
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestIdentify_SuccessReturns200WithExpectedShape(t *testing.T) {
	card := &domain.CardRef{OracleID: "abc", Name: "Llanowar Elves", SetCode: "m11", CollectorNumber: "182"}
	fake := &fakeIdentifier{
		verdict: domain.ScanVerdict{
			Status:          domain.StatusConfirmed,
			Confidence:      domain.ConfidenceHigh,
			ConfidenceScore: 0.97,
			DetectionMethod: domain.MethodOCRAndVector,
			Attempt:         2,
			Card:            card,
			Alternatives:    nil,
		},
	}
	h := NewScannerHandler(fake, &fakeSeeder{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newMultipartRequest(t, "file", "card.jpg", "image/jpeg", []byte("fake-image-bytes"))
	c.Request.URL.RawQuery = "attempt=2"

	h.Identify(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if fake.attempt != 2 {
		t.Errorf("attempt passed to pipeline = %d, want 2", fake.attempt)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	for _, field := range []string{"status", "confidence", "confidenceScore", "detectionMethod", "processingTimeMs", "rescanAttempt", "card", "alternativeCandidates"} {
		if _, ok := body[field]; !ok {
			t.Errorf("response missing field %q: %v", field, body)
		}
	}
	if body["status"] != "confirmed" {
		t.Errorf("status = %v, want confirmed", body["status"])
	}
	if body["rescanAttempt"] != float64(2) {
		t.Errorf("rescanAttempt = %v, want 2", body["rescanAttempt"])
	}
}

func TestSeed_EmptySetCodeReturns400(t *testing.T) {
	h := NewScannerHandler(&fakeIdentifier{}, &fakeSeeder{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/scanner/seed/", nil)
	c.Params = gin.Params{{Key: "setCode", Value: ""}}

	h.Seed(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSeed_IngestorErrorReturns500(t *testing.T) {
	fake := &fakeSeeder{err: errors.New("upstream down")}
	h := NewScannerHandler(&fakeIdentifier{}, fake)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/scanner/seed/m11", nil)
	c.Params = gin.Params{{Key: "setCode", Value: "m11"}}

	h.Seed(c)

	if fake.setCode != "m11" {
		t.Errorf("setCode passed to ingestor = %q, want m11", fake.setCode)
	}
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestSeed_SuccessReturns200(t *testing.T) {
	fake := &fakeSeeder{processed: 250, generated: 10}
	h := NewScannerHandler(&fakeIdentifier{}, fake)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/scanner/seed/m11", nil)
	c.Params = gin.Params{{Key: "setCode", Value: "m11"}}

	h.Seed(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body["cardsProcessed"] != float64(250) {
		t.Errorf("cardsProcessed = %v, want 250", body["cardsProcessed"])
	}
	if body["embeddingsGenerated"] != float64(10) {
		t.Errorf("embeddingsGenerated = %v, want 10", body["embeddingsGenerated"])
	}
}
