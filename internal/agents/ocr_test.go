package agents

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"labpipe/internal/domain"
	"labpipe/internal/kinderrors"
)

func TestOCRAgentExtractTextHappyPath(t *testing.T) {
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake-png-bytes"))
	}))
	defer imageServer.Close()

	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hemoglobin 14.5 g/dL (13.5-17.5)"}}]}`))
	}))
	defer llmServer.Close()

	llm := NewLLMClient(llmServer.URL, "key")
	ocr := NewOCRAgent(llm, "vision-model")

	text, err := ocr.ExtractText(context.Background(), imageServer.URL, domain.MimePNG)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "Hemoglobin 14.5 g/dL (13.5-17.5)" {
		t.Errorf("text = %q", text)
	}
}

func TestOCRAgentDownload5xxIsTransient(t *testing.T) {
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer imageServer.Close()

	ocr := NewOCRAgent(NewLLMClient("http://unused", ""), "vision-model")
	_, err := ocr.ExtractText(context.Background(), imageServer.URL, domain.MimePNG)
	if !kinderrors.Is(err, kinderrors.OCRTransient) {
		t.Fatalf("expected OCRTransient, got %v", err)
	}
}

func TestOCRAgentDownload4xxIsPermanent(t *testing.T) {
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer imageServer.Close()

	ocr := NewOCRAgent(NewLLMClient("http://unused", ""), "vision-model")
	_, err := ocr.ExtractText(context.Background(), imageServer.URL, domain.MimePNG)
	if !kinderrors.Is(err, kinderrors.OCRPermanent) {
		t.Fatalf("expected OCRPermanent, got %v", err)
	}
}

func TestOCRAgentVisionCall5xxIsTransient(t *testing.T) {
	imageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes"))
	}))
	defer imageServer.Close()

	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer llmServer.Close()

	ocr := NewOCRAgent(NewLLMClient(llmServer.URL, ""), "vision-model")
	_, err := ocr.ExtractText(context.Background(), imageServer.URL, domain.MimePNG)
	if !kinderrors.Is(err, kinderrors.OCRTransient) {
		t.Fatalf("expected OCRTransient, got %v", err)
	}
}
