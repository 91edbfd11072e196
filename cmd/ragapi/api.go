package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/drblury/ragstream"
	"github.com/drblury/ragstream/internal/rag"
)

// modelRequest is the body of both predict endpoints. Temperature is accepted
// for compatibility with existing callers and is not forwarded.
type modelRequest struct {
	Text        string   `json:"text"`
	Temperature *float64 `json:"temperature"`
}

type modelResponse struct {
	GeneratedText string `json:"generated_text"`
	RequestID     string `json:"request_id,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type answerer interface {
	HandleMessage(ctx context.Context, msg rag.ConsumerMessage) (*ragstream.Envelope, error)
}

type api struct {
	answers  answerer
	producer ragstream.Producer
	topic    string
	logger   ragstream.ServiceLogger
}

type handleRegistrar interface {
	Handle(pattern string, handler http.Handler)
}

// register mounts the predict endpoints under prefix, for example "/v1".
func (a *api) register(mux handleRegistrar, prefix string) {
	prefix = strings.TrimRight(prefix, "/")
	mux.Handle("POST "+prefix+"/predict/{$}", http.HandlerFunc(a.handlePredict))
	mux.Handle("POST "+prefix+"/predict/publish", http.HandlerFunc(a.handlePublish))
}

// handlePredict answers the question synchronously through the RAG graph.
func (a *api) handlePredict(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decode(w, r)
	if !ok {
		return
	}
	a.logger.Info("Predict request received", ragstream.LogFields{"length": len(req.Text)})

	out, err := a.answers.HandleMessage(r.Context(), rag.ConsumerMessage{TestQuestions: req.Text})
	if err != nil {
		var valueErr *ragstream.ValueError
		if errors.As(err, &valueErr) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: err.Error()})
			return
		}
		a.logger.Error("Predict failed", err, nil)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: fmt.Sprintf("Ошибка при генерации текста: %v", err)})
		return
	}
	writeJSON(w, http.StatusCreated, modelResponse{GeneratedText: out.Message})
}

// handlePublish enqueues the question for the worker.
func (a *api) handlePublish(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decode(w, r)
	if !ok {
		return
	}

	requestID := ragstream.NewRequestID()
	err := a.producer.Publish(r.Context(), ragstream.Topic(a.topic),
		rag.ConsumerMessage{TestQuestions: req.Text},
		ragstream.CreateHeaders(requestID, nil),
		[]byte(requestID),
	)
	if err != nil {
		a.logger.Error("Publish failed", err, ragstream.LogFields{"topic": a.topic})
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: fmt.Sprintf("Ошибка при отправке в кафку: %v", err)})
		return
	}

	a.logger.Info("Question enqueued", ragstream.LogFields{"topic": a.topic, "request_id": requestID})
	writeJSON(w, http.StatusCreated, modelResponse{
		GeneratedText: "сообщение в кафку: " + req.Text,
		RequestID:     requestID,
	})
}

func (a *api) decode(w http.ResponseWriter, r *http.Request) (modelRequest, bool) {
	var req modelRequest
	if err := ragstream.Decode(http.MaxBytesReader(w, r.Body, 1<<20), &req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "invalid request body: " + err.Error()})
		return req, false
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "text must not be empty"})
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = ragstream.Encode(w, v)
}
