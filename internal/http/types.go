package http

import "github.com/fyrsmithlabs/knowme/internal/chunker"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind"`
}

// MessageResponse carries a human-readable result.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// UploadResponse is the response body for POST /upload_pdf/.
type UploadResponse struct {
	Filename     string          `json:"filename"`
	ChunksStored int             `json:"chunks_stored"`
	Chunks       []chunker.Chunk `json:"chunks"`
	Message      string          `json:"message"`
}

// ChatRequest is the JSON body accepted by POST /chat/.
type ChatRequest struct {
	UserMsg string `json:"user_msg"`
}

// ChatResponse is the response body for POST /chat/. Source lists the
// "{document} (Page {n})" citations behind the answer.
type ChatResponse struct {
	Response string   `json:"response"`
	Source   []string `json:"source"`
}

// DocumentsResponse is the response body for GET /pdfs/.
type DocumentsResponse struct {
	PDFs []string `json:"pdfs"`
}

// ProfileResponse is the response body for GET /profile/.
type ProfileResponse struct {
	UserID  string `json:"user_id"`
	Profile string `json:"profile"`
}
