package models

import (
	"go-bg-remover/internal/auth"
	"go-bg-remover/internal/workflow"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// SelectURLRequest selects a remote image as the source
type SelectURLRequest struct {
	URL string `json:"url" binding:"required"`
}

// FullscreenRequest opens the overlay on "source" or "processed"
type FullscreenRequest struct {
	Target workflow.Target `json:"target" binding:"required"`
}

// SessionResponse is the state the shell renders
type SessionResponse struct {
	SessionID string            `json:"session_id"`
	User      *auth.Identity    `json:"user,omitempty"`
	Snapshot  workflow.Snapshot `json:"snapshot"`
}

// DownloadResponse tells the browser what to save
type DownloadResponse struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}
