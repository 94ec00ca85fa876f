// Package models defines the core data structures for MailPipe.
//
// It includes the agent's conversation state, contact and email records,
// turn requests/responses, and delivery receipts shared across modules.
package models

import "time"

// DeliveryStatus represents the outcome of a single outgoing email.
type DeliveryStatus string

const (
	// DeliveryStatusSent indicates the mail transport accepted the message.
	DeliveryStatusSent DeliveryStatus = "sent"
	// DeliveryStatusFailed indicates the send call failed for this recipient.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// DeliveryReceipt records what happened to one outgoing email.
type DeliveryReceipt struct {
	ThreadID  string         `json:"threadId"`
	To        string         `json:"to"`
	ToName    string         `json:"toName,omitempty"`
	Subject   string         `json:"subject"`
	Status    DeliveryStatus `json:"status"`
	MessageID string         `json:"messageId,omitempty"`
	Error     string         `json:"error,omitempty"`
	Time      time.Time      `json:"time"`
}

// APIStatus represents the status of a generic API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the envelope used by endpoints other than the turn endpoint.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Help    string      `json:"help,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Error: message}
}

// ErrorWithHelp creates an error API response carrying retry guidance.
func ErrorWithHelp(message, help string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Error: message, Help: help}
}

// StoredCredential is a mailbox OAuth token persisted for one user. UserKey
// is a digest of the caller's bearer credential, never the credential itself.
type StoredCredential struct {
	UserKey   string    `json:"userKey"`
	TokenJSON string    `json:"token"`
	UpdatedAt time.Time `json:"updatedAt"`
}
