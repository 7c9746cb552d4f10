package utils

import "time"

// APIResponse is the JSON envelope returned by every arrival endpoint.
// Retryable tells the kiosk UI whether "try again" is a sensible action
// (concurrency conflicts) or the error needs a human (business rules).
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func SuccessResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func ErrorResponse(message, detail string) APIResponse {
	return APIResponse{
		Success:   false,
		Message:   message,
		Error:     detail,
		Timestamp: time.Now(),
	}
}

func RetryableResponse(message, detail string) APIResponse {
	resp := ErrorResponse(message, detail)
	resp.Retryable = true
	return resp
}
