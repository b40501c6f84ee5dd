package models

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AppResponse is the envelope returned by the recommendation endpoints.
type AppResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(message string, data interface{}) AppResponse {
	return AppResponse{Status: StatusSuccess, Message: message, Data: data}
}

// RateLimitInfo describes a client's request budget in the current window.
type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"reset_time"`
}
