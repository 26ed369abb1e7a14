package dto

// APIResponse is the envelope for internal API endpoints. Webhook endpoints
// answer in each provider's contractual format instead.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError carries a stable machine-readable code plus a human message
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewSuccessResponse creates a success response with data
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{Success: true, Data: data}
}

// NewErrorResponse creates an error response with a stable code
func NewErrorResponse(code, message string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
	}
}
