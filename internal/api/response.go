// Package api defines the JSON envelope every HTTP endpoint responds with.
package api

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

func Success(message string, data interface{}) Response {
	return Response{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func SuccessWithMeta(message string, data, meta interface{}) Response {
	return Response{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
	}
}

func Error(message string) Response {
	return Response{
		Success: false,
		Message: message,
	}
}
