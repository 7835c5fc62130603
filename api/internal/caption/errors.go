package caption

import (
	"errors"
	"fmt"
)

// Причины отказа валидатора.
const (
	ReasonUnsupportedType = "unsupported-type"
	ReasonTooLarge        = "too-large"
	ReasonInvalidRating   = "invalid-rating"
)

// ValidationError is resolved locally and never reaches the network.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Notice is the user-facing copy for the rejection.
func (e *ValidationError) Notice() string {
	switch e.Reason {
	case ReasonUnsupportedType:
		return "Please upload a JPEG or PNG image"
	case ReasonTooLarge:
		return "Image size should be less than 10MB"
	case ReasonInvalidRating:
		return fmt.Sprintf("Rating must be an integer between %d and %d", MinRating, MaxRating)
	default:
		return "Invalid input"
	}
}

// Kind классифицирует ServiceError.
type Kind string

const (
	KindHTTP      Kind = "http"      // не-2xx
	KindRejected  Kind = "rejected"  // 2xx, но success:false
	KindTransport Kind = "transport" // сеть
	KindTimeout   Kind = "timeout"
	KindDecode    Kind = "decode" // битый JSON или нет обязательных полей
)

// Операции клиента, используются в ошибках, логах и метриках.
const (
	OpGenerate     = "generate_caption"
	OpRate         = "submit_rating"
	OpHistory      = "fetch_history"
	OpImageRatings = "fetch_image_ratings"
	OpModels       = "fetch_models"
	OpHealth       = "health"
)

var fallbackMessages = map[string]string{
	OpGenerate:     "Unable to generate caption. Please check if the backend server is running.",
	OpRate:         "Failed to submit rating",
	OpHistory:      "Unable to load caption history. Please try again later.",
	OpImageRatings: "Unable to load ratings for this image",
	OpModels:       "Unable to fetch available models",
	OpHealth:       "Caption service is unavailable",
}

// ServiceError is the single error shape crossing the client boundary.
type ServiceError struct {
	Op      string
	Kind    Kind
	Status  int    // HTTP-статус, 0 если ответа не было
	Message string // сообщение сервиса как есть, иначе fallback операции
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func newServiceError(op string, kind Kind, status int, msg string, err error) *ServiceError {
	if msg == "" {
		msg = fallbackMessages[op]
	}
	return &ServiceError{Op: op, Kind: kind, Status: status, Message: msg, Err: err}
}

// IsTimeout reports whether err is a ServiceError of kind timeout.
func IsTimeout(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Kind == KindTimeout
}
