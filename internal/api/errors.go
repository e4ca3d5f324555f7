package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthRequired indica que no hay credenciales utilizables: el caller
	// debe mandar al usuario de vuelta al login.
	ErrAuthRequired = errors.New("api: authentication required")
	// ErrConversationNotFound es el 404 del backend cuando el par todavia
	// no tiene conversacion creada.
	ErrConversationNotFound = errors.New("api: conversation not found")
	// ErrConversationExists es el rechazo del create cuando la conversacion
	// ya existe del lado del servidor.
	ErrConversationExists = errors.New("api: conversation already exists")
)

// APIError conserva el status y el detail crudo de una respuesta de error.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status=%d detail=%q", e.Status, e.Detail)
}

// decodeError traduce un cuerpo de error del backend ({"detail": ...}) a un
// error tipado. Los detalles que el core sabe recuperar se mapean a
// centinelas; el resto queda como APIError generico.
func decodeError(status int, body []byte) error {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	detail := payload.Detail
	if detail == "" {
		detail = payload.Error
	}

	apiErr := &APIError{Status: status, Detail: detail}
	lower := strings.ToLower(detail)
	switch {
	case status == 404 && strings.Contains(lower, "no conversation matches"):
		return fmt.Errorf("%w: %s", ErrConversationNotFound, apiErr)
	case strings.Contains(lower, "already exists"):
		return fmt.Errorf("%w: %s", ErrConversationExists, apiErr)
	}
	return apiErr
}
