package domain

import "time"

// Participant identifica a un miembro de una conversacion con su rol.
type Participant struct {
	ID        int64  `json:"id"`
	Role      string `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Conversation es el hilo que agrupa los mensajes entre un paciente y un
// doctor/operador. El servidor asigna el id; el cliente la reemplaza entera
// con la ultima representacion recibida, nunca la edita campo a campo.
type Conversation struct {
	ID                 int64         `json:"id"`
	Title              string        `json:"title"`
	IsActive           bool          `json:"is_active"`
	LastMessageAt      *time.Time    `json:"last_message_at,omitempty"`
	LastMessagePreview string        `json:"last_message_preview,omitempty"`
	UnreadCount        int           `json:"unread_count"`
	Participants       []Participant `json:"participants,omitempty"`
}
