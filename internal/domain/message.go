package domain

import "time"

// Tipos de mensaje aceptados por el backend de consultas.
const (
	MessageTypeText   = "text"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// Message es un mensaje dentro de una conversacion. Dentro de una misma
// conversacion los ids forman una secuencia estrictamente creciente que
// coincide con el orden de llegada.
type Message struct {
	ID             int64        `json:"id"`
	Type           string       `json:"type"`
	Content        string       `json:"content,omitempty"`
	Sender         User         `json:"sender"`
	CreatedAt      time.Time    `json:"created_at"`
	EditedAt       *time.Time   `json:"edited_at,omitempty"`
	IsDeleted      bool         `json:"is_deleted"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ConversationID int64        `json:"conversation"`
	ReplyTo        int64        `json:"reply_to,omitempty"`
}

// Attachment es un archivo adjunto; pertenece exactamente a un mensaje y
// solo se crea como efecto de un envio con archivos.
type Attachment struct {
	ID           int64     `json:"id"`
	File         string    `json:"file"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	OriginalName string    `json:"original_name"`
	UploadedAt   time.Time `json:"uploaded_at"`
	Uploader     User      `json:"uploader"`
	MessageID    int64     `json:"message"`
}
