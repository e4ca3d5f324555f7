package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"

	"consult-chat/internal/domain"
)

// MessagePage es la respuesta del fetch incremental: la conversacion viene
// solo cuando el servidor quiere que el cliente adopte su representacion.
type MessagePage struct {
	Conversation *domain.Conversation `json:"conversation,omitempty"`
	Results      []domain.Message     `json:"results"`
}

// FileUpload es un adjunto a enviar. Los bytes se guardan en memoria para
// poder reconstruir el cuerpo multipart si el request se reintenta tras un
// refresh de credenciales.
type FileUpload struct {
	Name     string
	MimeType string
	Data     []byte
}

// SendInput es el payload de envio de un mensaje.
type SendInput struct {
	Type    string
	Content string
	ReplyTo int64
	Files   []FileUpload
}

// CreateConversation crea la conversacion del paciente en el backend.
func (c *Client) CreateConversation(ctx context.Context, patientID int64, title string) (domain.Conversation, error) {
	var conv domain.Conversation
	in := map[string]any{"patient_id": patientID, "title": title}
	if err := c.postJSON(ctx, "/consultations/conversations/", in, &conv); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

// ListConversations lista las conversaciones visibles para el usuario actual.
func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var out []domain.Conversation
	if err := c.getJSON(ctx, "/consultations/conversations/", "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages trae los mensajes de una conversacion; con sinceID > 0 solo los
// posteriores a ese id.
func (c *Client) Messages(ctx context.Context, conversationID, sinceID int64) (MessagePage, error) {
	path := fmt.Sprintf("/consultations/conversations/%d/messages/", conversationID)
	return c.messagePage(ctx, path, sinceID)
}

// OperatorMessages es la variante de fetch para el panel de operador, que
// resuelve la conversacion a partir del operador en vez del id.
func (c *Client) OperatorMessages(ctx context.Context, operatorID, sinceID int64) (MessagePage, error) {
	path := fmt.Sprintf("/consultations/conversations/operator/%d/messages/", operatorID)
	return c.messagePage(ctx, path, sinceID)
}

func (c *Client) messagePage(ctx context.Context, path string, sinceID int64) (MessagePage, error) {
	query := ""
	if sinceID > 0 {
		query = url.Values{"since_id": {strconv.FormatInt(sinceID, 10)}}.Encode()
	}
	var page MessagePage
	if err := c.getJSON(ctx, path, query, &page); err != nil {
		return MessagePage{}, err
	}
	return page, nil
}

// SendMessage envia un mensaje como multipart, con cada archivo bajo el campo
// repetido attachments.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, in SendInput) (domain.Message, error) {
	if in.Type == "" {
		in.Type = domain.MessageTypeText
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("type", in.Type); err != nil {
		return domain.Message{}, fmt.Errorf("write type field: %w", err)
	}
	if in.Content != "" {
		if err := w.WriteField("content", in.Content); err != nil {
			return domain.Message{}, fmt.Errorf("write content field: %w", err)
		}
	}
	if in.ReplyTo > 0 {
		if err := w.WriteField("reply_to", strconv.FormatInt(in.ReplyTo, 10)); err != nil {
			return domain.Message{}, fmt.Errorf("write reply_to field: %w", err)
		}
	}
	for _, f := range in.Files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachments"; filename=%q`, f.Name))
		if f.MimeType != "" {
			header.Set("Content-Type", f.MimeType)
		}
		part, err := w.CreatePart(header)
		if err != nil {
			return domain.Message{}, fmt.Errorf("create attachment part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return domain.Message{}, fmt.Errorf("write attachment: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return domain.Message{}, fmt.Errorf("close multipart: %w", err)
	}

	body, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        fmt.Sprintf("/consultations/conversations/%d/messages/", conversationID),
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	})
	if err != nil {
		return domain.Message{}, err
	}

	var msg domain.Message
	if err := unmarshalBody(body, &msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// MarkAllRead marca toda la conversacion como leida.
func (c *Client) MarkAllRead(ctx context.Context, conversationID int64) error {
	path := fmt.Sprintf("/consultations/conversations/%d/mark-read", conversationID)
	return c.postJSON(ctx, path, nil, nil)
}

// MarkOperatorRead confirma lectura del lado operador para un mensaje puntual.
func (c *Client) MarkOperatorRead(ctx context.Context, conversationID int64) error {
	path := fmt.Sprintf("/consultations/conversations/%d/operator/mark-read", conversationID)
	return c.postJSON(ctx, path, nil, nil)
}

// Summary trae el resumen clinico del doctor, si existe.
func (c *Client) Summary(ctx context.Context, conversationID int64) (domain.DoctorSummary, error) {
	var out domain.DoctorSummary
	path := fmt.Sprintf("/consultations/conversations/%d/summary/", conversationID)
	if err := c.getJSON(ctx, path, "", &out); err != nil {
		return domain.DoctorSummary{}, err
	}
	return out, nil
}

// Prescriptions lista las recetas emitidas en la consulta.
func (c *Client) Prescriptions(ctx context.Context, conversationID int64) ([]domain.Prescription, error) {
	var out []domain.Prescription
	path := fmt.Sprintf("/consultations/conversations/%d/prescriptions/", conversationID)
	if err := c.getJSON(ctx, path, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Files lista los adjuntos intercambiados en la conversacion.
func (c *Client) Files(ctx context.Context, conversationID int64) ([]domain.Attachment, error) {
	var out []domain.Attachment
	path := fmt.Sprintf("/consultations/conversations/%d/files/", conversationID)
	if err := c.getJSON(ctx, path, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}
