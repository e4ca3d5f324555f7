package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"consult-chat/internal/api"
	"consult-chat/internal/domain"
)

var (
	ErrInvalidPair         = errors.New("chat: patient and operator ids must be positive")
	ErrConversationMissing = errors.New("chat: no conversation available for send")
)

// ConsultationsAPI es lo que el core necesita del cliente HTTP.
type ConsultationsAPI interface {
	CreateConversation(ctx context.Context, patientID int64, title string) (domain.Conversation, error)
	Messages(ctx context.Context, conversationID, sinceID int64) (api.MessagePage, error)
	OperatorMessages(ctx context.Context, operatorID, sinceID int64) (api.MessagePage, error)
	SendMessage(ctx context.Context, conversationID int64, in api.SendInput) (domain.Message, error)
	MarkAllRead(ctx context.Context, conversationID int64) error
	MarkOperatorRead(ctx context.Context, conversationID int64) error
}

// Service es el nucleo de sincronizacion de una sesion de chat entre un
// paciente y un operador. Es dueno exclusivo de la conversacion y de la
// secuencia de mensajes en memoria; la UI consume copias via Snapshot.
//
// Cada operacion captura la generacion activa al entrar; un Bind posterior
// la invalida y los resultados que lleguen tarde se descartan.
type Service struct {
	client    ConsultationsAPI
	logger    *zap.Logger
	onCreated func(conversationID int64)

	mu         sync.Mutex
	patientID  int64
	operatorID int64
	gen        uint64
	created    bool
	conv       *domain.Conversation
	messages   []domain.Message
	known      map[int64]struct{}
	lastErr    string
}

// Snapshot es la vista atomica que recibe la capa de presentacion.
type Snapshot struct {
	Conversation *domain.Conversation
	Messages     []domain.Message
	Err          string
}

// NewService crea el core de chat. onCreated puede ser nil; si no lo es, se
// invoca a lo sumo una vez por sesion cuando la conversacion queda adoptada.
func NewService(client ConsultationsAPI, onCreated func(conversationID int64), logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client:    client,
		logger:    logger,
		onCreated: onCreated,
		known:     make(map[int64]struct{}),
	}
}

// Bind ata el core a un par paciente/operador nuevo. Resetea toda la sesion:
// conversacion, mensajes, flag de creacion y ultimo error. Las operaciones
// en vuelo del par anterior quedan invalidadas por el salto de generacion.
func (s *Service) Bind(patientID, operatorID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patientID = patientID
	s.operatorID = operatorID
	s.gen++
	s.created = false
	s.conv = nil
	s.messages = nil
	s.known = make(map[int64]struct{})
	s.lastErr = ""
}

// Snapshot devuelve una copia consistente del estado para la UI.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Err: s.lastErr}
	if s.conv != nil {
		conv := *s.conv
		snap.Conversation = &conv
	}
	if len(s.messages) > 0 {
		snap.Messages = make([]domain.Message, len(s.messages))
		copy(snap.Messages, s.messages)
	}
	return snap
}

// LastMessageID devuelve el cursor para el fetch incremental: el id del
// ultimo mensaje conocido, o 0 si no hay conversacion o mensajes todavia.
func (s *Service) LastMessageID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil || len(s.messages) == 0 {
		return 0
	}
	return s.messages[len(s.messages)-1].ID
}

// CreateConversation crea la conversacion del par activo a lo sumo una vez
// por sesion. Si el servidor responde que ya existe, cae a un fetch en vez
// de propagar el error.
func (s *Service) CreateConversation(ctx context.Context) error {
	return s.createConversation(ctx, true)
}

func (s *Service) createConversation(ctx context.Context, allowFallback bool) error {
	s.mu.Lock()
	if s.patientID <= 0 || s.operatorID <= 0 {
		s.mu.Unlock()
		return ErrInvalidPair
	}
	if s.created {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	patientID := s.patientID
	s.mu.Unlock()

	title := fmt.Sprintf("Consulta paciente %d", patientID)
	conv, err := s.client.CreateConversation(ctx, patientID, title)
	if err != nil {
		if errors.Is(err, api.ErrConversationExists) && allowFallback {
			s.logger.Info("conversation already exists, fetching instead", zap.Int64("patient_id", patientID))
			return s.fetchMessages(ctx, 0, false)
		}
		s.recordErr(gen, err)
		return err
	}

	notify := s.adoptConversation(gen, conv)
	if notify != nil {
		notify()
	}
	return nil
}

// FetchMessages trae mensajes del backend. Con sinceID > 0 agrega los nuevos
// al final de la secuencia; sin cursor reemplaza la secuencia completa
// (carga inicial o resync). Si el backend responde que no hay conversacion,
// el core se auto-repara creandola.
func (s *Service) FetchMessages(ctx context.Context, sinceID int64) error {
	return s.fetchMessages(ctx, sinceID, true)
}

func (s *Service) fetchMessages(ctx context.Context, sinceID int64, allowFallback bool) error {
	s.mu.Lock()
	if s.patientID <= 0 || s.operatorID <= 0 {
		s.mu.Unlock()
		return ErrInvalidPair
	}
	gen := s.gen
	operatorID := s.operatorID
	var convID int64
	if s.conv != nil {
		convID = s.conv.ID
	}
	s.mu.Unlock()

	var page api.MessagePage
	var err error
	if convID > 0 {
		page, err = s.client.Messages(ctx, convID, sinceID)
	} else {
		// Sin conversacion adoptada el backend la resuelve por operador.
		page, err = s.client.OperatorMessages(ctx, operatorID, sinceID)
	}
	if err != nil {
		if errors.Is(err, api.ErrConversationNotFound) && allowFallback {
			s.logger.Info("conversation missing on fetch, creating", zap.Int64("operator_id", operatorID))
			return s.createConversation(ctx, false)
		}
		s.recordErr(gen, err)
		return err
	}

	var notify func()
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	if page.Conversation != nil {
		conv := *page.Conversation
		s.conv = &conv
		if !s.created {
			s.created = true
			if s.onCreated != nil {
				id := conv.ID
				fn := s.onCreated
				notify = func() { fn(id) }
			}
		}
	}
	if page.Results != nil {
		if sinceID > 0 {
			s.appendLocked(page.Results)
		} else {
			s.messages = nil
			s.known = make(map[int64]struct{})
			s.appendLocked(page.Results)
		}
	}
	s.lastErr = ""
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
	return nil
}

// SendMessage envia un mensaje. Si no hay conversacion la crea primero; el
// mensaje se agrega a la secuencia local recien cuando el servidor lo
// confirma, y acto seguido se marca como leido en best effort.
func (s *Service) SendMessage(ctx context.Context, in api.SendInput) (domain.Message, error) {
	s.mu.Lock()
	if s.patientID <= 0 || s.operatorID <= 0 {
		s.mu.Unlock()
		return domain.Message{}, ErrInvalidPair
	}
	gen := s.gen
	var convID int64
	if s.conv != nil {
		convID = s.conv.ID
	}
	s.mu.Unlock()

	if convID == 0 {
		if err := s.createConversation(ctx, true); err != nil {
			return domain.Message{}, err
		}
		s.mu.Lock()
		if s.conv != nil {
			convID = s.conv.ID
		}
		s.mu.Unlock()
		if convID == 0 {
			return domain.Message{}, ErrConversationMissing
		}
	}

	msg, err := s.client.SendMessage(ctx, convID, in)
	if err != nil {
		s.recordErr(gen, err)
		return domain.Message{}, err
	}

	s.mu.Lock()
	if gen == s.gen {
		s.appendLocked([]domain.Message{msg})
		s.lastErr = ""
	}
	s.mu.Unlock()

	s.MarkAsRead(ctx, msg.ID)
	return msg, nil
}

// MarkAsRead confirma lectura. Con messageID > 0 usa el endpoint por mensaje
// del operador; sin id marca la conversacion entera. Los fallos se tragan:
// un acuse de lectura nunca bloquea el resto del flujo.
func (s *Service) MarkAsRead(ctx context.Context, messageID int64) {
	s.mu.Lock()
	var convID int64
	if s.conv != nil {
		convID = s.conv.ID
	}
	s.mu.Unlock()
	if convID == 0 {
		return
	}

	var err error
	if messageID > 0 {
		err = s.client.MarkOperatorRead(ctx, convID)
	} else {
		err = s.client.MarkAllRead(ctx, convID)
	}
	if err != nil {
		s.logger.Warn("mark read failed",
			zap.Int64("conversation_id", convID),
			zap.Int64("message_id", messageID),
			zap.Error(err))
	}
}

// appendLocked agrega mensajes preservando el orden de llegada y descartando
// ids ya conocidos, por si el backend devuelve ventanas solapadas.
func (s *Service) appendLocked(msgs []domain.Message) {
	for _, m := range msgs {
		if _, ok := s.known[m.ID]; ok {
			continue
		}
		s.known[m.ID] = struct{}{}
		s.messages = append(s.messages, m)
	}
}

func (s *Service) recordErr(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.lastErr = err.Error()
}

// adoptConversation guarda la representacion del servidor y arma, si toca,
// la notificacion de creacion (se dispara fuera del lock).
func (s *Service) adoptConversation(gen uint64, conv domain.Conversation) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil
	}
	c := conv
	s.conv = &c
	s.lastErr = ""
	if s.created {
		return nil
	}
	s.created = true
	if s.onCreated == nil {
		return nil
	}
	fn := s.onCreated
	id := conv.ID
	return func() { fn(id) }
}
