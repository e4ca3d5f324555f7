package devserver

import (
	"sync"
	"time"

	"consult-chat/internal/domain"
)

// memStore guarda el estado del stub en memoria: conversaciones, mensajes,
// adjuntos, resumenes y recetas. Todo se pierde al reiniciar; ese es el punto.
type memStore struct {
	mu            sync.Mutex
	nextConvID    int64
	nextMsgID     int64
	nextAttachID  int64
	conversations map[int64]*conversationState
	byPatient     map[int64]int64
	byOperator    map[int64]int64
}

type conversationState struct {
	conv          domain.Conversation
	messages      []domain.Message
	summary       *domain.DoctorSummary
	prescriptions []domain.Prescription
}

func newMemStore() *memStore {
	return &memStore{
		nextConvID:    900,
		nextMsgID:     1,
		nextAttachID:  1,
		conversations: make(map[int64]*conversationState),
		byPatient:     make(map[int64]int64),
		byOperator:    make(map[int64]int64),
	}
}

func (s *memStore) createConversation(patientID, operatorID int64, title string) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPatient[patientID]; ok {
		return s.conversations[id].conv, false
	}
	conv := domain.Conversation{
		ID:       s.nextConvID,
		Title:    title,
		IsActive: true,
		Participants: []domain.Participant{
			{ID: patientID, Role: domain.RolePatient},
			{ID: operatorID, Role: domain.RoleOperator},
		},
	}
	s.nextConvID++
	s.conversations[conv.ID] = &conversationState{conv: conv}
	s.byPatient[patientID] = conv.ID
	s.byOperator[operatorID] = conv.ID
	return conv, true
}

func (s *memStore) get(id int64) (*conversationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.conversations[id]
	return cs, ok
}

func (s *memStore) byOperatorID(operatorID int64) (*conversationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byOperator[operatorID]
	if !ok {
		return nil, false
	}
	return s.conversations[id], true
}

func (s *memStore) list() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Conversation, 0, len(s.conversations))
	for _, cs := range s.conversations {
		out = append(out, cs.conv)
	}
	return out
}

// appendMessage asigna id y timestamp, cuelga los adjuntos del mensaje y
// actualiza el preview de la conversacion.
func (s *memStore) appendMessage(cs *conversationState, msg domain.Message, attachments []domain.Attachment) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	msg.ID = s.nextMsgID
	s.nextMsgID++
	msg.CreatedAt = now
	msg.ConversationID = cs.conv.ID
	for i := range attachments {
		attachments[i].ID = s.nextAttachID
		s.nextAttachID++
		attachments[i].MessageID = msg.ID
		attachments[i].UploadedAt = now
		attachments[i].Uploader = msg.Sender
	}
	msg.Attachments = attachments
	cs.messages = append(cs.messages, msg)
	cs.conv.LastMessageAt = &now
	cs.conv.LastMessagePreview = msg.Content
	cs.conv.UnreadCount++
	return msg
}

func (s *memStore) messagesSince(cs *conversationState, sinceID int64) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sinceID <= 0 {
		out := make([]domain.Message, len(cs.messages))
		copy(out, cs.messages)
		return out
	}
	var out []domain.Message
	for _, m := range cs.messages {
		if m.ID > sinceID {
			out = append(out, m)
		}
	}
	return out
}

func (s *memStore) conversation(cs *conversationState) domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cs.conv
}

func (s *memStore) summaryOf(cs *conversationState) *domain.DoctorSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs.summary == nil {
		return nil
	}
	sum := *cs.summary
	return &sum
}

func (s *memStore) prescriptionsOf(cs *conversationState) []domain.Prescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Prescription, len(cs.prescriptions))
	copy(out, cs.prescriptions)
	return out
}

func (s *memStore) setSummary(cs *conversationState, sum domain.DoctorSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum.ConversationID = cs.conv.ID
	cs.summary = &sum
}

func (s *memStore) addPrescription(cs *conversationState, p domain.Prescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ConversationID = cs.conv.ID
	cs.prescriptions = append(cs.prescriptions, p)
}

func (s *memStore) markRead(cs *conversationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs.conv.UnreadCount = 0
}

func (s *memStore) files(cs *conversationState) []domain.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Attachment
	for _, m := range cs.messages {
		out = append(out, m.Attachments...)
	}
	return out
}
