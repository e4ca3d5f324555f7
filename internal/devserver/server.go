package devserver

import (
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"consult-chat/internal/domain"
)

const authClaimsKey = "auth_claims"

// Server es un backend de consultas en memoria para desarrollo local y tests
// de integracion. Implementa los mismos endpoints y formas de error que el
// backend real para que el cliente se pueda ejercitar de punta a punta.
type Server struct {
	logger *zap.Logger
	tokens *TokenIssuer
	store  *memStore
}

// NewServer crea el stub con su issuer de tokens.
func NewServer(tokens *TokenIssuer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger: logger,
		tokens: tokens,
		store:  newMemStore(),
	}
}

// Router configura el router de Gin con middlewares y rutas.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(zapLoggerMiddleware(s.logger), gin.Recovery())

	auth := r.Group("/auth")
	auth.POST("/token/", s.issueTokens)
	auth.POST("/refresh/", s.refreshToken)

	consult := r.Group("/consultations")
	consult.Use(s.bearerMiddleware())
	conv := consult.Group("/conversations")
	conv.POST("/", s.createConversation)
	conv.GET("/", s.listConversations)
	conv.GET("/:id/messages/", s.listMessages)
	conv.GET("/operator/:operatorID/messages/", s.listOperatorMessages)
	conv.POST("/:id/messages/", s.sendMessage)
	conv.POST("/:id/mark-read", s.markRead)
	conv.POST("/:id/operator/mark-read", s.markRead)
	conv.GET("/:id/summary/", s.summary)
	conv.GET("/:id/prescriptions/", s.prescriptions)
	conv.GET("/:id/files/", s.files)

	return r
}

// SeedSummary carga un resumen clinico en el stub para una conversacion.
func (s *Server) SeedSummary(conversationID int64, sum domain.DoctorSummary) bool {
	cs, ok := s.store.get(conversationID)
	if !ok {
		return false
	}
	s.store.setSummary(cs, sum)
	return true
}

// SeedPrescription agrega una receta al stub para una conversacion.
func (s *Server) SeedPrescription(conversationID int64, p domain.Prescription) bool {
	cs, ok := s.store.get(conversationID)
	if !ok {
		return false
	}
	s.store.addPrescription(cs, p)
	return true
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// bearerMiddleware valida el access token y guarda los claims en el contexto.
func (s *Server) bearerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "missing token"})
			c.Abort()
			return
		}
		token := strings.TrimSpace(header[len("Bearer "):])
		claims, err := s.tokens.Parse(token, "access")
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid token"})
			c.Abort()
			return
		}
		c.Set(authClaimsKey, claims)
		c.Next()
	}
}

func getClaims(c *gin.Context) Claims {
	val, ok := c.Get(authClaimsKey)
	if !ok {
		return Claims{}
	}
	claims, _ := val.(Claims)
	return claims
}

// issueTokens es el login de juguete del stub: emite un par para cualquier
// user_id/role que se le pida.
func (s *Server) issueTokens(c *gin.Context) {
	var req struct {
		UserID int64  `json:"user_id" binding:"required"`
		Role   string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request"})
		return
	}
	pair, err := s.tokens.Issue(req.UserID, req.Role)
	if err != nil {
		s.logger.Error("issue tokens failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "could not issue tokens"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *Server) refreshToken(c *gin.Context) {
	var req struct {
		Refresh string `json:"refresh" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request"})
		return
	}
	access, err := s.tokens.Refresh(req.Refresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "refresh token invalid"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": access})
}

func (s *Server) createConversation(c *gin.Context) {
	var req struct {
		PatientID int64  `json:"patient_id" binding:"required"`
		Title     string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request"})
		return
	}
	claims := getClaims(c)
	conv, created := s.store.createConversation(req.PatientID, claims.UserID, req.Title)
	if !created {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Conversation already exists for this patient."})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (s *Server) listConversations(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.list())
}

func (s *Server) conversationFromPath(c *gin.Context) (*conversationState, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No Conversation matches the given query."})
		return nil, false
	}
	cs, ok := s.store.get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No Conversation matches the given query."})
		return nil, false
	}
	return cs, true
}

func sinceID(c *gin.Context) int64 {
	raw := c.Query("since_id")
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (s *Server) listMessages(c *gin.Context) {
	cs, ok := s.conversationFromPath(c)
	if !ok {
		return
	}
	s.respondMessages(c, cs, sinceID(c))
}

func (s *Server) listOperatorMessages(c *gin.Context) {
	operatorID, err := strconv.ParseInt(c.Param("operatorID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No Conversation matches the given query."})
		return
	}
	cs, ok := s.store.byOperatorID(operatorID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No Conversation matches the given query."})
		return
	}
	s.respondMessages(c, cs, sinceID(c))
}

func (s *Server) respondMessages(c *gin.Context, cs *conversationState, since int64) {
	results := s.store.messagesSince(cs, since)
	if results == nil {
		results = []domain.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"conversation": s.store.conversation(cs), "results": results})
}

func (s *Server) sendMessage(c *gin.Context) {
	cs, ok := s.conversationFromPath(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid multipart body"})
		return
	}
	field := func(name string) string {
		if vals := form.Value[name]; len(vals) > 0 {
			return vals[0]
		}
		return ""
	}

	msgType := field("type")
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	claims := getClaims(c)
	msg := domain.Message{
		Type:    msgType,
		Content: field("content"),
		Sender:  domain.User{ID: claims.UserID, Role: claims.Role},
	}
	if raw := field("reply_to"); raw != "" {
		if replyTo, err := strconv.ParseInt(raw, 10, 64); err == nil {
			msg.ReplyTo = replyTo
		}
	}

	var attachments []domain.Attachment
	for _, fh := range form.File["attachments"] {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "unreadable attachment"})
			return
		}
		size, err := io.Copy(io.Discard, f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "unreadable attachment"})
			return
		}
		attachments = append(attachments, domain.Attachment{
			File:         path.Join("/media", uuid.NewString(), fh.Filename),
			MimeType:     fh.Header.Get("Content-Type"),
			Size:         size,
			OriginalName: fh.Filename,
		})
	}

	saved := s.store.appendMessage(cs, msg, attachments)
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) markRead(c *gin.Context) {
	cs, ok := s.conversationFromPath(c)
	if !ok {
		return
	}
	s.store.markRead(cs)
	c.Status(http.StatusNoContent)
}

func (s *Server) summary(c *gin.Context) {
	cs, ok := s.conversationFromPath(c)
	if !ok {
		return
	}
	sum := s.store.summaryOf(cs)
	if sum == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "no summary yet"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) prescriptions(c *gin.Context) {
	cs, ok := s.conversationFromPath(c)
	if !ok {
		return
	}
	out := s.store.prescriptionsOf(cs)
	if out == nil {
		out = []domain.Prescription{}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) files(c *gin.Context) {
	cs, ok := s.conversationFromPath(c)
	if !ok {
		return
	}
	out := s.store.files(cs)
	if out == nil {
		out = []domain.Attachment{}
	}
	c.JSON(http.StatusOK, out)
}
