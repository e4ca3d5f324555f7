package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consult-chat/internal/auth"
)

// Client habla con el backend de consultas. Adjunta el bearer token a cada
// request y, ante un 401 que todavia no se reintento, intercambia el refresh
// token por un access nuevo y repite el request original exactamente una vez.
// Es el unico componente que lee o escribe el TokenStore.
type Client struct {
	baseURL string
	store   auth.TokenStore
	client  *http.Client
	logger  *zap.Logger
}

// NewClient construye un cliente apuntando al backend de consultas.
func NewClient(baseURL string, store auth.TokenStore, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// request describe un request re-construible: el retry tras refresh necesita
// un body fresco, asi que guardamos los bytes y no un io.Reader consumido.
type request struct {
	method      string
	path        string
	query       string
	body        []byte
	contentType string
}

func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	reqID := uuid.NewString()

	// Un access token ya vencido va a terminar en 401 si o si; mejor
	// refrescar antes de gastar la ida y vuelta.
	if c.store != nil {
		if token, err := c.store.Access(); err == nil && auth.TokenExpired(token, time.Now()) {
			if err := c.refresh(ctx, reqID); err != nil {
				return nil, err
			}
		}
	}

	body, status, err := c.issue(ctx, r, reqID)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		if err := c.refresh(ctx, reqID); err != nil {
			return nil, err
		}
		body, status, err = c.issue(ctx, r, reqID)
		if err != nil {
			return nil, err
		}
	}
	if status >= 400 {
		c.logger.Warn("api error",
			zap.String("request_id", reqID),
			zap.String("path", r.path),
			zap.Int("status", status))
		return nil, decodeError(status, body)
	}
	return body, nil
}

func (c *Client) issue(ctx context.Context, r request, reqID string) ([]byte, int, error) {
	url := c.baseURL + r.path
	if r.query != "" {
		url += "?" + r.query
	}

	var reader io.Reader
	if r.body != nil {
		reader = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if c.store != nil {
		token, err := c.store.Access()
		if err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("api request",
		zap.String("request_id", reqID),
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.Int("status", resp.StatusCode))

	return respBody, resp.StatusCode, nil
}

// refresh intercambia el refresh token por un access nuevo. Si no hay refresh
// o el intercambio falla, limpia el store: la sesion no tiene arreglo sin un
// login nuevo.
func (c *Client) refresh(ctx context.Context, reqID string) error {
	if c.store == nil {
		return ErrAuthRequired
	}
	refreshToken, err := c.store.Refresh()
	if err != nil {
		if !errors.Is(err, auth.ErrNoCredentials) {
			c.logger.Warn("refresh token read failed", zap.String("request_id", reqID), zap.Error(err))
		}
		_ = c.store.Clear()
		return ErrAuthRequired
	}

	payload, err := json.Marshal(map[string]string{"refresh": refreshToken})
	if err != nil {
		return fmt.Errorf("marshal refresh: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh/", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do refresh: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode >= 400 {
		c.logger.Warn("refresh rejected", zap.String("request_id", reqID), zap.Int("status", resp.StatusCode))
		_ = c.store.Clear()
		return ErrAuthRequired
	}

	var out struct {
		Access string `json:"access"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil || out.Access == "" {
		_ = c.store.Clear()
		return ErrAuthRequired
	}
	if err := c.store.SetAccess(out.Access); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	c.logger.Info("access token refreshed", zap.String("request_id", reqID))
	return nil
}

func unmarshalBody(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path, query string, out any) error {
	body, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return unmarshalBody(body, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	body, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		body:        payload,
		contentType: "application/json",
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return unmarshalBody(body, out)
}
