package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"consult-chat/internal/api"
	"consult-chat/internal/auth"
	"consult-chat/internal/chat"
	"consult-chat/internal/config"
)

func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.PatientID <= 0 || cfg.OperatorID <= 0 {
		log.Fatal("PATIENT_ID and OPERATOR_ID must be positive")
	}

	logger := zap.NewExample()
	defer logger.Sync()

	store := newTokenStore(cfg)
	if err := login(ctx, cfg, store); err != nil {
		log.Fatalf("login: %v", err)
	}

	client := api.NewClient(cfg.APIBaseURL, store, cfg.HTTPTimeout, logger)
	svc := chat.NewService(client, func(id int64) {
		fmt.Printf("[conversacion %d lista]\n", id)
	}, logger)
	svc.Bind(cfg.PatientID, cfg.OperatorID)

	if err := svc.FetchMessages(ctx, 0); err != nil {
		logger.Warn("initial fetch failed", zap.Error(err))
	}

	poller := chat.NewPoller(svc, cfg.PollInterval, logger)
	poller.Start(ctx)
	defer poller.Stop()

	fmt.Println("Comandos: /quit /read /files /summary /prescriptions. Todo lo demas se envia como mensaje.")
	for {
		render(svc)
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/read":
			svc.MarkAsRead(ctx, 0)
		case line == "/files":
			showFiles(ctx, client, svc)
		case line == "/summary":
			showSummary(ctx, client, svc)
		case line == "/prescriptions":
			showPrescriptions(ctx, client, svc)
		default:
			if _, err := svc.SendMessage(ctx, api.SendInput{Content: line}); err != nil {
				if errors.Is(err, api.ErrAuthRequired) {
					log.Fatal("sesion expirada, volve a iniciar sesion")
				}
				fmt.Printf("enviar fallo: %v\n", err)
			}
		}
	}
}

func newTokenStore(cfg *config.Config) auth.TokenStore {
	if cfg.RedisAddr == "" {
		return auth.NewMemoryTokenStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return auth.NewRedisTokenStore(client)
}

// login pide un par de tokens al endpoint de desarrollo y lo persiste en el
// store. Contra el backend real este paso lo hace el servicio de identidad.
func login(ctx context.Context, cfg *config.Config, store auth.TokenStore) error {
	payload, err := json.Marshal(map[string]any{"user_id": cfg.OperatorID, "role": "operator"})
	if err != nil {
		return err
	}
	url := strings.TrimRight(cfg.APIBaseURL, "/") + "/auth/token/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}

	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return err
	}
	return store.SetPair(pair.AccessToken, pair.RefreshToken)
}

func render(svc *chat.Service) {
	snap := svc.Snapshot()
	if snap.Err != "" {
		fmt.Printf("[error: %s]\n", snap.Err)
	}
	start := 0
	if len(snap.Messages) > 10 {
		start = len(snap.Messages) - 10
	}
	for _, m := range snap.Messages[start:] {
		label := fmt.Sprintf("%s %d", m.Sender.Role, m.Sender.ID)
		fmt.Printf("  [%d] %s: %s\n", m.ID, label, m.Content)
		for _, a := range m.Attachments {
			fmt.Printf("        adjunto: %s (%d bytes)\n", a.OriginalName, a.Size)
		}
	}
}

func conversationID(svc *chat.Service) int64 {
	snap := svc.Snapshot()
	if snap.Conversation == nil {
		fmt.Println("todavia no hay conversacion")
		return 0
	}
	return snap.Conversation.ID
}

func showFiles(ctx context.Context, client *api.Client, svc *chat.Service) {
	id := conversationID(svc)
	if id == 0 {
		return
	}
	files, err := client.Files(ctx, id)
	if err != nil {
		fmt.Printf("files fallo: %v\n", err)
		return
	}
	for _, f := range files {
		fmt.Printf("  %s (%s, %d bytes)\n", f.OriginalName, f.MimeType, f.Size)
	}
}

func showSummary(ctx context.Context, client *api.Client, svc *chat.Service) {
	id := conversationID(svc)
	if id == 0 {
		return
	}
	sum, err := client.Summary(ctx, id)
	if err != nil {
		fmt.Printf("summary fallo: %v\n", err)
		return
	}
	fmt.Printf("  diagnostico: %s\n  recomendacion: %s\n", sum.Diagnosis, sum.Recommendation)
}

func showPrescriptions(ctx context.Context, client *api.Client, svc *chat.Service) {
	id := conversationID(svc)
	if id == 0 {
		return
	}
	rx, err := client.Prescriptions(ctx, id)
	if err != nil {
		fmt.Printf("prescriptions fallo: %v\n", err)
		return
	}
	for _, p := range rx {
		fmt.Printf("  %s %s: %s\n", p.Medication, p.Dosage, p.Instructions)
	}
}
