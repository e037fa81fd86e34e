package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"tradesync/internal/config"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alert messages to one chat via the Bot API.
type TelegramNotifier struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	base := cfg.APIBaseURL
	if base == "" {
		base = defaultTelegramAPI
	}
	return &TelegramNotifier{
		baseURL: base,
		token:   cfg.BotToken,
		chatID:  cfg.ChatID,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, msg string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    msg,
	})
	if err != nil {
		return errors.Wrap(err, "encode telegram payload")
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send telegram message")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
