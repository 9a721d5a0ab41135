package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kjannette/trahn-keeper/internal/retry"
)

// Sender posts keeper events to a Slack or Discord webhook. With no URL it
// only logs.
type Sender struct {
	webhookURL string
	botName    string
	httpClient *http.Client
	retry      retry.Config
	log        *slog.Logger
}

func NewSender(webhookURL, botName string, log *slog.Logger) *Sender {
	if botName == "" {
		botName = "TrahnKeeper"
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "notifications")
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
			Logger:      log,
		},
		log: log,
	}
}

// TxSubmitted reports a run(botId) transaction accepted by the node.
func (s *Sender) TxSubmitted(chainID int64, botID uint64, hash common.Hash) {
	s.Send(fmt.Sprintf("run submitted: chain %d bot #%d tx %s", chainID, botID, hash.Hex()))
}

// BotStopped reports a bot whose schedule ended on a terminal condition.
func (s *Sender) BotStopped(chainID int64, botID uint64, reason string) {
	s.Send(fmt.Sprintf("bot stopped: chain %d bot #%d (%s)", chainID, botID, reason))
}

func (s *Sender) Send(msg string) {
	formatted := fmt.Sprintf("[%s] %s", s.botName, msg)
	s.log.Info(formatted)

	if s.webhookURL == "" {
		return
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		s.log.Error("marshal payload", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := retry.HTTP(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		s.log.Error("webhook failed after retries", "error", err)
		return
	}
	resp.Body.Close()
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.botName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.botName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
