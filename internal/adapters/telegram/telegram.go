// Package telegram delivers operator alerts to a Telegram chat.
//
// The bot never polls; it only calls sendMessage, so it can share a token
// with a bot that is polling elsewhere.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "hackboard/pkg/logx"
)

// Telegram rejects messages longer than this.
const maxMessageLen = 4096

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint; empty means the public one.
	APIURL  string
	Timeout time.Duration
}

// Alerter implements logx.AlertSender.
type Alerter struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	chat *tele.Chat
}

var _ logx.AlertSender = (*Alerter)(nil)

func New(cfg Config, log logx.Logger) (*Alerter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Alerter{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "telegram")),
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
	}, nil
}

// SendAlert posts text as a plain message. The call itself is bounded by
// the HTTP client timeout; ctx only short-circuits sends after shutdown.
func (a *Alerter) SendAlert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if r := []rune(text); len(r) > maxMessageLen {
		text = string(r[:maxMessageLen-1]) + "…"
	}
	_, err := a.bot.Send(a.chat, text, &tele.SendOptions{
		ThreadID:              a.cfg.ThreadID,
		DisableWebPagePreview: true,
	})
	if err != nil {
		// never route this through Warn/Error: it would alert about alerting
		a.log.Debug("alert send failed", logx.Int64("chat_id", a.cfg.ChatID), logx.Err(err))
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
