// Package telegram is the Telegram delivery channel, backed by telebot.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"panewatch/internal/channels"
	"panewatch/pkg/logx"
)

// Channel is the registry name this sender is registered under.
const Channel = "telegram"

type Config struct {
	Token       string
	SendTimeout time.Duration // 0 means 10s
}

type Sender struct {
	bot *tele.Bot
	log logx.Logger
}

// New builds a push-only sender: no poller is configured because the
// watcher never consumes updates.
func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:       cfg.Token,
		Synchronous: true,
		Client:      &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Sender{bot: b, log: log}, nil
}

func (s *Sender) SendText(ctx context.Context, to channels.Target, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(to.Address), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram target %q is not a chat id: %w", to.Address, err)
	}
	threadID := 0
	if to.ThreadID != "" {
		if n, err := strconv.Atoi(to.ThreadID); err == nil {
			threadID = n
		}
	}

	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	chat := &tele.Chat{ID: chatID}
	_, err = s.bot.Send(chat, text, &tele.SendOptions{ThreadID: threadID})
	return err
}
