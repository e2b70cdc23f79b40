package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"notifyd/internal/notification"
	"notifyd/pkg/logx"
)

// TelegramConfig configures the Telegram sink.
type TelegramConfig struct {
	Token      string
	ChatID     int64
	RatePerSec int // default 1; Telegram throttles aggressively per chat
}

// Telegram delivers records as Telegram messages. Sends are rate limited so a
// burst of flushed bundles doesn't trip the Bot API flood control.
type Telegram struct {
	bot     *tele.Bot
	chat    tele.ChatID
	limiter *rate.Limiter
	log     logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	// Send-only: no poller, the sink never consumes updates.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}

	return &Telegram{
		bot:     b,
		chat:    tele.ChatID(cfg.ChatID),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

func (t *Telegram) Deliver(ctx context.Context, r notification.Record) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate wait: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>", escapeHTML(r.Title))
	if count := r.Meta(notification.MetaBundledCount); count != "" {
		fmt.Fprintf(&b, " <i>(%s grouped)</i>", count)
	}
	if r.Body != "" {
		b.WriteString("\n")
		b.WriteString(escapeHTML(truncate(r.Body, 3500)))
	}

	var opts *tele.SendOptions
	if len(r.Actions) > 0 {
		markup := &tele.ReplyMarkup{}
		rows := make([]tele.Row, 0, len(r.Actions))
		for _, a := range r.Actions {
			rows = append(rows, markup.Row(markup.Data(a.Label, "notify", a.Token)))
		}
		markup.Inline(rows...)
		opts = &tele.SendOptions{ParseMode: tele.ModeHTML, ReplyMarkup: markup, DisableWebPagePreview: true}
	} else {
		opts = &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
	}

	start := time.Now()
	_, err := t.bot.Send(t.chat, b.String(), opts)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	t.log.Debug("telegram delivery",
		logx.String("id", r.ID), logx.Duration("took", time.Since(start)))
	return nil
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// truncate returns s cut to at most n runes, never splitting a rune.
// It appends an ellipsis when truncated.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}
