package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"tickerwatch/internal/ticker"
	logx "tickerwatch/pkg/logx"
	"tickerwatch/pkg/tgui"
)

const (
	callbackScope  = "tw"
	actionSnooze   = "snooze"
	actionUnsnooze = "unsnooze"
)

type TelegramConfig struct {
	Token       string
	ChatID      int64
	PollTimeout time.Duration
	// Offline skips the getMe call (tests).
	Offline bool
}

// Telegram posts alerts to one chat with "Open chart" and "Snooze" buttons.
// Button presses are handled by the same bot while it polls; a press flips
// the button between Snooze and Unsnooze.
type Telegram struct {
	cfg     TelegramConfig
	log     logx.Logger
	bot     *tele.Bot
	snoozer Snoozer

	runMu   sync.Mutex
	running bool
	done    chan struct{}
}

func NewTelegram(cfg TelegramConfig, snoozer Snoozer, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	t := &Telegram{cfg: cfg, log: log, bot: b, snoozer: snoozer}
	b.Handle(tele.OnCallback, t.onCallback)
	return t, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Deliver(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(&tele.Chat{ID: t.cfg.ChatID}, renderMessage(n), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ReplyMarkup:           actionKeyboard(n.Symbol, n.ChartURL, false),
	})
	return err
}

// Run polls for button presses until ctx is done.
func (t *Telegram) Run(ctx context.Context) error {
	t.runMu.Lock()
	if t.running {
		t.runMu.Unlock()
		return nil
	}
	t.running = true
	t.done = make(chan struct{})
	done := t.done
	t.runMu.Unlock()

	go func() {
		<-ctx.Done()
		t.bot.Stop()
	}()
	t.log.Info("telegram polling started")
	t.bot.Start()
	close(done)

	t.runMu.Lock()
	t.running = false
	t.runMu.Unlock()
	t.log.Info("telegram polling stopped")
	return ctx.Err()
}

func (t *Telegram) onCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	reply, err := t.handleAction(context.Background(), cb.Data)
	if err != nil {
		t.log.Warn("telegram action failed", logx.String("data", cb.Data), logx.Err(err))
		reply = "Failed: " + err.Error()
	} else if cb.Message != nil {
		t.flipKeyboard(cb.Message, cb.Data)
	}
	return c.Respond(&tele.CallbackResponse{Text: reply})
}

// handleAction applies a button press and returns the toast text.
func (t *Telegram) handleAction(ctx context.Context, data string) (string, error) {
	scope, action, sym, ok := tgui.ParseData(data)
	if !ok || scope != callbackScope {
		return "", errors.New("unknown action")
	}
	if !ticker.ValidSymbol(sym) {
		return "", errors.New("bad symbol")
	}
	if t.snoozer == nil {
		return "", errors.New("snooze unavailable")
	}
	switch action {
	case actionSnooze:
		if err := t.snoozer.SetSnooze(ctx, sym, true); err != nil {
			return "", err
		}
		return sym + " snoozed", nil
	case actionUnsnooze:
		if err := t.snoozer.SetSnooze(ctx, sym, false); err != nil {
			return "", err
		}
		return sym + " unsnoozed", nil
	}
	return "", errors.New("unknown action")
}

func renderMessage(n Notification) string {
	msg := tgui.B(n.Title()).String() + "\n" + tgui.Esc(n.Body()).String()
	if n.ChartURL != "" {
		msg += "\n" + tgui.Link("chart", n.ChartURL).String()
	}
	return msg
}

// flipKeyboard swaps Snooze for Unsnooze (or back) on the pressed message.
func (t *Telegram) flipKeyboard(msg *tele.Message, data string) {
	_, action, sym, _ := tgui.ParseData(data)
	rm := actionKeyboard(sym, chartURL(msg.ReplyMarkup), action == actionSnooze)
	if _, err := t.bot.EditReplyMarkup(msg, rm); err != nil {
		t.log.Debug("telegram keyboard update failed", logx.String("symbol", sym), logx.Err(err))
	}
}

func actionKeyboard(sym, chart string, snoozed bool) *tele.ReplyMarkup {
	btn := tgui.Btn("😴 Snooze", tgui.Data(callbackScope, actionSnooze, sym))
	if snoozed {
		btn = tgui.Btn("🔔 Unsnooze", tgui.Data(callbackScope, actionUnsnooze, sym))
	}
	if chart == "" {
		return tgui.NewInline().Row(btn).Markup()
	}
	return tgui.NewInline().Row(tgui.URLBtn("📈 Open chart", chart), btn).Markup()
}

func chartURL(rm *tele.ReplyMarkup) string {
	if rm == nil {
		return ""
	}
	for _, row := range rm.InlineKeyboard {
		for _, b := range row {
			if b.URL != "" {
				return b.URL
			}
		}
	}
	return ""
}
