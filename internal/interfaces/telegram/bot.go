// Package telegram is the long-poll chat channel. Each Telegram chat maps
// to the session "tg:<chat-id>"; inbound bursts ride the queue's collect
// mode so rapid-fire messages merge into one turn.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/application"
	"github.com/salmalm/salmalm/internal/domain/service"
	"github.com/salmalm/salmalm/pkg/safego"
)

const sessionPrefix = "tg:"

// Adapter owns the bot connection and the per-chat settings.
type Adapter struct {
	app    *application.App
	bot    *tgbotapi.BotAPI
	logger *zap.Logger

	mu       sync.Mutex
	thinking map[int64]service.ThinkingLevel
}

func NewAdapter(app *application.App, logger *zap.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(app.Config.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	return &Adapter{
		app:      app,
		bot:      bot,
		logger:   logger,
		thinking: make(map[int64]service.ThinkingLevel),
	}, nil
}

// Run long-polls until the context ends.
func (a *Adapter) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := a.bot.GetUpdatesChan(u)
	a.logger.Info("telegram adapter started", zap.String("bot", a.bot.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			msg := update.Message
			if !a.allowed(msg.Chat.ID) {
				a.logger.Warn("telegram chat not allowlisted", zap.Int64("chat", msg.Chat.ID))
				continue
			}
			a.app.Monitor.Request("telegram")
			if msg.IsCommand() {
				a.reply(msg.Chat.ID, a.handleCommand(ctx, msg))
				continue
			}
			chatID, text := msg.Chat.ID, msg.Text
			safego.Go(a.logger, "telegram-turn", func() { a.runTurn(ctx, chatID, text) })
		}
	}
}

// Notify implements the sub-agent completion surface for Telegram-spawned
// agents.
func (a *Adapter) Notify(parentSessionID, text string) {
	raw, found := strings.CutPrefix(parentSessionID, sessionPrefix)
	if !found {
		return
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return
	}
	a.reply(chatID, text)
}

func (a *Adapter) allowed(chatID int64) bool {
	ids := a.app.Config.Telegram.AllowIDs
	if len(ids) == 0 {
		return true
	}
	for _, id := range ids {
		if id == chatID {
			return true
		}
	}
	return false
}

func (a *Adapter) runTurn(ctx context.Context, chatID int64, text string) {
	a.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	a.mu.Lock()
	thinking := a.thinking[chatID]
	a.mu.Unlock()

	sessionID := sessionPrefix + strconv.FormatInt(chatID, 10)
	reply, err := a.app.Queue.Process(ctx, sessionID, text, func(ctx context.Context, sid, merged string) (string, error) {
		return a.app.Loop.Run(ctx, sid, merged, service.RunOptions{Thinking: thinking, Tier: 3}, nil)
	})
	if err != nil {
		a.reply(chatID, "❌ "+err.Error())
		return
	}
	a.reply(chatID, reply)
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) string {
	chatID := msg.Chat.ID
	sessionID := sessionPrefix + strconv.FormatInt(chatID, 10)
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		return "Hi! I am SalmAlm. Send me a message, or /help yourself to:\n" +
			"/new /sessions /model /think /queue /status /usage /abort"
	case "new":
		if err := a.app.Sessions.Delete(ctx, sessionID, 0); err != nil {
			a.logger.Warn("session reset failed", zap.Error(err))
		}
		return "Started a fresh conversation."
	case "sessions":
		infos, err := a.app.Sessions.List(ctx, 0)
		if err != nil {
			return "❌ " + err.Error()
		}
		if len(infos) == 0 {
			return "No sessions yet."
		}
		var sb strings.Builder
		for _, info := range infos {
			fmt.Fprintf(&sb, "%s — %d messages\n", info.ID, info.MessageCount)
		}
		return sb.String()
	case "model":
		return a.handleModelCommand(ctx, sessionID, args)
	case "think":
		return a.handleThinkCommand(chatID, args)
	case "queue":
		return a.app.QueueCommand(sessionID, args)
	case "status":
		st := a.app.Status()
		return fmt.Sprintf("SalmAlm %s\nUp %ds\nProviders: %s\nSpend: $%.4f of $%.2f",
			st.Version, st.UptimeSeconds, strings.Join(st.Providers, ", "),
			st.Usage.CostUSD, st.CostCapUSD)
	case "usage":
		var sb strings.Builder
		sb.WriteString("Last days:\n")
		daily := a.app.Usage.Daily()
		if len(daily) > 7 {
			daily = daily[len(daily)-7:]
		}
		for _, day := range daily {
			fmt.Fprintf(&sb, "%s  $%.4f (%d calls)\n", day.Period, day.CostUSD, day.Calls)
		}
		return sb.String()
	case "abort":
		a.app.AbortTurn(sessionID)
		return "⏹ Aborted."
	default:
		return "Unknown command. Try /status or just send a message."
	}
}

func (a *Adapter) handleModelCommand(ctx context.Context, sessionID, args string) string {
	sess, err := a.app.Sessions.Load(ctx, sessionID)
	if err != nil {
		return "❌ " + err.Error()
	}
	if args == "" {
		current := sess.ModelOverride
		if current == "" {
			current = "auto (" + a.app.Config.LLM.DefaultModel + ")"
		}
		return "Current model: " + current + "\nUse /model <provider/model> or /model auto."
	}
	if args == "auto" {
		sess.ModelOverride = ""
	} else {
		sess.ModelOverride = args
	}
	if err := a.app.Sessions.Persist(ctx, sess); err != nil {
		return "❌ " + err.Error()
	}
	if sess.ModelOverride == "" {
		return "Model routing is back to automatic."
	}
	return "Model pinned to " + sess.ModelOverride + "."
}

func (a *Adapter) handleThinkCommand(chatID int64, args string) string {
	if args == "" {
		return "Usage: /think off|low|medium|high|xhigh"
	}
	level := service.ThinkingLevel(args)
	if args == "off" {
		level = service.ThinkingOff
	}
	switch level {
	case service.ThinkingOff, service.ThinkingLow, service.ThinkingMedium,
		service.ThinkingHigh, service.ThinkingXHigh:
	default:
		return "Usage: /think off|low|medium|high|xhigh"
	}
	a.mu.Lock()
	a.thinking[chatID] = level
	a.mu.Unlock()
	if level == service.ThinkingOff {
		return "Extended thinking off."
	}
	return "Extended thinking: " + args + "."
}

// reply renders markdown to Telegram HTML and splits long answers. A failed
// HTML send falls back to plain text rather than dropping the reply.
func (a *Adapter) reply(chatID int64, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	for _, chunk := range Chunk(RenderHTML(text)) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := a.bot.Send(msg); err != nil {
			plain := tgbotapi.NewMessage(chatID, chunk)
			if _, err := a.bot.Send(plain); err != nil {
				a.logger.Warn("telegram send failed", zap.Int64("chat", chatID), zap.Error(err))
			}
		}
	}
}
