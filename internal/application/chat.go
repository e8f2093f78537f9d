package application

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/internal/domain/service"
	"github.com/salmalm/salmalm/internal/infrastructure/llm"
	"github.com/salmalm/salmalm/internal/infrastructure/node"
	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

// ChatResult is the synchronous chat answer.
type ChatResult struct {
	Response   string `json:"response"`
	Model      string `json:"model"`
	Complexity string `json:"complexity"`
}

// Chat runs one user message through the queue and the agent loop.
func (a *App) Chat(ctx context.Context, sessionID, text string) (ChatResult, error) {
	if !entity.ValidLaneID(sessionID) {
		return ChatResult{}, apperrors.NewInvalidInputError("invalid session id")
	}
	model, intent, tier := a.Router.Route(text, true)
	reply, err := a.Queue.Process(ctx, sessionID, text, func(ctx context.Context, sid, merged string) (string, error) {
		return a.Loop.Run(ctx, sid, merged, service.RunOptions{Tier: tier}, nil)
	})
	if err != nil {
		return ChatResult{}, err
	}
	return ChatResult{Response: reply, Model: model, Complexity: string(intent)}, nil
}

// ChatStream is Chat with a live event surface. Events flow only to the
// caller whose message triggered processing; merged senders get the shared
// final text.
func (a *App) ChatStream(ctx context.Context, sessionID, text string, emit service.EmitFunc) (ChatResult, error) {
	if !entity.ValidLaneID(sessionID) {
		return ChatResult{}, apperrors.NewInvalidInputError("invalid session id")
	}
	model, intent, tier := a.Router.Route(text, true)
	reply, err := a.Queue.Process(ctx, sessionID, text, func(ctx context.Context, sid, merged string) (string, error) {
		return a.Loop.Run(ctx, sid, merged, service.RunOptions{Tier: tier}, emit)
	})
	if err != nil {
		return ChatResult{}, err
	}
	return ChatResult{Response: reply, Model: model, Complexity: string(intent)}, nil
}

// AbortTurn freezes the running turn for a session; the partial text becomes
// the assistant reply.
func (a *App) AbortTurn(sessionID string) {
	a.Abort.SetAbort(sessionID)
}

// Regenerate rolls the session back to the assistant turn at index,
// preserves the replaced text as an alternative, and produces a fresh turn
// from the same user message. The rollback and the rerun hold the session
// lane, so a queued turn can never interleave with them.
func (a *App) Regenerate(ctx context.Context, sessionID string, index int) (ChatResult, error) {
	if !entity.ValidLaneID(sessionID) {
		return ChatResult{}, apperrors.NewInvalidInputError("invalid session id")
	}
	var result ChatResult
	err := a.Queue.RunExclusive(ctx, sessionID, func(ctx context.Context) error {
		sess, err := a.Sessions.Load(ctx, sessionID)
		if err != nil {
			return err
		}
		if index <= 0 || index >= len(sess.Messages) {
			return apperrors.NewInvalidInputError(fmt.Sprintf("message index %d out of range", index))
		}
		old := sess.Messages[index]
		if old.Role != entity.RoleAssistant {
			return apperrors.NewInvalidInputError("message at index is not an assistant turn")
		}
		userIdx := index - 1
		for userIdx > 0 && sess.Messages[userIdx].Role != entity.RoleUser {
			userIdx--
		}
		if sess.Messages[userIdx].Role != entity.RoleUser {
			return apperrors.NewInvalidInputError("no user turn precedes the assistant message")
		}
		userText := sess.Messages[userIdx].Text()

		if err := a.Alternatives.Add(ctx, sessionID, index, old.Text(), old.Model); err != nil {
			return err
		}
		sess.Messages = sess.Messages[:userIdx]
		if err := a.Sessions.Persist(ctx, sess); err != nil {
			return err
		}

		model, intent, tier := a.Router.Route(userText, true)
		reply, err := a.Loop.Run(ctx, sessionID, userText, service.RunOptions{Tier: tier}, nil)
		if err != nil {
			return err
		}
		result = ChatResult{Response: reply, Model: model, Complexity: string(intent)}
		return nil
	})
	return result, err
}

// QueueCommand applies a /queue command for one session and reports the
// resulting lane settings.
func (a *App) QueueCommand(sessionID, args string) string {
	return a.Queue.HandleCommand(sessionID, args)
}

// StatusReport is the /status payload.
type StatusReport struct {
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Model         string             `json:"model"`
	Providers     []string           `json:"providers"`
	Usage         entity.UsageTotals `json:"usage"`
	CostCapUSD    float64            `json:"cost_cap_usd"`
	Skills        []string           `json:"skills"`
	ExternalTools []string           `json:"external_tools,omitempty"`
	Nodes         []node.Info        `json:"nodes,omitempty"`
	SubAgents     int                `json:"subagents"`
}

// Status collects the live state of the gateway.
func (a *App) Status() StatusReport {
	var skillNames []string
	for _, s := range a.Skills.List() {
		skillNames = append(skillNames, s.Name)
	}
	var providers []string
	for _, p := range []string{"anthropic", "openai", "xai", "google", "openrouter", "deepseek", "mistral"} {
		if a.Vault.HasKey(p) {
			providers = append(providers, p)
		}
	}
	report := StatusReport{
		Version:       Version,
		UptimeSeconds: int64(a.Monitor.Uptime().Seconds()),
		Model:         a.Config.LLM.DefaultModel,
		Providers:     providers,
		Usage:         a.Usage.Totals(),
		CostCapUSD:    a.Usage.Cap(),
		Skills:        skillNames,
		ExternalTools: a.Plugins.Names(),
		SubAgents:     len(a.SubAgents.List()),
	}
	if a.Nodes != nil {
		report.Nodes = a.Nodes.List()
	}
	return report
}

// DoctorCheck is one environment probe result.
type DoctorCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Doctor probes the pieces that break silently in the field.
func (a *App) Doctor(ctx context.Context) []DoctorCheck {
	checks := []DoctorCheck{}

	if info, err := os.Stat(a.Config.Home); err != nil || !info.IsDir() {
		checks = append(checks, DoctorCheck{Name: "home", Detail: "home directory missing: " + a.Config.Home})
	} else {
		checks = append(checks, DoctorCheck{Name: "home", OK: true, Detail: a.Config.Home})
	}

	vaultCheck := DoctorCheck{Name: "vault", OK: a.Vault.IsUnlocked()}
	if !vaultCheck.OK {
		vaultCheck.Detail = "vault locked; set SALMALM_VAULT_PW"
	}
	checks = append(checks, vaultCheck)

	keyCheck := DoctorCheck{Name: "provider keys"}
	for _, p := range []string{"anthropic", "openai", "xai", "google"} {
		if a.Vault.HasKey(p) {
			keyCheck.OK = true
			keyCheck.Detail += p + " "
		}
	}
	keyCheck.Detail = strings.TrimSpace(keyCheck.Detail)
	if !keyCheck.OK {
		keyCheck.Detail = "no provider API key configured"
	}
	checks = append(checks, keyCheck)

	dbCheck := DoctorCheck{Name: "database"}
	if sqlDB, err := a.db.DB(); err == nil && sqlDB.PingContext(ctx) == nil {
		dbCheck.OK = true
	} else {
		dbCheck.Detail = "relational store unreachable"
	}
	checks = append(checks, dbCheck)

	if err := a.Usage.CheckCostCap(); err != nil {
		checks = append(checks, DoctorCheck{Name: "cost cap", Detail: err.Error()})
	} else {
		checks = append(checks, DoctorCheck{Name: "cost cap", OK: true,
			Detail: fmt.Sprintf("$%.2f of $%.2f", a.Usage.TotalCostUSD(), a.Usage.Cap())})
	}

	tgCheck := DoctorCheck{Name: "telegram", OK: true}
	if a.Config.Telegram.Token == "" {
		tgCheck.Detail = "not configured"
	}
	checks = append(checks, tgCheck)
	return checks
}

// llmSummarizer backs session compaction with a cheap model call.
type llmSummarizer struct {
	gateway *llm.Gateway
}

func (s *llmSummarizer) Summarize(ctx context.Context, dropped []entity.Message) ([]string, error) {
	var sb strings.Builder
	for _, m := range dropped {
		if text := m.Text(); text != "" {
			fmt.Fprintf(&sb, "[%s] %s\n", m.Role, text)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := s.gateway.Call(ctx, &service.LLMRequest{
		SessionID: "summarizer",
		Messages: []entity.Message{entity.NewUserMessage(
			"Summarize this conversation span as terse bullet points, one fact or decision per line, starting each line with \"- \". Keep every concrete name, path, and number.\n\n" + sb.String())},
		MaxTokens:   500,
		Temperature: 0.2,
		NoCache:     true,
		Intent:      "summarize",
	})
	if err != nil {
		return nil, err
	}
	if result.Failed() {
		return nil, fmt.Errorf("summarizer call failed: %s", result.Error)
	}
	var bullets []string
	for _, line := range strings.Split(result.Content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			bullets = append(bullets, strings.TrimPrefix(line, "- "))
		}
	}
	if len(bullets) == 0 {
		return nil, fmt.Errorf("summarizer returned no bullets")
	}
	return bullets, nil
}
