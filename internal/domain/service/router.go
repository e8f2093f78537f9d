package service

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Intent is the coarse classification of a user message, used to pick a
// model tier and tag usage records.
type Intent string

const (
	IntentChat     Intent = "chat"
	IntentCode     Intent = "code"
	IntentAnalysis Intent = "analysis"
	IntentSearch   Intent = "search"
	IntentSystem   Intent = "system"
	IntentCreative Intent = "creative"
	IntentFile     Intent = "file"
)

// Model tiers: 1 cheap/fast, 2 balanced, 3 flagship.
const (
	TierCheap    = 1
	TierBalanced = 2
	TierFlagship = 3
)

// KeyChecker reports whether a provider has a usable credential. The vault
// implements it; keyless providers (ollama) always answer true.
type KeyChecker interface {
	HasKey(provider string) bool
}

var (
	reCode     = regexp.MustCompile(`(?i)\b(code|coding|function|bug|debug|compile|refactor|implement|regex|stack trace|exception|traceback|golang|python|javascript|typescript|rust|sql)\b`)
	reFile     = regexp.MustCompile(`(?i)\b(file|folder|directory|upload|download|attachment|\.pdf|\.csv|\.xlsx|\.png|\.jpg)\b`)
	reSearch   = regexp.MustCompile(`(?i)\b(search|look up|google|latest|news|current|today'?s|weather|price of)\b`)
	reSystem   = regexp.MustCompile(`(?i)\b(status|restart|shutdown|config|vault|queue|cron|session|memory file|doctor)\b`)
	reAnalysis = regexp.MustCompile(`(?i)\b(analy[sz]e|analysis|compare|evaluate|assess|explain why|summari[sz]e|review|pros and cons|trade-?offs?)\b`)
	reCreative = regexp.MustCompile(`(?i)\b(write (a|me|an)|story|poem|essay|song|imagine|creative|brainstorm|draft)\b`)

	reDeep  = regexp.MustCompile(`(?i)\b(analy[sz]e deeply|think (hard|carefully|step by step)|in depth|thorough(ly)?|comprehensive)\b`)
	reQuick = regexp.MustCompile(`(?i)\b(quick(ly)? answer|briefly|short answer|one (word|line)|tl;?dr)\b`)
)

// routingTable maps tier → provider-ordered candidate models. The first
// candidate whose provider holds a key wins.
type routingTable map[int][]string

func defaultRoutingTable() routingTable {
	return routingTable{
		TierCheap: {
			"anthropic/claude-3-5-haiku-20241022",
			"openai/gpt-4o-mini",
			"google/gemini-2.5-flash",
			"xai/grok-3-mini",
			"openrouter/meta-llama/llama-3.3-70b-instruct",
			"ollama/llama3.2",
		},
		TierBalanced: {
			"anthropic/claude-sonnet-4-20250514",
			"openai/gpt-4o",
			"xai/grok-3",
			"google/gemini-2.5-pro",
			"ollama/llama3.2",
		},
		TierFlagship: {
			"anthropic/claude-opus-4-1",
			"openai/o3",
			"google/gemini-2.5-pro",
			"xai/grok-3",
		},
	}
}

// ModelRouter picks a "provider/model" id for a user message. A forced
// override (set by the operator or a session) short-circuits routing.
type ModelRouter struct {
	mu     sync.RWMutex
	forced string
	table  routingTable
	keys   KeyChecker
	logger *zap.Logger
}

// NewModelRouter builds a router over the default table.
func NewModelRouter(keys KeyChecker, logger *zap.Logger) *ModelRouter {
	return &ModelRouter{
		table:  defaultRoutingTable(),
		keys:   keys,
		logger: logger.With(zap.String("component", "model-router")),
	}
}

// SetForced sets (or clears, with "") the global model override.
func (r *ModelRouter) SetForced(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forced = model
}

// Forced returns the current global override.
func (r *ModelRouter) Forced() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.forced
}

// SetTierModels replaces the candidate list for one tier.
func (r *ModelRouter) SetTierModels(tier int, models []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[tier] = append([]string(nil), models...)
}

// Route picks the model for a message. Returns the "provider/model" id, the
// classified intent, and the tier that was used.
func (r *ModelRouter) Route(text string, hasTools bool) (string, Intent, int) {
	r.mu.RLock()
	forced := r.forced
	r.mu.RUnlock()

	intent := Classify(text)
	tier := r.pickTier(text, intent, hasTools)

	if forced != "" {
		return forced, intent, tier
	}

	model := r.pickModel(tier)
	r.logger.Debug("Routed message",
		zap.String("intent", string(intent)),
		zap.Int("tier", tier),
		zap.String("model", model),
		zap.Bool("tools", hasTools),
	)
	return model, intent, tier
}

// Classify assigns an intent to a message. First match wins; code fences
// trump everything since pasted code dominates the signal.
func Classify(text string) Intent {
	if strings.Contains(text, "```") {
		return IntentCode
	}
	switch {
	case reCode.MatchString(text):
		return IntentCode
	case reSystem.MatchString(text):
		return IntentSystem
	case reFile.MatchString(text):
		return IntentFile
	case reSearch.MatchString(text):
		return IntentSearch
	case reAnalysis.MatchString(text):
		return IntentAnalysis
	case reCreative.MatchString(text):
		return IntentCreative
	default:
		return IntentChat
	}
}

func (r *ModelRouter) pickTier(text string, intent Intent, hasTools bool) int {
	tier := TierCheap
	switch intent {
	case IntentCode, IntentCreative:
		tier = TierBalanced
	case IntentAnalysis:
		tier = TierFlagship
	}

	if len(text) > 1200 {
		tier++
	}
	if strings.Count(text, "```") >= 2 {
		tier++
	}
	if reDeep.MatchString(text) {
		tier = TierFlagship
	}
	if reQuick.MatchString(text) {
		tier = TierCheap
	}
	if hasTools && tier < TierBalanced {
		tier = TierBalanced
	}

	if tier > TierFlagship {
		tier = TierFlagship
	}
	if tier < TierCheap {
		tier = TierCheap
	}
	return tier
}

// pickModel returns the first candidate in the tier whose provider has a
// key, falling back one tier at a time, and finally to the tier's head so
// the gateway can surface a key-missing result instead of guessing.
func (r *ModelRouter) pickModel(tier int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for t := tier; t >= TierCheap; t-- {
		for _, candidate := range r.table[t] {
			provider := ProviderOf(candidate)
			if r.keys == nil || r.keys.HasKey(provider) {
				return candidate
			}
		}
	}
	if len(r.table[tier]) > 0 {
		return r.table[tier][0]
	}
	return ""
}

// ProviderOf splits "provider/model" and returns the provider part. Model
// ids may themselves contain slashes (openrouter/meta-llama/llama-3.3).
func ProviderOf(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[:idx]
	}
	return model
}

// ModelOf returns the model part of "provider/model".
func ModelOf(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}
