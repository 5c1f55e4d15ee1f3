package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/helpdesk_sim/backend/internal/ai"
	"github.com/helpdesk_sim/backend/internal/models"
)

// ResponseEngine produces the simulated end user's reply to one analyst message.
type ResponseEngine interface {
	GenerateReply(ctx context.Context, agentMessage string, truth models.HiddenTruth, recent []models.Interaction) (string, error)
	DescribeStatus() EngineStatus
}

type EngineStatus struct {
	ConfiguredEngine        string `json:"configured_engine"`
	ActiveMode              string `json:"active_mode"`
	LLMEnabled              bool   `json:"llm_enabled"`
	FallbackEnabled         bool   `json:"fallback_enabled"`
	FallbackEngine          string `json:"fallback_engine,omitempty"`
	Endpoint                string `json:"endpoint,omitempty"`
	Model                   string `json:"model,omitempty"`
	GeneratedReplyCount     int64  `json:"generated_reply_count"`
	SuccessfulLLMReplyCount int64  `json:"successful_llm_reply_count"`
	FallbackReplyCount      int64  `json:"fallback_reply_count"`
	LastError               string `json:"last_error,omitempty"`
}

const (
	screenshotReply = "I can send one in a few minutes, but right now I can only describe what I see."
	errorReply      = "The message says access denied and it started this morning."
)

// clueAliases maps a clue key to the phrasings an analyst typically uses to ask for it.
var clueAliases = map[string][]string{
	"username":      {"username", "user name", "which user", "who is impacted", "who is this for"},
	"error":         {"error", "exact message", "what message", "what does it say"},
	"mfa":           {"mfa", "2fa", "two factor", "authenticator", "verification code"},
	"scope":         {"where", "what system", "which system", "sign in", "login", "log in"},
	"permission":    {"permission", "access", "rights", "role"},
	"account":       {"account", "profile", "user account"},
	"restart":       {"restart", "reboot"},
	"sync":          {"sync", "replication"},
	"version":       {"version", "update"},
	"wifi":          {"wifi", "internet", "network"},
	"trace":         {"trace", "mail flow", "delivery"},
	"attachment":    {"attachment", "pdf", "file"},
	"scope_segment": {"scope", "segment", "affected users"},
}

func questionMatchesClue(messageLower, clueKey string) bool {
	if strings.Contains(messageLower, clueKey) {
		return true
	}
	for _, alias := range clueAliases[clueKey] {
		if strings.Contains(messageLower, alias) {
			return true
		}
	}
	return false
}

func containsAny(s string, tokens ...string) bool {
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

// RuleBasedEngine answers from the clue map, then ticket-type context, then fixed keyword replies,
// and finally the scenario's default follow-up.
type RuleBasedEngine struct {
	replies atomic.Int64
}

func (e *RuleBasedEngine) GenerateReply(_ context.Context, agentMessage string, truth models.HiddenTruth, _ []models.Interaction) (string, error) {
	e.replies.Add(1)
	lower := strings.ToLower(agentMessage)
	for _, clue := range truth.ClueMap {
		if questionMatchesClue(lower, strings.ToLower(clue.Key)) {
			return clue.Answer, nil
		}
	}
	if reply, ok := contextualReply(lower, truth.TicketType); ok {
		return reply, nil
	}
	if strings.Contains(lower, "screenshot") {
		return screenshotReply, nil
	}
	if strings.Contains(lower, "error") {
		return errorReply, nil
	}
	if truth.DefaultFollowUp != "" {
		return truth.DefaultFollowUp, nil
	}
	return models.DefaultFollowUp, nil
}

func contextualReply(lower, ticketType string) (string, bool) {
	asksWhere := containsAny(lower, "where", "which system", "what system")
	asksSignIn := containsAny(lower, "sign in", "login", "log in")
	asksDetail := containsAny(lower, "clarify", "more detail", "details", "what do you need")

	switch strings.ToLower(ticketType) {
	case "password_reset":
		if asksWhere || asksSignIn || asksDetail {
			return "I am trying to sign in to my Windows workstation at the office. It says my password has expired.", true
		}
	case "access_request":
		if asksDetail {
			return "I can sign in, but I still cannot access the feature I mentioned in the ticket.", true
		}
	case "vpn_issue":
		if asksDetail {
			return "I can connect, but the VPN drops every few minutes while I work.", true
		}
	}
	return "", false
}

func (e *RuleBasedEngine) DescribeStatus() EngineStatus {
	return EngineStatus{
		ConfiguredEngine:    "rule_based",
		ActiveMode:          "rule_based",
		GeneratedReplyCount: e.replies.Load(),
	}
}

var errVagueReply = errors.New("text generation returned a vague reply")

var genericReplyMarkers = []string{
	"tell me exactly what you need",
	"tell me what you need",
	"i can provide more details if needed",
	"i can provide more details if you need",
	"i can try steps while you stay on the ticket",
	"let me know what you need",
}

// LLMEngine asks a text-generation service to reply in character and hands off to Fallback when
// the call fails or the reply is a non-answer.
type LLMEngine struct {
	Name      string
	Generator ai.Generator
	Fallback  ResponseEngine
	Endpoint  string
	Model     string

	mu        sync.Mutex
	succeeded int64
	fellBack  int64
	lastMode  string
	lastError string
}

func (e *LLMEngine) GenerateReply(ctx context.Context, agentMessage string, truth models.HiddenTruth, recent []models.Interaction) (string, error) {
	prompt := buildReplySystemPrompt(agentMessage, truth, len(recent)) + "\n\n" + buildReplyPrompt(agentMessage, truth, recent)
	text, err := e.Generator.Generate(ctx, prompt)
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = errors.New("text generation returned an empty reply")
	}
	if err == nil && replyNeedsFallback(agentMessage, text) {
		err = errVagueReply
	}
	if err == nil {
		e.mu.Lock()
		e.succeeded++
		e.lastMode = e.name()
		e.lastError = ""
		e.mu.Unlock()
		return text, nil
	}

	e.mu.Lock()
	e.lastError = err.Error()
	if e.Fallback == nil {
		e.lastMode = "error"
		e.mu.Unlock()
		return "", fmt.Errorf("%s reply: %w: %v", e.name(), models.ErrUpstreamUnavailable, err)
	}
	e.fellBack++
	e.lastMode = "fallback_" + e.Fallback.DescribeStatus().ConfiguredEngine
	e.mu.Unlock()
	return e.Fallback.GenerateReply(ctx, agentMessage, truth, recent)
}

func (e *LLMEngine) name() string {
	if e.Name == "" {
		return "llm"
	}
	return e.Name
}

func (e *LLMEngine) DescribeStatus() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	mode := e.lastMode
	if mode == "" {
		mode = "not_used_yet"
	}
	status := EngineStatus{
		ConfiguredEngine:        e.name(),
		ActiveMode:              mode,
		LLMEnabled:              true,
		FallbackEnabled:         e.Fallback != nil,
		Endpoint:                e.Endpoint,
		Model:                   e.Model,
		GeneratedReplyCount:     e.succeeded + e.fellBack,
		SuccessfulLLMReplyCount: e.succeeded,
		FallbackReplyCount:      e.fellBack,
		LastError:               e.lastError,
	}
	if e.Fallback != nil {
		status.FallbackEngine = e.Fallback.DescribeStatus().ConfiguredEngine
	}
	return status
}

// replyNeedsFallback rejects stock non-answers, and very short replies to direct questions.
func replyNeedsFallback(agentMessage, reply string) bool {
	lower := strings.ToLower(reply)
	if containsAny(lower, genericReplyMarkers...) {
		return true
	}
	agentLower := strings.ToLower(agentMessage)
	direct := strings.Contains(agentMessage, "?") ||
		containsAny(agentLower, "which", "what", "where", "who", "when", "can you tell me", "could you tell me")
	return direct && len(strings.Fields(lower)) <= 4
}

func buildReplySystemPrompt(agentMessage string, truth models.HiddenTruth, historyLen int) string {
	p := truth.Persona
	name := firstNonEmpty(p.FullName, "the user")
	role := firstNonEmpty(p.Role, "employee")
	level := firstNonEmpty(p.TechnicalLevel, "medium")
	tone := firstNonEmpty(p.Tone, "neutral")

	lines := []string{
		"You are replying as the end user in an IT support ticket.",
		fmt.Sprintf("Persona: %s, department %s, technical level %s, tone %s.", name, role, level, tone),
		"Write exactly one short ticket reply with no greeting and no signature.",
		"Stay realistic, cooperative, and concise.",
		"Do not reveal the hidden root cause unless the agent has already proven it.",
		"Do not say vague lines such as 'tell me exactly what you need' or 'I can try steps while you stay on the ticket' when the agent asked a specific question.",
		"If the agent asked for a concrete fact and the hidden context contains that fact, answer it directly.",
		"If the question is broad, give one or two useful details that move the ticket forward.",
		"Keep it to 1 to 3 sentences.",
	}
	if clues := relevantClues(agentMessage, truth.ClueMap); len(clues) > 0 {
		lines = append(lines, "Answer-relevant clues: "+strings.Join(clues, " | ")+".")
	}
	if historyLen > 0 {
		lines = append(lines, fmt.Sprintf("There are %d recent ticket messages. Stay consistent with that history.", historyLen))
	}
	return strings.Join(lines, " ")
}

func buildReplyPrompt(agentMessage string, truth models.HiddenTruth, recent []models.Interaction) string {
	sections := []string{"Ticket type: " + firstNonEmpty(strings.TrimSpace(truth.TicketType), "general")}
	if problem := strings.TrimSpace(truth.CustomerProblem); problem != "" {
		sections = append(sections, "Original user problem: "+problem)
	}
	if follow := strings.TrimSpace(truth.DefaultFollowUp); follow != "" {
		sections = append(sections, "Fallback style: "+follow)
	}
	if len(truth.ClueMap) > 0 {
		lines := make([]string, 0, len(truth.ClueMap))
		for _, c := range truth.ClueMap {
			lines = append(lines, fmt.Sprintf("- %s: %s", c.Key, c.Answer))
		}
		sections = append(sections, "Known user-facing clues:\n"+strings.Join(lines, "\n"))
	}

	var history []string
	for _, in := range recent {
		body := strings.TrimSpace(in.Body)
		if body == "" {
			continue
		}
		history = append(history, fmt.Sprintf("- %s: %s", firstNonEmpty(string(in.Actor), "unknown"), body))
	}
	if len(history) > recentHistoryLimit {
		history = history[len(history)-recentHistoryLimit:]
	}
	if len(history) == 0 {
		history = []string{"- No prior interaction history available."}
	}
	sections = append(sections,
		"Recent ticket conversation:\n"+strings.Join(history, "\n"),
		"Latest agent message:\n"+agentMessage,
		"Reply as the end user now. Output only the reply text.",
	)
	return strings.Join(sections, "\n\n")
}

func relevantClues(agentMessage string, clues models.ClueMap) []string {
	lower := strings.ToLower(agentMessage)
	var out []string
	for _, c := range clues {
		if questionMatchesClue(lower, strings.ToLower(c.Key)) {
			out = append(out, c.Key+": "+c.Answer)
			if len(out) == 4 {
				break
			}
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
