package tools

import (
	"strings"
)

// ActionKind identifies a UI action the host application renders itself
// instead of letting the model narrate it.
type ActionKind string

const (
	ActionPricing      ActionKind = "pricing"
	ActionPayment      ActionKind = "payment"
	ActionPortfolio    ActionKind = "portfolio"
	ActionBrief        ActionKind = "brief"
	ActionConsultation ActionKind = "consultation"
)

// SpecialAction is a structured signal extracted from a tool result.
// Payload carries kind-specific data (portfolio category, payment URL).
type SpecialAction struct {
	Kind    ActionKind `json:"kind"`
	Payload string     `json:"payload,omitempty"`
}

// Sentinel markers used by external tool executors that can only return
// strings. Tools in this package return typed actions directly; the markers
// exist so the orchestrator can lift actions out of string-only results too.
const (
	SentinelPricing         = "[PRICING]"
	SentinelPayment         = "[PAYMENT]"
	SentinelBrief           = "[AI_BRIEF_GENERATED]"
	SentinelPortfolioPrefix = "[PORTFOLIO:"
	SentinelConsultation    = "[CONSULTATION]"
)

// ParseSentinel recognizes reserved markers in a textual tool result and
// converts them into a typed action. Returns nil when the result is plain text.
func ParseSentinel(result string) *SpecialAction {
	trimmed := strings.TrimSpace(result)
	switch {
	case strings.HasPrefix(trimmed, SentinelPricing):
		return &SpecialAction{Kind: ActionPricing}
	case strings.HasPrefix(trimmed, SentinelPayment):
		payload := strings.TrimSpace(strings.TrimPrefix(trimmed, SentinelPayment))
		return &SpecialAction{Kind: ActionPayment, Payload: payload}
	case strings.HasPrefix(trimmed, SentinelBrief):
		payload := strings.TrimSpace(strings.TrimPrefix(trimmed, SentinelBrief))
		return &SpecialAction{Kind: ActionBrief, Payload: payload}
	case strings.HasPrefix(trimmed, SentinelConsultation):
		return &SpecialAction{Kind: ActionConsultation}
	case strings.HasPrefix(trimmed, SentinelPortfolioPrefix):
		rest := strings.TrimPrefix(trimmed, SentinelPortfolioPrefix)
		if idx := strings.Index(rest, "]"); idx >= 0 {
			rest = rest[:idx]
		}
		return &SpecialAction{Kind: ActionPortfolio, Payload: strings.TrimSpace(rest)}
	default:
		return nil
	}
}

// Acknowledgement is the short prose shown to the model in place of a lifted
// action so it never sees (and never echoes) the raw marker.
func Acknowledgement(kind ActionKind) string {
	switch kind {
	case ActionPricing:
		return "Показал клиенту прайс с пакетами."
	case ActionPayment:
		return "Отправил клиенту ссылку на оплату."
	case ActionPortfolio:
		return "Показал клиенту подборку работ из портфолио."
	case ActionBrief:
		return "Сформировал и отправил клиенту бриф проекта."
	case ActionConsultation:
		return "Записал клиента на консультацию."
	default:
		return "Выполнил действие для клиента."
	}
}
