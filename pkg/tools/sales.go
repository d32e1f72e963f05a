package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"concierge/pkg/config"
)

// RegisterSalesTools seals the registry with the full sales toolset bound to
// the business tables. Call once during startup before building providers.
func RegisterSalesTools(business config.Business) {
	factories := []func() Tool{
		func() Tool { return &pricingTool{business: business} },
		func() Tool { return &portfolioTool{} },
		func() Tool { return &paymentLinkTool{business: business} },
		func() Tool { return &briefTool{} },
		func() Tool { return &consultationTool{} },
	}
	for _, factory := range factories {
		proto := factory()
		Register(proto.Name(), factory, proto.Definition())
	}
	Seal()
}

// pricingTool renders the package table. The UI layer reacts to the pricing
// action by showing the interactive price cards.
type pricingTool struct {
	business config.Business
}

func (t *pricingTool) Name() string { return "show_pricing" }

func (t *pricingTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "show_pricing",
		Description: "Показать клиенту прайс с пакетами услуг. Вызывай, когда клиент спрашивает о ценах или стоимости.",
		InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}},
	}
}

func (t *pricingTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	var b strings.Builder
	b.WriteString("Пакеты:\n")
	for _, p := range t.business.Packages {
		fmt.Fprintf(&b, "- %s — от %s ₽\n", p.Name, formatAmount(p.Price))
	}
	b.WriteString(SentinelPricing)
	return &ExecResult{Content: b.String(), Action: &SpecialAction{Kind: ActionPricing}}, nil
}

type portfolioTool struct{}

func (t *portfolioTool) Name() string { return "show_portfolio" }

func (t *portfolioTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "show_portfolio",
		Description: "Показать кейсы из портфолио по категории. Категории: landing, corporate, shop, webapp.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"category": {Type: "string", Description: "Категория кейсов", Enum: []string{"landing", "corporate", "shop", "webapp"}},
			},
			Required: []string{"category"},
		},
	}
}

func (t *portfolioTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	category := StringArg(args, "category", "")
	return &ExecResult{
		Content: fmt.Sprintf("Подобрал кейсы категории %q. %s %s]", category, SentinelPortfolioPrefix, category),
		Action:  &SpecialAction{Kind: ActionPortfolio, Payload: category},
	}, nil
}

// paymentLinkTool issues a payment reference. The link itself is minted by
// the payment backend; the tool only produces the deterministic URL shape.
type paymentLinkTool struct {
	business config.Business
}

func (t *paymentLinkTool) Name() string { return "create_payment_link" }

func (t *paymentLinkTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "create_payment_link",
		Description: "Создать ссылку на оплату выбранного пакета. Вызывай только после того, как клиент подтвердил выбор.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"package": {Type: "string", Description: "Название пакета"},
				"amount":  {Type: "integer", Description: "Сумма в рублях"},
			},
			Required: []string{"package", "amount"},
		},
	}
}

func (t *paymentLinkTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	pkg := StringArg(args, "package", "")
	amount := IntArg(args, "amount", 0)
	if !t.allowedAmount(amount) {
		return &ExecResult{
			Content: fmt.Sprintf("Сумма %s ₽ не совпадает ни с одним пакетом или тарифом подписки. Уточни у клиента выбранный пакет и повтори вызов.", formatAmount(amount)),
		}, nil
	}

	ref := uuid.New().String()
	link := fmt.Sprintf("%s/%s", t.business.PaymentBaseURL, ref)
	return &ExecResult{
		Content: fmt.Sprintf("Ссылка на оплату пакета «%s» (%s ₽): %s\n%s", pkg, formatAmount(amount), link, SentinelPayment),
		Action:  &SpecialAction{Kind: ActionPayment, Payload: link},
	}, nil
}

func (t *paymentLinkTool) allowedAmount(amount int) bool {
	for _, p := range t.business.Packages {
		if amount == p.Price {
			return true
		}
	}
	for _, p := range t.business.SubscriptionPrices {
		if amount == p {
			return true
		}
	}
	return false
}

type briefTool struct{}

func (t *briefTool) Name() string { return "generate_ai_brief" }

func (t *briefTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "generate_ai_brief",
		Description: "Сформировать бриф проекта по описанию клиента. Вызывай, когда клиент описал задачу и готов к оценке.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"description": {Type: "string", Description: "Описание проекта со слов клиента"},
			},
			Required: []string{"description"},
		},
	}
}

func (t *briefTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	description := StringArg(args, "description", "")
	if strings.TrimSpace(description) == "" {
		return &ExecResult{
			Content: "Описание проекта пустое. Попроси клиента рассказать о задаче и вызови инструмент ещё раз.",
		}, nil
	}
	return &ExecResult{
		Content: fmt.Sprintf("Бриф сформирован по описанию: %s\n%s", description, SentinelBrief),
		Action:  &SpecialAction{Kind: ActionBrief},
	}, nil
}

type consultationTool struct{}

func (t *consultationTool) Name() string { return "book_consultation" }

func (t *consultationTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        "book_consultation",
		Description: "Записать клиента на бесплатную консультацию с менеджером.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"topic": {Type: "string", Description: "Тема консультации"},
			},
		},
	}
}

func (t *consultationTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	topic := StringArg(args, "topic", "обсуждение проекта")
	return &ExecResult{
		Content: fmt.Sprintf("Заявка на консультацию принята: %s. Менеджер свяжется в рабочее время.", topic),
		Action:  &SpecialAction{Kind: ActionConsultation, Payload: topic},
	}, nil
}

func formatAmount(amount int) string {
	s := fmt.Sprintf("%d", amount)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
