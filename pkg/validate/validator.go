// Package validate enforces business-fact invariants on model output.
// It is a guardrail against hallucinated prices, terms, and links, not a
// grammar checker: pure text in, corrected text out, no I/O.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"concierge/pkg/config"
)

// Finding describes one rule violation for telemetry and human review.
type Finding struct {
	Rule    string
	Detail  string
	Excerpt string
}

// Outcome is the validation result. Text always carries a safe value equal
// to the input when valid; Valid is advisory telemetry, never a hard block.
type Outcome struct {
	Valid    bool
	Text     string
	Findings []Finding
}

// Validator applies the business rules loaded from config. Construct once,
// reuse across turns; safe for concurrent use.
type Validator struct {
	business config.Business

	packagePrices      []int
	subscriptionPrices map[int]bool

	priceRe       *regexp.Regexp
	prepayRe      *regexp.Regexp
	prepayAfterRe *regexp.Regexp
	revisionRe    *regexp.Regexp
	timelineRe    *regexp.Regexp
	discountRe    *regexp.Regexp
	urlRe         *regexp.Regexp
	placeholderRe *regexp.Regexp
	blankLinesRe  *regexp.Regexp
	spaceRunRe    *regexp.Regexp
	sentenceRe    *regexp.Regexp

	guaranteePhrases []string
}

// New builds a validator from the business constant tables.
func New(business config.Business) *Validator {
	prices := append([]int(nil), business.PackagePrices()...)
	sort.Ints(prices)

	subs := make(map[int]bool, len(business.SubscriptionPrices))
	for _, p := range business.SubscriptionPrices {
		subs[p] = true
	}

	return &Validator{
		business:           business,
		packagePrices:      prices,
		subscriptionPrices: subs,

		// Currency-tagged amounts: "150 000 ₽", "150000 руб.", "150 000 рублей".
		// Group separators may be regular, thin, or non-breaking spaces.
		priceRe: regexp.MustCompile(`(\d{1,3}(?:[ \x{00a0}\x{2009}]\d{3})+|\d{4,7})[ \x{00a0}\x{2009}]*(?:₽|руб(?:лей|ля|\.)?)`),

		// "50% предоплата" and "предоплата 50%".
		prepayRe:      regexp.MustCompile(`(?i)(\d{1,3})[ \x{00a0}]*%[ \x{00a0}]*(?:предоплат|аванс)`),
		prepayAfterRe: regexp.MustCompile(`(?i)(предоплат[а-яё]*|аванс[а-яё]*)[ \x{00a0}]*[—-]?[ \x{00a0}]*(\d{1,3})[ \x{00a0}]*%`),

		// "30 дней бесплатных правок" and "бесплатные правки 30 дней".
		revisionRe: regexp.MustCompile(`(?i)(\d{1,3})[ \x{00a0}]*дн(?:ей|я|\.)?[ \x{00a0}]+бесплатн[а-яё]*[ \x{00a0}]+правок|бесплатн[а-яё]*[ \x{00a0}]+правк[а-яё]*[ \x{00a0}]+(?:в[ \x{00a0}]+течение[ \x{00a0}]+)?(\d{1,3})[ \x{00a0}]*дн(?:ей|я|\.)?`),

		// Delivery promises: "за 3 дня", "в течение 60 дней", "срок — 10 дней".
		timelineRe: regexp.MustCompile(`(?i)(за|в[ \x{00a0}]+течение|срок[а-яё]*[ \x{00a0}]*[—:-]?)[ \x{00a0}]+(\d{1,3})[ \x{00a0}]*(рабочих[ \x{00a0}]+)?дн(?:ей|я)`),

		discountRe: regexp.MustCompile(`(?i)скидк[а-яё]*`),

		urlRe:         regexp.MustCompile(`https?://[^\s<>"')]+`),
		placeholderRe: regexp.MustCompile(`(?i)\[(?:ссылка[^\]]*|download[^\]]*|link[^\]]*)\]`),
		blankLinesRe:  regexp.MustCompile(`\n{3,}`),
		spaceRunRe:    regexp.MustCompile(`[ \t]{2,}`),
		sentenceRe:    regexp.MustCompile(`[^.!?\n]+[.!?]?`),

		guaranteePhrases: []string{
			"гарантируем возврат",
			"возврат денег",
			"вернем деньги",
			"вернём деньги",
			"100% гарант",
			"гарантия результата",
			"гарантируем результат",
			"гарантируем прибыль",
			"окупаемость гарантир",
		},
	}
}

// Validate applies every rule in sequence. Idempotent: validating the
// corrected text again yields the same text.
func (v *Validator) Validate(text string) Outcome {
	out := Outcome{Valid: true, Text: text}

	out.Text = v.checkPrices(out.Text, &out)
	out.Text = v.checkPrepayment(out.Text, &out)
	out.Text = v.checkRevisionWindow(out.Text, &out)
	out.Text = v.checkTimeline(out.Text, &out)
	v.checkGuarantees(out.Text, &out)
	out.Text = v.checkLinks(out.Text, &out)
	out.Text = v.cosmeticCleanup(out.Text)

	return out
}

// checkPrices verifies every currency-tagged amount against the allow-lists
// and rewrites suspicious amounts to the nearest package price.
func (v *Validator) checkPrices(text string, out *Outcome) string {
	return v.priceRe.ReplaceAllStringFunc(text, func(match string) string {
		digits := v.priceRe.FindStringSubmatch(match)[1]
		amount, err := strconv.Atoi(stripSpaces(digits))
		if err != nil {
			return match
		}

		if v.isAllowedPrice(amount) {
			return match
		}
		if amount < v.business.SuspiciousMin || amount > v.business.SuspiciousMax {
			// Outside the suspicious range the number may be a quantity or
			// an order id; leave it alone.
			return match
		}

		corrected := v.nearestPackagePrice(amount)
		out.Valid = false
		out.Findings = append(out.Findings, Finding{
			Rule:    "price",
			Detail:  fmt.Sprintf("amount %d not in allow-lists, replaced with %d", amount, corrected),
			Excerpt: match,
		})
		return strings.Replace(match, digits, formatPrice(corrected), 1)
	})
}

func (v *Validator) isAllowedPrice(amount int) bool {
	for _, p := range v.packagePrices {
		if amount == p {
			return true
		}
	}
	if v.subscriptionPrices[amount] {
		return true
	}
	// Feature work: bounded range, round thousands only.
	if amount >= v.business.FeaturePriceMin && amount <= v.business.FeaturePriceMax && amount%1000 == 0 {
		return true
	}
	// Package plus round-thousands add-ons within the feature range.
	for _, p := range v.packagePrices {
		addon := amount - p
		if addon >= v.business.FeaturePriceMin && addon <= v.business.FeaturePriceMax && addon%1000 == 0 {
			return true
		}
	}
	return false
}

func (v *Validator) nearestPackagePrice(amount int) int {
	best := v.packagePrices[0]
	for _, p := range v.packagePrices {
		if abs(amount-p) < abs(amount-best) {
			best = p
		}
	}
	return best
}

// checkPrepayment rewrites any prepayment percentage that is not the
// contractual value.
func (v *Validator) checkPrepayment(text string, out *Outcome) string {
	want := v.business.PrepaymentPercent

	text = v.prepayRe.ReplaceAllStringFunc(text, func(match string) string {
		digits := v.prepayRe.FindStringSubmatch(match)[1]
		got, _ := strconv.Atoi(digits)
		if got == want {
			return match
		}
		out.Valid = false
		out.Findings = append(out.Findings, Finding{
			Rule:    "prepayment",
			Detail:  fmt.Sprintf("prepayment %d%% rewritten to %d%%", got, want),
			Excerpt: match,
		})
		return strings.Replace(match, digits, strconv.Itoa(want), 1)
	})

	return v.prepayAfterRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := v.prepayAfterRe.FindStringSubmatch(match)
		got, _ := strconv.Atoi(sub[2])
		if got == want {
			return match
		}
		out.Valid = false
		out.Findings = append(out.Findings, Finding{
			Rule:    "prepayment",
			Detail:  fmt.Sprintf("prepayment %d%% rewritten to %d%%", got, want),
			Excerpt: match,
		})
		return strings.Replace(match, sub[2], strconv.Itoa(want), 1)
	})
}

// checkRevisionWindow rewrites any free-fix window that is not contractual.
func (v *Validator) checkRevisionWindow(text string, out *Outcome) string {
	want := v.business.FreeRevisionDays

	return v.revisionRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := v.revisionRe.FindStringSubmatch(match)
		digits := sub[1]
		if digits == "" {
			digits = sub[2]
		}
		got, _ := strconv.Atoi(digits)
		if got == want {
			return match
		}
		out.Valid = false
		out.Findings = append(out.Findings, Finding{
			Rule:    "revision_window",
			Detail:  fmt.Sprintf("free revision window %d days rewritten to %d", got, want),
			Excerpt: match,
		})
		return strings.Replace(match, digits, strconv.Itoa(want), 1)
	})
}

// checkTimeline clamps delivery promises into the contractual day range.
func (v *Validator) checkTimeline(text string, out *Outcome) string {
	minDays, maxDays := v.business.MinDeliveryDays, v.business.MaxDeliveryDays

	return v.timelineRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := v.timelineRe.FindStringSubmatch(match)
		got, _ := strconv.Atoi(sub[2])

		clamped := got
		if clamped < minDays {
			clamped = minDays
		}
		if clamped > maxDays {
			clamped = maxDays
		}
		if clamped == got {
			return match
		}
		out.Valid = false
		out.Findings = append(out.Findings, Finding{
			Rule:    "timeline",
			Detail:  fmt.Sprintf("delivery promise %d days clamped to %d", got, clamped),
			Excerpt: match,
		})
		return sub[1] + " " + strconv.Itoa(clamped) + " " + sub[3] + daysWord(clamped)
	})
}

// daysWord picks the Russian plural form for a day count.
func daysWord(n int) string {
	n = n % 100
	if n >= 11 && n <= 14 {
		return "дней"
	}
	switch n % 10 {
	case 1:
		return "день"
	case 2, 3, 4:
		return "дня"
	default:
		return "дней"
	}
}

// checkGuarantees flags guarantee and discount claims not tied to the
// loyalty-coin mechanism. Flag only: a safe rewrite of free text is not
// well-defined, so these go to human review instead.
func (v *Validator) checkGuarantees(text string, out *Outcome) {
	coin := strings.ToLower(v.business.LoyaltyCoinName)

	for _, sentence := range v.sentenceRe.FindAllString(text, -1) {
		lower := strings.ToLower(sentence)

		if v.discountRe.MatchString(lower) && !strings.Contains(lower, coin) {
			out.Valid = false
			out.Findings = append(out.Findings, Finding{
				Rule:    "discount",
				Detail:  "discount claim outside the loyalty mechanism",
				Excerpt: strings.TrimSpace(sentence),
			})
			continue
		}

		for _, phrase := range v.guaranteePhrases {
			if strings.Contains(lower, phrase) {
				out.Valid = false
				out.Findings = append(out.Findings, Finding{
					Rule:    "guarantee",
					Detail:  "unauthorized guarantee claim",
					Excerpt: strings.TrimSpace(sentence),
				})
				break
			}
		}
	}
}

// checkLinks strips URLs whose domain is not on the allow-list.
func (v *Validator) checkLinks(text string, out *Outcome) string {
	return v.urlRe.ReplaceAllStringFunc(text, func(match string) string {
		parsed, err := url.Parse(strings.TrimRight(match, ".,;:!?"))
		if err != nil {
			out.Valid = false
			out.Findings = append(out.Findings, Finding{Rule: "link", Detail: "unparseable URL stripped", Excerpt: match})
			return ""
		}

		host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
		for _, allowed := range v.business.AllowedDomains {
			if host == allowed || strings.HasSuffix(host, "."+allowed) {
				return match
			}
		}

		out.Valid = false
		out.Findings = append(out.Findings, Finding{
			Rule:    "link",
			Detail:  fmt.Sprintf("domain %s not in allow-list, URL stripped", host),
			Excerpt: match,
		})
		return ""
	})
}

// cosmeticCleanup removes stray placeholders and collapses excess whitespace.
func (v *Validator) cosmeticCleanup(text string) string {
	text = v.placeholderRe.ReplaceAllString(text, "")
	text = v.spaceRunRe.ReplaceAllString(text, " ")
	text = v.blankLinesRe.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', ' ', ' ':
			return -1
		}
		return r
	}, s)
}

// formatPrice renders an amount with thousands separated by spaces, the way
// prices are written elsewhere in the assistant's copy.
func formatPrice(amount int) string {
	s := strconv.Itoa(amount)
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

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
