// Package quality trims model output to conversational shape: no filler
// openers, a word budget matched to the question, and a call to action on
// longer replies.
package quality

import (
	"regexp"
	"strings"
)

// Verdict reports what the filter did to a reply.
type Verdict struct {
	Text      string
	Truncated bool
	CTAAdded  bool
}

// Filter shortens and tidies model replies. Stateless and safe for
// concurrent use.
type Filter struct {
	openerRes []*regexp.Regexp
	closerRes []*regexp.Regexp
	ctaRe     *regexp.Regexp

	shortBudget int
	longBudget  int
	ctaMinWords int

	shortContexts map[string]bool
	cta           string
}

// New builds the filter with the stock Russian filler lists.
func New() *Filter {
	openers := []string{
		`^конечно[!,.]?\s*`,
		`^разумеется[!,.]?\s*`,
		`^отличный вопрос[!,.]?\s*`,
		`^хороший вопрос[!,.]?\s*`,
		`^спасибо за (?:ваш )?вопрос[!,.]?\s*`,
		`^рад(?:а)? помочь[!,.]?\s*`,
		`^давайте разберемся[!,.:]?\s*`,
		`^давайте разберёмся[!,.:]?\s*`,
		`^итак[,.]?\s*`,
	}
	closers := []string{
		`\s*надеюсь, (?:это )?(?:помогло|помогла|информация была полезна)[!.]?$`,
		`\s*если (?:у вас )?(?:остались|есть|возникнут) (?:еще |ещё )?вопросы[^.!?]*[.!?]$`,
		`\s*обращайтесь[^.!?]*[.!?]$`,
		`\s*всегда рад(?:а|ы)? помочь[!.]?$`,
	}

	o := make([]*regexp.Regexp, len(openers))
	for i, p := range openers {
		o[i] = regexp.MustCompile(`(?i)` + p)
	}
	c := make([]*regexp.Regexp, len(closers))
	for i, p := range closers {
		c[i] = regexp.MustCompile(`(?i)` + p)
	}

	return &Filter{
		openerRes: o,
		closerRes: c,
		ctaRe: regexp.MustCompile(`(?i)(\?|напишите|расскажите|давайте обсудим|готовы (?:начать|обсудить)|хотите|забронир|оставьте заявку|свяжитесь)`),

		shortBudget: 50,
		longBudget:  160,
		ctaMinWords: 40,

		shortContexts: map[string]bool{"faq": true, "greeting": true, "simple": true, "default": true},
		cta:           "Хотите, подберу оптимальный вариант под вашу задачу?",
	}
}

// Apply trims the reply for the given query context and user message.
func (f *Filter) Apply(text, queryContext, userMessage string) Verdict {
	v := Verdict{Text: strings.TrimSpace(text)}

	// At most one removal per end; stacked fillers keep their tail.
	for _, re := range f.openerRes {
		if re.MatchString(v.Text) {
			v.Text = re.ReplaceAllString(v.Text, "")
			break
		}
	}
	for _, re := range f.closerRes {
		if re.MatchString(v.Text) {
			v.Text = re.ReplaceAllString(v.Text, "")
			break
		}
	}
	v.Text = strings.TrimSpace(v.Text)

	budget := f.budgetFor(queryContext, userMessage)
	if trimmed, ok := truncateAtSentence(v.Text, budget); ok {
		v.Text = trimmed
		v.Truncated = true
	}

	if wordCount(v.Text) > f.ctaMinWords && !f.ctaRe.MatchString(v.Text) {
		v.Text = v.Text + "\n\n" + f.cta
		v.CTAAdded = true
	}

	return v
}

// budgetFor picks a word budget: terse questions deserve terse answers,
// multi-part or complex questions get room to breathe.
func (f *Filter) budgetFor(queryContext, userMessage string) int {
	if wordCount(userMessage) <= 3 {
		return f.shortBudget
	}
	if f.shortContexts[queryContext] {
		return f.shortBudget
	}
	if strings.Count(userMessage, "?") > 1 {
		return f.longBudget
	}
	switch queryContext {
	case "complex", "objection", "sales", "closing", "decision", "creative", "upsell":
		return f.longBudget
	}
	return f.shortBudget
}

// truncateAtSentence cuts text to at most budget words, backing up to the
// last complete sentence so the reply never ends mid-thought.
func truncateAtSentence(text string, budget int) (string, bool) {
	words := strings.Fields(text)
	if len(words) <= budget {
		return text, false
	}

	cut := strings.Join(words[:budget], " ")
	if idx := lastSentenceEnd(cut); idx > 0 {
		return strings.TrimSpace(cut[:idx]), true
	}

	// No boundary inside the budget: the first sentence is longer than the
	// budget, so finish it rather than stop mid-thought.
	if idx := firstSentenceEnd(text); idx > 0 {
		if trimmed := strings.TrimSpace(text[:idx]); trimmed != text {
			return trimmed, true
		}
	}
	return text, false
}

func lastSentenceEnd(s string) int {
	last := -1
	for i, r := range s {
		switch r {
		case '.', '!', '?':
			last = i + len(string(r))
		}
	}
	return last
}

func firstSentenceEnd(s string) int {
	for i, r := range s {
		switch r {
		case '.', '!', '?':
			return i + len(string(r))
		}
	}
	return -1
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
