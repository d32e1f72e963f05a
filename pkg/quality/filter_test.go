package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const longQuestion = "Какие сайты вы делаете и сколько это занимает по времени"

func TestOpenerFillerStripped(t *testing.T) {
	f := New()

	v := f.Apply("Конечно! Лендинг стоит 150 000 ₽.", "faq", "Сколько стоит лендинг?")
	assert.Equal(t, "Лендинг стоит 150 000 ₽.", v.Text)
	assert.False(t, v.Truncated)

	v = f.Apply("Отличный вопрос! Срок — от 7 дней.", "faq", "Какие сроки разработки у вас?")
	assert.Equal(t, "Срок — от 7 дней.", v.Text)
}

func TestStackedOpenersLoseOnlyTheFirst(t *testing.T) {
	f := New()

	v := f.Apply("Конечно! Отличный вопрос! Лендинг стоит 150 000 ₽.", "faq", "Сколько стоит лендинг?")
	assert.Equal(t, "Отличный вопрос! Лендинг стоит 150 000 ₽.", v.Text)
}

func TestCloserFillerStripped(t *testing.T) {
	f := New()

	v := f.Apply("Лендинг стоит 150 000 ₽. Если у вас остались вопросы, пишите.", "faq", "Сколько стоит лендинг?")
	assert.Equal(t, "Лендинг стоит 150 000 ₽.", v.Text)
}

func TestLongReplyTruncatedAtSentenceBoundary(t *testing.T) {
	f := New()

	sentence := "Мы проектируем и запускаем сайты для малого бизнеса быстро качественно и недорого."
	text := strings.TrimSpace(strings.Repeat(sentence+" ", 5)) // 60 words

	v := f.Apply(text, "faq", longQuestion)

	assert.True(t, v.Truncated)
	assert.LessOrEqual(t, wordCount(v.Text), 50+wordCount(f.cta))
	assert.True(t, strings.Contains(v.Text, "недорого.\n\n") || strings.HasSuffix(v.Text, "недорого."),
		"cut must land on a sentence end, got: %q", v.Text)
}

func TestOverlongFirstSentenceKeptWhole(t *testing.T) {
	f := New()

	clause := "мы готовим структуру пишем тексты рисуем дизайн и собираем вёрстку"
	first := strings.Repeat(clause+", ", 5) + "и всё это без пауз." // 55 words, one sentence

	v := f.Apply(first+" Короткий хвост.", "faq", longQuestion)

	assert.True(t, v.Truncated)
	assert.Contains(t, v.Text, "без пауз.")
	assert.NotContains(t, v.Text, "хвост")

	// A reply that is one long sentence stays intact.
	v = f.Apply(first, "faq", longQuestion)
	assert.False(t, v.Truncated)
	assert.True(t, strings.HasPrefix(v.Text, first))
}

func TestComplexContextGetsLongerBudget(t *testing.T) {
	f := New()

	sentence := "Мы проектируем и запускаем сайты для малого бизнеса быстро качественно и недорого."
	text := strings.TrimSpace(strings.Repeat(sentence+" ", 5)) // 60 words, under the long budget

	v := f.Apply(text, "sales", longQuestion)
	assert.False(t, v.Truncated)
}

func TestTerseQuestionForcesShortBudget(t *testing.T) {
	f := New()

	assert.Equal(t, f.shortBudget, f.budgetFor("sales", "Сколько стоит?"))
	assert.Equal(t, f.longBudget, f.budgetFor("sales", longQuestion))
	assert.Equal(t, f.longBudget, f.budgetFor("consultation", "Сколько стоит? А сроки? А поддержка?"))
}

func TestCTAAddedToLongRepliesWithoutOne(t *testing.T) {
	f := New()

	sentence := "Мы проектируем и запускаем сайты для малого бизнеса быстро качественно и недорого."
	text := strings.TrimSpace(strings.Repeat(sentence+" ", 4)) // 48 words, no question

	v := f.Apply(text, "sales", longQuestion)

	assert.True(t, v.CTAAdded)
	assert.True(t, strings.HasSuffix(v.Text, f.cta))
}

func TestCTANotDuplicated(t *testing.T) {
	f := New()

	sentence := "Мы проектируем и запускаем сайты для малого бизнеса быстро качественно и недорого."
	text := strings.TrimSpace(strings.Repeat(sentence+" ", 4)) + " Хотите обсудить ваш проект?"

	v := f.Apply(text, "sales", longQuestion)

	assert.False(t, v.CTAAdded)
	assert.NotContains(t, v.Text, f.cta)
}

func TestShortReplyLeftAlone(t *testing.T) {
	f := New()

	v := f.Apply("От 150 000 ₽, срок от 7 дней.", "faq", "Сколько стоит лендинг?")
	assert.Equal(t, "От 150 000 ₽, срок от 7 дней.", v.Text)
	assert.False(t, v.Truncated)
	assert.False(t, v.CTAAdded)
}
