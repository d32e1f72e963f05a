package generate

import "strings"

// fallbackFamily is one keyword family with its canned response. Families
// are matched in order; the first hit wins.
type fallbackFamily struct {
	name     string
	keywords []string
	text     string
}

// Fallbacks picks a contextual canned response when every generation path
// has failed. The texts are pre-approved business copy, so they bypass the
// validator.
type Fallbacks struct {
	families []fallbackFamily
	stock    string
}

// NewFallbacks builds the stock Russian fallback catalog.
func NewFallbacks() *Fallbacks {
	return &Fallbacks{
		families: []fallbackFamily{
			{
				name:     "pricing",
				keywords: []string{"стоит", "стоимость", "цена", "цен", "прайс", "тариф", "сколько", "бюджет"},
				text: "Стоимость зависит от задачи. Базовые пакеты: Лендинг — от 150 000 ₽, " +
					"Корпоративный сайт — от 250 000 ₽, Интернет-магазин — от 350 000 ₽, " +
					"Веб-приложение — от 500 000 ₽. Расскажите о проекте, и я подберу вариант под ваш бюджет.",
			},
			{
				name:     "portfolio",
				keywords: []string{"портфолио", "кейс", "пример", "работы", "проекты", "посмотреть"},
				text: "У нас больше 200 завершённых проектов: лендинги, корпоративные сайты, " +
					"магазины и веб-приложения. Скажите, какая ниша вам интересна, и я покажу подходящие кейсы.",
			},
			{
				name:     "timeline",
				keywords: []string{"срок", "когда", "быстро", "долго", "успеете", "дедлайн"},
				text: "Сроки зависят от объёма: лендинг занимает от 7 дней, крупные проекты — до 45 дней. " +
					"Опишите задачу, и я назову точный срок.",
			},
			{
				name:     "payment",
				keywords: []string{"оплат", "платеж", "платёж", "счет", "счёт", "рассрочк", "предоплат"},
				text: "Работаем по договору с предоплатой 50%. Оплата картой или по счёту для юрлиц. " +
					"Готов отправить ссылку на оплату, когда определимся с пакетом.",
			},
			{
				name:     "subscription",
				keywords: []string{"подписк", "поддержк", "сопровожден", "обслуживан"},
				text: "Есть подписка на поддержку и развитие: 15 000, 25 000 или 45 000 ₽ в месяц " +
					"в зависимости от объёма работ. Рассказать подробнее?",
			},
			{
				name:     "discount",
				keywords: []string{"скидк", "дешевле", "дорого", "акци", "выгодн"},
				text: "За активность в нашей программе лояльности начисляются коины, которые можно " +
					"потратить на работы по проекту. Расскажите о задаче, и я посчитаю итоговую стоимость.",
			},
			{
				name:     "greeting",
				keywords: []string{"привет", "здравств", "добрый день", "добрый вечер", "доброе утро"},
				text:     "Здравствуйте! Я помогу подобрать решение для вашего бизнеса: сайт, магазин или веб-приложение. С чего начнём?",
			},
			{
				name:     "consultation",
				keywords: []string{"консульт", "менеджер", "созвон", "встреч", "позвонит"},
				text: "Могу записать вас на бесплатную консультацию с менеджером: обсудите задачу, " +
					"получите оценку и план работ. Записать?",
			},
		},
		stock: "Принял ваш вопрос. Сейчас уточню детали и вернусь с ответом — " +
			"а пока расскажите, пожалуйста, чуть больше о вашей задаче.",
	}
}

// Pick matches the user's text against the keyword families and returns the
// family name and canned response. The stock response covers everything else.
func (f *Fallbacks) Pick(userText string) (family, text string) {
	lower := strings.ToLower(userText)
	for _, fam := range f.families {
		for _, kw := range fam.keywords {
			if strings.Contains(lower, kw) {
				return fam.name, fam.text
			}
		}
	}
	return "stock", f.stock
}
