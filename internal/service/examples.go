package service

import "math/rand/v2"

// Example is a ready-made prompt offered from the examples menu.
type Example struct {
	ID     string
	Title  string
	Prompt string
}

var examples = []Example{
	{ID: "prompt_example", Title: "Промпт для генерации", Prompt: "Придумай интересный промпт для изображения суперкара"},
	{ID: "img_landscape", Title: "Пейзаж", Prompt: "Пейзаж на закате, горы, озеро, 8K realism"},
	{ID: "img_anime_girl", Title: "Аниме-девушка", Prompt: "Аниме девушка с катаной в Cyberpunk стиле"},
	{ID: "img_fantasy_city", Title: "Фэнтези-город", Prompt: "Фэнтези город с летающими островами"},
	{ID: "img_modern_office", Title: "Офис", Prompt: "Современный офис, панорамные окна"},
	{ID: "img_food_dessert", Title: "Десерт", Prompt: "Десерт, как на food-photography"},
	{ID: "img_luxury_car", Title: "Люкс-авто", Prompt: "Спорткар ночью, неон, улица, стиль 8K"},
	{ID: "img_loft_interior", Title: "Интерьер лофт", Prompt: "Лофт интерьер, свет, комната"},
	{ID: "weather_example", Title: "Погода", Prompt: "Какая погода в Алматы завтра?"},
	{ID: "news_example", Title: "Новости", Prompt: "Что случилось в мире за последние 24 часа?"},
	{ID: "movies_example", Title: "Фильмы", Prompt: "Что посмотреть из новых фильмов?"},
	{ID: "money_example", Title: "Заработок", Prompt: "Как заработать в интернете без вложений?"},
}

// Examples returns the examples menu in display order.
func Examples() []Example {
	out := make([]Example, len(examples))
	copy(out, examples)
	return out
}

func LookupExample(id string) (Example, bool) {
	for _, ex := range examples {
		if ex.ID == id {
			return ex, true
		}
	}
	return Example{}, false
}

func RandomExample() Example {
	return examples[rand.IntN(len(examples))]
}
