package normalize

// DefaultRules returns the built-in rewrite table for Russian metrology
// dialogue: measurement units, test-equipment product names and punctuation
// cleanup. Compound forms come before the single-word forms they contain.
// Unit rules list their inflections explicitly so that longer words sharing
// a stem (метрология, тоннель) are left alone.
func DefaultRules() []Rule {
	return []Rule{
		// Punctuation and spacing.
		{Pattern: `[–—−]`, Replace: "-"},
		{Pattern: `[\s\p{Z}]+`, Replace: " "},

		// Product names.
		{Pattern: `рэм|рем|рен`, Replace: "РЭМ", Word: true},
		{Pattern: `ргм|эргэм`, Replace: "РГМ", Word: true},
		{Pattern: `стилос?коп|стелоскоп|стилоска?п|филос\p{L}*`, Replace: "стилоскоп", Word: true},

		// Force.
		{Pattern: `к\s?эн|ка-эн|кэ-эн|к\s?ен|к\s?э\s?н|кэн`, Replace: "кН", Word: true},
		{Pattern: `кило\s?ньютоны?`, Replace: "кН", Word: true},
		{Pattern: `кн`, Replace: "кН", Word: true},

		// Pressure and stress.
		{Pattern: `м\s?п\s?а|мэ-пэ-а|эм-пэ-а|мегапаскал[ьяеы]?|мега\s?паскал[ьяеы]?`, Replace: "МПа", Word: true},
		{Pattern: `к\s?п\s?а|кэ-пэ-а|килопаскал[ьяеы]?|кило\s?паскал[ьяеы]?`, Replace: "кПа", Word: true},
		{Pattern: `кгс\s*/\s*см\s*(?:\^?2|²)|килограмм\s*силы\s*на\s*сантиметр\s*квадратн[а-я]*`, Replace: "кгс/см²", Word: true},
		{Pattern: `н(?:ь?ютон)?\s*(?:/|на)\s*мм\s*(?:\^?2|²)|ньютон\s+на\s+миллиметр\s+квадратн[а-я]*`, Replace: "Н/мм²", Word: true},

		// Frequency.
		{Pattern: `герц|герцы|гц`, Replace: "Гц", Word: true},

		// Moments, then plain newtons.
		{Pattern: `ньютон[ -]?миллиметр(?:а|ов|ы)?|н\s?мм`, Replace: "Н·мм", Word: true},
		{Pattern: `ньютон[ -]?метр(?:а|ов|ы)?|н\s?м`, Replace: "Н·м", Word: true},
		{Pattern: `ньютон(?:ами|ах|ов|ом|а|ы|е|у)?`, Replace: "Н", Word: true},

		// Speeds.
		{Pattern: `миллиметров\s+в\s+минуту|мм\s+в\s+минуту`, Replace: "мм/мин", Word: true},
		{Pattern: `миллиметров\s+в\s+секунду|мм\s+в\s+секунду|мм/с`, Replace: "мм/с", Word: true},
		{Pattern: `метров\s+в\s+секунду|м\s+в\s+секунду`, Replace: "м/с", Word: true},
		{Pattern: `r\s?p\s?m|оборотов?\s+в\s+минуту|об/?мин`, Replace: "об/мин", Word: true},

		// Lengths.
		{Pattern: `миллиметр(?:ами|ах|ов|ом|а|ы|е|у)?|mm`, Replace: "мм", Word: true},
		{Pattern: `сантиметр(?:ами|ах|ов|ом|а|ы|е|у)?|cm`, Replace: "см", Word: true},
		{Pattern: `метр(?:ами|ах|ов|ом|а|ы|е|у)?`, Replace: "м", Word: true},

		// Mass.
		{Pattern: `килограмм(?:ами|ах|ов|ом|а|ы|е|у)?|kg`, Replace: "кг", Word: true},
		{Pattern: `грамм(?:ами|ах|ов|ом|а|ы|е|у)?`, Replace: "г", Word: true},
		{Pattern: `тонн(?:ами|ах|ам|ой|а|ы|е|у)?`, Replace: "т", Word: true},

		// Temperature and percent.
		{Pattern: `градус(?:ов)?\s+цельсия|по\s+цельсию`, Replace: "°C", Word: true},
		{Pattern: `процент(?:ов|а)?`, Replace: "%", Word: true},

		// Power, electrical, energy.
		{Pattern: `кВт\s*[·xх]\s*ч|киловатт\s*час[а-я]*|квтч`, Replace: "кВт·ч", Word: true},
		{Pattern: `киловатт(?:а|ов)?|к\s?вт|kw`, Replace: "кВт", Word: true},
		{Pattern: `ватт(?:а|ов)?|w`, Replace: "Вт", Word: true},
		{Pattern: `вольт(?:а|ов)?|v`, Replace: "В", Word: true},
		{Pattern: `ампер(?:а|ов)?|amps?`, Replace: "А", Word: true},
		{Pattern: `ом(?:а|ов)?|ohm|Ω`, Replace: "Ом", Word: true},

		// Flow and alternative pressure units.
		{Pattern: `литр(?:ов)?\s*в\s*минуту|л/?мин|l/?min`, Replace: "л/мин", Word: true},
		{Pattern: `бар|bar`, Replace: "бар", Word: true},

		// Sound.
		{Pattern: `децибел(?:а|ов)?|дб|db`, Replace: "дБ", Word: true},

		{Pattern: `\s+/\s+`, Replace: "/"},
	}
}

// DefaultPhraseHints are recognizer hints for the equipment catalogue and
// unit vocabulary. They are offered to the telephony adapter when a session
// starts.
func DefaultPhraseHints() []string {
	return []string{
		"твердомер", "твердомер Роквелла", "твердомер Бринелля", "твердомер Виккерса", "микротвердомер",
		"разрывная машина", "испытательная машина", "универсальная разрывная машина",
		"испытательный пресс", "пресс ПИ",
		"РГМ", "РГМ-1000", "РГМ-1000-А", "РГМ-Г-А",
		"РЭМ", "РЭМ-1", "РЭМ-50", "РЭМ-100", "РЭМ-200", "РЭМ-300", "РЭМ-500", "РЭМ-600",
		"УИМ-Д", "пневмодинамическая машина", "ПИМ-МР-100",
		"МКС", "МКС-1000", "СТИ", "экстензометр", "УИД-ПБ", "M-VIEW", "Метротэст",
		"копер маятниковый", "ИКМ-450-А", "стилоскоп", "СЛП", "СЛ-13У", "СЛ-15",
		"климатическая камера", "микроскоп металлографический", "ЛММ-25",
		"кН", "килоньютон", "МПа", "мегапаскаль", "кПа", "Н/мм²", "Гц", "герц",
		"мм/мин", "мм/с", "об/мин", "кгс/см²", "кВт·ч",
		"ISO 7500-1", "ASTM E4", "ISO 6892-1", "ASTM E8", "ASTM E9",
	}
}
