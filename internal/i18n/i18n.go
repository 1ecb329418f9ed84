// Package i18n provides user-facing message translation.
//
// mesura serves a Spanish-speaking user base, so Spanish is the default
// language; English is kept as the fallback for missing keys and for
// API consumers that request it.
package i18n

import (
	"fmt"
	"os"
	"strings"
)

// Supported languages.
const (
	LangES = "es"
	LangEN = "en"
)

// currentLang holds the active language.
var currentLang = LangES

// messages stores all translations, keyed by language then message key.
var messages = make(map[string]map[string]string)

// Init initializes the i18n system with the given language.
func Init(lang string) {
	lang = strings.ToLower(strings.TrimSpace(lang))

	switch lang {
	case "es", "es-mx", "es-ar", "es-es", "spanish":
		currentLang = LangES
	case "en", "en-us", "english":
		currentLang = LangEN
	default:
		if envLang := os.Getenv("MESURA_LANG"); envLang != "" && !strings.EqualFold(envLang, lang) {
			Init(envLang)
			return
		}
		currentLang = LangES
	}

	loadMessages()
}

// SetLanguage changes the active language.
func SetLanguage(lang string) {
	Init(lang)
}

// GetLanguage returns the active language code.
func GetLanguage() string {
	return currentLang
}

// T returns the translated message for key, falling back to Spanish and then
// to the key itself.
func T(key string) string {
	if msg, ok := messages[currentLang][key]; ok {
		return msg
	}
	if msg, ok := messages[LangES][key]; ok {
		return msg
	}
	return key
}

// Sprintf returns the translated and formatted message.
func Sprintf(key string, args ...any) string {
	return fmt.Sprintf(T(key), args...)
}

// loadMessages initializes the message maps.
func loadMessages() {
	messages[LangES] = make(map[string]string)
	messages[LangEN] = make(map[string]string)

	loadSpanishMessages()
	loadEnglishMessages()
}

// SupportedLanguages returns the supported language codes.
func SupportedLanguages() []string {
	return []string{LangES, LangEN}
}

func init() {
	if envLang := os.Getenv("MESURA_LANG"); envLang != "" {
		Init(envLang)
	} else {
		Init(LangES)
	}
}
