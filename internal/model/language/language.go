package language

import (
	"strings"

	"golang.org/x/text/language"
)

// Code is a supported widget language such as "en" or "zh".
type Code string

const (
	English       Code = "en"
	Spanish       Code = "es"
	French        Code = "fr"
	German        Code = "de"
	Chinese       Code = "zh"
	HaitianCreole Code = "ht"

	Default = English
)

// Supported lists the selectable languages in display order.
var Supported = []Code{English, Spanish, French, German, Chinese, HaitianCreole}

var greetings = map[Code]string{
	English:       "Hello! I am your SmartGuard EDU here to help you with your homework. 😊",
	Spanish:       "¡Hola! Soy tu SmartGuard EDU para ayudarte con tu tarea. 😊",
	French:        "Bonjour ! Je suis votre SmartGuard EDU pour vous aider avec vos devoirs. 😊",
	German:        "Hallo! Ich bin dein SmartGuard EDU, um dir bei deinen Hausaufgaben zu helfen. 😊",
	Chinese:       "你好！我是你的SmartGuard EDU，来帮助你完成作业。😊",
	HaitianCreole: "Bonjou! Mwen se SmartGuard EDU ou, mwen la pou ede w fè devwa ou. 😊",
}

// Greeting returns the greeting for code, or the English one for codes
// without an entry.
func Greeting(code Code) string {
	if g, ok := greetings[code]; ok {
		return g
	}
	return greetings[English]
}

// IsSupported reports whether code is one of the selectable languages.
func IsSupported(code Code) bool {
	for _, c := range Supported {
		if c == code {
			return true
		}
	}
	return false
}

// Parse normalizes a raw BCP 47 tag ("en-US", "zh_CN", "ES") to a supported
// Code. The second result is false for malformed or unsupported tags.
func Parse(raw string) (Code, bool) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), "_", "-")
	if raw == "" {
		return "", false
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", false
	}
	base, _ := tag.Base()
	code := Code(base.String())
	if !IsSupported(code) {
		return "", false
	}
	return code, true
}

// Tag returns the BCP 47 tag for code.
func (c Code) Tag() language.Tag {
	return language.Make(string(c))
}

// Locale is the region-qualified tag handed to recognition and synthesis
// backends, using the most likely region for the language ("es" -> "es-ES").
func (c Code) Locale() string {
	tag := c.Tag()
	region, _ := tag.Region()
	if region.String() == "ZZ" {
		return string(c)
	}
	return string(c) + "-" + region.String()
}

func (c Code) String() string {
	return string(c)
}

// Name returns the language's self-name, e.g. "Español" for es.
func (c Code) Name() string {
	switch c {
	case English:
		return "English"
	case Spanish:
		return "Español"
	case French:
		return "Français"
	case German:
		return "Deutsch"
	case Chinese:
		return "中文"
	case HaitianCreole:
		return "Kreyòl ayisyen"
	default:
		return string(c)
	}
}
