// Package i18n selects the message printer used for CLI output.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language.
var DefaultLang = language.English

// SupportedLangs are the languages output is formatted for.
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// LocaleFromEnv returns the language named by LC_ALL, LC_NUMERIC or LANG,
// in that order, with any encoding suffix removed.
func LocaleFromEnv() string {
	for _, key := range []string{"LC_ALL", "LC_NUMERIC", "LANG"} {
		lang := os.Getenv(key)
		if lang == "" || lang == "C" || lang == "POSIX" {
			continue
		}
		if i := strings.IndexAny(lang, ".@"); i != -1 {
			lang = lang[:i]
		}
		return strings.ReplaceAll(lang, "_", "-")
	}
	return ""
}

// NewCLIPrinter returns a printer for the locale in the environment. Counts
// and rates in CLI output are grouped according to it.
func NewCLIPrinter() *message.Printer {
	lang := LocaleFromEnv()
	if lang == "" {
		return NewPrinter(DefaultLang)
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return NewPrinter(MatchLanguage(lang))
	}
	tag, _, _ = matcher.Match(tag)
	return NewPrinter(tag)
}
