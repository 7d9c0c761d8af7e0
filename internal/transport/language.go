package transport

import "strings"

// languageNames maps full language names, as reported by some backends, to
// ISO 639-1 codes.
var languageNames = map[string]string{
	"arabic":     "ar",
	"chinese":    "zh",
	"czech":      "cs",
	"danish":     "da",
	"dutch":      "nl",
	"english":    "en",
	"finnish":    "fi",
	"french":     "fr",
	"german":     "de",
	"greek":      "el",
	"hebrew":     "he",
	"hindi":      "hi",
	"hungarian":  "hu",
	"indonesian": "id",
	"italian":    "it",
	"japanese":   "ja",
	"korean":     "ko",
	"norwegian":  "no",
	"polish":     "pl",
	"portuguese": "pt",
	"romanian":   "ro",
	"russian":    "ru",
	"spanish":    "es",
	"swedish":    "sv",
	"thai":       "th",
	"turkish":    "tr",
	"ukrainian":  "uk",
	"vietnamese": "vi",
}

// NormalizeLanguage collapses the language spellings different backends report
// into a canonical two-letter code. Unknown or missing signals default to "en".
// Two-letter codes pass through unchanged, so the function is idempotent.
func NormalizeLanguage(value string) string {
	s := strings.ToLower(strings.TrimSpace(value))
	if s == "" {
		return "en"
	}
	if i := strings.IndexAny(s, "-_"); i > 0 {
		s = s[:i]
	}
	if len(s) == 2 {
		return s
	}
	if code, ok := languageNames[s]; ok {
		return code
	}
	return "en"
}
