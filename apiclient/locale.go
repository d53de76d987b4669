package apiclient

import (
	"fmt"

	"golang.org/x/text/language"
)

// DefaultLocale is sent when no locale has been chosen.
const DefaultLocale = "uz"

// Locales the dashboard API is translated into.
var supportedLocales = []language.Tag{
	language.Uzbek,
	language.Russian,
	language.English,
}

var localeMatcher = language.NewMatcher(supportedLocales)

// normalizeLocale maps a BCP 47 tag onto one of the supported locales.
func normalizeLocale(tag string) (string, error) {
	t, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrUnsupportedLocale, tag, err)
	}
	_, idx, conf := localeMatcher.Match(t)
	if conf == language.No {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLocale, tag)
	}
	return supportedLocales[idx].String(), nil
}
