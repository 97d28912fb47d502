package notify

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type localeKey struct{}

// WithLocale returns a context carrying the given locale (e.g. "en", "de").
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// Translator renders message ids from the embedded locale files.
type Translator struct {
	bundle        *i18n.Bundle
	defaultLocale string
}

// NewTranslator loads all locale files. Unknown locales fall back to
// defaultLocale, then English.
func NewTranslator(defaultLocale string) (*Translator, error) {
	if defaultLocale == "" {
		defaultLocale = "en"
	}
	if _, err := language.Parse(defaultLocale); err != nil {
		return nil, fmt.Errorf("invalid default locale %q: %w", defaultLocale, err)
	}

	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, e.Name()); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
	}
	log.Printf("[Notify] Loaded %d locale files, default=%s", len(entries), defaultLocale)
	return &Translator{bundle: bundle, defaultLocale: defaultLocale}, nil
}

// Locale returns the locale carried by ctx, or the default.
func (t *Translator) Locale(ctx context.Context) string {
	if v, ok := ctx.Value(localeKey{}).(string); ok && v != "" {
		return v
	}
	return t.defaultLocale
}

// T translates a message id using the locale from ctx. A missing message
// renders as its id.
func (t *Translator) T(ctx context.Context, messageID string, data map[string]any) string {
	l := i18n.NewLocalizer(t.bundle, t.Locale(ctx), t.defaultLocale)
	msg, err := l.Localize(&i18n.LocalizeConfig{MessageID: messageID, TemplateData: data})
	if err != nil {
		return messageID
	}
	return msg
}
