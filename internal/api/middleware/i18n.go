package middleware

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

// I18nConfig configures the message localization middleware.
type I18nConfig struct {
	DefaultLanguage string
	LocalesDir      string
}

// Translator resolves message keys for the loaded languages.
type Translator struct {
	bundle       *i18n.Bundle
	defaultLang  string
	translations map[string]map[string]string
}

// NewTranslator loads every <lang>.json file from the locales directory.
func NewTranslator(cfg I18nConfig) (*Translator, error) {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "es"
	}
	if cfg.LocalesDir == "" {
		cfg.LocalesDir = "./web/locales"
	}

	bundle := i18n.NewBundle(language.MustParse(cfg.DefaultLanguage))
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	t := &Translator{
		bundle:       bundle,
		defaultLang:  cfg.DefaultLanguage,
		translations: make(map[string]map[string]string),
	}

	entries, err := os.ReadDir(cfg.LocalesDir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		langCode := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		path := filepath.Join(cfg.LocalesDir, entry.Name())

		if _, err := bundle.LoadMessageFile(path); err != nil {
			return nil, err
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var messages map[string]string
		if err := json.Unmarshal(raw, &messages); err != nil {
			return nil, err
		}
		t.translations[langCode] = messages
	}

	return t, nil
}

// Languages returns the loaded language codes.
func (t *Translator) Languages() []string {
	langs := make([]string, 0, len(t.translations))
	for code := range t.translations {
		langs = append(langs, code)
	}
	return langs
}

// Translate resolves a message key for the given language, falling back to
// the default language and finally to the key itself.
func (t *Translator) Translate(lang, key string) string {
	if msgs, ok := t.translations[lang]; ok {
		if msg, ok := msgs[key]; ok {
			return msg
		}
	}
	if msgs, ok := t.translations[t.defaultLang]; ok {
		if msg, ok := msgs[key]; ok {
			return msg
		}
	}
	return key
}

// I18n selects the response language per request. A ?lang= parameter is
// persisted in the session cookie; otherwise the session value or the
// default language applies.
func I18n(cfg I18nConfig) gin.HandlerFunc {
	translator, err := NewTranslator(cfg)
	if err != nil {
		log.Warnf("i18n disabled, failed to load locales from %s: %v", cfg.LocalesDir, err)
		return func(c *gin.Context) {
			c.Next()
		}
	}

	supported := make(map[string]bool)
	for _, code := range translator.Languages() {
		supported[code] = true
	}

	return func(c *gin.Context) {
		session := sessions.Default(c)
		lang := c.Query("lang")

		if lang != "" && supported[lang] {
			session.Set("language", lang)
			if err := session.Save(); err != nil {
				log.Debugf("Failed to persist language in session: %v", err)
			}
		} else if stored, ok := session.Get("language").(string); ok {
			lang = stored
		}

		if lang == "" || !supported[lang] {
			lang = cfg.DefaultLanguage
		}

		c.Set("language", lang)
		c.Set("translator", translator)
		c.Next()
	}
}

// T translates a message key using the request's negotiated language.
// Outside the middleware (e.g. in tests) it returns the key unchanged.
func T(c *gin.Context, key string) string {
	translatorVal, ok := c.Get("translator")
	if !ok {
		return key
	}
	translator, ok := translatorVal.(*Translator)
	if !ok {
		return key
	}
	lang := c.GetString("language")
	return translator.Translate(lang, key)
}
