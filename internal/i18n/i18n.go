package i18n

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Language represents a supported UI language
type Language string

const (
	// LanguageJapanese is Japanese
	LanguageJapanese Language = "ja"
	// LanguageEnglish is English, also the fallback
	LanguageEnglish Language = "en"
)

// Translator resolves UI strings by key for the current language
type Translator struct {
	currentLanguage Language
	translations    map[Language]map[string]string
	mu              sync.RWMutex
}

// NewTranslator creates an empty translator
func NewTranslator(language Language) *Translator {
	return &Translator{
		currentLanguage: language,
		translations:    make(map[Language]map[string]string),
	}
}

// NewDefault creates a translator preloaded with the built-in English and
// Japanese tables
func NewDefault(language Language) *Translator {
	t := NewTranslator(language)
	t.SetTranslations(LanguageEnglish, DefaultEnglishTranslations())
	t.SetTranslations(LanguageJapanese, DefaultJapaneseTranslations())
	return t
}

// SetTranslations replaces the table for language
func (t *Translator) SetTranslations(language Language, table map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.translations[language] = table
}

// LoadTranslations merges a JSON object of key/text pairs into the table for language
func (t *Translator) LoadTranslations(language Language, data []byte) error {
	var loaded map[string]string
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to unmarshal translations: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	table, ok := t.translations[language]
	if !ok {
		table = make(map[string]string, len(loaded))
		t.translations[language] = table
	}
	for k, v := range loaded {
		table[k] = v
	}
	return nil
}

// LoadTranslationsFromFile merges translations from a JSON file
func (t *Translator) LoadTranslationsFromFile(language Language, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read translation file: %w", err)
	}

	return t.LoadTranslations(language, data)
}

// SetLanguage sets the current language
func (t *Translator) SetLanguage(language Language) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentLanguage = language
}

// GetLanguage returns the current language
func (t *Translator) GetLanguage() Language {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentLanguage
}

// Translate returns the text for key, falling back to English and then to the key itself
func (t *Translator) Translate(key string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if text, ok := t.translations[t.currentLanguage][key]; ok {
		return text
	}
	if t.currentLanguage != LanguageEnglish {
		if text, ok := t.translations[LanguageEnglish][key]; ok {
			return text
		}
	}
	return key
}

// TranslateWithFormat translates key and substitutes {param} placeholders
func (t *Translator) TranslateWithFormat(key string, params map[string]string) string {
	text := t.Translate(key)

	for param, value := range params {
		text = strings.ReplaceAll(text, "{"+param+"}", value)
	}

	return text
}

// Status translates a session status line. Unknown lines are returned unchanged.
func (t *Translator) Status(status string) string {
	key, ok := statusKeys[status]
	if !ok {
		return status
	}
	return t.Translate(key)
}

// statusKeys maps the session status lines to translation keys
var statusKeys = map[string]string{
	"Ready to start voice session":                  "status.ready",
	"Connecting...":                                 "status.connecting",
	"Active":                                        "status.active",
	"Network Error":                                 "status.network_error",
	"Session Closed":                                "status.closed",
	"Microphone access denied or connection failed": "status.start_failed",
}

// GetAllTranslations returns a copy of the table for the current language
func (t *Translator) GetAllTranslations() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]string)
	for k, v := range t.translations[t.currentLanguage] {
		result[k] = v
	}
	return result
}

// HasTranslation checks if key exists in the current language
func (t *Translator) HasTranslation(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.translations[t.currentLanguage][key]
	return ok
}

// ValidateLanguage validates that a language is supported
func ValidateLanguage(language string) bool {
	return language == string(LanguageJapanese) || language == string(LanguageEnglish)
}

// DetectSystemLanguage picks Japanese when the locale environment asks for it
func DetectSystemLanguage() Language {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(v), "ja") {
			return LanguageJapanese
		}
		return LanguageEnglish
	}
	return LanguageEnglish
}

// GetSupportedLanguages returns a list of supported languages
func GetSupportedLanguages() []Language {
	return []Language{LanguageJapanese, LanguageEnglish}
}

// DefaultEnglishTranslations returns default English translations
func DefaultEnglishTranslations() map[string]string {
	return map[string]string{
		// Menu items
		"menu.start_session": "Start Voice Session",
		"menu.stop_session":  "Stop Voice Session",
		"menu.transcript":    "Open Transcript...",
		"menu.settings":      "Open Settings...",
		"menu.about":         "About",
		"menu.quit":          "Quit",

		// Settings
		"settings.title":         "EzLiveTutor Settings",
		"settings.hotkey":        "Hotkey",
		"settings.model":         "Model",
		"settings.api_key":       "API Key",
		"settings.input_device":  "Microphone",
		"settings.output_device": "Speaker",
		"settings.latency":       "Latency",
		"settings.ui_language":   "UI Language",
		"settings.save":          "Save",

		// Permissions
		"permission.microphone": "Microphone",
		"permission.granted":    "✓ Granted",
		"permission.denied":     "✗ Denied",
		"permission.request":    "Open Settings",

		// Errors
		"error.mic_permission_denied": "Microphone access denied. Allow it in System Settings.",
		"error.session_failed":        "Could not start the voice session: {reason}",
		"error.network":               "The connection to the tutor was lost",

		// Notifications
		"notification.session_started": "Voice session started",
		"notification.session_stopped": "Voice session ended",

		// Status
		"status.ready":         "Ready to start voice session",
		"status.connecting":    "Connecting...",
		"status.active":        "Active",
		"status.network_error": "Network Error",
		"status.closed":        "Session Closed",
		"status.start_failed":  "Microphone access denied or connection failed",
	}
}

// DefaultJapaneseTranslations returns default Japanese translations
func DefaultJapaneseTranslations() map[string]string {
	return map[string]string{
		// Menu items
		"menu.start_session": "音声セッションを開始",
		"menu.stop_session":  "音声セッションを終了",
		"menu.transcript":    "会話ログを開く...",
		"menu.settings":      "設定を開く...",
		"menu.about":         "バージョン情報",
		"menu.quit":          "終了",

		// Settings
		"settings.title":         "EzLiveTutor 設定",
		"settings.hotkey":        "ホットキー",
		"settings.model":         "モデル",
		"settings.api_key":       "APIキー",
		"settings.input_device":  "マイク",
		"settings.output_device": "スピーカー",
		"settings.latency":       "レイテンシ",
		"settings.ui_language":   "UI言語",
		"settings.save":          "保存",

		// Permissions
		"permission.microphone": "マイク",
		"permission.granted":    "✓ 許可済み",
		"permission.denied":     "✗ 拒否",
		"permission.request":    "設定を開く",

		// Errors
		"error.mic_permission_denied": "マイクへのアクセスが拒否されました。システム設定で許可してください。",
		"error.session_failed":        "音声セッションを開始できませんでした: {reason}",
		"error.network":               "講師との接続が切れました",

		// Notifications
		"notification.session_started": "音声セッションを開始しました",
		"notification.session_stopped": "音声セッションを終了しました",

		// Status
		"status.ready":         "音声セッションの準備ができました",
		"status.connecting":    "接続中...",
		"status.active":        "会話中",
		"status.network_error": "ネットワークエラー",
		"status.closed":        "セッション終了",
		"status.start_failed":  "マイクへのアクセスが拒否されたか、接続に失敗しました",
	}
}
