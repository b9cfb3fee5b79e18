package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"sync"
)

//go:embed resources/*.json
var resources embed.FS

var (
	translations = make(map[string]map[string]string)
	once         sync.Once
)

// Init loads the embedded translations. It is safe to call more than once.
func Init() {
	once.Do(func() {
		files, err := resources.ReadDir("resources")
		if err != nil {
			slog.Error("i18n.Init: reading resources", "error", err)
			return
		}
		for _, f := range files {
			if path.Ext(f.Name()) != ".json" {
				continue
			}
			lang := f.Name()[:len(f.Name())-5]
			data, err := resources.ReadFile("resources/" + f.Name())
			if err != nil {
				slog.Error("i18n.Init: reading translation", "lang", lang, "error", err)
				continue
			}
			var t map[string]string
			if err := json.Unmarshal(data, &t); err != nil {
				slog.Error("i18n.Init: decoding translation", "lang", lang, "error", err)
				continue
			}
			translations[lang] = t
		}
	})
}

func T(lang, key string) string {
	Init()
	if t, ok := translations[lang]; ok {
		if val, ok := t[key]; ok {
			return val
		}
	}
	// Fallback to en
	if t, ok := translations["en"]; ok {
		if val, ok := t[key]; ok {
			return val
		}
	}
	return key
}

// Tf formats the translation of key with args.
func Tf(lang, key string, args ...any) string {
	return fmt.Sprintf(T(lang, key), args...)
}

func GetLang(r *http.Request) string {
	Init()
	if lang := r.URL.Query().Get("lang"); lang != "" {
		if _, ok := translations[lang]; ok {
			return lang
		}
	}
	cookie, err := r.Cookie("lang")
	if err == nil {
		if _, ok := translations[cookie.Value]; ok {
			return cookie.Value
		}
	}
	return "en"
}

func GetAvailableLangs() []string {
	Init()
	langs := []string{}
	for l := range translations {
		langs = append(langs, l)
	}
	if len(langs) == 0 {
		return []string{"en", "hu"}
	}
	sort.Strings(langs)
	return langs
}
