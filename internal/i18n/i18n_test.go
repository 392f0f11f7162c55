package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		lang, id, want string
	}{
		{"en", "ErrSaving", "Error saving"},
		{"zh", "ErrSaving", "保存出错"},
		{"en", "ErrSubmitInProgress", "Your answers are already being evaluated."},
		{"zh", "Saved", "进度已保存"},
		// Unsupported languages fall back to the bundle default.
		{"fr", "ErrSaving", "Error saving"},
	}
	for _, tt := range tests {
		t.Run(tt.lang+"/"+tt.id, func(t *testing.T) {
			ctx := initLang(t, tt.lang)
			if got := T(ctx, tt.id); got != tt.want {
				t.Errorf("T(%s) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "QuestionsCorrect", 1); got != "1 question correct" {
		t.Errorf("Tp(QuestionsCorrect, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsCorrect", 3); got != "3 questions correct" {
		t.Errorf("Tp(QuestionsCorrect, 3) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "SectionScored", map[string]any{"Section": "B", "Score": "3.5"})
	if got != "Section B: 3.5 / 5" {
		t.Errorf("Td(SectionScored) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestSupported(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for lang, want := range map[string]bool{"en": true, "zh": true, "ru": false, "???": false} {
		if got := Supported(lang); got != want {
			t.Errorf("Supported(%q) = %v, want %v", lang, got, want)
		}
	}
}

func TestMiddlewareUsesAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "ErrSaving")
	}))

	tests := []struct {
		header, want string
	}{
		{"zh-CN,zh;q=0.9,en;q=0.8", "保存出错"},
		{"de-DE", "Error saving"},
		{"", "Error saving"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Accept-Language", tt.header)
		}
		h.ServeHTTP(httptest.NewRecorder(), r)
		if got != tt.want {
			t.Errorf("Accept-Language %q: got %q, want %q", tt.header, got, tt.want)
		}
	}
}
