package llm

import (
	"fmt"
	"reflect"
	"testing"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"ollama", "*llm.ollamaProvider"},
		{"openai", "*llm.openAIProvider"},
		{"custom", "*llm.openAICompatProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := Config{
				Provider: tt.provider,
				Model:    "test-model",
			}
			p, err := NewProvider(cfg)
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			gotType := fmt.Sprintf("%T", p)
			if gotType != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, gotType, tt.wantType)
			}
		})
	}
}

func TestNewProviderUnknown(t *testing.T) {
	cfg := Config{
		Provider: "doesnotexist",
		Model:    "test-model",
	}
	_, err := NewProvider(cfg)
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
	want := "unknown llm provider: doesnotexist"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestNewProviderEmpty(t *testing.T) {
	cfg := Config{
		Provider: "",
		Model:    "test-model",
	}
	_, err := NewProvider(cfg)
	if err == nil {
		t.Fatal("expected error for empty provider, got nil")
	}
	want := "llm provider not specified"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

// TestDefaultBaseURLs verifies that when BaseURL is empty in the config,
// each provider constructor sets the correct default.
func TestDefaultBaseURLs(t *testing.T) {
	tests := []struct {
		provider string
		wantURL  string
	}{
		{"ollama", "http://localhost:11434"},
		{"openai", "https://api.openai.com"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := Config{
				Provider: tt.provider,
				Model:    "test-model",
				// BaseURL intentionally left empty.
			}
			p, err := NewProvider(cfg)
			if err != nil {
				t.Fatalf("NewProvider(%q): %v", tt.provider, err)
			}

			// Use reflection to reach base.cfg.BaseURL on the concrete type.
			v := reflect.ValueOf(p).Elem()
			base := v.FieldByName("base")
			cfgField := base.FieldByName("cfg")
			gotURL := cfgField.FieldByName("BaseURL").String()

			if gotURL != tt.wantURL {
				t.Errorf("default BaseURL for %q = %q, want %q", tt.provider, gotURL, tt.wantURL)
			}
		})
	}
}

// TestCustomProviderNoDefaultURL confirms the custom provider does not
// override an empty BaseURL with a default.
func TestCustomProviderNoDefaultURL(t *testing.T) {
	cfg := Config{
		Provider: "custom",
		Model:    "test-model",
		BaseURL:  "",
	}
	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider(custom): %v", err)
	}

	v := reflect.ValueOf(p).Elem()
	gotURL := v.FieldByName("base").FieldByName("cfg").FieldByName("BaseURL").String()
	if gotURL != "" {
		t.Errorf("custom provider BaseURL = %q, want empty", gotURL)
	}
}

func TestFloat64sToFloat32s(t *testing.T) {
	got := float64sToFloat32s([]float64{1.5, 0, -2})
	want := []float32{1.5, 0, -2}
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d = %v, want %v", i, got[i], want[i])
		}
	}
}
