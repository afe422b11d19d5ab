package provider

import "testing"

func TestDetectImageSupport(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		want     bool
	}{
		{"openai", "gpt-5", true},
		{"openai", "gpt-4o-mini", true},
		{"anthropic", "claude-sonnet-4-20250514", true},
		{"gemini", "gemini-2.5-pro", true},
		{"qwen", "qwen-vl-max", true},
		{"deepseek", "deepseek-chat", false},
		{"groq", "llama-3.3-70b-versatile", false},
		{"openai", "gpt-3.5-turbo", false},
		{"openai", "some-new-model", true},
	}
	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.model, func(t *testing.T) {
			got := DetectImageSupport(tt.provider, tt.model, nil)
			if got.Supported != tt.want {
				t.Fatalf("Supported = %v, want %v (%s)", got.Supported, tt.want, got.Reason)
			}
			if got.Reason == "" {
				t.Fatal("expected a reason")
			}
		})
	}
}

func TestDetectImageSupportOverride(t *testing.T) {
	off, on := false, true
	if got := DetectImageSupport("openai", "gpt-5", &off); got.Supported {
		t.Fatal("override false should disable images")
	}
	if got := DetectImageSupport("deepseek", "deepseek-chat", &on); !got.Supported {
		t.Fatal("override true should enable images")
	}
}
