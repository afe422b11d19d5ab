package provider

import "strings"

// ImageSupport describes whether a model accepts image input and how the
// conclusion was reached.
type ImageSupport struct {
	Supported bool
	Reason    string
}

// DetectImageSupport estimates whether a provider/model combination accepts
// photos. A non-nil override wins. Unknown models are allowed so new
// releases are not blocked.
func DetectImageSupport(providerName, model string, override *bool) ImageSupport {
	if override != nil {
		if *override {
			return ImageSupport{Supported: true, Reason: "enabled by config"}
		}
		return ImageSupport{Supported: false, Reason: "disabled by config"}
	}

	p := strings.ToLower(strings.TrimSpace(providerName))
	m := strings.ToLower(strings.TrimSpace(model))

	for _, kw := range []string{
		"gpt-5", "gpt-4o", "gpt-4.1", "o3", "o4", "claude", "gemini",
		"vision", "-vl", "multimodal",
	} {
		if strings.Contains(m, kw) {
			return ImageSupport{Supported: true, Reason: "model family accepts image input"}
		}
	}

	switch {
	case strings.Contains(m, "deepseek"):
		return ImageSupport{Supported: false, Reason: "DeepSeek chat models are text-only"}
	case p == "groq":
		return ImageSupport{Supported: false, Reason: "selected Groq model is not a vision variant"}
	case strings.HasPrefix(m, "gpt-3.5"):
		return ImageSupport{Supported: false, Reason: "model is text-only"}
	}

	if p == "anthropic" || p == "gemini" {
		return ImageSupport{Supported: true, Reason: "provider family accepts image input"}
	}
	return ImageSupport{Supported: true, Reason: "unknown model capability"}
}
