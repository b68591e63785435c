package ai

import "strings"

// ChatEndpoint derives the chat-completions URL from a provider base URL.
//
//	"https://x.com/api#" -> "https://x.com/api"
//	"https://x.com/v1/"  -> "https://x.com/v1/chat/completions"
//	"https://x.com/v1"   -> "https://x.com/v1/v1/chat/completions"
func ChatEndpoint(baseURL string) string {
	switch {
	case strings.HasSuffix(baseURL, "#"):
		return strings.TrimSuffix(baseURL, "#")
	case strings.HasSuffix(baseURL, "/"):
		return strings.TrimSuffix(baseURL, "/") + "/chat/completions"
	default:
		return baseURL + "/v1/chat/completions"
	}
}

// ModelsEndpoint derives the model-listing URL using the same conventions.
// A "#" base URL only has one when it contains "/chat"; otherwise it returns "".
func ModelsEndpoint(baseURL string) string {
	switch {
	case strings.HasSuffix(baseURL, "#"):
		base := strings.TrimSuffix(baseURL, "#")
		i := strings.Index(base, "/chat")
		if i < 0 {
			return ""
		}
		return base[:i] + "/models"
	case strings.HasSuffix(baseURL, "/"):
		return strings.TrimSuffix(baseURL, "/") + "/models"
	default:
		return baseURL + "/v1/models"
	}
}

// wantsThinking reports whether the model gets the extended reasoning opt-in.
func wantsThinking(identifier string) bool {
	id := strings.ToLower(identifier)
	return strings.Contains(id, "thinking") || strings.Contains(id, "qwen")
}
