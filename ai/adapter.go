package ai

import (
	"encoding/json"
	"strings"
)

// deltaAdapter maps one provider's delta shape onto (thinking, content).
type deltaAdapter struct {
	name         string
	reasoningKey string
}

var (
	reasoningAdapter        = deltaAdapter{name: "reasoning", reasoningKey: "reasoning"}
	reasoningContentAdapter = deltaAdapter{name: "reasoning_content", reasoningKey: "reasoning_content"}
)

func (a deltaAdapter) extract(delta map[string]json.RawMessage) (thinking, content string) {
	return stringField(delta, a.reasoningKey), stringField(delta, "content")
}

// stringField returns delta[key] when it is a JSON string, else "".
func stringField(delta map[string]json.RawMessage, key string) string {
	raw, ok := delta[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// adapterSelector picks an adapter from the first delta of a stream and
// keeps it for the rest of the stream.
type adapterSelector struct {
	model  string
	chosen *deltaAdapter
}

func newAdapterSelector(model string) *adapterSelector {
	return &adapterSelector{model: model}
}

func (s *adapterSelector) adapter(delta map[string]json.RawMessage) deltaAdapter {
	if s.chosen == nil {
		a := selectAdapter(delta, s.model)
		s.chosen = &a
	}
	return *s.chosen
}

func selectAdapter(delta map[string]json.RawMessage, model string) deltaAdapter {
	if _, ok := delta["reasoning"]; ok {
		return reasoningAdapter
	}
	if _, ok := delta["reasoning_content"]; ok {
		return reasoningContentAdapter
	}
	id := strings.ToLower(model)
	if strings.Contains(id, "glm") || strings.Contains(id, "zhipu") {
		return reasoningAdapter
	}
	return reasoningContentAdapter
}
