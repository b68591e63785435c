package ai

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 1024 * 1024
)

// Stream sends a streaming request and forwards every non-empty thinking and
// content fragment to onToken as it arrives. It returns the concatenated
// reply text, including when it fails part way, so callers can keep it.
func (g *Gateway) Stream(ctx context.Context, p Provider, m ModelSpec, msgs []Message, onToken func(Token) error) (string, error) {
	ctx, span := g.startSpan(ctx, "ai.Stream", p, m)
	defer span.End()
	start := time.Now()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var reply strings.Builder
	err := g.breaker(p).Execute(func() error {
		connect := time.AfterFunc(g.cfg.ConnectTimeout, func() { cancel(errConnectTimeout) })
		resp, err := g.post(ctx, p, m, msgs, true)
		connect.Stop()
		if err != nil {
			return contextError(ctx, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyInError+1))
			return statusError(resp.StatusCode, body)
		}

		return g.consume(ctx, cancel, resp.Body, m.Identifier, onToken, &reply)
	})

	err = g.finish(ctx, span, p, "stream", start, err)
	return reply.String(), err
}

// consume reads the SSE body line by line. Each line re-arms the idle timer.
func (g *Gateway) consume(ctx context.Context, cancel context.CancelCauseFunc, body io.Reader, model string, onToken func(Token) error, reply *strings.Builder) error {
	idle := time.AfterFunc(g.cfg.IdleTimeout, func() { cancel(errIdleTimeout) })
	defer idle.Stop()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	selector := newAdapterSelector(model)
	for scanner.Scan() {
		idle.Reset(g.cfg.IdleTimeout)

		payload, ok := ssePayload(scanner.Text())
		if !ok {
			continue
		}
		if payload == "[DONE]" {
			return nil
		}

		delta, ok := parseDelta(payload)
		if !ok {
			continue
		}

		thinking, content := selector.adapter(delta).extract(delta)
		if thinking != "" {
			if err := onToken(Token{Kind: TokenThinking, Text: thinking}); err != nil {
				return &Error{Kind: KindInterrupted, Err: err}
			}
		}
		if content != "" {
			reply.WriteString(content)
			if err := onToken(Token{Kind: TokenContent, Text: content}); err != nil {
				return &Error{Kind: KindInterrupted, Err: err}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return contextError(ctx, &Error{Kind: KindTransport, Err: err})
	}
	// A cancelled body can also surface as a clean EOF.
	if ctx.Err() != nil {
		return contextError(ctx, &Error{Kind: KindTransport, Err: ctx.Err()})
	}
	return nil
}

// ssePayload extracts the data of a "data:" line.
func ssePayload(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}

// parseDelta decodes choices[0].delta keeping raw values, so that a key
// present with a null value is still visible to adapter selection.
func parseDelta(payload string) (map[string]json.RawMessage, bool) {
	var chunk struct {
		Choices []struct {
			Delta map[string]json.RawMessage `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return nil, false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
		return nil, false
	}
	return chunk.Choices[0].Delta, true
}
