package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"storyforge/backend/pkg/logger"
	"storyforge/backend/pkg/resilience"
)

const instrumentationName = "storyforge/backend/ai"

// Config tunes timeouts and resilience of outbound calls.
type Config struct {
	// RequestTimeout bounds a whole non-streaming call.
	RequestTimeout time.Duration
	// ConnectTimeout bounds a streaming call until response headers arrive.
	ConnectTimeout time.Duration
	// IdleTimeout aborts a stream that sends nothing for this long.
	IdleTimeout time.Duration
	// Retries is the number of extra attempts after a transport failure.
	Retries    uint
	RetryDelay time.Duration
	// BreakerThreshold consecutive provider failures open the circuit for BreakerTimeout.
	BreakerThreshold uint
	BreakerTimeout   time.Duration
}

// DefaultConfig mirrors the documented gateway behaviour.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:   30 * time.Second,
		ConnectTimeout:   60 * time.Second,
		IdleTimeout:      120 * time.Second,
		Retries:          2,
		RetryDelay:       300 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// Gateway talks to OpenAI-compatible chat-completions endpoints.
type Gateway struct {
	cfg      Config
	client   *http.Client
	breakers *resilience.Registry
	log      *logger.Logger
	tracer   trace.Tracer
	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewGateway creates a gateway. A nil client uses a fresh http.Client; the
// gateway applies its own deadlines through contexts.
func NewGateway(cfg Config, client *http.Client, log *logger.Logger) *Gateway {
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	g := &Gateway{
		cfg:    cfg,
		client: client,
		log:    log,
		tracer: otel.Tracer(instrumentationName),
	}

	g.breakers = resilience.NewRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerThreshold,
		SuccessThreshold: 1,
		RetryTimeout:     cfg.BreakerTimeout,
		IsFailure:        countsAgainstProvider,
	}, log)

	meter := otel.Meter(instrumentationName)
	var err error
	if g.calls, err = meter.Int64Counter("ai.gateway.calls",
		metric.WithDescription("Chat completion calls by provider and outcome")); err != nil {
		log.Warn("failed to create gateway counter", "error", err)
	}
	if g.duration, err = meter.Float64Histogram("ai.gateway.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Chat completion call duration")); err != nil {
		log.Warn("failed to create gateway histogram", "error", err)
	}

	return g
}

// Complete sends a non-streaming request and returns choices[0].message.content.
func (g *Gateway) Complete(ctx context.Context, p Provider, m ModelSpec, msgs []Message) (string, error) {
	ctx, span := g.startSpan(ctx, "ai.Complete", p, m)
	defer span.End()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	var reply string
	err := g.breaker(p).Execute(func() error {
		resp, err := g.post(ctx, p, m, msgs, false)
		if err != nil {
			return contextError(ctx, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return contextError(ctx, &Error{Kind: KindTransport, Err: err})
		}
		if resp.StatusCode != http.StatusOK {
			return statusError(resp.StatusCode, body)
		}

		var out openai.ChatCompletionResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return &Error{Kind: KindDecode, Err: err}
		}
		if len(out.Choices) == 0 {
			return &Error{Kind: KindDecode, Err: errors.New("response contains no choices")}
		}
		reply = out.Choices[0].Message.Content
		return nil
	})

	err = g.finish(ctx, span, p, "complete", start, err)
	return reply, err
}

// ListModels fetches the identifiers the provider advertises.
func (g *Gateway) ListModels(ctx context.Context, p Provider) ([]string, error) {
	endpoint := ModelsEndpoint(p.BaseURL)
	if endpoint == "" {
		return nil, &Error{Kind: KindNotFound, Err: errors.New("base URL has no models endpoint")}
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}

	var list openai.ModelsList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, &Error{Kind: KindDecode, Err: err}
	}
	ids := make([]string, 0, len(list.Models))
	for _, model := range list.Models {
		ids = append(ids, model.ID)
	}
	return ids, nil
}

// post issues the chat request, retrying transport failures that happen
// before any response is received.
func (g *Gateway) post(ctx context.Context, p Provider, m ModelSpec, msgs []Message, stream bool) (*http.Response, error) {
	endpoint := ChatEndpoint(p.BaseURL)
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}

	payload, err := json.Marshal(newChatRequest(m, msgs, stream))
	if err != nil {
		return nil, &Error{Kind: KindDecode, Err: err}
	}

	g.log.Debug("sending chat completion",
		"provider", p.Name,
		"endpoint", endpoint,
		"model", m.Identifier,
		"messages", len(msgs),
		"stream", stream,
	)

	return retry.DoWithData(
		func() (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return nil, retry.Unrecoverable(&Error{Kind: KindTransport, Err: err})
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+p.APIKey)
			if stream {
				req.Header.Set("Accept", "text/event-stream")
			}

			resp, err := g.client.Do(req)
			if err != nil {
				return nil, &Error{Kind: KindTransport, Err: err}
			}
			return resp, nil
		},
		retry.Context(ctx),
		retry.Attempts(g.cfg.Retries+1),
		retry.Delay(g.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && KindOf(err) == KindTransport
		}),
		retry.OnRetry(func(n uint, err error) {
			g.log.Warn("chat completion transport failure, retrying",
				"provider", p.Name,
				"attempt", n+1,
				"error", err,
			)
		}),
	)
}

// contextError reclassifies a failure caused by ctx ending. The cause tells
// gateway deadlines apart from the caller going away.
func contextError(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errIdleTimeout):
		return &Error{Kind: KindIdleTimeout, Err: cause}
	case errors.Is(cause, errConnectTimeout), errors.Is(cause, context.DeadlineExceeded):
		return &Error{Kind: KindTransport, Err: cause}
	default:
		return &Error{Kind: KindInterrupted, Err: cause}
	}
}

func (g *Gateway) breaker(p Provider) *resilience.CircuitBreaker {
	return g.breakers.Get(ChatEndpoint(p.BaseURL))
}

// OpenCircuits lists the chat endpoints currently refused by their breaker.
func (g *Gateway) OpenCircuits() []string {
	return g.breakers.Open()
}

func (g *Gateway) startSpan(ctx context.Context, name string, p Provider, m ModelSpec) (context.Context, trace.Span) {
	return g.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("ai.provider", p.Name),
		attribute.String("ai.model", m.Identifier),
	))
}

// finish normalises err into *Error and records telemetry.
func (g *Gateway) finish(ctx context.Context, span trace.Span, p Provider, mode string, start time.Time, err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = &Error{Kind: KindCircuitOpen, Err: err}
	} else if err != nil && KindOf(err) == "" {
		err = &Error{Kind: KindTransport, Err: err}
	}

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		var gerr *Error
		status := 0
		if errors.As(err, &gerr) {
			status = gerr.StatusCode
		}
		g.log.Warn("chat completion failed",
			"provider", p.Name,
			"mode", mode,
			"kind", outcome,
			"status", status,
			"error", err.Error(),
		)
	}

	attrs := metric.WithAttributes(
		attribute.String("provider", p.Name),
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	)
	// Telemetry must not outlive a cancelled request context.
	mctx := context.WithoutCancel(ctx)
	if g.calls != nil {
		g.calls.Add(mctx, 1, attrs)
	}
	if g.duration != nil {
		g.duration.Record(mctx, time.Since(start).Seconds(), attrs)
	}
	return err
}
