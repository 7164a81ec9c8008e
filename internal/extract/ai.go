package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/resilience"
	"github.com/sells-group/invoice-cli/internal/vendor"
	"github.com/sells-group/invoice-cli/pkg/anthropic"
)

// ErrAIBackendFailure marks any failure of the AI strategy. The engine treats
// it as a signal to fall back, never as a document failure.
var ErrAIBackendFailure = eris.New("extract: ai backend failure")

const aiInstruction = `You extract billing fields from telecom invoice text.
Respond with a single JSON object and nothing else. Use only the keys listed
by the user. Values must be strings, numbers, booleans or null. Copy dates and
amounts exactly as printed; do not reformat them. Use null when a field is not
present in the document.`

const responseSchema = `{
  "type": "object",
  "additionalProperties": {"type": ["string", "number", "boolean", "null"]}
}`

// AIConfig tunes the AI strategy.
type AIConfig struct {
	Model      string
	MaxTokens  int64
	Timeout    time.Duration
	RatePerSec float64
	Retry      resilience.RetryConfig
	Breaker    resilience.BreakerConfig
}

// AIConfigFrom maps the anthropic and extract configuration sections.
func AIConfigFrom(cfg *config.Config) AIConfig {
	retry := resilience.FromConfig(cfg.Extract.Retry)
	retry.OnRetry = resilience.RetryLogger("anthropic", "extract")
	return AIConfig{
		Model:      cfg.Anthropic.Model,
		MaxTokens:  cfg.Anthropic.MaxTokens,
		Timeout:    time.Duration(cfg.Extract.AITimeoutSecs) * time.Second,
		RatePerSec: cfg.Extract.AIRatePerSec,
		Retry:      retry,
		Breaker:    resilience.BreakerFromConfig("anthropic", cfg.Extract.Circuit),
	}
}

// AIStrategy asks the Anthropic Messages API for a JSON field map.
type AIStrategy struct {
	client  anthropic.Client
	cfg     AIConfig
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	schema  *jsonschema.Schema
}

// NewAIStrategy builds the AI strategy around client.
func NewAIStrategy(client anthropic.Client, cfg AIConfig) (*AIStrategy, error) {
	if client == nil {
		return nil, eris.New("extract: ai strategy requires a client")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", strings.NewReader(responseSchema)); err != nil {
		return nil, eris.Wrap(err, "extract: add response schema")
	}
	schema, err := compiler.Compile("response.json")
	if err != nil {
		return nil, eris.Wrap(err, "extract: compile response schema")
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &AIStrategy{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, max(int(cfg.RatePerSec), 1)),
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
		schema:  schema,
	}, nil
}

// Method implements Strategy.
func (s *AIStrategy) Method() model.ExtractionMethod { return model.MethodAI }

// Extract implements Strategy. Every error it returns wraps ErrAIBackendFailure.
func (s *AIStrategy) Extract(ctx context.Context, text string, profile vendor.Profile) (RawFields, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, aiFailure(err)
	}

	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       s.cfg.Model,
		MaxTokens:   s.cfg.MaxTokens,
		System:      []anthropic.SystemBlock{{Text: aiInstruction, Cached: true}},
		Messages:    []anthropic.Message{{Role: "user", Content: buildPrompt(text, profile)}},
		Temperature: &temp,
	}

	resp, err := resilience.Execute(ctx, s.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, s.cfg.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			r, err := s.client.CreateMessage(ctx, req)
			if err != nil {
				if code := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(code) {
					return nil, resilience.NewTransientError(err, code)
				}
				return nil, err
			}
			return r, nil
		})
	})
	if err != nil {
		return nil, aiFailure(err)
	}
	resp.Usage.Log(resp.Model, profile.ID)

	fields, err := s.parse(resp.Text())
	if err != nil {
		return nil, aiFailure(err)
	}
	return fields, nil
}

func (s *AIStrategy) parse(body string) (RawFields, error) {
	body = stripFences(body)
	if body == "" {
		return nil, eris.New("empty response")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "decode response")
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, eris.Wrap(err, "response does not match schema")
	}

	out := make(RawFields)
	for key, v := range doc.(map[string]any) {
		spec, ok := model.LookupField(key)
		if !ok {
			zap.L().Debug("extract: ignoring unknown ai field", zap.String("field", key))
			continue
		}
		var text string
		switch t := v.(type) {
		case nil:
			continue
		case string:
			text = t
		case json.Number:
			text = t.String()
		case bool:
			text = strconv.FormatBool(t)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		out[key] = RawValue{Text: text, Kind: spec.Kind}
	}
	return out, nil
}

func buildPrompt(text string, profile vendor.Profile) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Vendor: %s\nFields:\n", profile.Name)
	for _, f := range model.Fields() {
		fmt.Fprintf(&b, "- %s (%s): %s\n", f.Key, f.Kind, f.Label)
	}
	b.WriteString("\nInvoice text:\n")
	b.WriteString(text)
	return b.String()
}

// stripFences removes a surrounding ``` or ```json fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func aiFailure(err error) error {
	return eris.Wrapf(ErrAIBackendFailure, "extract: ai: %v", err)
}
