package suggest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

const DefaultTimeout = 30 * time.Second

var ErrNotConfigured = errors.New("text generation is not configured")

var tracer = otel.Tracer("github.com/joelkehle/deal-scheduler/internal/suggest")

type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Result is the outcome of one generation attempt. A failed Result carries
// the reason in Error and no text.
type Result struct {
	Status Status `json:"status"`
	Text   string `json:"text,omitempty"`
	HTML   string `json:"html,omitempty"`
	Model  string `json:"model,omitempty"`
	Error  string `json:"error,omitempty"`
}

func Failed(err error) Result {
	return Result{Status: StatusFailed, Error: err.Error()}
}

type Composer struct {
	gen     Generator
	timeout time.Duration
	md      goldmark.Markdown
	group   singleflight.Group
}

func NewComposer(gen Generator, timeout time.Duration) *Composer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Composer{
		gen:     gen,
		timeout: timeout,
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

func (c *Composer) render(text string) (string, error) {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return buf.String(), nil
}

func flightKey(dealID, prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return dealID + ":" + hex.EncodeToString(sum[:8])
}

// Compose runs one bounded generation for dealID. Concurrent calls for the
// same deal and prompt share a single upstream request, which outlives any
// one caller's cancellation and is bounded by the composer timeout.
func (c *Composer) Compose(ctx context.Context, dealID, prompt string) Result {
	if c == nil || c.gen == nil {
		return Failed(ErrNotConfigured)
	}
	ctx, span := tracer.Start(ctx, "suggest.Compose")
	defer span.End()
	span.SetAttributes(attribute.String("deal.id", dealID), attribute.String("llm.model", c.gen.ModelName()))

	flightCtx := context.WithoutCancel(ctx)
	v, _, _ := c.group.Do(flightKey(dealID, prompt), func() (any, error) {
		return c.generate(flightCtx, prompt), nil
	})
	res := v.(Result)
	if res.Status == StatusFailed {
		span.SetStatus(codes.Error, res.Error)
	}
	return res
}

func (c *Composer) generate(ctx context.Context, prompt string) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	text, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		log.Printf("deal-scheduler suggestion_error model=%s elapsed_ms=%d err=%q", c.gen.ModelName(), time.Since(start).Milliseconds(), err.Error())
		return Failed(fmt.Errorf("suggestion generation failed: %w", err))
	}
	res := Result{Status: StatusOK, Text: text, Model: c.gen.ModelName()}
	if html, err := c.render(text); err == nil {
		res.HTML = html
	}
	log.Printf("deal-scheduler suggestion_success model=%s elapsed_ms=%d chars=%d", res.Model, time.Since(start).Milliseconds(), len(text))
	return res
}
