// Package claude implements report.Classifier on the Anthropic Messages API.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/grievance/internal/report"
)

const maxTokens = 512

const systemPrompt = `You pre-screen grievance reports submitted through a whistleblowing channel.
Classify the report into exactly one result code:
- admitted: a plausible grievance within the channel's remit (human rights, labour, environment, safety, corruption)
- out_of_scope: a real concern that this channel does not handle (e.g. product support, personal disputes)
- unfounded: lacks any concrete allegation
- spam: advertising, gibberish or abuse
Reply with a single JSON object and nothing else:
{"result_code": "<code>", "reasoning": "<one or two sentences>", "confident": <true|false>}
Set confident to false whenever a human should double-check.`

type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Classifier asks Claude for a filter decision on a report.
type Classifier struct {
	messages messagesAPI
	model    string
	logger   log.Logger
}

// New creates a Classifier with the given API key and model name.
func New(apiKey, model string, logger log.Logger) *Classifier {
	if logger == nil {
		logger = log.Nop()
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Classifier{messages: &client.Messages, model: model, logger: logger}
}

// Classify implements report.Classifier.
func (c *Classifier) Classify(ctx context.Context, r *report.Report) (*report.Classification, error) {
	msg, err := c.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(r))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}

	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}

	out, err := parseClassification(text.String())
	if err != nil {
		return nil, err
	}
	c.logger.Info(ctx, "report classified",
		"report_id", r.ID,
		"model", c.model,
		"result", out.ResultCode,
		"confident", out.Confident,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
	)
	return out, nil
}

// buildPrompt renders the report fields the model needs. Reporter identity
// is never included.
func buildPrompt(r *report.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", r.Title)
	if r.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", r.Location)
	}
	if r.Attributes.CountryCode != "" {
		fmt.Fprintf(&b, "Country: %s\n", r.Attributes.CountryCode)
	}
	if r.Attributes.RiskCategoryID != "" {
		fmt.Fprintf(&b, "Risk category: %s\n", r.Attributes.RiskCategoryID)
	}
	b.WriteString("\nDescription:\n")
	if d := strings.TrimSpace(r.Description); d != "" {
		b.WriteString(d)
	} else {
		b.WriteString("(none)")
	}
	return b.String()
}

type classificationReply struct {
	ResultCode string `json:"result_code"`
	Reasoning  string `json:"reasoning"`
	Confident  bool   `json:"confident"`
}

// parseClassification extracts the JSON object from the model's reply,
// tolerating prose or code fences around it.
func parseClassification(text string) (*report.Classification, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, errors.New("claude reply has no JSON object")
	}

	var reply classificationReply
	if err := json.Unmarshal([]byte(text[start:end+1]), &reply); err != nil {
		return nil, fmt.Errorf("decode claude reply: %w", err)
	}

	code := report.FilterCode(strings.ToLower(strings.TrimSpace(reply.ResultCode)))
	switch code {
	case report.FilterAdmitted, report.FilterOutOfScope, report.FilterUnfounded, report.FilterSpam:
	default:
		return nil, fmt.Errorf("claude returned unknown result code %q", reply.ResultCode)
	}
	return &report.Classification{
		ResultCode: code,
		Reasoning:  strings.TrimSpace(reply.Reasoning),
		Confident:  reply.Confident,
	}, nil
}

var _ report.Classifier = (*Classifier)(nil)
