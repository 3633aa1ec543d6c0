package claude

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/grievance/internal/report"
)

type fakeMessages struct {
	reply string
	err   error
	got   anthropic.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.got = body
	if f.err != nil {
		return nil, f.err
	}
	var msg anthropic.Message
	raw := `{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":` +
		mustJSON(f.reply) + `}],"usage":{"input_tokens":10,"output_tokens":5}}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestParseClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		want      report.FilterCode
		confident bool
		wantErr   bool
	}{
		{"plain", `{"result_code":"admitted","reasoning":"forced overtime","confident":true}`, report.FilterAdmitted, true, false},
		{"fenced", "```json\n{\"result_code\":\"spam\",\"reasoning\":\"ad\",\"confident\":true}\n```", report.FilterSpam, true, false},
		{"prose around", `Here you go: {"result_code":"Out_Of_Scope","reasoning":"billing issue"} thanks`, report.FilterOutOfScope, false, false},
		{"unknown code", `{"result_code":"maybe"}`, "", false, true},
		{"no json", `I cannot decide`, "", false, true},
		{"broken json", `{"result_code":`, "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseClassification(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseClassification: %v", err)
			}
			if got.ResultCode != tt.want {
				t.Errorf("ResultCode = %q, want %q", got.ResultCode, tt.want)
			}
			if got.Confident != tt.confident {
				t.Errorf("Confident = %v, want %v", got.Confident, tt.confident)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	reporter := "reporter-secret"
	r := &report.Report{
		Title:       "Child labour at supplier",
		Description: "Workers under 15 at the dye house",
		ReporterID:  &reporter,
		Attributes:  report.Attributes{CountryCode: "BD", RiskCategoryID: "labour"},
	}
	got := buildPrompt(r)
	for _, want := range []string{"Title: Child labour at supplier", "Country: BD", "Risk category: labour", "Workers under 15"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, reporter) {
		t.Error("prompt must not include the reporter identity")
	}
	if !strings.Contains(buildPrompt(&report.Report{Title: "x"}), "(none)") {
		t.Error("empty description should be marked")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	fake := &fakeMessages{reply: `{"result_code":"unfounded","reasoning":"no allegation","confident":false}`}
	c := &Classifier{messages: fake, model: "claude-test", logger: log.Nop()}

	got, err := c.Classify(context.Background(), &report.Report{ID: "r-1", Title: "hello"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.ResultCode != report.FilterUnfounded || got.Confident {
		t.Errorf("classification = %+v", got)
	}
	if string(fake.got.Model) != "claude-test" {
		t.Errorf("model = %q, want claude-test", fake.got.Model)
	}
	if fake.got.MaxTokens != maxTokens {
		t.Errorf("max tokens = %d, want %d", fake.got.MaxTokens, maxTokens)
	}
}

func TestClassify_APIError(t *testing.T) {
	t.Parallel()

	c := &Classifier{messages: &fakeMessages{err: errors.New("overloaded")}, model: "m", logger: log.Nop()}
	if _, err := c.Classify(context.Background(), &report.Report{ID: "r-1"}); err == nil {
		t.Fatal("expected error")
	}
}
