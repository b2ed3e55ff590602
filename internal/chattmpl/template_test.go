package chattmpl

import (
	"errors"
	"strings"
	"testing"

	"inferd/internal/hubconfig"
	"inferd/internal/infer"
	"inferd/pkg/types"
)

const simpleTemplate = `{{ bos_token }}{% for message in messages %}[{{ message.role }}]{{ message.content }}{% endfor %}{{ eos_token }}`

func TestApplyRendersMessages(t *testing.T) {
	tpl, err := New(simpleTemplate, "<s>", "</s>")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := tpl.Apply([]types.Message{
		{Role: "system", Content: "Be terse."},
		{Role: "user", Content: "Hi"},
	}, nil, "")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := "<s>[system]Be terse.[user]Hi</s>"
	if out != want {
		t.Fatalf("expected %q got %q", want, out)
	}
}

func TestApplyWithoutMessages(t *testing.T) {
	tpl, err := New(simpleTemplate, "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = tpl.Apply(nil, nil, "")
	var mErr *infer.MissingTemplateVariableError
	if !errors.As(err, &mErr) || mErr.Name != "messages" {
		t.Fatalf("expected missing messages variable, got %v", err)
	}
}

func TestApplyToolsTextified(t *testing.T) {
	// Template ignores tools: definitions land in the last message.
	tpl, err := New(`{% for message in messages %}{{ message.content }};{% endfor %}`, "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := tpl.Apply(
		[]types.Message{{Role: "user", Content: "weather?"}},
		[]types.Tool{{Type: "function", Function: map[string]any{"name": "get_weather"}}},
		"Use a tool if helpful.",
	)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !strings.Contains(out, "Use a tool if helpful.") || !strings.Contains(out, "get_weather") {
		t.Fatalf("tool prompt and definitions must reach the prompt: %q", out)
	}
}

func TestNewRejectsBadSyntax(t *testing.T) {
	_, err := New(`{% for m in messages %}{{ m.content }}`, "", "")
	var tErr *infer.TemplateError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TemplateError, got %v", err)
	}
}

func TestFromConfigs(t *testing.T) {
	tok := hubconfig.TokenizerConfig{
		ChatTemplate: &hubconfig.ChatTemplateVersions{Single: simpleTemplate},
		BosToken:     &hubconfig.SpecialToken{Content: "<s>"},
		EosToken:     &hubconfig.SpecialToken{Content: "</s>"},
	}
	tpl, err := FromConfigs(tok, hubconfig.ProcessorConfig{})
	if err != nil {
		t.Fatalf("FromConfigs: %v", err)
	}
	if tpl == nil {
		t.Fatalf("expected a template")
	}

	tpl, err = FromConfigs(hubconfig.TokenizerConfig{}, hubconfig.ProcessorConfig{})
	if err != nil {
		t.Fatalf("FromConfigs empty: %v", err)
	}
	if tpl != nil {
		t.Fatalf("no configs must configure no template")
	}
}
