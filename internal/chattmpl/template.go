// Package chattmpl renders HuggingFace-style jinja chat templates into
// prompts.
package chattmpl

import (
	"encoding/json"
	"strings"

	"github.com/nikolalohinski/gonja/v2"
	"github.com/nikolalohinski/gonja/v2/exec"

	"inferd/internal/hubconfig"
	"inferd/internal/infer"
	"inferd/pkg/types"
)

// ChatTemplate is a compiled chat template plus the special tokens it may
// reference.
type ChatTemplate struct {
	template *exec.Template
	bosToken string
	eosToken string
	// useTools reports whether the template itself consumes a tools
	// variable; otherwise tool definitions are textified into the last
	// message.
	useTools bool
}

// New compiles source. bos/eos may be empty.
func New(source, bosToken, eosToken string) (*ChatTemplate, error) {
	tpl, err := gonja.FromString(source)
	if err != nil {
		return nil, &infer.TemplateError{Cause: err}
	}
	return &ChatTemplate{
		template: tpl,
		bosToken: bosToken,
		eosToken: eosToken,
		useTools: strings.Contains(source, "tools"),
	}, nil
}

// FromConfigs resolves the template out of the hub configs. Returns nil when
// none is configured.
func FromConfigs(tok hubconfig.TokenizerConfig, proc hubconfig.ProcessorConfig) (*ChatTemplate, error) {
	source, ok := hubconfig.ResolveChatTemplate(tok, proc)
	if !ok {
		return nil, nil
	}
	var bos, eos string
	if tok.BosToken != nil {
		bos = tok.BosToken.Content
	}
	if tok.EosToken != nil {
		eos = tok.EosToken.Content
	}
	return New(source, bos, eos)
}

// Apply renders messages. When tools are given and the template does not
// consume a tools variable, their JSON plus toolPrompt is appended to the
// last message instead.
func (t *ChatTemplate) Apply(messages []types.Message, tools []types.Tool, toolPrompt string) (string, error) {
	if len(messages) == 0 {
		return "", &infer.MissingTemplateVariableError{Name: "messages"}
	}

	msgs := make([]map[string]any, len(messages))
	for i, m := range messages {
		msgs[i] = map[string]any{"role": m.Role, "content": m.Content}
	}

	vars := map[string]any{
		"messages":              msgs,
		"bos_token":             t.bosToken,
		"eos_token":             t.eosToken,
		"add_generation_prompt": true,
	}

	if len(tools) > 0 {
		if t.useTools {
			vars["tools"] = toolMaps(tools)
			vars["tool_prompt"] = toolPrompt
		} else {
			text, err := json.Marshal(tools)
			if err != nil {
				return "", &infer.ToolError{Msg: err.Error()}
			}
			last := msgs[len(msgs)-1]
			last["content"] = last["content"].(string) + "\n" + toolPrompt + "\n" + string(text)
		}
	}

	out, err := t.template.ExecuteToString(exec.NewContext(vars))
	if err != nil {
		return "", &infer.TemplateError{Cause: err}
	}
	return out, nil
}

func toolMaps(tools []types.Tool) []map[string]any {
	out := make([]map[string]any, len(tools))
	for i, tool := range tools {
		out[i] = map[string]any{"type": tool.Type, "function": tool.Function}
	}
	return out
}
