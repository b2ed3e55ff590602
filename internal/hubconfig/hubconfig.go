// Package hubconfig loads the model repository's tokenizer_config.json and
// processor_config.json, the two places a chat template can live.
package hubconfig

import (
	"encoding/json"
	"fmt"
	"os"
)

// ChatTemplateVersions is either a single template string or a list of named
// templates, as found in HuggingFace tokenizer configs.
type ChatTemplateVersions struct {
	Single   string
	Multiple []NamedTemplate
}

// NamedTemplate is one entry of a multi-template chat_template list.
type NamedTemplate struct {
	Name     string `json:"name"`
	Template string `json:"template"`
}

// UnmarshalJSON accepts both the string and the list form.
func (v *ChatTemplateVersions) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.Single = s
		v.Multiple = nil
		return nil
	}
	var list []NamedTemplate
	if err := json.Unmarshal(data, &list); err == nil {
		v.Single = ""
		v.Multiple = list
		return nil
	}
	return fmt.Errorf("chat_template is neither a string nor a template list")
}

// Resolve returns the effective template: the single form as-is, or the entry
// named "default" from the list form.
func (v *ChatTemplateVersions) Resolve() (string, bool) {
	if v == nil {
		return "", false
	}
	if v.Single != "" {
		return v.Single, true
	}
	for _, t := range v.Multiple {
		if t.Name == "default" {
			return t.Template, true
		}
	}
	return "", false
}

// SpecialToken is either a bare string or an added-token object with a
// content field.
type SpecialToken struct {
	Content string
}

func (t *SpecialToken) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Content = s
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.Content = obj.Content
	return nil
}

// TokenizerConfig is the subset of tokenizer_config.json the core consumes.
type TokenizerConfig struct {
	ChatTemplate *ChatTemplateVersions `json:"chat_template"`
	BosToken     *SpecialToken         `json:"bos_token"`
	EosToken     *SpecialToken         `json:"eos_token"`
}

// ProcessorConfig is the subset of processor_config.json the core consumes.
type ProcessorConfig struct {
	ChatTemplate *ChatTemplateVersions `json:"chat_template"`
}

// LoadTokenizerConfig reads path; a missing file yields an empty config.
func LoadTokenizerConfig(path string) (TokenizerConfig, error) {
	var cfg TokenizerConfig
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadProcessorConfig reads path; a missing file yields an empty config.
func LoadProcessorConfig(path string) (ProcessorConfig, error) {
	var cfg ProcessorConfig
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveChatTemplate applies the documented preference order: the tokenizer
// config's template wins over the processor config's.
func ResolveChatTemplate(tok TokenizerConfig, proc ProcessorConfig) (string, bool) {
	if tpl, ok := tok.ChatTemplate.Resolve(); ok {
		return tpl, true
	}
	return proc.ChatTemplate.Resolve()
}
