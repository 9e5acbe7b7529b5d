package provider

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/theimaginaryfoundation/redline-o-bot/redline"
)

const (
	KindRules  = "rules"
	KindOpenAI = "openai"
)

// Options selects and configures an edit oracle.
type Options struct {
	Kind            string
	Model           string
	APIKey          string
	BaseURL         string
	MaxOutputTokens int64
	Rules           []Rule
	Logger          *slog.Logger
}

// New builds the oracle named by opts.Kind. The OpenAI oracle requires an API
// key; there is no silent fallback to rules.
func New(opts Options) (redline.EditOracle, error) {
	switch opts.Kind {
	case "", KindRules:
		return NewRulesOracle(opts.Rules, opts.Logger), nil
	case KindOpenAI:
		if opts.APIKey == "" {
			return nil, errors.New("provider.New: openai oracle requires an API key")
		}
		reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
		if opts.BaseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
		}
		client := openai.NewClient(reqOpts...)
		return NewOpenAIOracle(&client, opts.Model, opts.MaxOutputTokens, opts.Logger)
	}
	return nil, fmt.Errorf("provider.New: unknown oracle kind %q", opts.Kind)
}
