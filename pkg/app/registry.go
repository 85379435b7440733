package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/billowhq/billow/pkg/configutil"
	"github.com/billowhq/billow/pkg/llm"
	"github.com/billowhq/billow/pkg/messaging"
	msgmock "github.com/billowhq/billow/pkg/messaging/mock"
	"github.com/billowhq/billow/pkg/messaging/twilio"
	"github.com/billowhq/billow/pkg/messaging/unipile"
	"github.com/billowhq/billow/pkg/providers/deepgram"
	provmock "github.com/billowhq/billow/pkg/providers/mock"
	"github.com/billowhq/billow/pkg/providers/openai"
	"github.com/billowhq/billow/pkg/stt"
)

type STTFactory func(settings map[string]any) (stt.Transcriber, error)
type LLMFactory func(settings map[string]any) (llm.CompletionAdapter, error)
type MessengerFactory func(settings map[string]any) (messaging.Messenger, error)

// ProviderRegistry maps vendor names from config to adapter
// constructors. Populated once at startup, read-only afterwards.
type ProviderRegistry struct {
	stt       map[string]STTFactory
	llm       map[string]LLMFactory
	messaging map[string]MessengerFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt:       make(map[string]STTFactory),
		llm:       make(map[string]LLMFactory),
		messaging: make(map[string]MessengerFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[normalizeName(name)] = factory
}

func (r *ProviderRegistry) RegisterMessenger(name string, factory MessengerFactory) {
	r.messaging[normalizeName(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(cfg VendorConfig) (stt.Transcriber, error) {
	fn := r.stt[normalizeName(cfg.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", cfg.Provider)
	}
	return fn(cfg.Settings)
}

func (r *ProviderRegistry) BuildLLM(cfg VendorConfig) (llm.CompletionAdapter, error) {
	fn := r.llm[normalizeName(cfg.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", cfg.Provider)
	}
	return fn(cfg.Settings)
}

func (r *ProviderRegistry) BuildMessenger(cfg VendorConfig) (messaging.Messenger, error) {
	fn := r.messaging[normalizeName(cfg.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("messaging provider not registered: %s", cfg.Provider)
	}
	return fn(cfg.Settings)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DefaultRegistry registers every built-in vendor.
func DefaultRegistry() *ProviderRegistry {
	r := NewProviderRegistry()

	r.RegisterSTT("deepgram", func(settings map[string]any) (stt.Transcriber, error) {
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model"},
		}); err != nil {
			return nil, fmt.Errorf("deepgram settings: %w", err)
		}
		var cfg deepgram.Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return deepgram.New(cfg)
	})
	r.RegisterSTT("mock", func(settings map[string]any) (stt.Transcriber, error) {
		var cfg struct {
			Transcript string `mapstructure:"transcript"`
			Language   string `mapstructure:"language"`
		}
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return provmock.NewTranscriber(cfg.Transcript, cfg.Language), nil
	})

	r.RegisterLLM("openai", func(settings map[string]any) (llm.CompletionAdapter, error) {
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "base_url", "timeout_ms"},
		}); err != nil {
			return nil, fmt.Errorf("openai settings: %w", err)
		}
		var raw struct {
			APIKey    string `mapstructure:"api_key"`
			Model     string `mapstructure:"model"`
			BaseURL   string `mapstructure:"base_url"`
			TimeoutMS int    `mapstructure:"timeout_ms"`
		}
		if err := configutil.DecodeSettings(settings, &raw); err != nil {
			return nil, err
		}
		return openai.New(openai.Config{
			APIKey:  raw.APIKey,
			Model:   raw.Model,
			BaseURL: raw.BaseURL,
			Timeout: time.Duration(raw.TimeoutMS) * time.Millisecond,
		})
	})
	r.RegisterLLM("mock", func(settings map[string]any) (llm.CompletionAdapter, error) {
		return provmock.NewLLMAdapter(), nil
	})

	r.RegisterMessenger("unipile", func(settings map[string]any) (messaging.Messenger, error) {
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"base_url", "api_key"},
			Optional: []string{"timeout_ms"},
		}); err != nil {
			return nil, fmt.Errorf("unipile settings: %w", err)
		}
		var raw struct {
			BaseURL   string `mapstructure:"base_url"`
			APIKey    string `mapstructure:"api_key"`
			TimeoutMS int    `mapstructure:"timeout_ms"`
		}
		if err := configutil.DecodeSettings(settings, &raw); err != nil {
			return nil, err
		}
		return unipile.New(unipile.Config{
			BaseURL: raw.BaseURL,
			APIKey:  raw.APIKey,
			Timeout: time.Duration(raw.TimeoutMS) * time.Millisecond,
		})
	})
	r.RegisterMessenger("twilio", func(settings map[string]any) (messaging.Messenger, error) {
		if err := configutil.ValidateSettings(settings, configutil.Schema{
			Required: []string{"account_sid", "auth_token", "from"},
		}); err != nil {
			return nil, fmt.Errorf("twilio settings: %w", err)
		}
		var cfg twilio.Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return twilio.New(cfg)
	})
	r.RegisterMessenger("mock", func(settings map[string]any) (messaging.Messenger, error) {
		return msgmock.NewMessenger(), nil
	})

	return r
}
