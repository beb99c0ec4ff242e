package providers

// APIShape identifies a provider's calling convention. Request shaping is a
// tagged dispatch on this value, never runtime type inspection.
type APIShape string

const (
	// ShapeChatCompletions is the OpenAI-compatible /chat/completions convention
	ShapeChatCompletions APIShape = "chat_completions"
	// ShapeResponses is the OpenAI /responses convention
	ShapeResponses APIShape = "responses"
	// ShapeAnthropicMessages is the Anthropic /messages convention
	ShapeAnthropicMessages APIShape = "anthropic_messages"
)

// Profile is the static capability descriptor for one provider. Read-only at
// request time.
type Profile struct {
	// Type is the provider identifier ("openai", "anthropic", ...)
	Type string
	// Shape selects the wire convention for requests
	Shape APIShape
	// CredentialEnv names the environment variable carrying the API key
	CredentialEnv string
	// BaseURL is the default API base URL
	BaseURL string
	// DefaultModel is used when a turn does not name a model
	DefaultModel string
	// SupportsStreaming is false for providers that only do one-shot calls
	SupportsStreaming bool
}

// profiles is the static provider capability table.
var profiles = map[string]Profile{
	"openai": {
		Type:              "openai",
		Shape:             ShapeResponses,
		CredentialEnv:     "OPENAI_API_KEY",
		BaseURL:           "https://api.openai.com/v1",
		DefaultModel:      "gpt-4o-mini",
		SupportsStreaming: true,
	},
	"anthropic": {
		Type:              "anthropic",
		Shape:             ShapeAnthropicMessages,
		CredentialEnv:     "ANTHROPIC_API_KEY",
		BaseURL:           "https://api.anthropic.com/v1",
		DefaultModel:      "claude-3-5-sonnet-latest",
		SupportsStreaming: true,
	},
	"groq": {
		Type:              "groq",
		Shape:             ShapeChatCompletions,
		CredentialEnv:     "GROQ_API_KEY",
		BaseURL:           "https://api.groq.com/openai/v1",
		DefaultModel:      "llama-3.1-70b-versatile",
		SupportsStreaming: true,
	},
	"deepseek": {
		Type:              "deepseek",
		Shape:             ShapeChatCompletions,
		CredentialEnv:     "DEEPSEEK_API_KEY",
		BaseURL:           "https://api.deepseek.com",
		DefaultModel:      "deepseek-reasoner",
		SupportsStreaming: true,
	},
}

// Lookup returns the static profile for a provider name.
func Lookup(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// ProfileNames returns the known provider names.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	return names
}
