package config

// ModelsConfig maps canonical model names to provider routes and carries the
// per-(provider,model) token pricing table.
type ModelsConfig struct {
	Models  map[string]ModelMapping          `yaml:"models"`
	Pricing map[string]map[string]PriceEntry `yaml:"pricing"`
}

type ModelMapping struct {
	DisplayName string        `yaml:"display_name"`
	Primary     ProviderRoute `yaml:"primary"`

	// Fallback is tried at most once when the primary provider fails.
	Fallback *ProviderRoute `yaml:"fallback,omitempty"`
}

type ProviderRoute struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// PriceEntry holds USD rates per 1K tokens.
type PriceEntry struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}
