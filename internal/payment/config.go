package payment

// Config holds settings for the hosted checkout provider.
type Config struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
	Currency      string `yaml:"currency"`
	TimeoutMs     int    `yaml:"timeout_ms"`
	MaxRetries    int    `yaml:"max_retries"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// DefaultConfig returns a Config with sensible defaults.
// The hosted provider is disabled by default.
func DefaultConfig() Config {
	return Config{
		Enabled:    false,
		Endpoint:   "http://localhost:8089",
		Currency:   "PHP",
		TimeoutMs:  10000,
		MaxRetries: 2,
	}
}
