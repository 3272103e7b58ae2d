package config

import (
	"testing"
)

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			QdrantCollection:   "hospital_chunks",
			EmbeddingProvider:  "ollama",
			EmbeddingDimension: 768,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"empty collection", func(c *Config) { c.QdrantCollection = "" }, true},
		{"unknown provider", func(c *Config) { c.EmbeddingProvider = "cohere" }, true},
		{"openai without keys", func(c *Config) { c.EmbeddingProvider = "openai" }, true},
		{"openai with keys", func(c *Config) {
			c.EmbeddingProvider = "openai"
			c.OpenAIAPIKeys = []string{"sk-test"}
		}, false},
		{"zero dimension", func(c *Config) { c.EmbeddingDimension = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
