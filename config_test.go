package jobhub_test

import (
	"testing"

	"github.com/JadKHaddad-ORG/JobHub"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*jobhub.Config)
		wantErr bool
	}{
		{"defaults", func(*jobhub.Config) {}, false},
		{"unbounded priority", func(c *jobhub.Config) { c.MaxPriority = 0 }, false},
		{"negative priority bound", func(c *jobhub.Config) { c.MaxPriority = -1 }, true},
		{"no workers", func(c *jobhub.Config) { c.Concurrency = 0 }, true},
		{"default over max timeout", func(c *jobhub.Config) { c.DefaultTimeout = 2 * c.MaxTimeout }, true},
		{"no data dir", func(c *jobhub.Config) { c.DataDir = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := jobhub.DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
