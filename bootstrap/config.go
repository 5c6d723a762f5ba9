package bootstrap

import (
	"github.com/kbukum/streamkit/config"
)

// Config is the interface constraint for application configuration types.
// Any struct that embeds config.RuntimeConfig satisfies it through promoted
// methods.
//
// Example:
//
//	type MyConfig struct {
//	    config.RuntimeConfig `yaml:",inline" mapstructure:",squash"`
//	    Model string `yaml:"model" mapstructure:"model"`
//	}
//
//	app, err := bootstrap.NewApp[*MyConfig](&cfg)
type Config interface {
	GetRuntimeConfig() *config.RuntimeConfig
	ApplyDefaults()
	Validate() error
}
