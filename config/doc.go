// Package config loads streamkit configuration with viper.
//
// Values come from a YAML file, then a .env file, then the process
// environment. Environment keys are matched against nested config keys, so
// RETRY_MAX_RETRIES sets retry.max_retries and CLIENT_BASE_URL sets
// client.base_url.
//
// # Usage
//
//	cfg, err := config.Load("summarizer")
//	client, err := httpclient.New(cfg.HTTPClientConfig())
//
// Load applies defaults and validates the result with go-playground
// validator tags. Validation failures are INVALID_REQUEST errors whose
// Details["fields"] lists each offending key.
package config
