package config

import "slices"

// RedactedConfig returns a copy of cfg with secrets replaced by "***", for
// logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Server.APIKey)

	// Copy slices so the redacted copy shares nothing mutable.
	out.Venues = slices.Clone(cfg.Venues)
	out.Symbols = slices.Clone(cfg.Symbols)
	out.Engine.Detectors = slices.Clone(cfg.Engine.Detectors)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
