package config

const redacted = "[REDACTED]"

// Redacted returns a deep-enough copy of the Config with every secret field
// replaced by a placeholder, suitable for logging at startup. Slices and maps
// are copied so mutating the redacted value never touches the original.
func (c *Config) Redacted() Config {
	out := *c

	if out.Custody.PrivateKey != "" {
		out.Custody.PrivateKey = redacted
	}
	if out.Custody.KeyPassword != "" {
		out.Custody.KeyPassword = redacted
	}

	if out.Postgres.DSN != "" {
		out.Postgres.DSN = redacted
	}
	if out.Postgres.Password != "" {
		out.Postgres.Password = redacted
	}

	if out.Redis.Password != "" {
		out.Redis.Password = redacted
	}

	if out.S3.AccessKey != "" {
		out.S3.AccessKey = redacted
	}
	if out.S3.SecretKey != "" {
		out.S3.SecretKey = redacted
	}

	if out.Server.APIKey != "" {
		out.Server.APIKey = redacted
	}

	if out.Notify.TelegramToken != "" {
		out.Notify.TelegramToken = redacted
	}
	if out.Notify.DiscordWebhookURL != "" {
		out.Notify.DiscordWebhookURL = redacted
	}

	if c.EVM.Tokens != nil {
		out.EVM.Tokens = make(map[string]string, len(c.EVM.Tokens))
		for k, v := range c.EVM.Tokens {
			out.EVM.Tokens[k] = v
		}
	}
	if c.EVM.Feeds != nil {
		out.EVM.Feeds = append([]FeedConfig(nil), c.EVM.Feeds...)
	}
	if c.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	}
	if c.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), c.Notify.Events...)
	}

	return out
}
