package config

// Masked replaces secret values in sanitized output.
const Masked = "******"

// Sanitize returns a copy of cfg that is safe to log or print. Secrets
// only reveal whether they are set.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	out := *cfg
	mask(&out.Storage.EncryptionKey)
	mask(&out.Server.Redis.RequirePass)
	return &out
}

func mask(s *string) {
	if *s != "" {
		*s = Masked
	}
}
