package session

import "github.com/vchat-dev/vchat/internal/config"

const DefaultSessionName = "main"

// Resolve picks the active session name: the --session flag wins, then the
// config file's default_session, then "main". A broken config file falls
// through to the default rather than failing resolution.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
