package profile

import "github.com/matheus3301/msgdb/internal/config"

const DefaultName = "main"

// Resolve picks the active profile: the flag value, then the config file's
// default_profile, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultName
}
