package config

import (
	"reflect"
)

// Change describes which sections differ between two configs.
type Change struct {
	Sections []string
	// Restart lists sections whose new values only take effect after a
	// process restart.
	Restart []string
}

// Diff compares two configs section by section. Secret values are never
// copied into the result.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(name string, changed, restart bool) {
		if !changed {
			return
		}
		ch.Sections = append(ch.Sections, name)
		if restart {
			ch.Restart = append(ch.Restart, name)
		}
	}

	mark("telegram", !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram), true)
	mark("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging), false)
	mark("storage", oldCfg.Storage != newCfg.Storage, true)
	mark("cache", oldCfg.Cache != newCfg.Cache, true)
	mark("dispatcher", oldCfg.DispatcherOrDefault() != newCfg.DispatcherOrDefault(), false)
	mark("cleanup", !reflect.DeepEqual(oldCfg.CleanupOrDefault(), newCfg.CleanupOrDefault()), false)
	mark("appeals", oldCfg.Appeals != newCfg.Appeals, false)
	mark("http", !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP), true)
	return ch
}
