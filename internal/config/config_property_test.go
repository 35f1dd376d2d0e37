//go:build property

package config

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/viper"
)

// TestConfigurationProperties tests configuration loading and validation properties
func TestConfigurationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("ports in range load", prop.ForAll(
		func(port, workers int) bool {
			v := viper.New()
			SetDefaults(v)
			v.Set("server.port", port)
			v.Set("render.concurrency", workers)
			config, err := LoadFrom(v)
			return err == nil && config.Server.Port == port && config.Render.Concurrency == workers
		},
		gen.IntRange(0, 65535),
		gen.IntRange(1, 1000),
	))

	properties.Property("ports out of range are rejected", prop.ForAll(
		func(port int) bool {
			return validateServerConfig(&ServerConfig{Port: port}) != nil
		},
		gen.OneGenOf(gen.IntRange(-100000, -1), gen.IntRange(65536, 200000)),
	))

	properties.Property("paths with traversal are rejected", prop.ForAll(
		func(prefix, suffix string) bool {
			return validatePath(prefix+"/../../"+suffix) != nil || validatePath("../"+suffix) != nil
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
