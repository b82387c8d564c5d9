// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/storykeep/internal/logger"
)

// DefaultManifest is the shell asset list seeded at install time.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/favicon.png",
	"/manifest.json",
	"/styles/styles.css",
	"/scripts/index.js",
}

// setDefaultConfig registers defaults on the global viper instance.
func setDefaultConfig() {
	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.readtimeout", 30*time.Second)
	v.SetDefault("server.writetimeout", 60*time.Second)
	v.SetDefault("server.shutdowntimeout", 10*time.Second)

	v.SetDefault("upstream.apporigin", "http://localhost:9000")
	v.SetDefault("upstream.apiorigin", "https://story-api.dicoding.dev")
	v.SetDefault("upstream.apiprefix", "/v1/")
	v.SetDefault("upstream.listingpath", "/v1/stories")
	v.SetDefault("upstream.timeout", 15*time.Second)
	v.SetDefault("upstream.useragent", "StoryKeep")

	v.SetDefault("cache.prefix", "dicoding-stories")
	v.SetDefault("cache.version", "v2")
	v.SetDefault("cache.path", "data/cache.db")
	v.SetDefault("cache.memoryttl", 10*time.Minute)
	v.SetDefault("cache.manifest", DefaultManifest)
	v.SetDefault("cache.installconcurrency", 4)
	v.SetDefault("cache.skipwaiting", true)
	v.SetDefault("cache.slowquery", 200*time.Millisecond)

	v.SetDefault("store.path", "data/stories.db")
	v.SetDefault("store.pagesize", 12)
	v.SetDefault("store.imagerate", 4.0)
	v.SetDefault("store.imageburst", 4)
	v.SetDefault("store.maximagebytes", 8<<20)
	v.SetDefault("store.slowquery", 200*time.Millisecond)

	v.SetDefault("push.urls", []string{})
	v.SetDefault("push.urlsfile", "")
	v.SetDefault("push.timeout", 10*time.Second)
	v.SetDefault("push.icon", "/favicon.png")
	v.SetDefault("push.remember", 24*time.Hour)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
	v.SetDefault("telemetry.environment", "production")
	v.SetDefault("telemetry.samplerate", 1.0)

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)
}
