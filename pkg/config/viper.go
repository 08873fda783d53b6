package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ALCHEMSUB_SUBSAMPLE_HOW.
const EnvPrefix = "ALCHEMSUB"

// NewViper returns a viper instance reading ALCHEMSUB_* environment
// variables for the dotted keys of Config.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

type override struct {
	key   string
	apply func(v *viper.Viper, key string, c *Config)
}

func str(set func(*Config, string)) func(*viper.Viper, string, *Config) {
	return func(v *viper.Viper, key string, c *Config) { set(c, v.GetString(key)) }
}

var overrides = []override{
	{"input.path", str(func(c *Config, s string) { c.Input.Path = s })},
	{"input.format", str(func(c *Config, s string) { c.Input.Format = s })},
	{"input.compression", str(func(c *Config, s string) { c.Input.Compression = s })},
	{"input.form", str(func(c *Config, s string) { c.Input.Form = s })},
	{"input.key_columns", func(v *viper.Viper, key string, c *Config) { c.Input.KeyColumns = v.GetStringSlice(key) }},

	{"output.path", str(func(c *Config, s string) { c.Output.Path = s })},
	{"output.format", str(func(c *Config, s string) { c.Output.Format = s })},
	{"output.compression", str(func(c *Config, s string) { c.Output.Compression = s })},
	{"output.level", str(func(c *Config, s string) { c.Output.Level = s })},
	{"output.codec_compression", str(func(c *Config, s string) { c.Output.CodecCompression = s })},
	{"output.diagnostics", str(func(c *Config, s string) { c.Output.Diagnostics = s })},
	{"output.batch_size", func(v *viper.Viper, key string, c *Config) { c.Output.BatchSize = v.GetInt(key) }},

	{"subsample.mode", str(func(c *Config, s string) { c.Subsample.Mode = s })},
	{"subsample.how", str(func(c *Config, s string) { c.Subsample.How = s })},
	{"subsample.column", str(func(c *Config, s string) { c.Subsample.Column = s })},
	{"subsample.lower", func(v *viper.Viper, key string, c *Config) {
		x := v.GetFloat64(key)
		c.Subsample.Lower = &x
	}},
	{"subsample.upper", func(v *viper.Viper, key string, c *Config) {
		x := v.GetFloat64(key)
		c.Subsample.Upper = &x
	}},
	{"subsample.step", func(v *viper.Viper, key string, c *Config) { c.Subsample.Step = v.GetInt(key) }},
	{"subsample.conservative", func(v *viper.Viper, key string, c *Config) { c.Subsample.Conservative = v.GetBool(key) }},
	{"subsample.force", func(v *viper.Viper, key string, c *Config) { c.Subsample.Force = v.GetBool(key) }},
	{"subsample.seed", func(v *viper.Viper, key string, c *Config) { c.Subsample.Seed = v.GetUint64(key) }},
	{"subsample.workers", func(v *viper.Viper, key string, c *Config) { c.Subsample.Workers = v.GetInt(key) }},
	{"subsample.min_samples", func(v *viper.Viper, key string, c *Config) { c.Subsample.MinSamples = v.GetInt(key) }},

	{"logging.level", str(func(c *Config, s string) { c.Logging.Level = s })},
	{"logging.encoding", str(func(c *Config, s string) { c.Logging.Encoding = s })},
	{"logging.development", func(v *viper.Viper, key string, c *Config) { c.Logging.Development = v.GetBool(key) }},

	{"observability.metrics_file", str(func(c *Config, s string) { c.Observability.MetricsFile = s })},
	{"observability.tracing.enabled", func(v *viper.Viper, key string, c *Config) { c.Observability.Tracing.Enabled = v.GetBool(key) }},
	{"observability.tracing.output", str(func(c *Config, s string) { c.Observability.Tracing.Output = s })},
	{"observability.tracing.sampling_rate", func(v *viper.Viper, key string, c *Config) {
		c.Observability.Tracing.SamplingRate = v.GetFloat64(key)
	}},
}

// Keys lists the dotted keys ApplyOverrides understands.
func Keys() []string {
	keys := make([]string, len(overrides))
	for i, o := range overrides {
		keys[i] = o.key
	}
	return keys
}

// ApplyOverrides copies every key that is set in v, through a changed flag,
// an environment variable or an explicit Set, onto c. Unset keys keep the
// values c already has from Default or a config file.
func ApplyOverrides(v *viper.Viper, c *Config) {
	for _, o := range overrides {
		if v.IsSet(o.key) {
			o.apply(v, o.key, c)
		}
	}
}
