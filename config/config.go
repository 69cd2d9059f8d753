// Package config resolves the jpeg2vnc settings from defaults, a YAML
// file, JPEG2VNC_* environment variables and command line flags.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment variable names, server.listen
// becomes JPEG2VNC_SERVER_LISTEN.
const EnvPrefix = "JPEG2VNC"

type ServerConfig struct {
	Listen          string `mapstructure:"listen"`
	WebsocketListen string `mapstructure:"websocket_listen"`
	Name            string `mapstructure:"name"`
	Password        string `mapstructure:"password"`
	Width           int    `mapstructure:"width"`
	Height          int    `mapstructure:"height"`
}

type InputConfig struct {
	Index   int    `mapstructure:"index"`
	URL     string `mapstructure:"url"`
	Pattern bool   `mapstructure:"pattern"`
	FPS     int    `mapstructure:"fps"`
}

type FrameConfig struct {
	MaxSize int `mapstructure:"max_size"`
}

type DecodeConfig struct {
	// Codec is "go" or "libjpeg". Only libjpeg applies the fast DCT and
	// no-fancy-upsampling settings; it needs -tags libjpeg.
	Codec string `mapstructure:"codec"`
}

type RecordConfig struct {
	Path string `mapstructure:"path"`
	FPS  int    `mapstructure:"fps"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the resolved configuration.
type Config struct {
	Server          ServerConfig  `mapstructure:"server"`
	Input           InputConfig   `mapstructure:"input"`
	Frame           FrameConfig   `mapstructure:"frame"`
	Decode          DecodeConfig  `mapstructure:"decode"`
	Record          RecordConfig  `mapstructure:"record"`
	Log             LogConfig     `mapstructure:"log"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"listen":           "server.listen",
	"websocket":        "server.websocket_listen",
	"name":             "server.name",
	"password":         "server.password",
	"width":            "server.width",
	"height":           "server.height",
	"input":            "input.index",
	"url":              "input.url",
	"pattern":          "input.pattern",
	"fps":              "input.fps",
	"max-frame-size":   "frame.max_size",
	"codec":            "decode.codec",
	"record":           "record.path",
	"record-fps":       "record.fps",
	"shutdown-timeout": "shutdown_timeout",
	"log-level":        "log.level",
	"log-format":       "log.format",
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.listen", "0.0.0.0:5900")
	v.SetDefault("server.websocket_listen", "")
	v.SetDefault("server.name", "jpeg2vnc")
	v.SetDefault("server.password", "")
	v.SetDefault("server.width", 640)
	v.SetDefault("server.height", 480)

	v.SetDefault("input.index", 0)
	v.SetDefault("input.url", "")
	v.SetDefault("input.pattern", true)
	v.SetDefault("input.fps", 10)

	v.SetDefault("frame.max_size", 4<<20)
	v.SetDefault("decode.codec", "go")
	v.SetDefault("record.path", "")
	v.SetDefault("record.fps", 5)
	v.SetDefault("shutdown_timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags lets every flag of fs that names a configuration key
// override it when set.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "binding flag --%s", name)
		}
	}
	return nil
}

// Load reads configFile, or jpeg2vnc.yaml from the usual places when it is
// empty, and resolves the configuration. Only an explicitly named file
// has to exist.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("jpeg2vnc")
		v.SetConfigType("yaml")
		for _, path := range []string{".", "$HOME/.jpeg2vnc", "/etc/jpeg2vnc"} {
			v.AddConfigPath(os.ExpandEnv(path))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, errors.Wrap(err, "config: reading file")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "config: decoding")
	}
	return &c, nil
}
