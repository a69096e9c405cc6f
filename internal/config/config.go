// Package config locates configuration files and holds the flags shared by
// the command line tools.
package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/ardnew/usbserial/pkg"
)

// EnvConfig names the environment variable holding a config file path.
const EnvConfig = "USBSERIAL_CONFIG"

// Dir returns the platform-specific configuration directory.
func Dir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if appdata := os.Getenv("AppData"); appdata != "" {
			return filepath.Join(appdata, "usbserial"), nil
		}
		return "", errors.New("AppData not set")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "usbserial"), nil
		}
		if home := os.Getenv("HOME"); home != "" {
			return filepath.Join(home, ".config", "usbserial"), nil
		}
		return "", errors.New("HOME not set")
	}
}

// Paths lists candidate config files per format, highest priority first.
type Paths struct {
	JSON []string
	YAML []string
	TOML []string
}

func (p *Paths) add(dir, base string) {
	p.JSON = append(p.JSON, filepath.Join(dir, base+".json"))
	p.YAML = append(p.YAML, filepath.Join(dir, base+".yaml"), filepath.Join(dir, base+".yml"))
	p.TOML = append(p.TOML, filepath.Join(dir, base+".toml"))
}

// CandidatePaths builds the candidate config files for the named tool.
// userPath, if set, comes first and is routed to a loader by extension.
// The working directory, the user config directory and (on unix)
// /etc/usbserial follow.
func CandidatePaths(name, userPath string) Paths {
	var p Paths
	if userPath != "" {
		switch filepath.Ext(userPath) {
		case ".yaml", ".yml":
			p.YAML = append(p.YAML, userPath)
		case ".toml":
			p.TOML = append(p.TOML, userPath)
		default:
			p.JSON = append(p.JSON, userPath)
		}
	}

	if wd, err := os.Getwd(); err == nil {
		p.add(wd, name)
	}
	if dir, err := Dir(); err == nil {
		p.add(dir, name)
	}
	if runtime.GOOS != "windows" {
		p.add("/etc/usbserial", name)
	}
	return p
}

// UserPath returns the config file named by a --config flag in args, or
// by the EnvConfig environment variable.
func UserPath(args []string) string {
	for idx := 0; idx < len(args); idx++ {
		arg := args[idx]
		if value, ok := strings.CutPrefix(arg, "--config="); ok {
			return value
		}
		if arg == "--config" && idx+1 < len(args) {
			return args[idx+1]
		}
	}
	return os.Getenv(EnvConfig)
}

// Options returns the kong options loading the candidate config files.
// Flags and environment variables override config values.
func Options(name string, args []string) []kong.Option {
	p := CandidatePaths(name, UserPath(args))
	return []kong.Option{
		kong.Configuration(kong.JSON, p.JSON...),
		kong.Configuration(kongyaml.Loader, p.YAML...),
		kong.Configuration(kongtoml.Loader, p.TOML...),
	}
}

// Log holds the logging flags.
type Log struct {
	Level  string `help:"Log level (debug, info, warn, error)." default:"warn" env:"USBSERIAL_LOG_LEVEL"`
	Format string `help:"Log format." enum:"text,json" default:"text" env:"USBSERIAL_LOG_FORMAT"`
}

// Apply configures the process-wide logger to write to w.
func (l *Log) Apply(w io.Writer) error {
	level, err := pkg.ParseLogLevel(l.Level)
	if err != nil {
		return err
	}
	pkg.SetLogLevel(level)
	format := pkg.LogFormatText
	if l.Format == "json" {
		format = pkg.LogFormatJSON
	}
	pkg.SetLogFormat(format, w)
	return nil
}
