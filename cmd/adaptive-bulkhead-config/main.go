// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/flagext"
	dslog "github.com/grafana/dskit/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/grafana/adaptivebulkhead/pkg/adaptivebulkhead"
	util_log "github.com/grafana/adaptivebulkhead/pkg/util/log"
)

const (
	configFileOption = "config.file"
	configExpandEnv  = "config.expand-env"
)

type mainFlags struct {
	bulkhead  string
	logLevel  dslog.Level
	logFormat string
	printHelp bool
}

func (mf *mainFlags) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&mf.bulkhead, "bulkhead", "", "Print only the resolved config of this bulkhead. Bulkheads without overrides get the defaults.")
	_ = mf.logLevel.Set("info")
	fs.Var(&mf.logLevel, "log.level", "Only log messages with the given severity or above. Valid levels: [debug, info, warn, error]")
	fs.StringVar(&mf.logFormat, "log.format", dslog.LogfmtFormat, "Output log messages in the given format. Valid formats: [logfmt, json]")
	fs.BoolVar(&mf.printHelp, "help", false, "Print basic help.")
	fs.BoolVar(&mf.printHelp, "h", false, "Print basic help.")
}

// resolvedOutput is printed on success. It is a valid config file itself, with every field filled in.
type resolvedOutput struct {
	Defaults  adaptivebulkhead.Config            `yaml:"defaults"`
	Bulkheads map[string]adaptivebulkhead.Config `yaml:"bulkheads,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("adaptive-bulkhead-config", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		overrides adaptivebulkhead.Overrides
		mainFlags mainFlags
	)

	configFile, expandEnv := parseConfigFileParameter(args)

	// This sets default values from flags to the config.
	// It needs to be called before parsing the config file!
	overrides.RegisterFlags(fs)

	if configFile != "" {
		if err := LoadConfig(configFile, expandEnv, &overrides); err != nil {
			fmt.Fprintf(stderr, "error loading config from %s: %v\n", configFile, err)
			return 1
		}
	}

	// Ignore -config.file and -config.expand-env here, since they are parsed separately, but are still present on the command line.
	flagext.IgnoredFlag(fs, configFileOption, "Configuration file to load.")
	_ = fs.Bool(configExpandEnv, false, "Expands ${var} or $var in config according to the values of the environment variables.")

	mainFlags.registerFlags(fs)

	fs.Usage = func() { /* usage is printed only when requested */ }
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(stderr, "Run with -help to get a list of available parameters")
		return 2
	}

	if mainFlags.printHelp {
		// Print available parameters to stdout, so that users can grep/less them easily.
		fs.SetOutput(stdout)
		fmt.Fprintf(stdout, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
		return 2
	}

	logger := util_log.InitLogger(mainFlags.logFormat, mainFlags.logLevel, stderr)

	resolved, err := overrides.Resolve()
	if err != nil {
		level.Error(logger).Log("msg", "invalid adaptive bulkhead config", "err", err)
		return 1
	}

	var out any
	if mainFlags.bulkhead != "" {
		cfg := resolved.For(mainFlags.bulkhead)
		logValidated(logger, mainFlags.bulkhead, cfg)
		out = cfg
	} else {
		logValidated(logger, "", resolved.Default())
		o := resolvedOutput{Defaults: resolved.Default()}
		if names := resolved.Names(); len(names) > 0 {
			o.Bulkheads = make(map[string]adaptivebulkhead.Config, len(names))
			for _, name := range names {
				o.Bulkheads[name] = resolved.For(name)
				logValidated(logger, name, o.Bulkheads[name])
			}
		}
		out = o
	}

	buf, err := yaml.Marshal(out)
	if err != nil {
		level.Error(logger).Log("msg", "failed to marshal resolved config", "err", err)
		return 1
	}
	if _, err := stdout.Write(buf); err != nil {
		level.Error(logger).Log("msg", "failed to write resolved config", "err", err)
		return 1
	}
	return 0
}

func logValidated(logger log.Logger, bulkhead string, cfg adaptivebulkhead.Config) {
	if bulkhead == "" {
		bulkhead = "<defaults>"
	}
	level.Info(logger).Log(
		"msg", "adaptive bulkhead config is valid",
		"bulkhead", bulkhead,
		"hash", fmt.Sprintf("%016x", cfg.Hash()),
		"adaptations_per_reconfiguration", cfg.AdaptationsPerReconfiguration(),
	)
}

// Parse -config.file and -config.expand-env option via separate flag set, to avoid polluting default one and calling flag.Parse on it twice.
func parseConfigFileParameter(args []string) (configFile string, expandEnv bool) {
	// ignore errors and any output here. Any flag errors will be reported by the main Parse() call.
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// usage not used in these functions.
	fs.StringVar(&configFile, configFileOption, "", "")
	fs.BoolVar(&expandEnv, configExpandEnv, false, "")

	// Try to find -config.file and -config.expand-env option in the flags. As Parsing stops on the first error, eg. unknown flag, we simply
	// try remaining parameters until we find config flag, or there are no params left.
	for len(args) > 0 {
		_ = fs.Parse(args)
		args = args[1:]
	}

	return
}

// LoadConfig read YAML-formatted config from filename into cfg.
func LoadConfig(filename string, expandEnv bool, cfg *adaptivebulkhead.Overrides) error {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, "Error reading config file")
	}

	if expandEnv {
		buf = expandEnvironmentVariables(buf)
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "Error parsing config file")
	}

	return nil
}

// expandEnvironmentVariables replaces ${var} or $var in config according to the values of the current environment variables.
// The replacement is case-sensitive. References to undefined variables are replaced by the empty string.
// A default value can be given by using the form ${var:default value}.
func expandEnvironmentVariables(config []byte) []byte {
	return []byte(os.Expand(string(config), func(key string) string {
		keyAndDefault := strings.SplitN(key, ":", 2)
		key = keyAndDefault[0]

		v := os.Getenv(key)
		if v == "" && len(keyAndDefault) == 2 {
			v = keyAndDefault[1] // Set value to the default.
		}

		return strings.ReplaceAll(v, "\n", "")
	}))
}
