// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"encoding/json"
	"flag"
	"sort"
	"strings"

	pkgcfg "github.com/intel/segmgr/pkg/config"
	"github.com/intel/segmgr/pkg/utils"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// command-line argument prefix.
	optPrefix = "logger"
	// Flag for enabling/disabling normal non-debug logging for sources.
	optEnable = optPrefix + "-sources"
	// Flag for enabling/disabling debug logging for sources.
	optDebug = optPrefix + "-debug"
	// Flag for selecting logging level.
	optLevel = optPrefix + "-level"
	// Flag for selecting logging backend.
	optLogger = optPrefix
	// configModule is our module name in the runtime configuration.
	configModule = optPrefix
	// configHelp is our module description in the runtime configuration.
	configHelp = "Logging settings: severity level, enabled and debugged sources, backend."
)

// Logger options configurable via the command line or pkg/config.
type options struct {
	// Level is the logging severity/level.
	Level Level `json:"level,omitempty"`
	// Enable is a map for enabling/disabling normal logging for sources.
	Enable srcmap `json:"sources,omitempty"`
	// Debug is a map for enabling/disabling debug logging for sources.
	Debug srcmap `json:"debug,omitempty"`
	// Logger is the name of the logger backend to use.
	Logger string `json:"backend,omitempty"`
}

// srcmap tracks logging or debugging settings for sources.
type srcmap map[string]bool

// command line defaults, also the base of the runtime configuration
var defaults = &options{
	Level:  DefaultLevel,
	Enable: make(srcmap),
	Debug:  make(srcmap),
	Logger: FmtBackendName,
}

// runtime configuration
var opt = defaultOptions().(*options)

// Set sets the level from the given name.
func (l *Level) Set(value string) error {
	level, ok := levelNames[strings.ToLower(value)]
	if !ok {
		return loggerError("invalid logging level %s", value)
	}
	*l = level
	if l == &defaults.Level {
		SetLevel(level)
	}
	return nil
}

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warning": LevelWarn,
	"error":   LevelError,
	"fatal":   LevelFatal,
	"panic":   LevelPanic,
}

// String returns the name of the level.
func (l Level) String() string {
	for name, level := range levelNames {
		if level == l {
			return name
		}
	}
	return "info"
}

// MarshalJSON is the JSON marshaller for Level.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON is the JSON unmarshaller for Level.
func (l *Level) UnmarshalJSON(raw []byte) error {
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return loggerError("invalid logging level %s: %v", string(raw), err)
	}
	return l.Set(name)
}

// Set sets entries of srcmap by parsing the given value.
func (m *srcmap) Set(value string) error {
	if *m == nil {
		*m = make(srcmap)
	}

	prev := ""
	for _, entry := range strings.Split(value, ",") {
		var state, src string
		statesrc := strings.Split(entry, ":")
		switch len(statesrc) {
		case 2:
			state, src = statesrc[0], statesrc[1]
		case 1:
			state, src = "", statesrc[0]
		default:
			return loggerError("invalid state spec '%s' in source map", entry)
		}

		if state != "" {
			prev = state
		} else {
			state = prev
			if state == "" {
				state = "on"
			}
		}
		if src == "all" {
			src = "*"
		}

		enabled, err := utils.ParseEnabled(state)
		if err != nil {
			return loggerError("invalid state '%s' in source map", state)
		}
		(*m)[src] = enabled
	}

	// propagate command-line settings to loggers
	log.Lock()
	defer log.Unlock()
	switch m {
	case &defaults.Enable:
		log.update(*m, nil)
	case &defaults.Debug:
		log.update(nil, *m)
	}

	return nil
}

// String returns a string representation of the srcmap.
func (m *srcmap) String() string {
	if m == nil {
		return ""
	}
	var on, off []string
	for src, state := range *m {
		if state {
			on = append(on, src)
		} else {
			off = append(off, src)
		}
	}
	sort.Strings(on)
	sort.Strings(off)

	switch {
	case len(off) == 0:
		return "on:" + strings.Join(on, ",")
	case len(on) == 0:
		return "off:" + strings.Join(off, ",")
	}
	return "on:" + strings.Join(on, ",") + ",off:" + strings.Join(off, ",")
}

// UnmarshalJSON accepts either a "on:a,b,off:c" string or an {"on": [...], "off": [...]} map.
func (m *srcmap) UnmarshalJSON(raw []byte) error {
	*m = make(srcmap)

	cfgstr := ""
	if err := json.Unmarshal(raw, &cfgstr); err == nil {
		return m.Set(cfgstr)
	}

	rawmap := map[string][]string{}
	if err := json.Unmarshal(raw, &rawmap); err != nil {
		return loggerError("failed to unmarshal logger source map '%s': %v", string(raw), err)
	}
	for state, sources := range rawmap {
		enabled, err := utils.ParseEnabled(state)
		if err != nil {
			return loggerError("invalid state '%s' in logger source map", state)
		}
		for _, src := range sources {
			if src == "all" {
				src = "*"
			}
			(*m)[src] = enabled
		}
	}
	return nil
}

// MarshalJSON is the JSON marshaller for srcmap.
func (m srcmap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// enabled returns the state for source, falling back to the wildcard and then def.
func (m srcmap) enabled(source string, def bool) bool {
	if state, ok := m[source]; ok {
		return state
	}
	if state, ok := m["*"]; ok {
		return state
	}
	return def
}

func (m srcmap) clone() srcmap {
	c := make(srcmap, len(m))
	for src, state := range m {
		c[src] = state
	}
	return c
}

// configNotify applies a new runtime configuration.
func configNotify(event pkgcfg.Event, src pkgcfg.Source) error {
	deflog.Info("logger configuration %v from %v", event, src)
	deflog.Info("*  log level: %v", opt.Level)
	deflog.Info("*    logging: %v", opt.Enable.String())
	deflog.Info("*  debugging: %v", opt.Debug.String())

	log.Lock()
	defer log.Unlock()

	log.setLevel(opt.Level)
	if err := log.setBackend(opt.Logger); err != nil {
		return err
	}
	log.update(opt.Enable, opt.Debug)

	return nil
}

func defaultOptions() interface{} {
	return &options{
		Level:  defaults.Level,
		Enable: defaults.Enable.clone(),
		Debug:  defaults.Debug.clone(),
		Logger: defaults.Logger,
	}
}

// backendFlag selects the active backend from the command line.
type backendFlag struct{}

func (backendFlag) Set(value string) error {
	if err := SetBackend(value); err != nil {
		return err
	}
	defaults.Logger = value
	return nil
}

func (backendFlag) String() string {
	return defaults.Logger
}

// Register us for command line parsing and configuration handling.
func init() {
	cfglog := log.get("config")
	pkgcfg.SetLogger(pkgcfg.Logger{
		DebugEnabled: cfglog.DebugEnabled,
		Debugf:       cfglog.Debug,
		Infof:        cfglog.Info,
		Warningf:     cfglog.Warn,
		Errorf:       cfglog.Error,
		Fatalf:       cfglog.Fatal,
		Panicf:       cfglog.Panic,
	})

	flag.Var(backendFlag{}, optLogger,
		"logger backend to use (fmt, klog)")
	flag.Var(&defaults.Level, optLevel,
		"lowest severity level to pass through (debug, info, warning, error)")
	flag.Var(&defaults.Enable, optEnable,
		"comma-separated list of source names to enable/disable.\n"+
			"Specify '*' or 'all' to enable all sources, which is also the default.\n"+
			"Prefix a source or list with 'off:' to disable.")
	flag.Var(&defaults.Debug, optDebug,
		"comma-separated list of source names to enable debug messages for.\n"+
			"Specify '*' or 'all' to enable all sources.\n"+
			"Prefix a source or list with 'off:' to disable, which is also the default state.")

	pkgcfg.Register(configModule, configHelp, opt, defaultOptions,
		pkgcfg.WithNotify(configNotify))
}
