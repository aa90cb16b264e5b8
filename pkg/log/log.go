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
	"fmt"
	"math"
	"strings"
	"sync"
)

// logging is the runtime state of all loggers.
type logging struct {
	sync.RWMutex
	level   Level                // lowest unsuppressed severity
	active  Backend              // active backend
	backend map[string]BackendFn // registered backends
	sources []srcstate           // known sources, indexed by logger
	loggers map[string]logger    // source name to logger mapping
	enable  srcmap               // last applied source enable map
	debug   srcmap               // last applied source debug map
	forced  bool                 // debugging forced on for all sources
	align   int                  // longest source name seen
}

var log = &logging{
	level:   DefaultLevel,
	backend: make(map[string]BackendFn),
	loggers: make(map[string]logger),
	enable:  srcmap{},
	debug:   srcmap{},
}

// NewLogger creates a logger for the given source, or returns the existing one.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Get is an alias for NewLogger.
func Get(source string) Logger {
	return log.get(source)
}

// SetLevel sets the lowest unsuppressed severity level.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.setLevel(level)
}

// SetBackend activates the named backend.
func SetBackend(name string) error {
	log.Lock()
	defer log.Unlock()
	return log.setBackend(name)
}

// Flush flushes any messages buffered by the active backend.
func Flush() {
	log.RLock()
	active := log.active
	log.RUnlock()
	active.Flush()
}

// Sync waits until all pending messages get emitted.
func Sync() {
	log.RLock()
	active := log.active
	log.RUnlock()
	active.Sync()
}

// ForceDebug forces debugging on or off for all sources, returning the old state.
func ForceDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()
	old := log.forced
	log.forced = state
	return old
}

func (log *logging) get(source string) logger {
	source = strings.Trim(source, "[] ")

	log.Lock()
	defer log.Unlock()

	if l, ok := log.loggers[source]; ok {
		return l
	}
	if len(log.sources) >= math.MaxUint16 {
		panic(loggerError("too many log sources"))
	}

	l := logger(len(log.sources))
	log.sources = append(log.sources, srcstate{
		name:      source,
		logging:   log.enable.enabled(source, true),
		debugging: log.debug.enabled(source, false),
	})
	log.loggers[source] = l
	log.realign(source)

	return l
}

func (log *logging) setLevel(level Level) {
	log.level = level
}

func (log *logging) setBackend(name string) error {
	if log.active != nil && log.active.Name() == name {
		return nil
	}
	fn, ok := log.backend[name]
	if !ok {
		return loggerError("unknown logger backend '%s'", name)
	}
	if log.active != nil {
		log.active.Stop()
	}
	log.active = fn()
	log.active.SetSourceAlignment(log.align)
	return nil
}

// update reapplies source enable and debug maps to all loggers.
func (log *logging) update(enable, debug srcmap) {
	if enable != nil {
		log.enable = enable.clone()
	}
	if debug != nil {
		log.debug = debug.clone()
	}
	for i := range log.sources {
		src := &log.sources[i]
		src.logging = log.enable.enabled(src.name, true)
		src.debugging = log.debug.enabled(src.name, false)
	}
}

func (log *logging) realign(source string) {
	if len(source) <= log.align {
		return
	}
	log.align = len(source)
	if log.active != nil {
		log.active.SetSourceAlignment(log.align)
	}
}

func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}

func init() {
	if err := log.setBackend(FmtBackendName); err != nil {
		panic(err)
	}
}
