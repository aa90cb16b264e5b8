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

package config

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"sigs.k8s.io/yaml"
)

// Source describes where configuration data has been acquired from.
type Source string

const (
	// CommandLine is the command line configuration source.
	CommandLine Source = "command line configuration"
	// ConfigFile is a YAML/JSON file configuration source.
	ConfigFile Source = "configuration file"
	// External is an external configuration source.
	External Source = "external configuration"
	// ConfigBackup is a backup of a previous configuration.
	ConfigBackup Source = "configuration backup"
)

// Event describes the reason why a notification callback has been invoked.
type Event string

const (
	// UpdateEvent is the event type for a configuration update.
	UpdateEvent Event = "updated"
	// RevertEvent is the event type for a configuration rollback.
	RevertEvent Event = "reverted"
)

// NotifyFn is the type of a configuration change notification functions.
type NotifyFn func(Event, Source) error

// GetDefaultFn returns a pointer to a freshly allocated default configuration fragment.
type GetDefaultFn func() interface{}

// Validator is implemented by fragments that can check their own consistency.
type Validator interface {
	Validate() error
}

// module is a registered configuration fragment.
type module struct {
	name        string
	description string
	ptr         interface{}
	getDefault  GetDefaultFn
	notify      []NotifyFn
}

// registry of configuration modules
var (
	lock    sync.Mutex
	modules = map[string]*module{}
)

// Register registers a configuration fragment under name.
func Register(name, description string, ptr interface{}, getDefault GetDefaultFn, opts ...Option) {
	if err := register(name, description, ptr, getDefault, opts...); err != nil {
		log.Panicf("%v", err)
	}
}

func register(name, description string, ptr interface{}, getDefault GetDefaultFn, opts ...Option) error {
	lock.Lock()
	defer lock.Unlock()

	if name == "" {
		return configError("can't register configuration with an empty name")
	}
	if _, ok := modules[name]; ok {
		return configError("configuration module %q already registered", name)
	}
	if v := reflect.ValueOf(ptr); v.Kind() != reflect.Ptr || v.IsNil() {
		return configError("module %q: invalid configuration pointer %T", name, ptr)
	}
	if getDefault == nil {
		return configError("module %q: no default configuration function", name)
	}
	if reflect.TypeOf(getDefault()) != reflect.TypeOf(ptr) {
		return configError("module %q: default configuration type %T != %T",
			name, getDefault(), ptr)
	}

	m := &module{
		name:        name,
		description: description,
		ptr:         ptr,
		getDefault:  getDefault,
	}
	for _, o := range opts {
		if err := o.apply(m); err != nil {
			return err
		}
	}
	modules[name] = m

	return nil
}

// reset resets the module to its defaults.
func (m *module) reset() {
	reflect.ValueOf(m.ptr).Elem().Set(reflect.ValueOf(m.getDefault()).Elem())
}

// set resets the module then applies the given data on top of the defaults.
func (m *module) set(data Data) error {
	m.reset()
	if data == nil {
		return nil
	}
	raw, err := yaml.Marshal(data)
	if err != nil {
		return configError("module %q: failed to marshal data: %v", m.name, err)
	}
	if err = yaml.UnmarshalStrict(raw, m.ptr); err != nil {
		return configError("module %q: %v", m.name, err)
	}
	return nil
}

func (m *module) validate() error {
	if v, ok := m.ptr.(Validator); ok {
		if err := v.Validate(); err != nil {
			return configError("module %q: %v", m.name, err)
		}
	}
	return nil
}

func (m *module) backup() (Data, error) {
	return DataFromObject(m.ptr)
}

// SetData updates the configuration from the given data, rolling back on failure.
func SetData(data Data, source Source) error {
	lock.Lock()
	defer lock.Unlock()

	for name := range data {
		if _, ok := modules[name]; !ok {
			return configError("unknown configuration module %q", name)
		}
	}

	backup := map[string]Data{}
	for name, m := range modules {
		d, err := m.backup()
		if err != nil {
			return err
		}
		backup[name] = d
	}

	var errors *multierror.Error
	for _, name := range sortedNames() {
		m := modules[name]
		modData, err := data.pick(name)
		if err == nil {
			err = m.set(modData)
		}
		if err == nil {
			err = m.validate()
		}
		if err != nil {
			errors = multierror.Append(errors, err)
		}
	}

	if err := errors.ErrorOrNil(); err != nil {
		restore(backup)
		return err
	}

	if err := notify(UpdateEvent, source); err != nil {
		restore(backup)
		if rerr := notify(RevertEvent, ConfigBackup); rerr != nil {
			log.Errorf("failed to revert configuration: %v", rerr)
		}
		return err
	}

	return nil
}

// SetYAML updates the configuration from the given YAML data.
func SetYAML(raw []byte, source Source) error {
	data := make(Data)
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return configError("failed to parse configuration: %v", err)
	}
	return SetData(data, source)
}

// SetConfigFile updates the configuration from the given file.
func SetConfigFile(path string) error {
	data, err := DataFromFile(path)
	if err != nil {
		return err
	}
	return SetData(data, ConfigFile)
}

// GetYAML returns the current configuration as YAML.
func GetYAML() ([]byte, error) {
	lock.Lock()
	defer lock.Unlock()

	data := make(Data)
	for name, m := range modules {
		data[name] = m.ptr
	}
	return yaml.Marshal(data)
}

// Reset resets all configuration modules to their defaults and notifies them.
func Reset(source Source) error {
	return SetData(Data{}, source)
}

// Describe returns a short description of all registered modules.
func Describe() string {
	lock.Lock()
	defer lock.Unlock()

	str := ""
	for _, name := range sortedNames() {
		str += fmt.Sprintf("%s: %s\n", name, modules[name].description)
	}
	return str
}

func restore(backup map[string]Data) {
	for name, data := range backup {
		if err := modules[name].set(data); err != nil {
			log.Errorf("failed to restore configuration module %q: %v", name, err)
		}
	}
}

func notify(event Event, source Source) error {
	var errors *multierror.Error
	for _, name := range sortedNames() {
		for _, fn := range modules[name].notify {
			if err := fn(event, source); err != nil {
				errors = multierror.Append(errors,
					configError("module %q rejected configuration: %v", name, err))
			}
		}
	}
	return errors.ErrorOrNil()
}

func sortedNames() []string {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func configError(format string, args ...interface{}) error {
	return fmt.Errorf("config: "+format, args...)
}
