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

// Option is an option applicable to a registered configuration module.
type Option interface {
	apply(*module) error
}

type funcOption func(*module) error

func (fo funcOption) apply(m *module) error {
	return fo(m)
}

// WithNotify injects an update notification callback into a configuration module.
func WithNotify(fn NotifyFn) Option {
	return funcOption(func(m *module) error {
		if fn == nil {
			return configError("module %q: nil notification function", m.name)
		}
		m.notify = append(m.notify, fn)
		return nil
	})
}
