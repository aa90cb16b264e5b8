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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type testMod struct {
	Int     int               `json:"integer"`
	String  string            `json:"string,omitempty"`
	Map     map[string]string `json:"map,omitempty"`
	Timeout Duration          `json:"timeout,omitempty"`
}

func (m *testMod) Validate() error {
	if m.Int < 0 {
		return fmt.Errorf("invalid (negative) integer %d", m.Int)
	}
	return nil
}

func defaultTestMod() interface{} {
	return &testMod{Int: 1, String: "default", Timeout: Duration(time.Second)}
}

type notifications struct {
	events []Event
	reject bool
}

func (n *notifications) notify(e Event, _ Source) error {
	n.events = append(n.events, e)
	if n.reject && e == UpdateEvent {
		return fmt.Errorf("rejected")
	}
	return nil
}

func registerTestMod(t *testing.T, name string) (*testMod, *notifications) {
	mod := defaultTestMod().(*testMod)
	n := &notifications{}
	require.NoError(t, register(name, "test module "+name, mod, defaultTestMod, WithNotify(n.notify)))
	t.Cleanup(func() {
		lock.Lock()
		delete(modules, name)
		lock.Unlock()
	})
	return mod, n
}

func TestInvalidRegistration(t *testing.T) {
	registerTestMod(t, "existing")

	i := 3
	tcs := []struct {
		name       string
		module     string
		ptr        interface{}
		getDefault GetDefaultFn
	}{
		{name: "empty name", module: "", ptr: &testMod{}, getDefault: defaultTestMod},
		{name: "nil pointer", module: "nil", ptr: (*testMod)(nil), getDefault: defaultTestMod},
		{name: "non-pointer", module: "nonPtr", ptr: i, getDefault: defaultTestMod},
		{name: "no defaults", module: "noDefaults", ptr: &testMod{}},
		{name: "mismatching defaults", module: "mismatch", ptr: &i, getDefault: defaultTestMod},
		{name: "duplicate", module: "existing", ptr: &testMod{}, getDefault: defaultTestMod},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, register(tc.module, "", tc.ptr, tc.getDefault))
		})
	}
}

func TestSetYAML(t *testing.T) {
	mod1, n1 := registerTestMod(t, "mod1")
	mod2, n2 := registerTestMod(t, "mod2")

	err := SetYAML([]byte(`
mod1:
  integer: 5
  map:
    a: b
  timeout: 250ms
`), ConfigFile)
	require.NoError(t, err)

	expected1 := &testMod{Int: 5, String: "default", Map: map[string]string{"a": "b"},
		Timeout: Duration(250 * time.Millisecond)}
	if diff := cmp.Diff(expected1, mod1); diff != "" {
		t.Errorf("unexpected mod1 configuration (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(defaultTestMod(), mod2); diff != "" {
		t.Errorf("unexpected mod2 configuration (-want +got):\n%s", diff)
	}
	require.Equal(t, []Event{UpdateEvent}, n1.events)
	require.Equal(t, []Event{UpdateEvent}, n2.events)

	// an omitted module reverts to its defaults
	require.NoError(t, SetYAML([]byte("mod2:\n  string: other\n"), External))
	require.Equal(t, 1, mod1.Int)
	require.Equal(t, "other", mod2.String)
}

func TestRollback(t *testing.T) {
	mod, n := registerTestMod(t, "rollback")

	require.NoError(t, SetYAML([]byte("rollback:\n  integer: 7\n"), ConfigFile))
	require.Equal(t, 7, mod.Int)

	t.Run("validation failure", func(t *testing.T) {
		require.Error(t, SetYAML([]byte("rollback:\n  integer: -1\n"), ConfigFile))
		require.Equal(t, 7, mod.Int)
	})

	t.Run("unknown field", func(t *testing.T) {
		require.Error(t, SetYAML([]byte("rollback:\n  bogus: 1\n"), ConfigFile))
		require.Equal(t, 7, mod.Int)
	})

	t.Run("unknown module", func(t *testing.T) {
		require.Error(t, SetYAML([]byte("nonexistent:\n  integer: 1\n"), ConfigFile))
		require.Equal(t, 7, mod.Int)
	})

	t.Run("rejected by notifier", func(t *testing.T) {
		n.reject = true
		n.events = nil
		require.Error(t, SetYAML([]byte("rollback:\n  integer: 9\n"), ConfigFile))
		require.Equal(t, 7, mod.Int)
		require.Equal(t, []Event{UpdateEvent, RevertEvent}, n.events)
		n.reject = false
	})
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	require.Equal(t, Duration(90*time.Second), d)
	require.Error(t, d.UnmarshalJSON([]byte(`"forever"`)))

	raw, err := d.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"1m30s"`, string(raw))
}
