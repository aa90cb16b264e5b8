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
	"flag"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// a test Backend that records messages for verification
type testlogger struct {
	sync.Mutex
	recorded []string
}

var testlog = &testlogger{}

const testLoggerName = "testlogger"

func (l *testlogger) Name() string {
	return testLoggerName
}

func (l *testlogger) Log(level Level, source, format string, args ...interface{}) {
	l.record(fmt.Sprintf(fmtTags[level]+"["+source+"] "+format, args...))
}

func (l *testlogger) Block(level Level, source, prefix, format string, args ...interface{}) {
	l.record(fmt.Sprintf(fmtTags[level]+"["+source+"] "+prefix+format, args...))
}

func (l *testlogger) Flush()                 {}
func (l *testlogger) Sync()                  {}
func (l *testlogger) Stop()                  {}
func (l *testlogger) SetSourceAlignment(int) {}

func (l *testlogger) record(msg string) {
	l.Lock()
	defer l.Unlock()
	l.recorded = append(l.recorded, msg)
}

func (l *testlogger) reset() []string {
	l.Lock()
	defer l.Unlock()
	recorded := l.recorded
	l.recorded = nil
	return recorded
}

func setup(t *testing.T) *testlogger {
	RegisterBackend(testLoggerName, func() Backend { return testlog })
	require.NoError(t, SetBackend(testLoggerName))
	t.Cleanup(func() {
		SetLevel(DefaultLevel)
		require.NoError(t, SetBackend(FmtBackendName))
	})
	testlog.reset()
	return testlog
}

func TestBackendOverride(t *testing.T) {
	tl := setup(t)

	SetLevel(LevelInfo)
	test := NewLogger("test")
	test.Info("this is a test info message")
	test.Warn("this is a test warning message")
	test.Error("this is a test error message")

	require.Equal(t, []string{
		"I: [test] this is a test info message",
		"W: [test] this is a test warning message",
		"E: [test] this is a test error message",
	}, tl.reset())
}

func TestSeverityFiltering(t *testing.T) {
	tl := setup(t)
	test := NewLogger("test")

	logfns := map[Level]func(string, ...interface{}){
		LevelDebug: test.Debug,
		LevelInfo:  test.Info,
		LevelWarn:  test.Warn,
		LevelError: test.Error,
	}

	for _, debugging := range []bool{false, true} {
		for _, threshold := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
			t.Run(fmt.Sprintf("debug=%v,level=%s", debugging, threshold), func(t *testing.T) {
				test.EnableDebug(debugging)
				SetLevel(threshold)
				tl.reset()

				expected := 0
				for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
					logfns[level]("message at %s", level)
					switch {
					case level == LevelDebug && debugging:
						expected++
					case level != LevelDebug && level >= threshold:
						expected++
					}
				}
				require.Len(t, tl.reset(), expected)
			})
		}
	}
	test.EnableDebug(false)
}

func TestSourceMaps(t *testing.T) {
	tl := setup(t)
	SetLevel(LevelInfo)

	a := NewLogger("source-a")
	b := NewLogger("source-b")

	require.NoError(t, flag.Set(optDebug, "on:source-a"))
	require.True(t, a.DebugEnabled())
	require.False(t, b.DebugEnabled())

	require.NoError(t, flag.Set(optEnable, "off:source-b"))
	a.Info("a visible")
	b.Info("b hidden")
	b.Warn("b warning")
	require.Equal(t, []string{"I: [source-a] a visible", "W: [source-b] b warning"}, tl.reset())

	require.NoError(t, flag.Set(optEnable, "on:source-b"))
	require.NoError(t, flag.Set(optDebug, "off:source-a"))
	require.False(t, a.DebugEnabled())
}

func TestSrcmapParsing(t *testing.T) {
	tcs := []struct {
		name    string
		value   string
		expect  srcmap
		invalid bool
	}{
		{
			name:   "plain list enables",
			value:  "a,b",
			expect: srcmap{"a": true, "b": true},
		},
		{
			name:   "state carries over",
			value:  "off:a,b,on:c",
			expect: srcmap{"a": false, "b": false, "c": true},
		},
		{
			name:   "all is a wildcard",
			value:  "on:all",
			expect: srcmap{"*": true},
		},
		{
			name:    "bad state",
			value:   "maybe:a",
			invalid: true,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			m := srcmap{}
			err := m.Set(tc.value)
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expect, m)
		})
	}
}

func TestForcedDebug(t *testing.T) {
	tl := setup(t)
	test := NewLogger("forced")
	test.EnableDebug(false)

	test.Debug("suppressed")
	old := ForceDebug(true)
	test.Debug("forced")
	ForceDebug(old)

	require.Equal(t, []string{"D: [forced] forced"}, tl.reset())
}
