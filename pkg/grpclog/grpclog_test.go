// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package grpclog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logger "github.com/intel/segmgr/pkg/log"
)

type recorder struct {
	sync.Mutex
	messages []string
}

func (r *recorder) Name() string { return "grpclog-recorder" }

func (r *recorder) Log(level logger.Level, source, format string, args ...interface{}) {
	r.Lock()
	defer r.Unlock()
	r.messages = append(r.messages, level.String()+": "+fmt.Sprintf(format, args...))
}

func (r *recorder) Block(level logger.Level, source, prefix, format string, args ...interface{}) {
	r.Log(level, source, format, args...)
}

func (r *recorder) Flush()                 {}
func (r *recorder) Sync()                  {}
func (r *recorder) Stop()                  {}
func (r *recorder) SetSourceAlignment(int) {}

func (r *recorder) reset() []string {
	r.Lock()
	defer r.Unlock()
	messages := r.messages
	r.messages = nil
	return messages
}

func TestFiltering(t *testing.T) {
	r := &recorder{}
	logger.RegisterBackend(r.Name(), func() logger.Backend { return r })
	require.NoError(t, logger.SetBackend(r.Name()))
	defer func() {
		require.NoError(t, logger.SetBackend(logger.FmtBackendName))
	}()
	logger.SetLevel(logger.LevelInfo)
	defer logger.SetLevel(logger.DefaultLevel)

	l := newLogger(time.Hour, 1)
	l.Info("connecting to", " peer")
	l.Infof("picked %s", "subchannel")
	l.Warningf("transport %d closing", 1)
	l.Warning("transport closing again")
	l.Errorln("stream failed")
	l.Errorf("stream failed")

	require.Equal(t, []string{
		"warning: <rate-limited> transport 1 closing",
		"warning: <rate-limited> transport closing again",
		"error: <rate-limited> stream failed",
	}, r.reset())

	l.level = logger.LevelInfo
	l.Infof("picked %s", "subchannel")
	require.Equal(t, []string{"info: <rate-limited> picked subchannel"}, r.reset())

	require.False(t, l.V(2))
}
