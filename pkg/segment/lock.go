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

package segment

import (
	"context"

	"github.com/intel/segmgr/pkg/status"
)

// timedMutex is a mutex with a bounded wait for acquisition.
type timedMutex chan struct{}

func newTimedMutex() timedMutex {
	return make(timedMutex, 1)
}

// Lock acquires the mutex, giving up once ctx is done.
func (m timedMutex) Lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	default:
	}

	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return status.Wrap(status.KindTimeout, ctx.Err(), "failed to acquire lock")
	}
}

// Unlock releases the mutex.
func (m timedMutex) Unlock() {
	<-m
}
