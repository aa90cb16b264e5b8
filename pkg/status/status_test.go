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

package status

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	tcs := []struct {
		name     string
		err      error
		kind     Kind
		sentinel error
		message  string
	}{
		{
			name:     "new",
			err:      New(KindInvalidArgument, "segment %d: size 0", 3),
			kind:     KindInvalidArgument,
			sentinel: ErrInvalidArgument,
			message:  "invalid argument: segment 3: size 0",
		},
		{
			name:     "wrapped cause",
			err:      Wrap(KindDeviceError, io.ErrUnexpectedEOF, "register segment %d", 1),
			kind:     KindDeviceError,
			sentinel: ErrDeviceError,
			message:  "device error: register segment 1: unexpected EOF",
		},
		{
			name:     "further wrapped",
			err:      fmt.Errorf("create: %w", New(KindTimeout, "lock")),
			kind:     KindTimeout,
			sentinel: ErrTimeout,
			message:  "create: timeout: lock",
		},
		{
			name:     "foreign error",
			err:      io.EOF,
			kind:     KindGeneric,
			sentinel: nil,
			message:  "EOF",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.kind, KindOf(tc.err))
			require.Equal(t, tc.message, tc.err.Error())
			if tc.sentinel != nil {
				require.True(t, errors.Is(tc.err, tc.sentinel))
				require.False(t, errors.Is(tc.err, ErrGenericError))
			}
		})
	}

	require.Equal(t, KindSuccess, KindOf(nil))
	require.True(t, errors.Is(Wrap(KindDeviceError, io.EOF, "x"), io.EOF))
}
