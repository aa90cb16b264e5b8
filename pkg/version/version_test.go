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

package version

import (
	"bytes"
	"flag"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrintVersionInfo(t *testing.T) {
	Version, Build = "v0.1.0", "abcdef"
	defer func() { Version, Build = "unknown", "unknown" }()

	buf := &bytes.Buffer{}
	printVersionInfo(buf)
	require.True(t, strings.Contains(buf.String(), "  - version: v0.1.0\n"))
	require.True(t, strings.Contains(buf.String(), "  - build:   abcdef\n"))
}

func TestVersionFlag(t *testing.T) {
	f := flag.Lookup("version")
	require.NotNil(t, f)
	require.NoError(t, f.Value.Set("false"))
	require.Error(t, f.Value.Set("maybe"))
}
