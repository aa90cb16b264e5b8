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

package utils

import (
	"fmt"
	"strings"
)

// ParseEnabled parses an enabled/disabled state string.
func ParseEnabled(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "true", "enable", "enabled", "yes", "1":
		return true, nil
	case "off", "false", "disable", "disabled", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid enabled/disabled state %q", value)
}

// RoundUp rounds size up to the next multiple of align, which must be a power of two.
func RoundUp(size, align uint64) uint64 {
	return (size + align - 1) &^ (align - 1)
}
