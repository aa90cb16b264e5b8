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
	"github.com/intel/segmgr/pkg/config"
	"github.com/intel/segmgr/pkg/status"
)

const (
	// DefaultMaxSegments is the default maximum number of segments per rank.
	DefaultMaxSegments = 32
	// MaxSegmentsLimit is the largest supported maximum number of segments.
	MaxSegmentsLimit = 256
	// DefaultNotifyOffset is the default size of the notification area of segments.
	DefaultNotifyOffset = 65536 * 4
)

// options captures our configurable parameters.
type options struct {
	// MaxSegments is the maximum number of segments of a rank.
	MaxSegments int `json:"maxSegments"`
	// NotifyOffset is the size of the notification area preceding segment data.
	NotifyOffset uint64 `json:"notifyOffset"`
}

// Our runtime configuration.
var opt = defaultOptions().(*options)

// defaultOptions returns a new options instance, all initialized to defaults.
func defaultOptions() interface{} {
	return &options{
		MaxSegments:  DefaultMaxSegments,
		NotifyOffset: DefaultNotifyOffset,
	}
}

// Validate checks the segment configuration.
func (o *options) Validate() error {
	if o.MaxSegments < 1 || o.MaxSegments > MaxSegmentsLimit {
		return status.New(status.KindInvalidArgument, "maxSegments %d out of range [1, %d]",
			o.MaxSegments, MaxSegmentsLimit)
	}
	if o.NotifyOffset == 0 || o.NotifyOffset%8 != 0 {
		return status.New(status.KindInvalidArgument, "invalid notifyOffset %d", o.NotifyOffset)
	}
	return nil
}

// configNotify is our configuration update notification handler.
func configNotify(event config.Event, source config.Source) error {
	log.Info("configuration %s (%s): max. %d segments, notification area %d bytes",
		event, source, opt.MaxSegments, opt.NotifyOffset)
	log.Info("the new configuration applies to managers created from now on")
	return nil
}

// Register us for configuration handling.
func init() {
	config.Register("segment", "Segment table.", opt, defaultOptions,
		config.WithNotify(configNotify))
}
