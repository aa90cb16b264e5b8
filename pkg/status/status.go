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

// Package status defines the error kinds reported by segment and atomic operations.
package status

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies the outcome of an operation.
type Kind int

const (
	// KindSuccess is the outcome of a successful operation.
	KindSuccess Kind = iota
	// KindNotInitialized means that a segment or table row does not exist.
	KindNotInitialized
	// KindInvalidArgument means a size, id, rank or group was unacceptable.
	KindInvalidArgument
	// KindCapacityExceeded means that the segment table is full.
	KindCapacityExceeded
	// KindAllocationFailure means that memory could not be allocated.
	KindAllocationFailure
	// KindDeviceError means that the transport device rejected an operation.
	KindDeviceError
	// KindTimeout means that a lock or collective operation timed out.
	KindTimeout
	// KindCommunicationError means that a completion failed or could not be polled.
	KindCommunicationError
	// KindGeneric is any other failure, including rejections by a peer.
	KindGeneric
)

var kindNames = map[Kind]string{
	KindSuccess:            "success",
	KindNotInitialized:     "not initialized",
	KindInvalidArgument:    "invalid argument",
	KindCapacityExceeded:   "capacity exceeded",
	KindAllocationFailure:  "allocation failure",
	KindDeviceError:        "device error",
	KindTimeout:            "timeout",
	KindCommunicationError: "communication error",
	KindGeneric:            "error",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("<unknown kind %d>", int(k))
}

// Sentinel errors, one per failure kind, usable with errors.Is.
var (
	ErrNotInitialized     = &kindError{kind: KindNotInitialized}
	ErrInvalidArgument    = &kindError{kind: KindInvalidArgument}
	ErrCapacityExceeded   = &kindError{kind: KindCapacityExceeded}
	ErrAllocationFailure  = &kindError{kind: KindAllocationFailure}
	ErrDeviceError        = &kindError{kind: KindDeviceError}
	ErrTimeout            = &kindError{kind: KindTimeout}
	ErrCommunicationError = &kindError{kind: KindCommunicationError}
	ErrGenericError       = &kindError{kind: KindGeneric}
)

// kindError is an error of a given kind with an optional cause.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return e.cause.Error()
}

// Unwrap returns the cause of the error.
func (e *kindError) Unwrap() error {
	return e.cause
}

// Is reports any error of the same kind as a match.
func (e *kindError) Is(target error) bool {
	if t, ok := target.(*kindError); ok {
		return t.kind == e.kind
	}
	return false
}

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &kindError{
		kind:  kind,
		cause: pkgerrors.Errorf("%s: "+format, append([]interface{}{kind}, args...)...),
	}
}

// Wrap returns an error of the given kind annotating cause with a formatted message.
func Wrap(kind Kind, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return New(kind, format, args...)
	}
	return &kindError{
		kind:  kind,
		cause: pkgerrors.Wrapf(cause, "%s: "+format, append([]interface{}{kind}, args...)...),
	}
}

// KindOf returns the kind of the given error.
func KindOf(err error) Kind {
	if err == nil {
		return KindSuccess
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindGeneric
}
