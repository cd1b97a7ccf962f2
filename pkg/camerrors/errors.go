/*
Copyright 2013 The Sentrybase Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package camerrors defines specific errors that are used to decide on
// how to deal with some failure cases: the core's fixed error
// vocabulary, one group per subsystem (policy, database, integrity,
// calculator, serializer), as sentinel values callers can match with
// errors.Is instead of parsing a message string. errbucket.Kind packs
// the same vocabulary into a four-byte code for display; these values
// are what a caller actually compares an error chain against.
package camerrors

import "errors"

// Policy errors.
var (
	ErrUndefinedVariable   = errors.New("policy: undefined variable")
	ErrStartNotAbsolute    = errors.New("policy: rule start-point not absolute")
	ErrDuplicateStartPoint = errors.New("policy: duplicate start-point")
	ErrStopNotUnderStart   = errors.New("policy: stop-point not under start-point")
	ErrSectionInsideBlock  = errors.New("policy: section inside block")
	ErrParseError          = errors.New("policy: parse error")
)

// Database errors.
var (
	ErrCorruptBlock      = errors.New("database: corrupt block")
	ErrVersionMismatch   = errors.New("database: version mismatch")
	ErrTypeNotRegistered = errors.New("database: type id not registered")
	ErrSignatureFailed   = errors.New("database: signature verification failed")
)

// Integrity errors.
var (
	ErrFCONotInSpec       = errors.New("integrity: fco not in spec")
	ErrFCONotInDatabase   = errors.New("integrity: fco not in database")
	ErrFCOCreateFailure   = errors.New("integrity: fco create failure")
	ErrUnknownGenre       = errors.New("integrity: unknown genre")
	ErrSeverityOutOfRange = errors.New("integrity: severity value out of range")
	ErrMismatchingParams  = errors.New("integrity: mismatching parameters")
)

// Calculator errors.
var (
	ErrStatFailed        = errors.New("calculator: stat failed")
	ErrOpenFailed        = errors.New("calculator: open failed")
	ErrHashStreamFailed  = errors.New("calculator: hash stream failed")
	ErrSymlinkReadFailed = errors.New("calculator: symlink read failed")
)

// Serializer errors.
var (
	ErrSerializerUnknownType  = errors.New("serializer: unknown type")
	ErrSerializerStreamFormat = errors.New("serializer: input/output stream format")
)
