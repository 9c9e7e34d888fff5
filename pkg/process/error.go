// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package process

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownInstance  = errors.New("process: unknown instance")
	ErrUnknownProcess   = errors.New("process: unknown process")
	ErrDuplicateProcess = errors.New("process: duplicate process")
)

type EngineError struct {
	Msg string
}

func (e *EngineError) Error() string {
	return e.Msg
}

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...any) error {
	return &EngineError{
		Msg: fmt.Sprintf(format, a...),
	}
}
