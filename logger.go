// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

package evnet

import (
	"os"

	"github.com/rs/zerolog"
)

// logger is the package level sink. Fatal aborts the process, which is the
// required behavior for programmer errors such as cross-thread misuse.
var logger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)

// SetLogger replaces the package level logger.
func SetLogger(l zerolog.Logger) {
	logger = l
}
