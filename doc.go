// Copyright (c) 2026 The evnet Authors.
// This package is licensed under a MIT license that can be found in the LICENSE file.

// Package evnet implements a reactor-pattern TCP networking library: one
// event loop per thread on top of epoll or poll, with channels binding file
// descriptors to callbacks, timerfd-backed timer scheduling and eventfd-based
// cross-thread task dispatch.
package evnet
