// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package semaphore bounds concurrent compiler process creation.
package semaphore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Semaphore is a counting semaphore.
type Semaphore struct {
	name  string
	slots chan struct{}

	waits atomic.Int64
	reqs  atomic.Int64
}

// New creates a new semaphore with name and capacity.
func New(name string, n int) *Semaphore {
	return &Semaphore{
		name:  name,
		slots: make(chan struct{}, n),
	}
}

// Do runs f while holding a slot. When all slots are busy it blocks until
// one frees up or ctx is done, and logs how long the spawn was held back.
func (s *Semaphore) Do(ctx context.Context, f func(ctx context.Context) error) error {
	s.reqs.Add(1)
	select {
	case s.slots <- struct{}{}:
	default:
		s.waits.Add(1)
		start := time.Now()
		select {
		case s.slots <- struct{}{}:
			log.Debugf("%s: waited %s for a process slot (%d in flight)", s.name, time.Since(start), cap(s.slots))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer func() {
		<-s.slots
	}()
	return f(ctx)
}

// Name returns the name of the semaphore.
func (s *Semaphore) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Capacity returns the capacity of the semaphore.
func (s *Semaphore) Capacity() int {
	if s == nil {
		return 0
	}
	return cap(s.slots)
}

// NumWaits returns how many acquisitions had to wait for a slot.
func (s *Semaphore) NumWaits() int {
	if s == nil {
		return 0
	}
	return int(s.waits.Load())
}

// NumRequests returns the total number of acquisitions.
func (s *Semaphore) NumRequests() int {
	if s == nil {
		return 0
	}
	return int(s.reqs.Load())
}
