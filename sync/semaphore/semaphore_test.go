// Copyright 2025 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package semaphore_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.chromium.org/infra/build/clcache/sync/semaphore"
)

func TestDo_boundsConcurrency(t *testing.T) {
	ctx := context.Background()
	s := semaphore.New("test", 2)
	var inFlight, maxInFlight atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Do(ctx, func(ctx context.Context) error {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						return nil
					}
				}
			})
			if err != nil {
				t.Errorf("Do=%v; want nil err", err)
			}
		}()
	}
	wg.Wait()
	if got := maxInFlight.Load(); got > 2 {
		t.Errorf("max in flight=%d; want <= 2", got)
	}
	if got := s.NumRequests(); got != 16 {
		t.Errorf("NumRequests=%d; want 16", got)
	}
}

func TestDo_propagatesError(t *testing.T) {
	ctx := context.Background()
	s := semaphore.New("test-err", 1)
	want := errors.New("spawn failed")
	if err := s.Do(ctx, func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("Do=%v; want %v", err, want)
	}
	// The slot is released on error.
	if err := s.Do(ctx, func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("Do after error=%v; want nil err", err)
	}
}

func TestDo_canceledWhileWaiting(t *testing.T) {
	s := semaphore.New("test-cancel", 1)
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		s.Do(context.Background(), func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Do(ctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do on canceled ctx=%v; want context.Canceled", err)
	}
	close(release)
}
