/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shmring

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// waitTimeout is the sem_timedwait deadline shm_ring_sem_wait applies
// to every blocking wait.
const waitTimeout = 5 * time.Second

// semaphore is a named, counting, cross-process wait/signal primitive
// built on a FIFO: Post appends one byte, Wait consumes one byte with
// a deadline. The pack carries no POSIX sem_open binding, and a FIFO
// opened O_RDWR never blocks on open (unlike a FIFO opened read-only
// or write-only), giving the same create-then-use semantics sem_open
// does without one side waiting for the other to show up first.
type semaphore struct {
	path string
	f    *os.File
}

// createSemaphore makes a new named semaphore (am_sem_create).
func createSemaphore(dir, name string) (*semaphore, error) {
	path := filepath.Join(dir, name)
	if err := unix.Mkfifo(path, 0600); err != nil {
		return nil, fmt.Errorf("shmring: creating semaphore %s: %w", name, err)
	}
	return openSemaphore(dir, name)
}

// openSemaphore attaches to an existing named semaphore (am_sem_open).
func openSemaphore(dir, name string) (*semaphore, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("shmring: opening semaphore %s: %w", name, err)
	}
	return &semaphore{path: path, f: f}, nil
}

// Post increments the semaphore (sem_post).
func (s *semaphore) Post() error {
	_, err := s.f.Write([]byte{1})
	return err
}

// Wait blocks until a post is available or deadline passes
// (sem_timedwait).
func (s *semaphore) Wait(deadline time.Time) error {
	if err := s.f.SetReadDeadline(deadline); err != nil {
		return err
	}
	buf := make([]byte, 1)
	_, err := s.f.Read(buf)
	return err
}

// Close releases this process's handle without removing the name
// (am_sem_close).
func (s *semaphore) Close() error { return s.f.Close() }

// Unlink removes the semaphore's name so no further process can open
// it (sem_unlink).
func (s *semaphore) Unlink() error {
	_ = s.f.Close()
	return os.Remove(s.path)
}
