/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package shmring

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// staleAfter and unknownAfter match cleanup_shm_ring's two age
// thresholds: a recognized-but-abandoned ring is swept after five
// minutes of inactivity, an unrecognized "amanda_*" file after a day.
const (
	staleAfter   = 5 * time.Minute
	unknownAfter = 24 * time.Hour
)

// Sweep scans dir for abandoned control regions (every recorded
// participant pid dead) and unlinks their semaphores, data region, and
// control region, then removes any other "amanda_*"-prefixed file
// older than a day that wasn't claimed by a live ring (cleanup_shm_ring).
func Sweep(dir string) error {
	if dir == "" {
		dir = DefaultDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	claimed := map[string]bool{}
	now := time.Now()

	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "amanda_shm_control-") {
			continue
		}
		claimed[e.Name()] = true
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < staleAfter {
			continue
		}
		sweepControl(dir, e.Name(), claimed)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "amanda_") || claimed[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < unknownAfter {
			continue
		}
		_ = os.Remove(filepath.Join(dir, e.Name()))
	}
	return nil
}

func sweepControl(dir, name string, claimed map[string]bool) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() != int64(ControlSize) {
		return
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, ControlSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return
	}
	defer unix.Munmap(mem)
	c := NewControl(mem)

	for _, n := range []string{c.SemWriteName(), c.SemReadName(), c.SemReadyName(), c.SemStartName(), c.DataName()} {
		if n != "" {
			claimed[n] = true
		}
	}

	for _, pid := range c.Pids() {
		if pid == 0 {
			continue
		}
		if err := unix.Kill(int(pid), 0); err == nil || err != unix.ESRCH {
			return // at least one participant is still alive
		}
	}

	_ = os.Remove(filepath.Join(dir, c.SemWriteName()))
	_ = os.Remove(filepath.Join(dir, c.SemReadName()))
	_ = os.Remove(filepath.Join(dir, c.SemReadyName()))
	_ = os.Remove(filepath.Join(dir, c.SemStartName()))
	_ = os.Remove(filepath.Join(dir, c.DataName()))
	_ = os.Remove(path)
}
