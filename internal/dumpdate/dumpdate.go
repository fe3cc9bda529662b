/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package dumpdate is a pure parser/validator for the amandates
// registry: a text file recording, per disk, the most recent
// timestamp each backup level last ran at (original_source's
// amutil.c/client_util.c "amandates_lookup"). spec.md §6 only says the
// registry is opened read-only; this package supplements that with
// the actual line format and tolerant handling of corrupt entries.
package dumpdate

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// LevelDate is one level's last-run timestamp for a disk, stored as
// the registry's own "seconds since epoch" integer (never reinterpreted
// as a time.Time here — the registry's format predates any particular
// clock representation and callers compare it opaquely).
type LevelDate struct {
	Level     int
	Timestamp int64
}

// Entry is one disk's recorded levels, most specific level last.
type Entry struct {
	Disk   string
	Levels []LevelDate
}

// Registry is the parsed amandates file, keyed by disk name.
type Registry struct {
	entries map[string]*Entry
	// Warnings collects one message per malformed line encountered
	// during Load, rather than aborting the whole parse (SUPPLEMENTED
	// FEATURES #1: corrupt lines are a MSG_WARNING, not fatal).
	Warnings []string
}

// Lookup returns the parsed Entry for disk, or nil if the registry has
// no record of it (a disk backed up for the first time).
func (r *Registry) Lookup(disk string) *Entry {
	return r.entries[disk]
}

// MostRecentBefore returns the highest level at or below maxLevel that
// disk has a recorded date for, and that date, or (0, 0, false) if no
// such level is recorded — the lookup the estimate/backup phases use
// to decide what the "previous" dump level was.
func (e *Entry) MostRecentBefore(maxLevel int) (level int, timestamp int64, ok bool) {
	if e == nil {
		return 0, 0, false
	}
	found := false
	for _, ld := range e.Levels {
		if ld.Level <= maxLevel && (!found || ld.Level > level) {
			level, timestamp, found = ld.Level, ld.Timestamp, true
		}
	}
	return level, timestamp, found
}

// Load parses the amandates registry format: one line per disk,
// "<disk> <level>:<timestamp> <level>:<timestamp> ...", whitespace
// separated. A line with no parseable disk field, or a level:timestamp
// pair that doesn't split cleanly, is recorded as a Warning on the
// returned Registry and otherwise skipped — the rest of the file still
// loads.
func Load(r io.Reader) (*Registry, error) {
	reg := &Registry{entries: make(map[string]*Entry)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			reg.Warnings = append(reg.Warnings, fmt.Sprintf("line %d: missing level/timestamp fields", lineNo))
			continue
		}
		entry := &Entry{Disk: fields[0]}
		for _, pair := range fields[1:] {
			level, ts, err := parseLevelDate(pair)
			if err != nil {
				reg.Warnings = append(reg.Warnings, fmt.Sprintf("line %d: %v", lineNo, err))
				continue
			}
			entry.Levels = append(entry.Levels, LevelDate{Level: level, Timestamp: ts})
		}
		reg.entries[entry.Disk] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading amandates: %w", err)
	}
	return reg, nil
}

func parseLevelDate(pair string) (level int, timestamp int64, err error) {
	levelStr, tsStr, found := strings.Cut(pair, ":")
	if !found {
		return 0, 0, fmt.Errorf("malformed level:timestamp pair %q", pair)
	}
	level, err = strconv.Atoi(levelStr)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed level in %q: %w", pair, err)
	}
	timestamp, err = strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed timestamp in %q: %w", pair, err)
	}
	return level, timestamp, nil
}
