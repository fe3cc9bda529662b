/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package filterfile is the include/exclude compiler (component E):
// it turns a DLE's exclude_file/exclude_list/include_file/include_list
// pattern sets into at most two on-disk filter files the archiver
// plugin reads at backup time (§4.4), grounded on
// original_source/client-src/client_util.c's build_exclude/
// build_include/build_name/add_exclude/add_include.
package filterfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofrs/flock"
	"github.com/google/renameio"
	"github.com/zmanda/amclient/dle"
	"github.com/zmanda/amclient/message"
)

// Privilege abstracts the set/drop-root-privileges pair client_util.c
// calls around a glob expansion so this package never assumes it is
// itself running setuid.
type Privilege interface {
	// Elevate attempts to acquire elevated privileges, reporting
	// whether it succeeded (mirrors set_root_privs(1)'s return).
	Elevate() bool
	// Drop releases privileges acquired by a prior successful Elevate.
	Drop()
}

// noPrivilege is the Privilege a process with no elevation capability
// uses; Elevate always reports failure, matching set_root_privs(1)
// returning false for an unprivileged caller.
type noPrivilege struct{}

func (noPrivilege) Elevate() bool { return false }
func (noPrivilege) Drop()         {}

// NoPrivilege is the Privilege implementation for a process that
// never runs with elevated capability.
var NoPrivilege Privilege = noPrivilege{}

// Compiler holds the process-wide knobs build_name's debug-directory
// bookkeeping needs: the pname prefix, the debug directory, and the
// retention window for purging stale filter files.
type Compiler struct {
	Tmpdir    string
	Pname     string
	DebugDays int
	Lock      *flock.Flock // serializes the purge sweep across concurrent runs
}

// New returns a Compiler; lockPath is the file gofrs/flock serializes
// concurrent purge sweeps on (typically "<tmpdir>/.filterfile.lock").
func New(tmpdir, pname string, debugDays int, lockPath string) *Compiler {
	return &Compiler{Tmpdir: tmpdir, Pname: pname, DebugDays: debugDays, Lock: flock.New(lockPath)}
}

func sanitizeDisk(disk string) string {
	return strings.ReplaceAll(disk, "/", "_")
}

// candidateName is get_name: "<pname>.<disk>.<timestamp>[NNN].<exin>".
func candidateName(pname, disk, exin string, t time.Time, n int) string {
	ts := t.UTC().Format("20060102150405")
	suffix := ""
	if n > 0 {
		suffix = fmt.Sprintf("%03d", n-1)
	}
	return fmt.Sprintf("%s.%s.%s%s.%s", pname, disk, ts, suffix, exin)
}

// purgeStale removes prior filter files for (pname, disk) older than
// c.DebugDays days (build_name's readdir-based purge loop), serialized
// via c.Lock so concurrent self-check runs don't race the sweep.
func (c *Compiler) purgeStale(disk string) error {
	if err := c.Lock.Lock(); err != nil {
		return fmt.Errorf("locking filter-file purge: %w", err)
	}
	defer c.Lock.Unlock()

	entries, err := os.ReadDir(c.Tmpdir)
	if err != nil {
		return fmt.Errorf("reading debug directory %s: %w", c.Tmpdir, err)
	}
	cutoff := time.Now().Add(-time.Duration(c.DebugDays) * 24 * time.Hour)
	prefix := c.Pname + "." + disk + "."
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".exclude") && !strings.HasSuffix(e.Name(), ".include") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(c.Tmpdir, e.Name()))
	}
	return nil
}

// buildName picks a collision-free path for disk's exin ("exclude" or
// "include") filter file, trying up to 1000 NNN suffixes (build_name).
func (c *Compiler) buildName(disk, exin string) (string, error) {
	sanitized := sanitizeDisk(disk)
	now := time.Now()
	for n := 0; n < 1000; n++ {
		name := candidateName(c.Pname, sanitized, exin, now, n)
		path := filepath.Join(c.Tmpdir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			f.Close()
			return path, nil
		}
		if !os.IsExist(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("no available filter-file name for %s/%s after 1000 attempts", disk, exin)
}

// Result is the outcome of compiling one DLE's filters.
type Result struct {
	ExcludeFile string // "" if no exclude filter was written
	IncludeFile string // "" if no include filter was written
	Messages    []message.Message
}

// Compile writes at most two filter files for d and returns their
// paths (§4.4). priv is consulted only for include-pattern glob expansion
// requiring elevated privileges to chdir into the device.
func (c *Compiler) Compile(d *dle.DiskListEntry, priv Privilege) (Result, error) {
	if err := c.purgeStale(sanitizeDisk(d.Disk)); err != nil {
		return Result{}, err
	}

	var res Result
	if len(d.ExcludeFile) > 0 || len(d.ExcludeList) > 0 {
		path, msgs, err := c.writeExclude(d)
		if err != nil {
			return Result{}, err
		}
		res.ExcludeFile = path
		res.Messages = append(res.Messages, msgs...)
	}
	if len(d.IncludeFile) > 0 || len(d.IncludeList) > 0 {
		path, msgs, err := c.writeInclude(d, priv)
		if err != nil {
			return Result{}, err
		}
		res.IncludeFile = path
		res.Messages = append(res.Messages, msgs...)
	}
	return res, nil
}

func (c *Compiler) writeExclude(d *dle.DiskListEntry) (string, []message.Message, error) {
	path, err := c.buildName(d.Disk, "exclude")
	if err != nil {
		return "", nil, err
	}
	var lines []string
	var msgs []message.Message

	for _, pat := range d.ExcludeFile {
		lines = append(lines, dequote(pat))
	}
	for _, listPath := range d.ExcludeList {
		resolved := fixupRelative(listPath, d.Device)
		patterns, err := readPatternFile(resolved)
		if err != nil {
			sev := message.Error
			if d.ExcludeOptional && os.IsNotExist(err) {
				sev = message.Info
			}
			msgs = append(msgs, message.Build("filterfile.go", 0, 3600032, sev, 0, "", map[string]string{
				"exclude": resolved, "errnostr": err.Error(),
			}))
			continue
		}
		lines = append(lines, patterns...)
	}

	if err := writeLines(path, lines); err != nil {
		return "", nil, err
	}
	if len(lines) == 0 {
		_ = os.Remove(path)
		return "", msgs, nil
	}
	return path, msgs, nil
}

func (c *Compiler) writeInclude(d *dle.DiskListEntry, priv Privilege) (string, []message.Message, error) {
	path, err := c.buildName(d.Disk, "include")
	if err != nil {
		return "", nil, err
	}
	var lines []string
	var msgs []message.Message
	expanded := 0

	addPattern := func(pat string) {
		n, m := c.addInclude(d, pat, priv, &lines)
		expanded += n
		msgs = append(msgs, m...)
	}

	for _, pat := range d.IncludeFile {
		addPattern(pat)
	}
	for _, listPath := range d.IncludeList {
		resolved := fixupRelative(listPath, d.Device)
		patterns, err := readPatternFile(resolved)
		if err != nil {
			sev := message.Error
			if d.IncludeOptional && os.IsNotExist(err) {
				sev = message.Info
			}
			msgs = append(msgs, message.Build("filterfile.go", 0, 3600033, sev, 0, "", map[string]string{
				"include": resolved, "errnostr": err.Error(),
			}))
			continue
		}
		for _, p := range patterns {
			addPattern(p)
		}
	}

	if err := writeLines(path, lines); err != nil {
		return "", nil, err
	}
	if expanded == 0 {
		msgs = append(msgs, message.Build("filterfile.go", 0, 3600035, message.Error, 0, "", map[string]string{"disk": d.Disk}))
	}
	if len(lines) == 0 {
		_ = os.Remove(path)
		return "", msgs, nil
	}
	return path, msgs, nil
}

// addInclude implements add_include's dispatch: reject patterns not
// starting with "./", pass verbatim patterns with an embedded "/"
// through unprivileged, and otherwise glob-expand under the device
// directory with privileges elevated for the chdir.
func (c *Compiler) addInclude(d *dle.DiskListEntry, pattern string, priv Privilege, lines *[]string) (int, []message.Message) {
	pattern = strings.TrimRight(pattern, "\n")
	if !strings.HasPrefix(pattern, "./") {
		sev := message.Error
		if d.IncludeOptional {
			sev = message.Info
		}
		return 0, []message.Message{message.Build("filterfile.go", 0, 3600030, sev, 0, "", map[string]string{"pattern": pattern, "disk": d.Disk})}
	}

	rest := pattern[2:]
	elevated := priv.Elevate()
	if !elevated && strings.Contains(rest, "/") {
		*lines = append(*lines, dequote(pattern))
		return 1, nil
	}
	if elevated {
		defer priv.Drop()
	}

	matches, err := doublestar.Glob(os.DirFS(d.Device), rest)
	if err != nil {
		return 0, []message.Message{message.Build("filterfile.go", 0, 3600034, message.Error, 0, "",
			map[string]string{"pattern": pattern, "disk": d.Disk, "errnostr": err.Error()})}
	}
	for _, m := range matches {
		*lines = append(*lines, "./"+m)
	}
	return len(matches), nil
}

func fixupRelative(name, device string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return filepath.Join(device, name)
}

func readPatternFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		out = append(out, dequote(line))
	}
	return out, nil
}

// dequote strips a trailing newline (add_exclude/add_include's own
// "\n"-stripping); the wire protocol's C-style unquoting lives in
// dle.ParseOptions and is already applied before these patterns ever
// reach this package.
func dequote(s string) string {
	return strings.TrimRight(s, "\n")
}

func writeLines(path string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return renameio.WriteFile(path, []byte(sb.String()), 0600)
}
