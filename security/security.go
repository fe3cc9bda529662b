/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package security implements the security-file policy (component
// H): a root-owned key/value file granting narrow exceptions to the
// "don't run unvetted binaries as root" rule — which program paths a
// named caller may exec as root, port ranges a caller may bind, and a
// handful of named booleans — plus the ownership-chain validation that
// makes trusting the file itself safe in the first place
// (original_source/common-src/security-file.c).
package security

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/zmanda/amclient/internal/security"
)

const DefaultSecurityFile = "/etc/amanda/security.conf"

// File is a parsed security file: a flat, lowercased key -> raw value
// map, matching the C implementation's linear re-scan-per-lookup
// approach but without re-reading the file on every call.
type File struct {
	path    string
	entries map[string]string
}

// Load reads and validates the ownership chain of path (or
// DefaultSecurityFile if path is empty) before parsing it. A
// commented ("#...") or key-less line is ignored, matching the
// original parser's silent skip.
func Load(path string) (*File, error) {
	if path == "" {
		path = DefaultSecurityFile
	}
	if err := security.ValidateOwnerChain(path); err != nil {
		return nil, fmt.Errorf("security file %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening security file %s: %w", path, err)
	}
	defer f.Close()

	entries, err := parseEntries(f)
	if err != nil {
		return nil, fmt.Errorf("reading security file %s: %w", path, err)
	}
	return &File{path: path, entries: entries}, nil
}

// parseEntries is Load's line-parsing core, split out so it can be
// exercised directly against an in-memory reader without the
// ownership-chain check Load performs on a real path.
func parseEntries(r io.Reader) (map[string]string, error) {
	entries := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		entries[strings.ToLower(key)] = value
	}
	return entries, scanner.Err()
}

// permittedCompatPaths lists the built-in (prefix, path) exceptions
// honored when the security file has no explicit entry for prefix at
// all, matching security_file_check_path's hardcoded fallback list.
var permittedCompatPaths = map[string]string{
	"amgtar:gnutar_path":  "/bin/tar",
	"ambsdtar:bsdtar_path": "/usr/bin/bsdtar",
	"amstar:star_path":    "/usr/bin/star",
	"runtar:gnutar_path":  "/bin/tar",
}

// AllowProgramAsRoot reports whether program is permitted to run path
// as root under the prefix "<program>:<name>" (security_allow_program_
// as_root / security_file_check_path). An entry for the prefix in the
// file decides alone; only a prefix with no entry at all falls through
// to the hardcoded compatibility list.
func (f *File) AllowProgramAsRoot(program, name, path string) bool {
	prefix := strings.ToLower(program + ":" + name)
	if v, ok := f.entries[prefix]; ok {
		return v == path
	}
	return permittedCompatPaths[prefix] == path
}

// GetBoolean looks up a YES/NO-valued key (security_file_get_boolean),
// returning false if absent or unrecognized.
func (f *File) GetBoolean(name string) bool {
	v, ok := f.entries[strings.ToLower(name)]
	if !ok {
		return false
	}
	return strings.EqualFold(v, "yes")
}

// PortRange looks up a "low,high"-valued key (security_file_get_
// portrange), reporting ok=false if absent or malformed.
func (f *File) PortRange(name string) (low, high int, ok bool) {
	v, present := f.entries[strings.ToLower(name)]
	if !present {
		return 0, 0, false
	}
	lowStr, highStr, found := strings.Cut(v, ",")
	if !found {
		return 0, 0, false
	}
	low, err1 := strconv.Atoi(strings.TrimSpace(lowStr))
	high, err2 := strconv.Atoi(strings.TrimSpace(highStr))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return low, high, true
}

// AllowBind reports whether port falls within the configured
// tcp_port_range or udp_port_range, per the socket type
// (security_allow_bind). An absent range denies every port.
func (f *File) AllowBind(sockType int, port int) bool {
	var key string
	switch sockType {
	case syscall.SOCK_STREAM:
		key = "tcp_port_range"
	case syscall.SOCK_DGRAM:
		key = "udp_port_range"
	default:
		return false
	}
	low, high, ok := f.PortRange(key)
	if !ok {
		return false
	}
	return low <= port && port <= high
}
