/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package security provides ValidateOwnerChain, the reusable
// ownership-chain check original_source/common-src/security-file.c
// performs before trusting its own security file: every directory from
// the resolved real path up to "/" must be root-owned and not
// group/world-writable. SUPPLEMENTED FEATURES #2 promotes this out of
// the security-file loader into a standalone primitive so the plugin
// orchestrator (component F) can reuse it to validate a SUID plugin
// binary's containing directories before exec.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ValidateOwnerChain resolves path to its real (symlink-free) form and
// walks every ancestor directory up to the filesystem root, requiring
// each to be owned by root (uid 0) and writable by neither group nor
// other. It mirrors check_security_file_permission_message_recursive,
// generalized to any path rather than only the security file.
func ValidateOwnerChain(path string) error {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("resolving real path: %w", err)
	}
	if !filepath.IsAbs(real) {
		real, err = filepath.Abs(real)
		if err != nil {
			return fmt.Errorf("resolving absolute path: %w", err)
		}
	}

	for {
		info, err := os.Stat(real)
		if err != nil {
			return fmt.Errorf("stat %s: %w", real, err)
		}
		stat, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return fmt.Errorf("stat %s: unsupported platform", real)
		}
		if stat.Uid != 0 {
			return fmt.Errorf("%s is not owned by root", real)
		}
		if os.FileMode(stat.Mode)&0002 != 0 {
			return fmt.Errorf("%s is world-writable", real)
		}
		if os.FileMode(stat.Mode)&0020 != 0 {
			return fmt.Errorf("%s is group-writable", real)
		}

		parent := filepath.Dir(real)
		if parent == real {
			return nil
		}
		real = parent
	}
}
