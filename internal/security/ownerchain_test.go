/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateOwnerChainRejectsNonRootOwnedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "security.conf")
	require.NoError(t, os.WriteFile(path, []byte("tcp_port_range=512,1023\n"), 0600))

	// A file owned by the test-running (non-root) user must be
	// rejected, since the whole point of the chain check is refusing
	// to trust a security file any non-root user could have written.
	err := ValidateOwnerChain(path)
	if os.Geteuid() != 0 {
		require.Error(t, err)
		require.Contains(t, err.Error(), "not owned by root")
	}
}

func TestValidateOwnerChainMissingPath(t *testing.T) {
	err := ValidateOwnerChain(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}
