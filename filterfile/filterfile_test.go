/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package filterfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zmanda/amclient/dle"
)

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	dir := t.TempDir()
	return New(dir, "amcheck", 4, filepath.Join(dir, ".lock"))
}

func TestCompileWritesExcludeFileVerbatim(t *testing.T) {
	c := newTestCompiler(t)
	d := dle.NewDiskListEntry("/var")
	d.ExcludeFile = []string{"*.tmp", "*.log"}

	res, err := c.Compile(d, NoPrivilege)
	require.NoError(t, err)
	require.NotEmpty(t, res.ExcludeFile)

	data, err := os.ReadFile(res.ExcludeFile)
	require.NoError(t, err)
	require.Equal(t, "*.tmp\n*.log\n", string(data))
}

func TestCompileNoFiltersProducesNoPaths(t *testing.T) {
	c := newTestCompiler(t)
	d := dle.NewDiskListEntry("/var")

	res, err := c.Compile(d, NoPrivilege)
	require.NoError(t, err)
	require.Empty(t, res.ExcludeFile)
	require.Empty(t, res.IncludeFile)
}

// P4: zero-expansion include set is an error, and the caller sees no
// filename for the empty file.
func TestCompileIncludeRejectsNonDotSlashPattern(t *testing.T) {
	c := newTestCompiler(t)
	d := dle.NewDiskListEntry("/var")
	d.IncludeFile = []string{"not-rooted"}

	res, err := c.Compile(d, NoPrivilege)
	require.NoError(t, err)
	require.Empty(t, res.IncludeFile)
	require.Len(t, res.Messages, 2) // rejected pattern + zero-expansion error
}

func TestCompileIncludeOptionalDowngradesToInfo(t *testing.T) {
	c := newTestCompiler(t)
	d := dle.NewDiskListEntry("/var")
	d.IncludeOptional = true
	d.IncludeFile = []string{"not-rooted"}

	res, err := c.Compile(d, NoPrivilege)
	require.NoError(t, err)
	foundInfo := false
	for _, m := range res.Messages {
		if m.Severity.String() == "info" {
			foundInfo = true
		}
	}
	require.True(t, foundInfo)
	_ = res
}

func TestBuildNameAvoidsCollision(t *testing.T) {
	c := newTestCompiler(t)
	p1, err := c.buildName("/var", "exclude")
	require.NoError(t, err)
	p2, err := c.buildName("/var", "exclude")
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)
}
