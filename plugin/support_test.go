/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zmanda/amclient/dle"
)

// Scenario 4: BSU parse.
func TestParseSupportLines(t *testing.T) {
	lines := []string{
		"CONFIG YES",
		"HOST YES",
		"DISK YES",
		"MAX-LEVEL 9",
		"DATA-PATH AMANDA",
		"INDEX-LINE YES",
	}
	bsu := dle.BSU{Config: true, Host: true, Disk: true}
	for _, l := range lines {
		parseSupportLine(&bsu, l)
	}
	require.True(t, bsu.Config)
	require.True(t, bsu.Host)
	require.True(t, bsu.Disk)
	require.True(t, bsu.IndexLine)
	require.Equal(t, 9, bsu.MaxLevel)
	require.Equal(t, dle.DataPathSetAmanda, bsu.DataPathSet)
}

func TestParseSupportLineRecoverPathOrsIntoBitmask(t *testing.T) {
	var bsu dle.BSU
	parseSupportLine(&bsu, "RECOVER-PATH CWD")
	parseSupportLine(&bsu, "RECOVER-PATH REMOTE")
	require.Equal(t, dle.RecoverPathCWD|dle.RecoverPathRemote, bsu.RecoverPathSet)
}

func TestParseSupportLineSMBRecoverMode(t *testing.T) {
	var bsu dle.BSU
	parseSupportLine(&bsu, "RECOVER-MODE SMB")
	require.True(t, bsu.SMBRecoverMode)
}

func TestParseSupportLineUnknownKeyIgnored(t *testing.T) {
	var bsu dle.BSU
	parseSupportLine(&bsu, "SOME-FUTURE-KEY YES")
	require.False(t, bsu.Features)
}

func TestParseSupportLineNeverResetsConfigHostDiskFalse(t *testing.T) {
	bsu := dle.BSU{Config: true, Host: true, Disk: true}
	parseSupportLine(&bsu, "CONFIG NO")
	require.True(t, bsu.Config)
}
