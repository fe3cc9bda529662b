/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package selfcheck

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmanda/amclient/config"
	"github.com/zmanda/amclient/dle"
)

func TestCheckOptionsSambaShareRejectsIncludeFile(t *testing.T) {
	d := dle.NewDiskListEntry("/cifs")
	d.Device = "//fileserver/share"
	d.Program = dle.ProgramGNUTar
	d.IncludeFile = []string{"/etc/a.incl"}

	msgs := checkOptions(d)
	require.Len(t, msgs, 1)
	require.Equal(t, 3600004, msgs[0].Code)
}

func TestCheckOptionsDumpRejectsExcludeList(t *testing.T) {
	d := dle.NewDiskListEntry("/var")
	d.Program = dle.ProgramDump
	d.ExcludeList = []string{"/var/excludes"}

	msgs := checkOptions(d)
	require.Len(t, msgs, 1)
	require.Equal(t, 3600004, msgs[0].Code)
}

func TestCheckOptionsCleanDiskReportsNothing(t *testing.T) {
	d := dle.NewDiskListEntry("/var")
	d.Program = dle.ProgramDump
	require.Empty(t, checkOptions(d))
}

// P2: property merge priority conflicts surface via the dedicated
// merge-conflict codes, and a clean merge reports nothing.
func TestMergeApplicationPropertiesPriorityConflict(t *testing.T) {
	cfg := config.New()
	app, err := cfg.RegisterApplication("app-postgres", nil)
	require.NoError(t, err)
	app.Properties.Set("compression", &dle.PropertyValue{Values: []string{"server-wins"}, Priority: true})

	d := dle.NewDiskListEntry("/pg")
	d.Program = dle.ProgramApplication
	d.Application = "app-postgres"
	d.Properties.Set("compression", &dle.PropertyValue{Values: []string{"client-wins"}, Priority: true})

	msgs := mergeApplicationProperties(cfg, d)
	require.Len(t, msgs, 1)
	require.Equal(t, 3600010, msgs[0].Code)
}

func TestMergeApplicationPropertiesUnknownApplication(t *testing.T) {
	cfg := config.New()
	d := dle.NewDiskListEntry("/pg")
	d.Program = dle.ProgramApplication
	d.Application = "missing"

	msgs := mergeApplicationProperties(cfg, d)
	require.Len(t, msgs, 1)
	require.Equal(t, 3600003, msgs[0].Code)
}

func TestMergeApplicationPropertiesNonApplicationIsNoop(t *testing.T) {
	cfg := config.New()
	d := dle.NewDiskListEntry("/var")
	d.Program = dle.ProgramDump
	require.Empty(t, mergeApplicationProperties(cfg, d))
}
