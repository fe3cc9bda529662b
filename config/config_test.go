/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zmanda/amclient/dle"
)

type configTestTree struct {
	Application map[string]*VariableConfig
	Script      map[string]*VariableConfig
}

func TestConfigDefaults(t *testing.T) {
	c := New()
	require.Equal(t, defaultTmpdir, c.Tmpdir)
	require.Equal(t, defaultApplicationDir, c.ApplicationDir)
	require.Equal(t, "K", c.DisplayUnit)
	div, suffix, err := c.DisplayDivisor()
	require.NoError(t, err)
	require.Equal(t, int64(kb), div)
	require.Equal(t, "K", suffix)
}

func TestLoadEnvironmentOverridesDefault(t *testing.T) {
	require.NoError(t, os.Setenv(envTmpdir, "/var/amanda/tmp"))
	defer os.Unsetenv(envTmpdir)

	c := New()
	require.NoError(t, c.LoadEnvironment())
	require.Equal(t, "/var/amanda/tmp", c.Tmpdir)
}

func loadConfigTestTree(t *testing.T, b []byte) configTestTree {
	t.Helper()
	var tree configTestTree
	require.NoError(t, LoadConfigBytes(&tree, b))
	return tree
}

func TestRegisterAndLookupApplication(t *testing.T) {
	tree := loadConfigTestTree(t, []byte(`
	[application "gnutar-app"]
	plugin = amgtar
	`))

	c := New()
	app, err := c.RegisterApplication("gnutar-app", tree.Application["gnutar-app"])
	require.NoError(t, err)
	require.Equal(t, "amgtar", app.Plugin)

	got, err := c.Application("gnutar-app")
	require.NoError(t, err)
	require.Same(t, app, got)

	_, err = c.Application("missing")
	require.ErrorIs(t, err, ErrUnknownApplication)
}

func TestRegisterApplicationDuplicateRejected(t *testing.T) {
	c := New()
	_, err := c.RegisterApplication("dup", nil)
	require.NoError(t, err)
	_, err = c.RegisterApplication("dup", nil)
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestRegisterAndLookupScript(t *testing.T) {
	tree := loadConfigTestTree(t, []byte(`
	[script "pre-log"]
	plugin = amlog-script
	order = 2
	`))

	c := New()
	scr, err := c.RegisterScript("pre-log", tree.Script["pre-log"])
	require.NoError(t, err)
	require.Equal(t, "amlog-script", scr.Plugin)
	require.Equal(t, 2, scr.Order)

	got, err := c.Script("pre-log")
	require.NoError(t, err)
	require.Same(t, scr, got)
}

func TestRegisterScriptMapsExecuteOnAndWhere(t *testing.T) {
	tree := loadConfigTestTree(t, []byte(`
	[script "pre-log"]
	plugin = amlog-script
	execute-on = pre-host-amcheck
	execute-on = post-host-amcheck
	execute-where = client
	`))

	c := New()
	scr, err := c.RegisterScript("pre-log", tree.Script["pre-log"])
	require.NoError(t, err)
	require.Equal(t, dle.ExecPreHostAmcheck|dle.ExecPostHostAmcheck, scr.ExecuteOn)
	require.Equal(t, dle.ExecuteClient, scr.ExecuteWhere)
}

func TestRegisterScriptDefaultsToClientExecution(t *testing.T) {
	tree := loadConfigTestTree(t, []byte(`
	[script "noop"]
	plugin = amnoop-script
	`))

	c := New()
	scr, err := c.RegisterScript("noop", tree.Script["noop"])
	require.NoError(t, err)
	require.Equal(t, dle.ExecuteClient, scr.ExecuteWhere)
	require.Equal(t, dle.ExecuteOn(0), scr.ExecuteOn)
}

func TestLoadGlobalAppliesOverrides(t *testing.T) {
	var tree struct {
		Global VariableConfig
	}
	require.NoError(t, LoadConfigBytes(&tree, []byte(`
	[global]
	amandates = /etc/amandates
	gnutar-list-dir = /var/amanda/gnutar-lists
	display-unit = M
	debug-days = 10
	`)))

	c := New()
	require.NoError(t, c.LoadGlobal(&tree.Global))
	require.Equal(t, "/etc/amandates", c.Amandates)
	require.Equal(t, "/var/amanda/gnutar-lists", c.GnutarListDir)
	require.Equal(t, "M", c.DisplayUnit)
	require.Equal(t, int64(10), c.DebugDays)
}
