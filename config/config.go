/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config is the configuration adapter: it consumes an
// already-parsed key/value tree (the config-file grammar itself is
// out of scope) and exposes typed accessors plus the name-indexed
// Application/Script lookup tables the rest of the core consults by
// name rather than by pointer (see the "Cyclic references" design
// note). A typical caller does:
//
//	var vc config.VariableConfig
//	// ... populated by the out-of-scope parser ...
//	cfg := config.New()
//	if err := cfg.LoadGlobal(&vc); err != nil {
//		return err
//	}
//	if err := cfg.LoadEnvironment(); err != nil {
//		return err
//	}
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zmanda/amclient/dle"
)

const (
	envTmpdir        string = `AMANDA_TMPDIR`
	envApplicationDir string = `APPLICATION_DIR`

	defaultTmpdir        = `/tmp/amanda`
	defaultApplicationDir = `/usr/lib/amanda/application`
	defaultDisplayUnit    = `K`
	defaultDebugDays      = 4
)

var (
	ErrUnknownApplication = errors.New("no Application record registered under that name")
	ErrUnknownScript      = errors.New("no Script record registered under that name")
	ErrDuplicateName      = errors.New("name already registered")
)

// globalFields is the destination struct VariableConfig.MapTo fills
// for the "[global]"-equivalent section of the parsed config tree;
// field names are mapped via the teacher's '_'->'-' nameMapper.
type globalFields struct {
	Amandates      string
	Gnutar_List_Dir string
	Display_Unit   string
	Debug_Days     int64
}

// Config is the configuration adapter (component I): it holds the
// process-wide paths and knobs every other component reads, plus the
// Application/Script lookup tables owned here per the "Cyclic
// references" design note (DLEs hold names, never pointers).
type Config struct {
	Tmpdir         string
	ApplicationDir string
	Amandates      string
	GnutarListDir  string
	DisplayUnit    string
	DebugDays      int64

	applications map[string]*dle.Application
	scripts      map[string]*dle.Script
}

// New returns a Config with every field at its documented default.
func New() *Config {
	return &Config{
		Tmpdir:         defaultTmpdir,
		ApplicationDir: defaultApplicationDir,
		DisplayUnit:    defaultDisplayUnit,
		DebugDays:      defaultDebugDays,
		applications:   make(map[string]*dle.Application),
		scripts:        make(map[string]*dle.Script),
	}
}

// LoadEnvironment reads AMANDA_TMPDIR and APPLICATION_DIR (§6
// "Environment"), leaving Config's current value in place (which may
// already have come from LoadGlobal) when the variable is unset.
func (c *Config) LoadEnvironment() error {
	if err := LoadEnvVar(&c.Tmpdir, envTmpdir, c.Tmpdir); err != nil {
		return fmt.Errorf("failed to load %s: %w", envTmpdir, err)
	}
	if err := LoadEnvVar(&c.ApplicationDir, envApplicationDir, c.ApplicationDir); err != nil {
		return fmt.Errorf("failed to load %s: %w", envApplicationDir, err)
	}
	return nil
}

// LoadGlobal maps the parsed global section into Config via
// VariableConfig.MapTo, then applies the documented defaults to any
// field the tree left unset.
func (c *Config) LoadGlobal(vc *VariableConfig) error {
	var gf globalFields
	if vc != nil {
		if err := vc.MapTo(&gf); err != nil {
			return fmt.Errorf("failed to map global config section: %w", err)
		}
	}
	if gf.Amandates != "" {
		c.Amandates = gf.Amandates
	}
	if gf.Gnutar_List_Dir != "" {
		c.GnutarListDir = gf.Gnutar_List_Dir
	}
	if gf.Display_Unit != "" {
		c.DisplayUnit = gf.Display_Unit
	}
	if gf.Debug_Days != 0 {
		c.DebugDays = gf.Debug_Days
	}
	return nil
}

// DisplayDivisor returns the configured display-unit's divisor and
// canonical suffix letter, used by the message registry's size:
// interpolation format.
func (c *Config) DisplayDivisor() (int64, string, error) {
	return ParseDisplayUnit(c.DisplayUnit)
}

// RegisterApplication maps vc into an Application record and stores
// it under name, the form the self-check driver's dumptype loader
// uses when it walks the parsed config tree's application sub-trees.
func (c *Config) RegisterApplication(name string, vc *VariableConfig) (*dle.Application, error) {
	if _, exists := c.applications[name]; exists {
		return nil, fmt.Errorf("application %q: %w", name, ErrDuplicateName)
	}
	app := &dle.Application{Name: name, Properties: make(dle.PropertyMap)}
	if vc != nil {
		type mapped struct {
			Plugin      string
			Client_Name string
		}
		var m mapped
		if err := vc.MapTo(&m); err != nil {
			return nil, fmt.Errorf("application %q: %w", name, err)
		}
		app.Plugin = m.Plugin
		app.ClientName = m.Client_Name
	}
	c.applications[name] = app
	return app, nil
}

// Application looks up a previously registered Application by name.
func (c *Config) Application(name string) (*dle.Application, error) {
	app, ok := c.applications[name]
	if !ok {
		return nil, ErrUnknownApplication
	}
	return app, nil
}

// RegisterScript maps vc into a Script record and stores it under
// name.
func (c *Config) RegisterScript(name string, vc *VariableConfig) (*dle.Script, error) {
	if _, exists := c.scripts[name]; exists {
		return nil, fmt.Errorf("script %q: %w", name, ErrDuplicateName)
	}
	scr := &dle.Script{Name: name, Properties: make(dle.PropertyMap)}
	if vc != nil {
		type mapped struct {
			Plugin           string
			Client_Name      string
			Order            int64
			Single_Execution bool
			Execute_On       []string
			Execute_Where    string
		}
		var m mapped
		if err := vc.MapTo(&m); err != nil {
			return nil, fmt.Errorf("script %q: %w", name, err)
		}
		scr.Plugin = m.Plugin
		scr.ClientName = m.Client_Name
		scr.Order = int(m.Order)
		scr.SingleExecution = m.Single_Execution
		scr.ExecuteOn = parseExecuteOn(m.Execute_On)
		scr.ExecuteWhere = parseExecuteWhere(m.Execute_Where)
	}
	c.scripts[name] = scr
	return scr, nil
}

// executeOnNames maps the config grammar's comma-separated
// "execute_on" tokens (the phase names amanda.conf's "define script"
// stanzas use) onto the dle.ExecuteOn bits plugin.Phase.bit() also
// recognizes by the same names.
var executeOnNames = map[string]dle.ExecuteOn{
	"pre-host-amcheck":    dle.ExecPreHostAmcheck,
	"pre-dle-amcheck":     dle.ExecPreDLEAmcheck,
	"post-dle-amcheck":    dle.ExecPostDLEAmcheck,
	"post-host-amcheck":   dle.ExecPostHostAmcheck,
	"pre-host-estimate":   dle.ExecPreHostEstimate,
	"pre-dle-estimate":    dle.ExecPreDLEEstimate,
	"post-dle-estimate":   dle.ExecPostDLEEstimate,
	"post-host-estimate":  dle.ExecPostHostEstimate,
	"pre-host-backup":     dle.ExecPreHostBackup,
	"pre-dle-backup":      dle.ExecPreDLEBackup,
	"post-dle-backup":     dle.ExecPostDLEBackup,
	"post-host-backup":    dle.ExecPostHostBackup,
	"pre-host-recover":    dle.ExecPreHostRecover,
	"pre-dle-recover":     dle.ExecPreDLERecover,
	"post-dle-recover":    dle.ExecPostDLERecover,
	"post-host-recover":   dle.ExecPostHostRecover,
	"inter-level-recover": dle.ExecInterLevelRecover,
}

// parseExecuteOn ORs together every recognized token; an unrecognized
// token is silently ignored rather than rejected, matching the config
// adapter's stance that grammar validation is out of scope (see the
// package doc comment).
func parseExecuteOn(tokens []string) dle.ExecuteOn {
	var bits dle.ExecuteOn
	for _, t := range tokens {
		bits |= executeOnNames[strings.ToLower(strings.TrimSpace(t))]
	}
	return bits
}

// parseExecuteWhere defaults to ExecuteClient: a Script this core
// never sees an explicit execute_where for is a client-side script,
// which is the only kind this core's phase dispatch ever runs.
func parseExecuteWhere(s string) dle.ExecuteWhere {
	if strings.EqualFold(strings.TrimSpace(s), "server") {
		return dle.ExecuteServer
	}
	return dle.ExecuteClient
}

// Script looks up a previously registered Script by name.
func (c *Config) Script(name string) (*dle.Script, error) {
	scr, ok := c.scripts[name]
	if !ok {
		return nil, ErrUnknownScript
	}
	return scr, nil
}
