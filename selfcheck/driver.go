/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package selfcheck implements the client-side self-check phase
// (§4.6): it parses a self-check request, runs the host- and disk-
// level script hooks around each DLE's own checks, and produces the
// response §6 documents.
package selfcheck

import (
	"context"
	"fmt"

	uuid "github.com/hashicorp/go-uuid"

	"github.com/zmanda/amclient/config"
	"github.com/zmanda/amclient/dle"
	"github.com/zmanda/amclient/filterfile"
	amlog "github.com/zmanda/amclient/log"
	"github.com/zmanda/amclient/message"
	"github.com/zmanda/amclient/plugin"
	"github.com/zmanda/amclient/security"
)

// Driver holds everything one self-check run needs beyond the request
// itself: the process-wide config, the optional security-file policy,
// the filter-file compiler, and the paths the legacy dumpers' SUID
// helpers are checked against.
type Driver struct {
	Config     *config.Config
	Security   *security.File
	Filters    *filterfile.Compiler
	GnutarPath string
	BsdtarPath string

	// Log is the secondary diagnostic channel: every plugin spawn,
	// script failure, and phase transition this run hits is also
	// logged here, independent of whatever message.Collector picks up.
	// The Message registry stays the primary, structured channel a
	// caller parses; Log is for a human tailing the process.
	Log *amlog.Logger

	// Process/Component/Module label every emitted message (§7's
	// process-context fields); NewDriver puts this run's correlation id
	// in Module, so it is included on every message the same way.
	Process   string
	Component string
	Module    string
}

// NewDriver returns a Driver with a freshly generated run id folded
// into its Module label, so every message this run emits can be
// correlated back to one invocation even when several overlap in a
// shared log stream. A nil lgr is replaced with a discard logger so
// callers that don't care about the diagnostic channel need not guard
// every Log call.
func NewDriver(cfg *config.Config, sec *security.File, filters *filterfile.Compiler, gnutarPath, bsdtarPath string, lgr *amlog.Logger) (*Driver, error) {
	runID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("generating run id: %w", err)
	}
	if lgr == nil {
		lgr = amlog.NewDiscardLogger()
	}
	return &Driver{
		Config:     cfg,
		Security:   sec,
		Filters:    filters,
		GnutarPath: gnutarPath,
		BsdtarPath: bsdtarPath,
		Log:        lgr,
		Process:    "selfcheck",
		Component:  "client",
		Module:     runID,
	}, nil
}

// Result is everything Run produced: the messages to report and the
// exit code (§7's two-value contract: 0 once the request was
// processed at all, however many errors it turned up; 1 only for a
// protocol violation).
type Result struct {
	JSONMode bool
	Messages []message.Message
	ExitCode int
}

// Run executes one already-parsed self-check request (§4.6's full
// phase sequence): PRE_HOST_AMCHECK once against the union of every
// DLE's scripts, then PRE_DLE_AMCHECK/checks/POST_DLE_AMCHECK per DLE,
// then POST_HOST_AMCHECK once against that same union. Run does no
// parsing; a protocol violation is caught by ParseRequest before Run.
func (d *Driver) Run(ctx context.Context, req Request) Result {
	col := message.NewCollector()
	jsonMode := hasFeature(req.Options.Features, featureSelfcheckMessage)

	d.Log.Infof("run %s: starting self-check for %d entries", d.Module, len(req.Entries))

	hostRan := make(map[string]bool)
	union := unionScriptRefs(req.Entries)

	d.runHostPhase(ctx, col, plugin.PhasePreHostAmcheck, req.Options, union, hostRan)

	for _, entry := range req.Entries {
		d.checkEntry(ctx, col, req.Options, entry)
	}

	d.runHostPhase(ctx, col, plugin.PhasePostHostAmcheck, req.Options, union, hostRan)

	d.Log.Infof("run %s: finished, %d messages emitted", d.Module, len(col.Messages()))

	return Result{
		JSONMode: jsonMode,
		Messages: col.Messages(),
		ExitCode: 0,
	}
}

// unionScriptRefs collects every ScriptRef named across all entries,
// deduplicated by name, matching spec.md's ASCII diagram where
// PRE_HOST_AMCHECK/POST_HOST_AMCHECK run once per request rather than
// once per DLE (see the design note on host-phase invocation).
func unionScriptRefs(entries []Entry) []*dle.ScriptRef {
	seen := make(map[string]bool)
	var refs []*dle.ScriptRef
	for _, e := range entries {
		if e.DLE == nil {
			continue
		}
		for _, ref := range e.DLE.Scripts {
			if seen[ref.Name] {
				continue
			}
			seen[ref.Name] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

// runHostPhase runs phase against refs and absorbs every resulting
// message, tagging spawn/resolution failures as plugin-reported
// errors (§7 item 3) rather than aborting the run — a pre-*/post-*
// host phase failing never prevents the per-DLE checks that follow.
func (d *Driver) runHostPhase(ctx context.Context, col *message.Collector, phase plugin.Phase, opts Options, refs []*dle.ScriptRef, ran map[string]bool) {
	inv := plugin.Invocation{
		ApplicationDir: d.Config.ApplicationDir,
		Phase:          phase,
		Config:         opts.Config,
		Host:           opts.Hostname,
	}
	outcomes, err := plugin.RunPhase(ctx, inv, refs, d.resolveScript, ran)
	if err != nil {
		d.Log.Warnf("host phase %s: %v", phase, err)
		col.Add(d.stamp(message.Build("selfcheck/driver.go", 0, 3600040, message.Error, 0, "",
			map[string]string{"phase": string(phase), "errnostr": err.Error()})))
	}
	d.absorbScriptOutcomes(col, string(phase), outcomes)
}

// checkEntry runs one DLE's full pre-dle/checks/post-dle sequence,
// guaranteeing it ends with at least one OK or ERROR message tagged
// to this disk (§7's user-visible guarantee), whatever else happened.
func (d *Driver) checkEntry(ctx context.Context, col *message.Collector, opts Options, entry Entry) {
	disk := entry.DLE
	before := len(col.Messages())
	ran := make(map[string]bool)

	d.Log.Debugf("checking disk %s (device %s)", disk.Disk, disk.Device)

	inv := plugin.Invocation{
		ApplicationDir: d.Config.ApplicationDir,
		Phase:          plugin.PhasePreDLEAmcheck,
		Config:         opts.Config,
		Host:           opts.Hostname,
		Disk:           disk,
		Levels:         disk.Levels,
	}
	outcomes, err := plugin.RunPhase(ctx, inv, disk.Scripts, d.resolveScript, ran)
	if err != nil {
		col.Add(d.stamp(message.Build("selfcheck/driver.go", 0, 3600040, message.Error, 0, "",
			map[string]string{"phase": string(plugin.PhasePreDLEAmcheck), "disk": disk.Disk, "errnostr": err.Error()})))
	}
	d.absorbScriptOutcomes(col, disk.Disk, outcomes)

	for _, m := range checkOptions(disk) {
		col.Add(d.stamp(m))
	}
	for _, m := range mergeApplicationProperties(d.Config, disk) {
		col.Add(d.stamp(m))
	}
	for _, m := range checkDisk(d.Filters, disk) {
		col.Add(d.stamp(m))
	}
	for _, m := range checkSUIDPaths(d.Security, disk, d.GnutarPath, d.BsdtarPath) {
		col.Add(d.stamp(m))
	}

	if disk.Program == dle.ProgramApplication {
		d.runApplicationSelfcheck(ctx, col, opts, disk)
	}

	inv.Phase = plugin.PhasePostDLEAmcheck
	outcomes, err = plugin.RunPhase(ctx, inv, disk.Scripts, d.resolveScript, ran)
	if err != nil {
		col.Add(d.stamp(message.Build("selfcheck/driver.go", 0, 3600040, message.Error, 0, "",
			map[string]string{"phase": string(plugin.PhasePostDLEAmcheck), "disk": disk.Disk, "errnostr": err.Error()})))
	}
	d.absorbScriptOutcomes(col, disk.Disk, outcomes)

	if len(col.Messages()) == before {
		col.Add(d.stamp(message.Build("selfcheck/driver.go", 0, 3600099, message.Success, 0, "",
			map[string]string{"disk": disk.Disk})))
	}
	d.Log.Debugf("disk %s: %d messages", disk.Disk, len(col.Messages())-before)
}

// runApplicationSelfcheck probes the Application's plugin for its
// backup-support capabilities, then invokes its "selfcheck"
// subcommand (§4.5.1/§4.5.2's Application-API variant).
func (d *Driver) runApplicationSelfcheck(ctx context.Context, col *message.Collector, opts Options, disk *dle.DiskListEntry) {
	app, err := d.Config.Application(disk.Application)
	if err != nil {
		d.Log.Errorf("disk %s: unknown application %q", disk.Disk, disk.Application)
		col.Add(d.stamp(message.Build("selfcheck/driver.go", 0, 3600003, message.Error, 0, "",
			map[string]string{"disk": disk.Disk, "application": disk.Application})))
		return
	}

	bsu, err := plugin.Probe(ctx, d.Config.ApplicationDir, app.Plugin)
	if err != nil {
		d.Log.Errorf("disk %s: probing plugin %s: %v", disk.Disk, app.Plugin, err)
		col.Add(d.stamp(message.Build("selfcheck/driver.go", 0, 4600001, message.Error, 0, "",
			map[string]string{"plugin": app.Plugin, "errnostr": err.Error()})))
		return
	}

	req := plugin.SelfcheckRequest{
		Config:      opts.Config,
		Host:        opts.Hostname,
		Disk:        disk,
		MessageJSON: bsu.MessageSelfcheckJSON,
		IndexLine:   disk.CreateIndex && bsu.IndexLine,
		Record:      disk.Record && bsu.Record,
	}
	out, err := plugin.RunSelfcheck(ctx, d.Config.ApplicationDir, app.Plugin, req)
	if err != nil {
		col.Add(d.stamp(message.Build("selfcheck/driver.go", 0, 3600040, message.Error, 0, "",
			map[string]string{"phase": "selfcheck", "disk": disk.Disk, "errnostr": err.Error()})))
		return
	}
	for _, r := range out.Messages {
		col.Add(d.fromReceived(r, disk.Disk))
	}
	for _, e := range out.Errors {
		col.Add(d.stamp(message.Build("selfcheck/driver.go", 0, 3600040, message.Error, 0, "",
			map[string]string{"phase": "selfcheck", "disk": disk.Disk, "errnostr": e})))
	}
}

func (d *Driver) resolveScript(name string) (*dle.Script, error) {
	return d.Config.Script(name)
}

// absorbScriptOutcomes folds every outcome's messages and errors into
// col, tagging plain script errors (spawn/stderr output with no
// structured message of its own) with the shared plugin-error code.
func (d *Driver) absorbScriptOutcomes(col *message.Collector, disk string, outcomes []plugin.Outcome) {
	for _, out := range outcomes {
		for _, r := range out.Messages {
			col.Add(d.fromReceived(r, disk))
		}
		for _, e := range out.Errors {
			col.Add(d.stamp(message.Build("selfcheck/driver.go", 0, 3600040, message.Error, 0, "",
				map[string]string{"disk": disk, "errnostr": e})))
		}
		if out.Signaled {
			col.Add(d.stamp(message.Build("selfcheck/driver.go", 0, 3600041, message.Error, 0, "",
				map[string]string{"disk": disk})))
		}
	}
}

// fromReceived rebuilds a full Message from a Received value (the
// shape plugin output parsing already reduced it to), re-stamping the
// process context this driver owns.
func (d *Driver) fromReceived(r message.Received, disk string) message.Message {
	args := make(map[string]string, len(r.Args)+1)
	for k, v := range r.Args {
		args[k] = v
	}
	if _, ok := args["disk"]; !ok && disk != "" {
		args["disk"] = disk
	}
	m := message.Build("plugin", 0, r.Code, r.Severity, 0, "", args)
	return d.stamp(m)
}

func (d *Driver) stamp(m message.Message) message.Message {
	return m.WithProcessContext(d.Process, "", d.Component, d.Module)
}
