/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package plugin

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/zmanda/amclient/dle"
	"github.com/zmanda/amclient/message"
)

// Phase names one of the script lifecycle hooks §4.5.2 dispatches to.
type Phase string

const (
	PhasePreHostAmcheck    Phase = "pre-host-amcheck"
	PhasePreDLEAmcheck     Phase = "pre-dle-amcheck"
	PhasePostDLEAmcheck    Phase = "post-dle-amcheck"
	PhasePostHostAmcheck   Phase = "post-host-amcheck"
	PhasePreHostEstimate   Phase = "pre-host-estimate"
	PhasePreDLEEstimate    Phase = "pre-dle-estimate"
	PhasePostDLEEstimate   Phase = "post-dle-estimate"
	PhasePostHostEstimate  Phase = "post-host-estimate"
	PhasePreHostBackup     Phase = "pre-host-backup"
	PhasePreDLEBackup      Phase = "pre-dle-backup"
	PhasePostDLEBackup     Phase = "post-dle-backup"
	PhasePostHostBackup    Phase = "post-host-backup"
	PhasePreHostRecover    Phase = "pre-host-recover"
	PhasePreDLERecover     Phase = "pre-dle-recover"
	PhasePostDLERecover    Phase = "post-dle-recover"
	PhasePostHostRecover   Phase = "post-host-recover"
	PhaseInterLevelRecover Phase = "inter-level-recover"
)

// bit returns the dle.ExecuteOn bit this phase corresponds to.
func (p Phase) bit() dle.ExecuteOn {
	switch p {
	case PhasePreHostAmcheck:
		return dle.ExecPreHostAmcheck
	case PhasePreDLEAmcheck:
		return dle.ExecPreDLEAmcheck
	case PhasePostDLEAmcheck:
		return dle.ExecPostDLEAmcheck
	case PhasePostHostAmcheck:
		return dle.ExecPostHostAmcheck
	case PhasePreHostEstimate:
		return dle.ExecPreHostEstimate
	case PhasePreDLEEstimate:
		return dle.ExecPreDLEEstimate
	case PhasePostDLEEstimate:
		return dle.ExecPostDLEEstimate
	case PhasePostHostEstimate:
		return dle.ExecPostHostEstimate
	case PhasePreHostBackup:
		return dle.ExecPreHostBackup
	case PhasePreDLEBackup:
		return dle.ExecPreDLEBackup
	case PhasePostDLEBackup:
		return dle.ExecPostDLEBackup
	case PhasePostHostBackup:
		return dle.ExecPostHostBackup
	case PhasePreHostRecover:
		return dle.ExecPreHostRecover
	case PhasePreDLERecover:
		return dle.ExecPreDLERecover
	case PhasePostDLERecover:
		return dle.ExecPostDLERecover
	case PhasePostHostRecover:
		return dle.ExecPostHostRecover
	case PhaseInterLevelRecover:
		return dle.ExecInterLevelRecover
	}
	return 0
}

// Invocation is the context one script invocation runs under.
type Invocation struct {
	ApplicationDir string
	Phase          Phase
	Config         string
	Host           string
	Disk           *dle.DiskListEntry
	Levels         []int
}

// Outcome is what running one script produced.
type Outcome struct {
	Properties dle.PropertyMap
	Output     []string
	Messages   []message.Received
	ExitStatus int
	Signaled   bool
	Errors     []string
}

// Eligible reports whether scr runs client-side during phase, per the
// §4.5.2 execute_where/execute_on gate.
func Eligible(scr *dle.Script, phase Phase) bool {
	return scr.ExecuteWhere == dle.ExecuteClient && scr.ExecuteOn&phase.bit() != 0
}

// RunPhase runs every eligible, not-yet-single-executed script hooked
// to phase, in SortedScripts order (P10), against a shared resolver
// that turns each ScriptRef into its Script record. Per-script spawn
// failures are aggregated with go-multierror rather than aborting the
// remaining scripts, matching the driver's failure-containment policy
// for pre-* phases (§4.6); callers of a post-* phase treat a non-nil
// error the same way the driver does for that phase.
func RunPhase(ctx context.Context, inv Invocation, refs []*dle.ScriptRef, resolve func(name string) (*dle.Script, error), ran map[string]bool) ([]Outcome, error) {
	var outcomes []Outcome
	var errs *multierror.Error

	for _, ref := range dle.SortedScripts(refs) {
		scr, err := resolve(ref.Name)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("script %s: %w", ref.Name, err))
			continue
		}
		if !Eligible(scr, inv.Phase) {
			continue
		}
		if scr.SingleExecution && ran[scr.Plugin] {
			continue
		}
		out, err := RunScript(ctx, inv, scr)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if scr.SingleExecution {
			ran[scr.Plugin] = true
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, errs.ErrorOrNil()
}

// RunScript invokes scr for inv (step 1-5 of §4.5.2): builds argv,
// pipe-spawns the child, and parses its stdout/stderr.
func RunScript(ctx context.Context, inv Invocation, scr *dle.Script) (Outcome, error) {
	argv := buildScriptArgv(inv, scr)
	res, err := spawn(ctx, inv.ApplicationDir, scr.Plugin, argv)
	if err != nil {
		return Outcome{}, fmt.Errorf("script %s (%s): %w", scr.Name, inv.Phase, err)
	}
	return parseOutcome(res, fmt.Sprintf("%s: error", scr.Plugin)), nil
}

// buildScriptArgv constructs [plugin, phase, --execute-where client,
// ...] per §4.5.2 step 1.
func buildScriptArgv(inv Invocation, scr *dle.Script) []string {
	argv := []string{scr.Plugin, string(inv.Phase), "--execute-where", "client"}
	if inv.Config != "" {
		argv = append(argv, "--config", inv.Config)
	}
	if inv.Host != "" {
		argv = append(argv, "--host", inv.Host)
	}
	if inv.Disk != nil {
		argv = append(argv, "--disk", inv.Disk.Disk)
		if inv.Disk.Device != "" {
			argv = append(argv, "--device", inv.Disk.Device)
		}
	}
	for _, l := range inv.Levels {
		argv = append(argv, "--level", strconv.Itoa(l))
	}
	argv = append(argv, propertyArgs(scr.Properties)...)
	return argv
}

// propertyArgs marshals a PropertyMap into repeated "--<key> <value>"
// pairs, contiguous per key in a stable (sorted) key order — the
// wire's own ordering of values within one key is preserved.
func propertyArgs(props dle.PropertyMap) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var argv []string
	for _, k := range keys {
		flag := "--" + dle.NormalizePropertyName(k)
		for _, v := range props[k].Values {
			argv = append(argv, flag, v)
		}
	}
	return argv
}

// parseOutcome implements §4.5.2 steps 3-5: PROPERTY lines, the
// MESSAGE JSON header, everything else buffered verbatim as output,
// and the exit/signal translation.
func parseOutcome(res runResult, stderrPrefix string) Outcome {
	out := Outcome{Properties: make(dle.PropertyMap), ExitStatus: res.ExitStatus, Signaled: res.Signaled}

	for i := 0; i < len(res.Stdout); i++ {
		line := res.Stdout[i]
		switch {
		case line == "MESSAGE JSON":
			blob := strings.Join(res.Stdout[i+1:], "\n")
			msgs, err := message.ParseMessages([]byte(blob))
			if err != nil {
				out.Errors = append(out.Errors, fmt.Sprintf("malformed MESSAGE JSON: %v", err))
			} else {
				out.Messages = append(out.Messages, msgs...)
			}
			i = len(res.Stdout)
		case strings.HasPrefix(line, "PROPERTY "):
			if !applyPropertyLine(out.Properties, line) {
				out.Errors = append(out.Errors, fmt.Sprintf("malformed PROPERTY line: %s", line))
			}
		default:
			out.Output = append(out.Output, line)
		}
	}

	for _, line := range res.Stderr {
		out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", stderrPrefix, line))
	}
	return out
}

// applyPropertyLine parses "PROPERTY KEY VALUE..." and appends VALUE
// to KEY's value list, reporting false if the line has no key.
func applyPropertyLine(props dle.PropertyMap, line string) bool {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 || fields[1] == "" {
		return false
	}
	key := fields[1]
	value := ""
	if len(fields) == 3 {
		value = fields[2]
	}
	pv, ok := props.Get(key)
	if !ok {
		pv = &dle.PropertyValue{}
		props.Set(key, pv)
	}
	pv.Values = append(pv.Values, value)
	return true
}
