/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package selfcheck

import (
	"os"
	"strings"

	"github.com/zmanda/amclient/config"
	"github.com/zmanda/amclient/dle"
	"github.com/zmanda/amclient/filterfile"
	"github.com/zmanda/amclient/message"
	"github.com/zmanda/amclient/security"
)

// checkOptions flags contradictory exclude/include combinations for
// the legacy GNUTAR and DUMP dumpers (check_options,
// original_source/client-src/selfcheck.c), tagging every finding with
// the DLE's own disk for the driver's per-DLE OK/ERROR guarantee.
func checkOptions(d *dle.DiskListEntry) []message.Message {
	var msgs []message.Message
	add := func(detail string) {
		msgs = append(msgs, message.Build("selfcheck/checks.go", 0, 3600004, message.Error, 0, "",
			map[string]string{"disk": d.Disk, "detail": detail}))
	}

	switch d.Program {
	case dle.ProgramGNUTar:
		if strings.HasPrefix(d.Device, "//") {
			if len(d.ExcludeFile) > 1 {
				add("a samba share accepts at most one exclude-file")
			}
			if len(d.ExcludeList) > 0 && !d.ExcludeOptional {
				add("a samba share requires exclude-optional alongside exclude-list")
			}
			if len(d.IncludeFile) > 0 {
				add("a samba share does not support include-file")
			}
			if len(d.IncludeList) > 0 && !d.IncludeOptional {
				add("a samba share requires include-optional alongside include-list")
			}
		}
	case dle.ProgramDump:
		if len(d.ExcludeFile) > 0 {
			add("DUMP does not support exclude-file")
		}
		if len(d.ExcludeList) > 0 {
			add("DUMP does not support exclude-list")
		}
		if len(d.IncludeFile) > 0 {
			add("DUMP does not support include-file")
		}
		if len(d.IncludeList) > 0 {
			add("DUMP does not support include-list")
		}
	}
	return msgs
}

// checkDisk is check_disk's host-environment portion (§7 item 2): the
// device must be reachable (skipped for the Application API, which
// probes its own target) and any requested filter files must compile.
func checkDisk(compiler *filterfile.Compiler, d *dle.DiskListEntry) []message.Message {
	var msgs []message.Message
	if d.Program != dle.ProgramApplication {
		if _, err := os.Stat(d.Device); err != nil {
			msgs = append(msgs, message.Build("selfcheck/checks.go", 0, 3600020, message.Error, 0, "",
				map[string]string{"device": d.Device, "errnostr": err.Error()}))
		}
	}
	if compiler == nil {
		return msgs
	}

	res, err := compiler.Compile(d, filterfile.NoPrivilege)
	if err != nil {
		msgs = append(msgs, message.Build("selfcheck/checks.go", 0, 3600021, message.Error, 0, "",
			map[string]string{"filename": d.Disk, "errnostr": err.Error()}))
		return msgs
	}
	return append(msgs, res.Messages...)
}

// checkSUIDPaths confirms the legacy dumper's privileged helper
// binary is one the security file permits to run as root
// (security_allow_program_as_root, §4.8).
func checkSUIDPaths(sec *security.File, d *dle.DiskListEntry, gnutarPath, bsdtarPath string) []message.Message {
	if sec == nil {
		return nil
	}
	var msgs []message.Message
	if d.Program == dle.ProgramGNUTar && !sec.AllowProgramAsRoot("amgtar", "gnutar_path", gnutarPath) {
		msgs = append(msgs, message.Build("selfcheck/checks.go", 0, 3600022, message.Error, 0, "",
			map[string]string{"program": gnutarPath, "errnostr": "not permitted by security file"}))
	}
	return msgs
}

// mergeApplicationProperties folds an Application record's registered
// properties (the "server" side, per the "Inheritance in the config
// grammar" design note) into the DLE's own request-supplied
// properties (the "client" side), reporting every merge conflict
// (P2) via the dedicated property-conflict codes.
func mergeApplicationProperties(cfg *config.Config, d *dle.DiskListEntry) []message.Message {
	if cfg == nil || d.Program != dle.ProgramApplication || d.Application == "" {
		return nil
	}
	app, err := cfg.Application(d.Application)
	if err != nil {
		return []message.Message{message.Build("selfcheck/checks.go", 0, 3600003, message.Error, 0, "",
			map[string]string{"disk": d.Disk})}
	}

	merged, conflicts := dle.MergeProperties(d.Properties, app.Properties)
	d.Properties = merged

	msgs := make([]message.Message, 0, len(conflicts))
	for _, c := range conflicts {
		code := 3600011
		if c.Reason == "priority-conflict" {
			code = 3600010
		}
		msgs = append(msgs, message.Build("selfcheck/checks.go", 0, code, message.Error, 0, "",
			map[string]string{"property": c.Property, "disk": d.Disk}))
	}
	return msgs
}
