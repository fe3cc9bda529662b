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
	"strconv"
	"strings"

	"github.com/zmanda/amclient/dle"
)

// Probe runs "<applicationDir>/<program> support" and parses its
// stdout into a BSU (§4.5.1). Non-empty stderr implies failure; the
// child's exit must be normal with status 0.
func Probe(ctx context.Context, applicationDir, program string) (dle.BSU, error) {
	res, err := spawn(ctx, applicationDir, program, []string{"support"})
	if err != nil {
		return dle.BSU{}, fmt.Errorf("plugin %s: support probe: %w", program, err)
	}
	if len(res.Stderr) > 0 {
		return dle.BSU{}, fmt.Errorf("plugin %s: support probe wrote to stderr: %s", program, strings.Join(res.Stderr, "; "))
	}
	if res.Signaled {
		return dle.BSU{}, fmt.Errorf("plugin %s: support probe killed by signal", program)
	}
	if res.ExitStatus != 0 {
		return dle.BSU{}, fmt.Errorf("plugin %s: support probe exited %d", program, res.ExitStatus)
	}

	bsu := dle.BSU{Config: true, Host: true, Disk: true}
	for _, line := range res.Stdout {
		parseSupportLine(&bsu, line)
	}
	if bsu.DataPathSet == 0 {
		bsu.DataPathSet = dle.DataPathSetAmanda
	}
	return bsu, nil
}

// parseSupportLine applies one "KEY [VALUE]" support line to bsu.
// Unrecognized keys are ignored, matching the original probe's
// tolerance for forward-compatible plugins.
func parseSupportLine(bsu *dle.BSU, line string) {
	key, value, _ := strings.Cut(line, " ")
	yes := value == "YES"

	// Boolean keys are set true on an explicit YES and otherwise left
	// untouched (never reset to false), matching the original probe:
	// a key that never appears, or appears with a non-YES value,
	// leaves the field at its zero value (or, for Config/Host/Disk,
	// its pre-seeded true default).
	switch key {
	case "CONFIG":
		bsu.Config = bsu.Config || yes
	case "HOST":
		bsu.Host = bsu.Host || yes
	case "DISK":
		bsu.Disk = bsu.Disk || yes
	case "RECORD":
		bsu.Record = bsu.Record || yes
	case "INCLUDE-FILE":
		bsu.IncludeFile = bsu.IncludeFile || yes
	case "INCLUDE-LIST":
		bsu.IncludeList = bsu.IncludeList || yes
	case "INCLUDE-LIST-GLOB":
		bsu.IncludeListGlob = bsu.IncludeListGlob || yes
	case "INCLUDE-OPTIONAL":
		bsu.IncludeOptional = bsu.IncludeOptional || yes
	case "EXCLUDE-FILE":
		bsu.ExcludeFile = bsu.ExcludeFile || yes
	case "EXCLUDE-LIST":
		bsu.ExcludeList = bsu.ExcludeList || yes
	case "EXCLUDE-LIST-GLOB":
		bsu.ExcludeListGlob = bsu.ExcludeListGlob || yes
	case "EXCLUDE-OPTIONAL":
		bsu.ExcludeOptional = bsu.ExcludeOptional || yes
	case "COLLECTION":
		bsu.Collection = bsu.Collection || yes
	case "CALCSIZE":
		bsu.CalcSize = bsu.CalcSize || yes
	case "CLIENT-ESTIMATE":
		bsu.ClientEstimate = bsu.ClientEstimate || yes
	case "MULTI-ESTIMATE":
		bsu.MultiEstimate = bsu.MultiEstimate || yes
	case "DISCOVER":
		bsu.Discover = bsu.Discover || yes
	case "AMFEATURES":
		bsu.Features = bsu.Features || yes
	case "DAR":
		bsu.DAR = bsu.DAR || yes
	case "STATE-STREAM":
		bsu.StateStream = bsu.StateStream || yes
	case "RECOVER-DUMP-STATE-FILE":
		bsu.RecoverDumpState = bsu.RecoverDumpState || yes
	case "INDEX-LINE":
		bsu.IndexLine = bsu.IndexLine || yes
	case "INDEX-XML":
		bsu.IndexXML = bsu.IndexXML || yes
	case "MESSAGE-LINE":
		bsu.MessageLine = bsu.MessageLine || yes
	case "MESSAGE-XML":
		bsu.MessageXML = bsu.MessageXML || yes
	case "MESSAGE-SELFCHECK-JSON":
		bsu.MessageSelfcheckJSON = bsu.MessageSelfcheckJSON || yes
	case "MESSAGE-ESTIMATE-JSON":
		bsu.MessageEstimateJSON = bsu.MessageEstimateJSON || yes
	case "MESSAGE-BACKUP-JSON":
		bsu.MessageBackupJSON = bsu.MessageBackupJSON || yes
	case "MESSAGE-RESTORE-JSON":
		bsu.MessageRestoreJSON = bsu.MessageRestoreJSON || yes
	case "MESSAGE-VALIDATE-JSON":
		bsu.MessageValidateJSON = bsu.MessageValidateJSON || yes
	case "MESSAGE-INDEX-JSON":
		bsu.MessageIndexJSON = bsu.MessageIndexJSON || yes
	case "MAX-LEVEL":
		if n, err := strconv.Atoi(value); err == nil {
			bsu.MaxLevel = n
		}
	case "RECOVER-MODE":
		if strings.EqualFold(value, "SMB") {
			bsu.SMBRecoverMode = true
		}
	case "DATA-PATH":
		switch strings.ToUpper(value) {
		case "AMANDA":
			bsu.DataPathSet |= dle.DataPathSetAmanda
		case "DIRECTTCP":
			bsu.DataPathSet |= dle.DataPathSetDirectTCP
		}
	case "RECOVER-PATH":
		switch strings.ToUpper(value) {
		case "CWD":
			bsu.RecoverPathSet |= dle.RecoverPathCWD
		case "REMOTE":
			bsu.RecoverPathSet |= dle.RecoverPathRemote
		}
	}
}
