/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command selfcheck is the client-side self-check entry point (§4.6):
// it reads a self-check request from stdin, runs every pre/post host
// and disk check it names, and writes the §6 response to stdout,
// grounded on original_source/client-src/selfcheck.c's main().
package main

import (
	"context"
	"os"

	"github.com/zmanda/amclient/config"
	"github.com/zmanda/amclient/filterfile"
	amlog "github.com/zmanda/amclient/log"
	"github.com/zmanda/amclient/security"
	"github.com/zmanda/amclient/selfcheck"
)

const filterLockPath = "/tmp/amanda/selfcheck-filter.lock"

func main() {
	os.Exit(run())
}

func run() int {
	lgr, err := amlog.NewStderrLogger("")
	if err != nil {
		// No stderr logger available on this platform (Windows);
		// fall back to a discard logger rather than aborting the run.
		lgr = amlog.NewDiscardLogger()
	}
	defer lgr.Close()

	cfg := config.New()
	if err := cfg.LoadEnvironment(); err != nil {
		lgr.Errorf("loading environment: %v", err)
		return 1
	}

	// A missing or unreadable security file disables SUID-path
	// enforcement rather than aborting the run; the gap itself is not
	// reported (checkSUIDPaths is a no-op against a nil *security.File).
	sec, err := security.Load("")
	if err != nil {
		sec = nil
	}

	filters := filterfile.New(cfg.Tmpdir, "selfcheck", int(cfg.DebugDays), filterLockPath)

	drv, err := selfcheck.NewDriver(cfg, sec, filters, "/bin/tar", "/usr/bin/bsdtar", lgr)
	if err != nil {
		lgr.Errorf("starting driver: %v", err)
		return 1
	}

	req, violation, err := selfcheck.ParseRequest(os.Stdin)
	if err != nil {
		lgr.Errorf("reading request: %v", err)
		return 1
	}
	if violation != nil {
		lgr.Warnf("protocol violation: %s", violation.Resolve())
		return 1
	}

	res := drv.Run(context.Background(), req)
	if err := selfcheck.WriteResponse(os.Stdout, res); err != nil {
		lgr.Errorf("writing response: %v", err)
		return 1
	}
	return res.ExitCode
}
