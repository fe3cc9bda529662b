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
	"strings"

	"github.com/zmanda/amclient/dle"
	"github.com/zmanda/amclient/message"
)

// SelfcheckRequest carries the flags that shape an Application's
// "selfcheck" invocation, resolved by the caller against the plugin's
// BSU and the DLE's own settings before RunSelfcheck is called.
type SelfcheckRequest struct {
	Config      string
	Host        string
	Disk        *dle.DiskListEntry
	MessageJSON bool // BSU declares a message-json capability for this phase
	IndexLine   bool // create_index requested and BSU.IndexLine
	Record      bool // requested and BSU.Record
	CalcSize    bool // estimate mode includes calcsize and BSU.CalcSize
}

// RunSelfcheck invokes "<plugin> selfcheck ..." (the Application-API
// execution variant of §4.5.2) and maps its OK/ERROR/MESSAGE JSON
// stdout into structured messages (codes 3600056/3600057/3600058).
func RunSelfcheck(ctx context.Context, applicationDir, plugin string, req SelfcheckRequest) (Outcome, error) {
	argv := buildSelfcheckArgv(plugin, req)
	res, err := spawn(ctx, applicationDir, plugin, argv)
	if err != nil {
		return Outcome{}, fmt.Errorf("application %s: selfcheck: %w", plugin, err)
	}
	return parseSelfcheckOutcome(res, plugin), nil
}

func buildSelfcheckArgv(plugin string, req SelfcheckRequest) []string {
	argv := []string{plugin, "selfcheck"}
	if req.MessageJSON {
		argv = append(argv, "--message", "json")
	} else {
		argv = append(argv, "--message", "line")
	}
	if req.Config != "" {
		argv = append(argv, "--config", req.Config)
	}
	if req.Host != "" {
		argv = append(argv, "--host", req.Host)
	}
	if req.Disk != nil {
		argv = append(argv, "--disk", req.Disk.Disk)
		if req.Disk.Device != "" {
			argv = append(argv, "--device", req.Disk.Device)
		}
	}
	if req.IndexLine {
		argv = append(argv, "--index", "line")
	}
	if req.Record {
		argv = append(argv, "--record")
	}
	if req.CalcSize {
		argv = append(argv, "--calcsize")
	}
	if req.Disk != nil {
		argv = append(argv, propertyArgs(req.Disk.Properties)...)
	}
	return argv
}

// parseSelfcheckOutcome maps OK/ERROR/MESSAGE JSON stdout lines to
// message.Received values carrying codes 3600056/3600057/3600058.
func parseSelfcheckOutcome(res runResult, plugin string) Outcome {
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
				for _, m := range msgs {
					if m.Code == 0 {
						m.Code = 3600058
					}
					out.Messages = append(out.Messages, m)
				}
			}
			i = len(res.Stdout)
		case strings.HasPrefix(line, "OK "):
			out.Messages = append(out.Messages, message.Received{
				Code: 3600056, Severity: message.Success, Text: strings.TrimPrefix(line, "OK "),
			})
		case strings.HasPrefix(line, "ERROR"):
			out.Messages = append(out.Messages, message.Received{
				Code: 3600057, Severity: message.Error, Text: strings.TrimSpace(strings.TrimPrefix(line, "ERROR")),
			})
		default:
			out.Output = append(out.Output, line)
		}
	}

	for _, line := range res.Stderr {
		out.Errors = append(out.Errors, fmt.Sprintf("%s: error: %s", plugin, line))
	}
	return out
}
