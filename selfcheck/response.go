/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package selfcheck

import (
	"fmt"
	"io"

	"github.com/zmanda/amclient/message"
)

// WriteResponse writes res in whichever of §6's two response formats
// the request's features selected: a single "MESSAGE JSON" line
// followed by the JSON array, or the legacy OK/ERROR line stream.
func WriteResponse(w io.Writer, res Result) error {
	if res.JSONMode {
		blob, err := message.FprintMessages(res.Messages)
		if err != nil {
			return fmt.Errorf("marshaling response: %w", err)
		}
		if _, err := fmt.Fprintln(w, "MESSAGE JSON"); err != nil {
			return err
		}
		_, err = w.Write(blob)
		return err
	}

	for _, m := range res.Messages {
		if _, err := fmt.Fprintln(w, legacyLine(m)); err != nil {
			return err
		}
	}
	return nil
}

// legacyLine renders one message the way a pre-MESSAGE-JSON client
// expects: "OK <text>" for a success, "ERROR <text>" for anything at
// Warning or worse, and the bare resolved text otherwise (an
// informational message has no single-letter prefix in the classic
// protocol).
func legacyLine(m message.Message) string {
	text := m.Resolve()
	switch {
	case m.Severity == message.Success:
		return "OK " + text
	case m.Severity >= message.Warning:
		return "ERROR " + text
	default:
		return text
	}
}
