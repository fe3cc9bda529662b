/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveBasicArgs(t *testing.T) {
	m := Build("selfcheck.go", 42, 3600003, Error, 1024, "K", map[string]string{"disk": "/var"})
	require.Equal(t, "unknown dumptype /var", m.Resolve())
}

func TestResolveMissingArgIsNone(t *testing.T) {
	m := Build("selfcheck.go", 1, 3600003, Error, 1024, "K", nil)
	require.Equal(t, "unknown dumptype NONE", m.Resolve())
}

func TestResolveSizeFormat(t *testing.T) {
	m := Build("selfcheck.go", 1, 4600002, Error, 1024, "K", map[string]string{
		"size": "2048", "avail": "1024", "disk": "/var",
	})
	require.Equal(t, "size 2 KB exceeds available 1 KB for /var", m.Resolve())
}

func TestResolveErrno(t *testing.T) {
	m := Build("selfcheck.go", 1, 3600020, Error, 1024, "K", map[string]string{
		"device": "/dev/sda1", "errno": "2", // ENOENT
	})
	r := m.Resolve()
	require.Contains(t, r, "no such file or directory")
}

func TestJSONEscaping(t *testing.T) {
	m := Build("selfcheck.go", 1, 3600003, Error, 1024, "K", map[string]string{"disk": `ba"ckslash\here`})
	r := m.Resolve()
	require.Contains(t, r, `\"`)
	require.Contains(t, r, `\\`)
}

func TestMarshalRoundTrip(t *testing.T) {
	m := Build("selfcheck.go", 7, 3600003, Error, 1024, "K", map[string]string{"disk": "/var"}).
		WithProcessContext("amcheck", "host1", "selfcheck", "disk")
	b, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, "unknown dumptype /var", decoded["message"])
	require.Equal(t, "error", decoded["severity"])
	require.Equal(t, "amcheck", decoded["process"])
}

func TestSeverityOrdering(t *testing.T) {
	require.True(t, Info < MessageLevel)
	require.True(t, MessageLevel < Warning)
	require.True(t, Warning < Error)
	require.True(t, Error < Critical)
}

func TestCollectorWorstSeverity(t *testing.T) {
	c := NewCollector()
	c.Add(Build("x.go", 1, 3600099, Info, 1024, "K", nil))
	c.Add(Build("x.go", 2, 3600004, Warning, 1024, "K", nil))
	c.Add(Build("x.go", 3, 3600005, Error, 1024, "K", nil))
	require.Equal(t, Error, c.Worst())
	require.Len(t, c.Messages(), 3)
}

func TestParseMessagesLiftsFixedFieldsAndKeepsArgs(t *testing.T) {
	blob := []byte(`[{"source_filename":"amgtar.go","source_line":"10","severity":"warning","process":"amgtar","running_on":"client","component":"application","module":"backup","code":"3600058","message":"tape nearly full","disk":"/var"}]`)
	msgs, err := ParseMessages(blob)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	m := msgs[0]
	require.Equal(t, 3600058, m.Code)
	require.Equal(t, Warning, m.Severity)
	require.Equal(t, "tape nearly full", m.Text)
	require.Equal(t, "amgtar", m.Process)
	require.Equal(t, "/var", m.Args["disk"])
}

func TestParseMessagesRoundTripsMarshal(t *testing.T) {
	m := Build("amgtar.go", 5, 3600058, Error, 1024, "K", map[string]string{"disk": "/var"}).
		WithProcessContext("amgtar", "host1", "application", "backup")
	b, err := FprintMessages([]Message{m})
	require.NoError(t, err)

	decoded, err := ParseMessages(b)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Equal(t, 3600058, decoded[0].Code)
	require.Equal(t, Error, decoded[0].Severity)
	require.Equal(t, m.Resolve(), decoded[0].Text)
}

func TestParseSeverityRoundTrip(t *testing.T) {
	for _, s := range []Severity{Success, Info, MessageLevel, Warning, Error, Critical} {
		parsed, err := ParseSeverity(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
	_, err := ParseSeverity("bogus")
	require.Error(t, err)
}
