/*************************************************************************
 * Copyright 2023 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package dle implements the in-memory disk list entry model: the
// DiskListEntry type, its Application/Script plugin references, the
// backup-support capability record (BSU), and the property-merge
// policy between client and server property tables.
package dle

import "sort"

// Compression names one of the recognized compression modes for a DLE.
type Compression int

const (
	CompressNone Compression = iota
	CompressClientFast
	CompressClientBest
	CompressClientCustom
	CompressServerFast
	CompressServerBest
	CompressServerCustom
)

// Encryption names one of the recognized encryption modes for a DLE.
type Encryption int

const (
	EncryptNone Encryption = iota
	EncryptClientCustom
	EncryptServerCustom
)

// DataPath describes how bulk backup data travels off-host.
type DataPath int

const (
	DataPathAmanda DataPath = iota
	DataPathDirectTCP
)

// Program names the dumper a DLE is configured to use.
const (
	ProgramApplication = "APPLICATION"
	ProgramDump        = "DUMP"
	ProgramGNUTar      = "GNUTAR"
)

// DiskListEntry is one backup target on the local host.
type DiskListEntry struct {
	Disk   string
	Device string

	Program     string
	Application string // Application record name, when Program == ProgramApplication
	Scripts     []*ScriptRef

	Levels       []int
	EstimateMode []string // subset/order of {client, server, calcsize}

	Compression      Compression
	CompressProgram  string
	Encryption       Encryption
	EncryptProgram   string
	DecryptOpt       string

	IncludeFile     []string
	IncludeList     []string
	ExcludeFile     []string
	ExcludeList     []string
	IncludeOptional bool
	ExcludeOptional bool

	Record      bool
	CreateIndex bool
	Kencrypt    bool

	DataPath DataPath
	Auth     string

	Properties PropertyMap

	// Supplemental fields (original_source/conffile.c), additive and
	// protocol-validated only; execution against them is out of scope.
	HoldingDisk bool
	Spindle     int
	SkipIncr    bool
	SkipFull    bool
	Ignore      bool
}

// NewDiskListEntry returns a DLE with defaults applied: device
// defaults to disk, record defaults to true (the classic request
// grammar's absence of no-record means "record").
func NewDiskListEntry(disk string) *DiskListEntry {
	return &DiskListEntry{
		Disk:       disk,
		Device:     disk,
		Record:     true,
		Properties: make(PropertyMap),
	}
}

// ScriptRef binds a Script record (by name, per the no-pointers-into-
// global-tables design note) to the order it runs in for this DLE.
type ScriptRef struct {
	Name  string
	Order int
}

// SortedScripts returns refs stably sorted by Order ascending (P10).
func SortedScripts(refs []*ScriptRef) []*ScriptRef {
	out := make([]*ScriptRef, len(refs))
	copy(out, refs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Application is a plugin template referenced by DLEs by name.
type Application struct {
	Name       string
	Plugin     string
	ClientName string
	Properties PropertyMap
}

// ExecuteOn is a bitset over the lifecycle phases a Script may hook.
type ExecuteOn uint32

const (
	ExecPreHostAmcheck ExecuteOn = 1 << iota
	ExecPreDLEAmcheck
	ExecPostDLEAmcheck
	ExecPostHostAmcheck
	ExecPreHostEstimate
	ExecPreDLEEstimate
	ExecPostDLEEstimate
	ExecPostHostEstimate
	ExecPreHostBackup
	ExecPreDLEBackup
	ExecPostDLEBackup
	ExecPostHostBackup
	ExecPreHostRecover
	ExecPreDLERecover
	ExecPostDLERecover
	ExecPostHostRecover
	ExecInterLevelRecover
)

// ExecuteWhere names which side of the connection runs a Script.
type ExecuteWhere int

const (
	ExecuteClient ExecuteWhere = iota
	ExecuteServer
)

// Script is a pre/post lifecycle hook template referenced by DLEs.
type Script struct {
	Name            string
	Plugin          string
	ClientName      string
	Properties      PropertyMap
	ExecuteOn       ExecuteOn
	ExecuteWhere    ExecuteWhere
	Order           int
	SingleExecution bool
}

// DataPathBit ORs into a BSU's DataPathSet.
type DataPathBit uint8

const (
	DataPathSetAmanda    DataPathBit = 1 << 0
	DataPathSetDirectTCP DataPathBit = 1 << 1
)

// RecoverPathBit ORs into a BSU's RecoverPathSet.
type RecoverPathBit uint8

const (
	RecoverPathCWD    RecoverPathBit = 1 << 0
	RecoverPathRemote RecoverPathBit = 1 << 1
)

// BSU is a plugin's self-declared capability set, populated by parsing
// its "support" subcommand output (§4.5.1).
type BSU struct {
	Config bool
	Host   bool
	Disk   bool
	Record bool

	IncludeFile       bool
	IncludeList       bool
	IncludeListGlob   bool
	IncludeOptional   bool
	ExcludeFile       bool
	ExcludeList       bool
	ExcludeListGlob   bool
	ExcludeOptional   bool

	Collection     bool
	CalcSize       bool
	ClientEstimate bool
	MultiEstimate  bool
	Discover       bool
	Features       bool
	DAR            bool
	StateStream    bool

	RecoverDumpState bool
	SMBRecoverMode   bool

	IndexLine bool
	IndexXML  bool

	MessageLine            bool
	MessageXML             bool
	MessageSelfcheckJSON   bool
	MessageEstimateJSON    bool
	MessageBackupJSON      bool
	MessageRestoreJSON     bool
	MessageValidateJSON    bool
	MessageIndexJSON       bool

	MaxLevel       int
	DataPathSet    DataPathBit
	RecoverPathSet RecoverPathBit
}

// SupportsMessageJSON reports whether the plugin declared any
// subcommand-specific "MESSAGE-*-JSON" capability, used by the
// orchestrator to decide between "--message json" and "--message
// line" when invoking a phase that has no dedicated capability key.
func (b BSU) SupportsMessageJSON() bool {
	return b.MessageSelfcheckJSON || b.MessageEstimateJSON || b.MessageBackupJSON ||
		b.MessageRestoreJSON || b.MessageValidateJSON || b.MessageIndexJSON
}
