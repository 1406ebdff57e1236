/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package ser defines the byte layout of every control-plane ↔
// datapath frame and provides typed encode/decode functions for each
// of the seven message types. Grounded on the
// teacher's RawTCPInfo/TCPInfo split (pkg/linux/tcpinfo.go): a
// wire-exact, little-endian layout decoded with fixed-width field
// reads into a validated Go type, returning a typed error instead of
// panicking on a malformed frame.
package ser

import (
	"encoding/binary"
	"fmt"

	"github.com/ccp-project/goccp/pkg/ir"
)

// MsgType tags which of the seven frame kinds a message is. The
// numbering is this module's own wire convention, unlike the bytecode
// opcode table, and must be held constant across a CP/datapath
// pairing — see DESIGN.md.
type MsgType uint8

const (
	MsgCreate MsgType = iota
	MsgMeasure
	MsgInstall
	MsgUpdateField
	MsgChangeProg
	MsgReady
	MsgOther
)

func (t MsgType) String() string {
	switch t {
	case MsgCreate:
		return "Create"
	case MsgMeasure:
		return "Measure"
	case MsgInstall:
		return "Install"
	case MsgUpdateField:
		return "UpdateField"
	case MsgChangeProg:
		return "ChangeProg"
	case MsgReady:
		return "Ready"
	case MsgOther:
		return "Other"
	default:
		return "Unknown"
	}
}

// HeaderSize is the fixed frame header size: 1-byte type, 1-byte
// reserved, 4-byte length (total frame length including this header),
// 4-byte socket id.
const HeaderSize = 10

// DecodeError is returned by every Decode* function instead of
// panicking on a malformed frame.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "ser: " + e.Reason }

func decodeErrf(format string, args ...interface{}) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// putHeader writes the four-field header (type, reserved, length,
// socket_id) into the front of buf, which must be at least HeaderSize
// long.
func putHeader(buf []byte, t MsgType, length uint32, sockID uint32) {
	buf[0] = byte(t)
	buf[1] = 0
	binary.LittleEndian.PutUint32(buf[2:6], length)
	binary.LittleEndian.PutUint32(buf[6:10], sockID)
}

// DecodeHeader parses a frame's header, validating that the declared
// length is internally consistent with the buffer it came from.
func DecodeHeader(b []byte) (t MsgType, length uint32, sockID uint32, err error) {
	if len(b) < HeaderSize {
		return 0, 0, 0, decodeErrf("frame shorter than header: %d bytes", len(b))
	}
	t = MsgType(b[0])
	length = binary.LittleEndian.Uint32(b[2:6])
	sockID = binary.LittleEndian.Uint32(b[6:10])
	if int(length) > len(b) {
		return 0, 0, 0, decodeErrf("header claims length %d, buffer has %d", length, len(b))
	}
	if length < HeaderSize {
		return 0, 0, 0, decodeErrf("header length %d shorter than header itself", length)
	}
	return t, length, sockID, nil
}

// --- Create -----------------------------------------------------------

// CreateMsg announces a new flow (datapath → CP).
type CreateMsg struct {
	SockID   uint32
	InitCwnd uint32
	MSS      uint32
	SrcIP    uint32
	SrcPort  uint32
	DstIP    uint32
	DstPort  uint32
	CongAlg  string
}

const createFixedLen = 6 * 4

// EncodeCreate serializes a CreateMsg frame.
func EncodeCreate(m CreateMsg) []byte {
	nameLen := len(m.CongAlg)
	length := HeaderSize + createFixedLen + nameLen
	buf := make([]byte, length)
	putHeader(buf, MsgCreate, uint32(length), m.SockID)
	p := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(p[0:4], m.InitCwnd)
	binary.LittleEndian.PutUint32(p[4:8], m.MSS)
	binary.LittleEndian.PutUint32(p[8:12], m.SrcIP)
	binary.LittleEndian.PutUint32(p[12:16], m.SrcPort)
	binary.LittleEndian.PutUint32(p[16:20], m.DstIP)
	binary.LittleEndian.PutUint32(p[20:24], m.DstPort)
	copy(p[24:], m.CongAlg)
	return buf
}

// DecodeCreate parses a Create frame's payload (the bytes after the
// header, sized to the frame's declared length).
func DecodeCreate(payload []byte, sockID uint32) (CreateMsg, error) {
	if len(payload) < createFixedLen {
		return CreateMsg{}, decodeErrf("Create payload too short: %d bytes, want at least %d", len(payload), createFixedLen)
	}
	return CreateMsg{
		SockID:   sockID,
		InitCwnd: binary.LittleEndian.Uint32(payload[0:4]),
		MSS:      binary.LittleEndian.Uint32(payload[4:8]),
		SrcIP:    binary.LittleEndian.Uint32(payload[8:12]),
		SrcPort:  binary.LittleEndian.Uint32(payload[12:16]),
		DstIP:    binary.LittleEndian.Uint32(payload[16:20]),
		DstPort:  binary.LittleEndian.Uint32(payload[20:24]),
		CongAlg:  string(payload[24:]),
	}, nil
}

// --- Measure (Report) ---------------------------------------------------

// MeasureMsg carries a flow's report-register values (datapath → CP).
type MeasureMsg struct {
	SockID     uint32
	ProgramUID uint32
	Fields     []uint64
}

// EncodeMeasure serializes a MeasureMsg frame.
func EncodeMeasure(m MeasureMsg) ([]byte, error) {
	length := HeaderSize + 8 + 8*len(m.Fields)
	buf := make([]byte, length)
	putHeader(buf, MsgMeasure, uint32(length), m.SockID)
	p := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(p[0:4], m.ProgramUID)
	binary.LittleEndian.PutUint32(p[4:8], uint32(len(m.Fields)))
	for i, f := range m.Fields {
		binary.LittleEndian.PutUint64(p[8+i*8:16+i*8], f)
	}
	return buf, nil
}

// DecodeMeasure parses a Measure frame's payload.
func DecodeMeasure(payload []byte, sockID uint32) (MeasureMsg, error) {
	if len(payload) < 8 {
		return MeasureMsg{}, decodeErrf("Measure payload too short: %d bytes, want at least 8", len(payload))
	}
	programUID := binary.LittleEndian.Uint32(payload[0:4])
	numFields := binary.LittleEndian.Uint32(payload[4:8])
	rest := payload[8:]
	if uint64(len(rest)) < uint64(numFields)*8 {
		return MeasureMsg{}, decodeErrf("Measure declares %d fields but only %d bytes remain", numFields, len(rest))
	}
	fields := make([]uint64, numFields)
	for i := range fields {
		fields[i] = binary.LittleEndian.Uint64(rest[i*8 : i*8+8])
	}
	return MeasureMsg{SockID: sockID, ProgramUID: programUID, Fields: fields}, nil
}

// --- Install ------------------------------------------------------------

// InstallMsg installs a compiled program (CP → datapath). Instrs is the
// already-encoded flat instruction vector (see ir.EncodeBin); this
// package only handles framing, not bytecode semantics.
type InstallMsg struct {
	SockID uint32
	Events []ir.Event
	Instrs []byte
}

const eventRecordSize = 16

func encodeEventRecord(ev ir.Event) [eventRecordSize]byte {
	var b [eventRecordSize]byte
	binary.LittleEndian.PutUint32(b[0:4], ev.FlagIdx)
	binary.LittleEndian.PutUint32(b[4:8], ev.NumFlagInstr)
	binary.LittleEndian.PutUint32(b[8:12], ev.BodyIdx)
	binary.LittleEndian.PutUint32(b[12:16], ev.NumBodyInstr)
	return b
}

func decodeEventRecord(b []byte) ir.Event {
	return ir.Event{
		FlagIdx:      binary.LittleEndian.Uint32(b[0:4]),
		NumFlagInstr: binary.LittleEndian.Uint32(b[4:8]),
		BodyIdx:      binary.LittleEndian.Uint32(b[8:12]),
		NumBodyInstr: binary.LittleEndian.Uint32(b[12:16]),
	}
}

// EncodeInstall serializes an InstallMsg frame.
func EncodeInstall(m InstallMsg) []byte {
	if len(m.Instrs)%ir.InstrSize != 0 {
		panic(fmt.Sprintf("ser: EncodeInstall: Instrs length %d is not a multiple of %d", len(m.Instrs), ir.InstrSize))
	}
	numInstrs := len(m.Instrs) / ir.InstrSize
	length := HeaderSize + 8 + len(m.Events)*eventRecordSize + len(m.Instrs)
	buf := make([]byte, length)
	putHeader(buf, MsgInstall, uint32(length), m.SockID)
	p := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(p[0:4], uint32(len(m.Events)))
	binary.LittleEndian.PutUint32(p[4:8], uint32(numInstrs))
	off := 8
	for _, ev := range m.Events {
		rec := encodeEventRecord(ev)
		copy(p[off:], rec[:])
		off += eventRecordSize
	}
	copy(p[off:], m.Instrs)
	return buf
}

// DecodeInstall parses an Install frame's payload.
func DecodeInstall(payload []byte, sockID uint32) (InstallMsg, error) {
	if len(payload) < 8 {
		return InstallMsg{}, decodeErrf("Install payload too short: %d bytes, want at least 8", len(payload))
	}
	numEvents := binary.LittleEndian.Uint32(payload[0:4])
	numInstrs := binary.LittleEndian.Uint32(payload[4:8])
	rest := payload[8:]
	wantEvents := uint64(numEvents) * eventRecordSize
	if uint64(len(rest)) < wantEvents {
		return InstallMsg{}, decodeErrf("Install declares %d events but only %d bytes remain", numEvents, len(rest))
	}
	events := make([]ir.Event, numEvents)
	for i := range events {
		events[i] = decodeEventRecord(rest[uint64(i)*eventRecordSize:])
	}
	rest = rest[wantEvents:]
	wantInstrBytes := uint64(numInstrs) * ir.InstrSize
	if uint64(len(rest)) < wantInstrBytes {
		return InstallMsg{}, decodeErrf("Install declares %d instructions but only %d bytes remain", numInstrs, len(rest))
	}
	instrs := make([]byte, wantInstrBytes)
	copy(instrs, rest[:wantInstrBytes])
	return InstallMsg{SockID: sockID, Events: events, Instrs: instrs}, nil
}

// --- UpdateField / ChangeProg shared register-update list ---------------

// FieldUpdate is one (register, value) pair carried by UpdateField and
// ChangeProg frames.
type FieldUpdate struct {
	Reg   ir.Reg
	Value uint64
}

func encodeFieldUpdates(updates []FieldUpdate, scope *ir.Scope) ([]byte, error) {
	out := make([]byte, 0, len(updates)*(ir.RegRefSize+8))
	for i, u := range updates {
		ref, err := ir.EncodeRegRef(u.Reg, scope)
		if err != nil {
			return nil, fmt.Errorf("ser: field update %d: %w", i, err)
		}
		out = append(out, ref[:]...)
		var val [8]byte
		binary.LittleEndian.PutUint64(val[:], u.Value)
		out = append(out, val[:]...)
	}
	return out, nil
}

func decodeFieldUpdates(b []byte, n uint32, scope *ir.Scope) ([]FieldUpdate, error) {
	const stride = ir.RegRefSize + 8
	if uint64(len(b)) < uint64(n)*stride {
		return nil, decodeErrf("field update list declares %d entries but only %d bytes remain", n, len(b))
	}
	out := make([]FieldUpdate, n)
	for i := range out {
		off := uint64(i) * stride
		reg, err := ir.DecodeRegRef(b[off:off+ir.RegRefSize], scope, ir.KindNum)
		if err != nil {
			return nil, decodeErrf("field update %d: %v", i, err)
		}
		out[i] = FieldUpdate{
			Reg:   reg,
			Value: binary.LittleEndian.Uint64(b[off+ir.RegRefSize : off+stride]),
		}
	}
	return out, nil
}

// --- UpdateField ----------------------------------------------------------

// UpdateFieldMsg applies a batch of register writes to a flow's current
// program (CP → datapath).
type UpdateFieldMsg struct {
	SockID  uint32
	Updates []FieldUpdate
}

// EncodeUpdateField serializes an UpdateFieldMsg frame. scope is the
// Scope the registers in Updates were resolved against.
func EncodeUpdateField(m UpdateFieldMsg, scope *ir.Scope) ([]byte, error) {
	body, err := encodeFieldUpdates(m.Updates, scope)
	if err != nil {
		return nil, err
	}
	length := HeaderSize + 4 + len(body)
	buf := make([]byte, length)
	putHeader(buf, MsgUpdateField, uint32(length), m.SockID)
	binary.LittleEndian.PutUint32(buf[HeaderSize:HeaderSize+4], uint32(len(m.Updates)))
	copy(buf[HeaderSize+4:], body)
	return buf, nil
}

// DecodeUpdateField parses an UpdateField frame's payload.
func DecodeUpdateField(payload []byte, sockID uint32, scope *ir.Scope) (UpdateFieldMsg, error) {
	if len(payload) < 4 {
		return UpdateFieldMsg{}, decodeErrf("UpdateField payload too short: %d bytes", len(payload))
	}
	n := binary.LittleEndian.Uint32(payload[0:4])
	updates, err := decodeFieldUpdates(payload[4:], n, scope)
	if err != nil {
		return UpdateFieldMsg{}, err
	}
	return UpdateFieldMsg{SockID: sockID, Updates: updates}, nil
}

// --- ChangeProg -----------------------------------------------------------

// ChangeProgMsg atomically switches a flow to a different installed
// program and applies preset register updates (CP → datapath).
type ChangeProgMsg struct {
	SockID     uint32
	ProgramUID uint32
	Updates    []FieldUpdate
}

// EncodeChangeProg serializes a ChangeProgMsg frame. scope is the Scope
// of the *new* program being switched to.
func EncodeChangeProg(m ChangeProgMsg, scope *ir.Scope) ([]byte, error) {
	body, err := encodeFieldUpdates(m.Updates, scope)
	if err != nil {
		return nil, err
	}
	length := HeaderSize + 8 + len(body)
	buf := make([]byte, length)
	putHeader(buf, MsgChangeProg, uint32(length), m.SockID)
	p := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(p[0:4], m.ProgramUID)
	binary.LittleEndian.PutUint32(p[4:8], uint32(len(m.Updates)))
	copy(p[8:], body)
	return buf, nil
}

// DecodeChangeProg parses a ChangeProg frame's payload.
func DecodeChangeProg(payload []byte, sockID uint32, scope *ir.Scope) (ChangeProgMsg, error) {
	if len(payload) < 8 {
		return ChangeProgMsg{}, decodeErrf("ChangeProg payload too short: %d bytes", len(payload))
	}
	programUID := binary.LittleEndian.Uint32(payload[0:4])
	n := binary.LittleEndian.Uint32(payload[4:8])
	updates, err := decodeFieldUpdates(payload[8:], n, scope)
	if err != nil {
		return ChangeProgMsg{}, err
	}
	return ChangeProgMsg{SockID: sockID, ProgramUID: programUID, Updates: updates}, nil
}

// --- Ready ------------------------------------------------------------

// ReadyMsg announces the datapath is alive (datapath → CP).
type ReadyMsg struct {
	SockID uint32
	ID     uint32
}

// EncodeReady serializes a ReadyMsg frame.
func EncodeReady(m ReadyMsg) []byte {
	length := HeaderSize + 4
	buf := make([]byte, length)
	putHeader(buf, MsgReady, uint32(length), m.SockID)
	binary.LittleEndian.PutUint32(buf[HeaderSize:HeaderSize+4], m.ID)
	return buf
}

// DecodeReady parses a Ready frame's payload.
func DecodeReady(payload []byte, sockID uint32) (ReadyMsg, error) {
	if len(payload) < 4 {
		return ReadyMsg{}, decodeErrf("Ready payload too short: %d bytes", len(payload))
	}
	return ReadyMsg{SockID: sockID, ID: binary.LittleEndian.Uint32(payload[0:4])}, nil
}

// --- Other --------------------------------------------------------------

// OtherMsg carries an opaque payload for testing and algorithm-specific
// side channels (either direction).
type OtherMsg struct {
	SockID  uint32
	Payload []byte
}

// EncodeOther serializes an OtherMsg frame.
func EncodeOther(m OtherMsg) []byte {
	length := HeaderSize + len(m.Payload)
	buf := make([]byte, length)
	putHeader(buf, MsgOther, uint32(length), m.SockID)
	copy(buf[HeaderSize:], m.Payload)
	return buf
}

// DecodeOther parses an Other frame's payload (which is just the raw
// bytes, verbatim).
func DecodeOther(payload []byte, sockID uint32) OtherMsg {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return OtherMsg{SockID: sockID, Payload: cp}
}

// --- Generic frame dispatch -----------------------------------------------

// Frame is a decoded frame of unspecified type, with at most one of its
// typed fields populated according to Type.
type Frame struct {
	Type        MsgType
	Create      *CreateMsg
	Measure     *MeasureMsg
	Install     *InstallMsg
	UpdateField *UpdateFieldMsg
	ChangeProg  *ChangeProgMsg
	Ready       *ReadyMsg
	Other       *OtherMsg
}

// DecodeFrame reads a frame's header and dispatches to the matching
// typed decoder. scope is required to decode UpdateField/ChangeProg
// register references and may be nil for the other message types.
func DecodeFrame(b []byte, scope *ir.Scope) (Frame, error) {
	t, length, sockID, err := DecodeHeader(b)
	if err != nil {
		return Frame{}, err
	}
	payload := b[HeaderSize:length]

	switch t {
	case MsgCreate:
		m, err := DecodeCreate(payload, sockID)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: t, Create: &m}, nil
	case MsgMeasure:
		m, err := DecodeMeasure(payload, sockID)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: t, Measure: &m}, nil
	case MsgInstall:
		m, err := DecodeInstall(payload, sockID)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: t, Install: &m}, nil
	case MsgUpdateField:
		if scope == nil {
			return Frame{}, decodeErrf("UpdateField frame requires a Scope to decode")
		}
		m, err := DecodeUpdateField(payload, sockID, scope)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: t, UpdateField: &m}, nil
	case MsgChangeProg:
		if scope == nil {
			return Frame{}, decodeErrf("ChangeProg frame requires a Scope to decode")
		}
		m, err := DecodeChangeProg(payload, sockID, scope)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: t, ChangeProg: &m}, nil
	case MsgReady:
		m, err := DecodeReady(payload, sockID)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: t, Ready: &m}, nil
	case MsgOther:
		m := DecodeOther(payload, sockID)
		return Frame{Type: t, Other: &m}, nil
	default:
		return Frame{}, decodeErrf("unknown message type %d", byte(t))
	}
}
