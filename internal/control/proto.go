// Package control implements the control-plane protocol client programs
// speak to a running supervisor over a SOCK_DGRAM unix socket: status
// queries matched by glob pattern, and start/stop/restart/reload/switch
// requests. The wire layout is grounded byte-for-byte on proto.h and
// tinit.h's struct tinit_request_msg/tinit_reply_head/tinit_status_data,
// re-expressed with encoding/binary instead of C struct layout.
package control

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MsgType mirrors enum tinit_msg_type.
type MsgType uint16

const (
	MsgStatus MsgType = iota
	MsgStart
	MsgStop
	MsgRestart
	MsgReload
	MsgSwitch
	msgTypeCount
)

func (t MsgType) String() string {
	switch t {
	case MsgStatus:
		return "status"
	case MsgStart:
		return "start"
	case MsgStop:
		return "stop"
	case MsgRestart:
		return "restart"
	case MsgReload:
		return "reload"
	case MsgSwitch:
		return "switch"
	default:
		return "unknown"
	}
}

// Limits mirrored from proto.h.
const (
	PatternMax  = 256
	requestHead = 4 // seq uint16 + type uint16
	replyHead   = 6 // seq uint16 + type uint16 + ret uint16
	statusHead  = 6 // pid uint32 + adm_state uint8 + run_state uint8
	MsgSizeMax  = 4096
)

// RunState mirrors enum tinit_svc_state.
type RunState uint8

const (
	Stopped RunState = iota
	Starting
	Ready
	Stopping
)

func (s RunState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Request is the decoded form of a tinit_request_msg: a sequence number
// for the client to match against its reply, the operation requested,
// and the glob-style service or target name pattern it applies to.
type Request struct {
	Seq     uint16
	Type    MsgType
	Pattern string
}

// Encode serializes r the way tinit_request_msg lays out on the wire: a
// fixed header followed by the NUL-terminated pattern string, with no
// padding (the struct's trailing char pattern[0] flexible array member).
func (r Request) Encode() ([]byte, error) {
	if len(r.Pattern) == 0 || len(r.Pattern) > PatternMax-1 {
		return nil, fmt.Errorf("control: pattern length %d out of range", len(r.Pattern))
	}
	buf := make([]byte, requestHead+len(r.Pattern)+1)
	binary.LittleEndian.PutUint16(buf[0:2], r.Seq)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(r.Type))
	copy(buf[requestHead:], r.Pattern)
	// buf[len-1] is already the zero byte make() provides.
	return buf, nil
}

// DecodeRequest parses a datagram into a Request, validating the same
// invariants tinit_srv_parse_request checks server-side: the type is a
// recognized enumerator and the pattern is exactly one NUL-terminated
// string filling the remainder of the datagram.
func DecodeRequest(buf []byte) (Request, error) {
	if len(buf) <= requestHead+1 {
		return Request{}, fmt.Errorf("control: request too short (%d bytes)", len(buf))
	}
	patSz := len(buf) - requestHead
	if patSz > PatternMax {
		return Request{}, fmt.Errorf("control: pattern too long (%d bytes)", patSz)
	}

	typ := MsgType(binary.LittleEndian.Uint16(buf[2:4]))
	if typ >= msgTypeCount {
		return Request{}, fmt.Errorf("control: unknown message type %d", typ)
	}

	pattern := buf[requestHead:]
	nul := bytes.IndexByte(pattern, 0)
	if nul != len(pattern)-1 {
		return Request{}, fmt.Errorf("control: pattern not singly NUL-terminated")
	}

	return Request{
		Seq:     binary.LittleEndian.Uint16(buf[0:2]),
		Type:    typ,
		Pattern: string(pattern[:nul]),
	}, nil
}

// ReplyHeader mirrors tinit_reply_head: every reply starts with one,
// ret holding the positive errno of the operation (0 on success).
type ReplyHeader struct {
	Seq  uint16
	Type MsgType
	Ret  uint16
}

// EncodeError builds a bare reply carrying only a header and the given
// result code, the Go counterpart of tinit_srv_build_reply.
func EncodeError(seq uint16, typ MsgType, ret uint16) []byte {
	buf := make([]byte, replyHead)
	binary.LittleEndian.PutUint16(buf[0:2], seq)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(typ))
	binary.LittleEndian.PutUint16(buf[4:6], ret)
	return buf
}

// DecodeReplyHeader parses the fixed portion common to every reply.
func DecodeReplyHeader(buf []byte) (ReplyHeader, error) {
	if len(buf) < replyHead {
		return ReplyHeader{}, fmt.Errorf("control: reply too short (%d bytes)", len(buf))
	}
	return ReplyHeader{
		Seq:  binary.LittleEndian.Uint16(buf[0:2]),
		Type: MsgType(binary.LittleEndian.Uint16(buf[2:4])),
		Ret:  binary.LittleEndian.Uint16(buf[4:6]),
	}, nil
}

// StatusRecord is one service's entry in a status reply, the Go
// counterpart of struct tinit_status_data.
type StatusRecord struct {
	PID      uint32
	Admin    bool
	RunState RunState
	Path     string
}

// appendStatusRecord appends rec to buf, the Go counterpart of
// tinit_srv_append_status_reply, returning ErrReplyFull once doing so
// would exceed MsgSizeMax rather than silently truncating.
func appendStatusRecord(buf []byte, rec StatusRecord) ([]byte, error) {
	if len(buf)+statusHead+len(rec.Path)+1 > MsgSizeMax {
		return buf, ErrReplyFull
	}
	rest := make([]byte, statusHead+len(rec.Path)+1)
	binary.LittleEndian.PutUint32(rest[0:4], rec.PID)
	if rec.Admin {
		rest[4] = 1
	}
	rest[5] = byte(rec.RunState)
	copy(rest[statusHead:], rec.Path)
	return append(buf, rest...), nil
}

// decodeStatusRecords walks a status reply payload following the
// trailing header, in the style of tinit_step_status.
func decodeStatusRecords(buf []byte) ([]StatusRecord, error) {
	var recs []StatusRecord
	for len(buf) > 0 {
		if len(buf) < statusHead+1 {
			return nil, fmt.Errorf("control: truncated status record")
		}
		pid := binary.LittleEndian.Uint32(buf[0:4])
		admin := buf[4] != 0
		state := RunState(buf[5])

		rest := buf[statusHead:]
		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, fmt.Errorf("control: status record path not NUL-terminated")
		}

		recs = append(recs, StatusRecord{
			PID:      pid,
			Admin:    admin,
			RunState: state,
			Path:     string(rest[:nul]),
		})
		buf = rest[nul+1:]
	}
	return recs, nil
}

// ErrReplyFull is returned when a status reply has grown to MsgSizeMax
// and cannot accept another record, the Go counterpart of -ENOSPC.
var ErrReplyFull = fmt.Errorf("control: reply buffer full")
