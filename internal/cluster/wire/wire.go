// Package wire implements the cluster binary frame codec: a one-byte type
// tag followed by a big-endian body, reusing pid.Encode/Decode for PID
// fields on the wire. Explicit binary.BigEndian field writes, rather than
// a generic serialization library, since each frame type pins an exact
// byte layout; delimiting frames on the stream is left to the transport.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/webitel/actorcore/internal/actor/pid"
)

// Frame type tags.
const (
	TypeUserMessage     byte = 0x00
	TypeResolveRequest  byte = 0x01
	TypeResolveResponse byte = 0x81
	TypePing            byte = 0x02
	TypePong            byte = 0x03
	TypeSystemSignal    byte = 0x04
)

// UserMessage carries an opaque payload addressed to a remote PID.
type UserMessage struct {
	Target pid.PID
	Body   []byte
}

// ResolveRequest asks a peer to resolve name to a PID.
type ResolveRequest struct {
	Correlation uint32
	Name        string
}

// ResolveResponse answers a ResolveRequest. PID == pid.Zero means no such
// name; there is no separate found flag, the zero PID is the sentinel.
type ResolveResponse struct {
	Correlation uint32
	PID         pid.PID
}

// Ping and Pong carry no body; the type byte alone is the whole frame.
type Ping struct{}
type Pong struct{}

// SystemSignal carries a link/monitor/exit/down-remote notification across
// the wire. Target identifies the local actor on the receiving node the
// signal is about; Aux's meaning depends on Kind (e.g. for SignalMonitor it
// is the watcher's own PID, encoded, on the sending node).
type SystemSignal struct {
	Target pid.PID
	Kind   byte
	Aux    uint64
}

// System signal sub-kinds, distinct from mailbox.SystemKind since only a
// subset of system messages ever cross the wire.
const (
	SignalExit       byte = 0x00
	SignalLink       byte = 0x01
	SignalMonitor    byte = 0x02
	SignalDownRemote byte = 0x03
)

// Frame is a decoded wire message: exactly one of the payload fields is
// non-nil/meaningful, discriminated by Type.
type Frame struct {
	Type byte

	UserMessage     *UserMessage
	ResolveRequest  *ResolveRequest
	ResolveResponse *ResolveResponse
	Ping            *Ping
	Pong            *Pong
	SystemSignal    *SystemSignal

	// Unknown holds the raw body for any type byte this codec version
	// doesn't recognize. An unrecognized frame is logged and skipped, never
	// treated as a protocol violation that drops the connection — this is
	// what keeps the wire forward-compatible across rolling upgrades.
	Unknown []byte
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	if int64(n) > int64(r.Len()) {
		return "", fmt.Errorf("wire: string length %d exceeds remaining body", n)
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(buf); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

func writePID(buf *bytes.Buffer, p pid.PID) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], pid.Encode(p))
	buf.Write(b[:])
}

func readPID(r *bytes.Reader) (pid.PID, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return pid.Zero, err
	}
	return pid.Decode(binary.BigEndian.Uint64(b[:])), nil
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// Encode serializes f into a type byte followed by its body, with no
// outer length prefix: framing at the transport level (internal/cluster/
// network) is responsible for delimiting one Encode()'d buffer from the
// next on the TCP stream.
func Encode(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(f.Type)
	switch f.Type {
	case TypeUserMessage:
		m := f.UserMessage
		writePID(&buf, m.Target)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(m.Body)))
		buf.Write(lenBuf[:])
		buf.Write(m.Body)
	case TypeResolveRequest:
		m := f.ResolveRequest
		writeU32(&buf, m.Correlation)
		writeString(&buf, m.Name)
	case TypeResolveResponse:
		m := f.ResolveResponse
		writeU32(&buf, m.Correlation)
		writePID(&buf, m.PID)
	case TypePing, TypePong:
		// Empty body: the type byte already written above is the whole frame.
	case TypeSystemSignal:
		m := f.SystemSignal
		writePID(&buf, m.Target)
		buf.WriteByte(m.Kind)
		writeU64(&buf, m.Aux)
	default:
		return nil, fmt.Errorf("wire: cannot encode unknown frame type 0x%02x", f.Type)
	}
	return buf.Bytes(), nil
}

// Decode parses a single frame body (as delimited by the transport) back
// into a Frame. An unrecognized type byte yields Frame{Type: t, Unknown:
// rest} with a nil error — callers log and continue, they never treat this
// as a decode failure.
func Decode(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, fmt.Errorf("wire: empty frame")
	}
	t := raw[0]
	r := bytes.NewReader(raw[1:])
	switch t {
	case TypeUserMessage:
		target, err := readPID(r)
		if err != nil {
			return Frame{}, err
		}
		var lenBuf [4]byte
		if _, err := r.Read(lenBuf[:]); err != nil {
			return Frame{}, err
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		body := make([]byte, n)
		if n > 0 {
			if _, err := r.Read(body); err != nil {
				return Frame{}, err
			}
		}
		return Frame{Type: t, UserMessage: &UserMessage{Target: target, Body: body}}, nil
	case TypeResolveRequest:
		id, err := readU32(r)
		if err != nil {
			return Frame{}, err
		}
		name, err := readString(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: t, ResolveRequest: &ResolveRequest{Correlation: id, Name: name}}, nil
	case TypeResolveResponse:
		id, err := readU32(r)
		if err != nil {
			return Frame{}, err
		}
		p, err := readPID(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: t, ResolveResponse: &ResolveResponse{Correlation: id, PID: p}}, nil
	case TypePing:
		return Frame{Type: t, Ping: &Ping{}}, nil
	case TypePong:
		return Frame{Type: t, Pong: &Pong{}}, nil
	case TypeSystemSignal:
		dst, err := readPID(r)
		if err != nil {
			return Frame{}, err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		aux, err := readU64(r)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: t, SystemSignal: &SystemSignal{Target: dst, Kind: kind, Aux: aux}}, nil
	default:
		return Frame{Type: t, Unknown: append([]byte(nil), raw[1:]...)}, nil
	}
}
