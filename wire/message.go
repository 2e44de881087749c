// Package wire implements the Cluster Transfer Protocol (CTP) datagram
// codec: the fixed 69-byte header plus variable body that every peer and
// server exchange over UDP, and the block request/response payload nested
// inside BLOCK_REQUEST/BLOCK_RESPONSE bodies.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies a CTP message kind. The wire value is one byte.
type Type uint8

const (
	StatusRequest       Type = 0x00
	StatusResponse      Type = 0x01
	Notification        Type = 0x02 // reserved, unused by any handler
	NotificationAck     Type = 0x03 // reserved, unused by any handler
	BlockRequest        Type = 0x04
	BlockResponse       Type = 0x05
	ClusterJoinRequest  Type = 0x06
	ClusterJoinResponse Type = 0x07
	ManifestRequest     Type = 0x08
	ManifestResponse    Type = 0x09
	CrinfoRequest       Type = 0x0A
	CrinfoResponse      Type = 0x0B
	NewCrinfoNotif      Type = 0x0C
	NewCrinfoNotifAck   Type = 0x0D
	PeerlistPush        Type = 0x10
	UnexpectedReq       Type = 0xF9
	InvalidReq          Type = 0xFD
	NoOp                Type = 0xFE
	ServerError         Type = 0xFF
)

// requestKinds lists message types that are requests despite the parity bit
// being unreliable for PeerlistPush and NoOp. This table is
// authoritative for IsRequest; never infer request-ness from parity alone.
var requestKinds = map[Type]bool{
	StatusRequest:      true,
	Notification:       true,
	BlockRequest:       true,
	ClusterJoinRequest: true,
	ManifestRequest:    true,
	CrinfoRequest:      true,
	NewCrinfoNotif:     true,
	PeerlistPush:       true,
	NoOp:               true,
}

// knownTypes is the closed enumeration of valid wire values.
var knownTypes = map[Type]bool{
	StatusRequest: true, StatusResponse: true,
	Notification: true, NotificationAck: true,
	BlockRequest: true, BlockResponse: true,
	ClusterJoinRequest: true, ClusterJoinResponse: true,
	ManifestRequest: true, ManifestResponse: true,
	CrinfoRequest: true, CrinfoResponse: true,
	NewCrinfoNotif: true, NewCrinfoNotifAck: true,
	PeerlistPush:  true,
	UnexpectedReq: true, InvalidReq: true, NoOp: true, ServerError: true,
}

// IsRequest reports whether t is a request type (vs. a response type),
// per the authoritative type table — not the parity bit.
func (t Type) IsRequest() bool {
	return requestKinds[t]
}

func (t Type) String() string {
	switch t {
	case StatusRequest:
		return "STATUS_REQUEST"
	case StatusResponse:
		return "STATUS_RESPONSE"
	case Notification:
		return "NOTIFICATION"
	case NotificationAck:
		return "NOTIFICATION_ACK"
	case BlockRequest:
		return "BLOCK_REQUEST"
	case BlockResponse:
		return "BLOCK_RESPONSE"
	case ClusterJoinRequest:
		return "CLUSTER_JOIN_REQUEST"
	case ClusterJoinResponse:
		return "CLUSTER_JOIN_RESPONSE"
	case ManifestRequest:
		return "MANIFEST_REQUEST"
	case ManifestResponse:
		return "MANIFEST_RESPONSE"
	case CrinfoRequest:
		return "CRINFO_REQUEST"
	case CrinfoResponse:
		return "CRINFO_RESPONSE"
	case NewCrinfoNotif:
		return "NEW_CRINFO_NOTIF"
	case NewCrinfoNotifAck:
		return "NEW_CRINFO_NOTIF_ACK"
	case PeerlistPush:
		return "PEERLIST_PUSH"
	case UnexpectedReq:
		return "UNEXPECTED_REQ"
	case InvalidReq:
		return "INVALID_REQ"
	case NoOp:
		return "NO_OP"
	case ServerError:
		return "SERVER_ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

const (
	// HeaderSize is the fixed CTP header length in bytes.
	HeaderSize = 69
	// IDSize is the fixed length of cluster_id and sender_id, in bytes.
	IDSize = 32
	// MaxDatagram is the largest CTP packet that fits a single UDP send.
	MaxDatagram = 1400
	// MaxBody is the largest permitted message body.
	MaxBody = MaxDatagram - HeaderSize

	offsetType    = 0
	offsetSeqnum  = 1
	offsetCluster = 5
	offsetSender  = 37
)

var (
	// ErrInvalidMessage covers any malformed header or body: truncated
	// packets, unknown message types, non-ASCII or mis-sized identifiers,
	// and oversized bodies. The listener drops these
	// silently; callers constructing outgoing messages should treat this
	// as a local validation failure.
	ErrInvalidMessage = errors.New("ctp: invalid message")
)

// Message is a decoded CTP datagram.
type Message struct {
	Type      Type
	Seqnum    uint32
	ClusterID string
	SenderID  string
	Body      []byte
}

// Header holds just the fixed-size prefix of a CTP datagram, as returned by
// UnpackHeader.
type Header struct {
	Type      Type
	Seqnum    uint32
	ClusterID string
	SenderID  string
}

func encodeID(id string) ([IDSize]byte, error) {
	var out [IDSize]byte
	if len(id) != IDSize {
		return out, fmt.Errorf("%w: identifier must be exactly %d bytes, got %d", ErrInvalidMessage, IDSize, len(id))
	}
	for i := 0; i < IDSize; i++ {
		if id[i] > 0x7F {
			return out, fmt.Errorf("%w: identifier must be ASCII", ErrInvalidMessage)
		}
		out[i] = id[i]
	}
	return out, nil
}

func decodeID(b []byte) (string, error) {
	for _, c := range b {
		if c > 0x7F {
			return "", fmt.Errorf("%w: identifier must be ASCII", ErrInvalidMessage)
		}
	}
	return string(b), nil
}

// Pack serializes m into a CTP datagram. It fails if ClusterID or SenderID
// are not exactly 32 ASCII bytes, if Body exceeds MaxBody, or if Type is not
// part of the closed type enumeration.
func (m Message) Pack() ([]byte, error) {
	if !knownTypes[m.Type] {
		return nil, fmt.Errorf("%w: unknown message type 0x%02x", ErrInvalidMessage, uint8(m.Type))
	}
	if len(m.Body) > MaxBody {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds MAX_BODY=%d", ErrInvalidMessage, len(m.Body), MaxBody)
	}
	cluster, err := encodeID(m.ClusterID)
	if err != nil {
		return nil, err
	}
	sender, err := encodeID(m.SenderID)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, HeaderSize+len(m.Body))
	buf[offsetType] = byte(m.Type)
	binary.BigEndian.PutUint32(buf[offsetSeqnum:offsetSeqnum+4], m.Seqnum)
	copy(buf[offsetCluster:offsetCluster+IDSize], cluster[:])
	copy(buf[offsetSender:offsetSender+IDSize], sender[:])
	copy(buf[HeaderSize:], m.Body)
	return buf, nil
}

// Unpack decodes a CTP datagram. It requires at least HeaderSize bytes,
// rejects unknown message types, and rejects non-ASCII identifiers.
func Unpack(packet []byte) (Message, error) {
	if len(packet) < HeaderSize {
		return Message{}, fmt.Errorf("%w: packet of %d bytes shorter than header (%d)", ErrInvalidMessage, len(packet), HeaderSize)
	}
	t := Type(packet[offsetType])
	if !knownTypes[t] {
		return Message{}, fmt.Errorf("%w: unknown message type 0x%02x", ErrInvalidMessage, uint8(t))
	}
	cluster, err := decodeID(packet[offsetCluster : offsetCluster+IDSize])
	if err != nil {
		return Message{}, err
	}
	sender, err := decodeID(packet[offsetSender : offsetSender+IDSize])
	if err != nil {
		return Message{}, err
	}
	body := make([]byte, len(packet)-HeaderSize)
	copy(body, packet[HeaderSize:])

	return Message{
		Type:      t,
		Seqnum:    binary.BigEndian.Uint32(packet[offsetSeqnum : offsetSeqnum+4]),
		ClusterID: cluster,
		SenderID:  sender,
		Body:      body,
	}, nil
}

// UnpackHeader decodes only the fixed header fields, without requiring or
// copying any body bytes beyond HeaderSize.
func UnpackHeader(packet []byte) (Header, error) {
	if len(packet) < HeaderSize {
		return Header{}, fmt.Errorf("%w: packet of %d bytes shorter than header (%d)", ErrInvalidMessage, len(packet), HeaderSize)
	}
	t := Type(packet[offsetType])
	if !knownTypes[t] {
		return Header{}, fmt.Errorf("%w: unknown message type 0x%02x", ErrInvalidMessage, uint8(t))
	}
	cluster, err := decodeID(packet[offsetCluster : offsetCluster+IDSize])
	if err != nil {
		return Header{}, err
	}
	sender, err := decodeID(packet[offsetSender : offsetSender+IDSize])
	if err != nil {
		return Header{}, err
	}
	return Header{
		Type:      t,
		Seqnum:    binary.BigEndian.Uint32(packet[offsetSeqnum : offsetSeqnum+4]),
		ClusterID: cluster,
		SenderID:  sender,
	}, nil
}
