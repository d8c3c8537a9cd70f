package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Protocol constants
const (
	// Packet types
	PacketTypeHello      = 0x01 // Peer heartbeat with eligibility
	PacketTypeAnnounce   = 0x02 // A new session was activated by the sender
	PacketTypeActivity   = 0x03 // The activity of an existing session changed
	PacketTypeJoin       = 0x04 // The sender joined the session
	PacketTypeLeave      = 0x05 // The sender left the session
	PacketTypeInvalidate = 0x06 // The session ended for everyone

	// Packet structure sizes
	HeaderSize          = 19  // 1 + 2 + 16 bytes
	HelloPayloadSize    = 33  // 32 + 1 bytes
	ActivityPayloadSize = 464 // 16 + 64 + 128 + 256 bytes

	// Field sizes
	SessionIDSize  = 16
	PeerNameSize   = 32
	ActivityIDSize = 16
	MediaIDSize    = 64
	TitleSize      = 128
	URLSize        = 256
)

// Header represents the 19-byte TLV packet header
// Layout: [PacketType:1][PacketLen:2][SessionID:16]
type Header struct {
	PacketType uint8     // See PacketType* constants
	PacketLen  uint16    // Total packet size (header + payload)
	SessionID  uuid.UUID // Zero for hello packets
}

// HelloPayload represents the 33-byte hello payload
// Layout: [PeerName:32][Eligible:1]
type HelloPayload struct {
	PeerName [PeerNameSize]byte // Null-terminated string
	Eligible uint8              // 1 if the sender can start a session
}

// ActivityPayload represents the 464-byte announce/activity payload
// Layout: [ActivityID:16][MediaID:64][Title:128][URL:256]
type ActivityPayload struct {
	ActivityID uuid.UUID
	MediaID    [MediaIDSize]byte // Null-terminated string
	Title      [TitleSize]byte   // Null-terminated string
	URL        [URLSize]byte     // Null-terminated string
}

// ParsedPacket represents a fully parsed TLV packet
type ParsedPacket struct {
	Header   *Header
	Hello    *HelloPayload    // Only set for hello packets
	Activity *ActivityPayload // Only set for announce and activity packets
}

// ParseHeader parses the 19-byte TLV packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
	}
	copy(header.SessionID[:], data[3:HeaderSize])

	return header, nil
}

// ParseHelloPayload parses the 33-byte hello payload
func ParseHelloPayload(data []byte) (*HelloPayload, error) {
	if len(data) < HelloPayloadSize {
		return nil, fmt.Errorf("hello payload too short: expected %d bytes, got %d",
			HelloPayloadSize, len(data))
	}

	payload := &HelloPayload{}
	copy(payload.PeerName[:], data[0:PeerNameSize])
	payload.Eligible = data[PeerNameSize]

	return payload, nil
}

// ParseActivityPayload parses the 464-byte activity payload
func ParseActivityPayload(data []byte) (*ActivityPayload, error) {
	if len(data) < ActivityPayloadSize {
		return nil, fmt.Errorf("activity payload too short: expected %d bytes, got %d",
			ActivityPayloadSize, len(data))
	}

	payload := &ActivityPayload{}
	offset := 0

	copy(payload.ActivityID[:], data[offset:offset+ActivityIDSize])
	offset += ActivityIDSize
	copy(payload.MediaID[:], data[offset:offset+MediaIDSize])
	offset += MediaIDSize
	copy(payload.Title[:], data[offset:offset+TitleSize])
	offset += TitleSize
	copy(payload.URL[:], data[offset:offset+URLSize])

	return payload, nil
}

// ParsePacket parses a complete TLV packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeHello:
		payload, err := ParseHelloPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hello payload: %w", err)
		}
		packet.Hello = payload

	case PacketTypeAnnounce, PacketTypeActivity:
		payload, err := ParseActivityPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse activity payload: %w", err)
		}
		packet.Activity = payload
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	expected := ExpectedPayloadSize(header.PacketType)
	if got := int(header.PacketLen) - HeaderSize; got != expected {
		return fmt.Errorf("%s packet payload size mismatch: expected %d, got %d",
			PacketTypeName(header.PacketType), expected, got)
	}

	if header.PacketType != PacketTypeHello && header.SessionID == uuid.Nil {
		return fmt.Errorf("%s packet requires a session id", PacketTypeName(header.PacketType))
	}

	return nil
}

// ExpectedPayloadSize returns the fixed payload size for a packet type
func ExpectedPayloadSize(ptype uint8) int {
	switch ptype {
	case PacketTypeHello:
		return HelloPayloadSize
	case PacketTypeAnnounce, PacketTypeActivity:
		return ActivityPayloadSize
	default:
		return 0
	}
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype >= PacketTypeHello && ptype <= PacketTypeInvalidate
}

// PacketTypeName returns a short lowercase name for ptype
func PacketTypeName(ptype uint8) string {
	switch ptype {
	case PacketTypeHello:
		return "hello"
	case PacketTypeAnnounce:
		return "announce"
	case PacketTypeActivity:
		return "activity"
	case PacketTypeJoin:
		return "join"
	case PacketTypeLeave:
		return "leave"
	case PacketTypeInvalidate:
		return "invalidate"
	default:
		return fmt.Sprintf("unknown(0x%02x)", ptype)
	}
}

// MarshalHello builds a hello packet
func MarshalHello(peerName string, eligible bool) []byte {
	buf := marshalHeader(PacketTypeHello, uuid.Nil, HelloPayloadSize)

	payload := buf[HeaderSize:]
	PutString(payload[0:PeerNameSize], peerName)
	if eligible {
		payload[PeerNameSize] = 1
	}

	return buf
}

// MarshalActivity builds an announce or activity packet for sessionID
func MarshalActivity(ptype uint8, sessionID uuid.UUID, activity *ActivityPayload) ([]byte, error) {
	if ptype != PacketTypeAnnounce && ptype != PacketTypeActivity {
		return nil, fmt.Errorf("packet type %s does not carry an activity", PacketTypeName(ptype))
	}

	buf := marshalHeader(ptype, sessionID, ActivityPayloadSize)

	payload := buf[HeaderSize:]
	offset := 0
	copy(payload[offset:], activity.ActivityID[:])
	offset += ActivityIDSize
	copy(payload[offset:], activity.MediaID[:])
	offset += MediaIDSize
	copy(payload[offset:], activity.Title[:])
	offset += TitleSize
	copy(payload[offset:], activity.URL[:])

	return buf, nil
}

// MarshalControl builds a payload-less join, leave or invalidate packet
func MarshalControl(ptype uint8, sessionID uuid.UUID) ([]byte, error) {
	if !IsValidPacketType(ptype) || ExpectedPayloadSize(ptype) != 0 {
		return nil, fmt.Errorf("packet type %s is not a control packet", PacketTypeName(ptype))
	}
	return marshalHeader(ptype, sessionID, 0), nil
}

func marshalHeader(ptype uint8, sessionID uuid.UUID, payloadSize int) []byte {
	buf := make([]byte, HeaderSize+payloadSize)
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	copy(buf[3:HeaderSize], sessionID[:])
	return buf
}

// NewActivityPayload builds a payload, truncating strings that do not fit
func NewActivityPayload(id uuid.UUID, mediaID, title, url string) *ActivityPayload {
	payload := &ActivityPayload{ActivityID: id}
	PutString(payload.MediaID[:], mediaID)
	PutString(payload.Title[:], title)
	PutString(payload.URL[:], url)
	return payload
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// PutString copies s into buf, truncated to len(buf), and zeroes the rest
func PutString(buf []byte, s string) {
	n := copy(buf, s)
	clear(buf[n:])
}

// GetPeerName extracts the peer name as a string
func (h *HelloPayload) GetPeerName() string {
	return ExtractString(h.PeerName[:])
}

// IsEligible reports whether the sender can start a session
func (h *HelloPayload) IsEligible() bool {
	return h.Eligible != 0
}

// GetMediaID extracts the media ID as a string
func (a *ActivityPayload) GetMediaID() string {
	return ExtractString(a.MediaID[:])
}

// GetTitle extracts the title as a string
func (a *ActivityPayload) GetTitle() string {
	return ExtractString(a.Title[:])
}

// GetURL extracts the URL as a string
func (a *ActivityPayload) GetURL() string {
	return ExtractString(a.URL[:])
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	return fmt.Sprintf("Header{Type:%s, Len:%d, SessionID:%s}",
		PacketTypeName(h.PacketType), h.PacketLen, h.SessionID)
}

// String returns a human-readable representation of the hello payload
func (h *HelloPayload) String() string {
	return fmt.Sprintf("HelloPayload{PeerName:%q, Eligible:%t}", h.GetPeerName(), h.IsEligible())
}

// String returns a human-readable representation of the activity payload
func (a *ActivityPayload) String() string {
	return fmt.Sprintf("ActivityPayload{ActivityID:%s, MediaID:%q, Title:%q, URL:%q}",
		a.ActivityID, a.GetMediaID(), a.GetTitle(), a.GetURL())
}
