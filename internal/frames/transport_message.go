// Package frames implements the TransportMessage tagged sum — the wire
// unit exchanged between peers — and the JanuMessage kinds a Frame carries.
// The dispatch shape (one marker interface, one marshal/unmarshal pair per
// variant, a tag byte selecting the concrete type) is modeled directly on
// go-amqp's performOpen/performBegin/.../frameBody() family in frames.go,
// trading AMQP's two-part composite descriptor for a single tag byte.
package frames

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/janu-io/janu-go/internal/buffer"
	"github.com/janu-io/janu-go/internal/encoding"
)

// Kind identifies a TransportMessage variant. It occupies the top 5 bits of
// the envelope header byte; the low 3 bits are reserved flag bits (spec.md
// §6), currently unused and always zero.
type Kind byte

const (
	KindInitSyn Kind = iota
	KindInitAck
	KindOpenSyn
	KindOpenAck
	KindClose
	KindKeepAlive
	KindFrame
	KindFragment
	KindJoin
	KindSync
	KindAckNack
)

func (k Kind) String() string {
	names := [...]string{
		"InitSyn", "InitAck", "OpenSyn", "OpenAck", "Close", "KeepAlive",
		"Frame", "Fragment", "Join", "Sync", "AckNack",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

const headerKindShift = 3

func encodeHeader(k Kind) byte {
	return byte(k) << headerKindShift
}

func decodeHeader(b byte) Kind {
	return Kind(b >> headerKindShift)
}

// Body is implemented by every TransportMessage variant.
type Body interface {
	Kind() Kind
	marshal(*buffer.Buffer) error
	unmarshal(*buffer.Buffer) error
	fmt.Stringer
}

// ErrUnknownKind is returned by Read when the header byte names a kind this
// version of the codec does not understand.
var ErrUnknownKind = errors.New("frames: unknown transport message kind")

// Write encodes one full TransportMessage (header + body) into buf.
func Write(buf *buffer.Buffer, body Body) error {
	buf.Mark()
	if !buf.WriteByte(encodeHeader(body.Kind())) {
		buf.RevertToMark()
		return buffer.ErrWouldNotFit
	}
	if err := body.marshal(buf); err != nil {
		buf.RevertToMark()
		return err
	}
	return nil
}

// Read decodes one TransportMessage from buf.
func Read(buf *buffer.Buffer) (Body, error) {
	h, err := buf.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "frames.Read: header")
	}
	kind := decodeHeader(h)
	body, err := newBody(kind)
	if err != nil {
		return nil, err
	}
	if err := body.unmarshal(buf); err != nil {
		return nil, errors.Wrapf(err, "frames.Read: %s body", kind)
	}
	return body, nil
}

func newBody(k Kind) (Body, error) {
	switch k {
	case KindInitSyn:
		return &InitSyn{}, nil
	case KindInitAck:
		return &InitAck{}, nil
	case KindOpenSyn:
		return &OpenSyn{}, nil
	case KindOpenAck:
		return &OpenAck{}, nil
	case KindClose:
		return &Close{}, nil
	case KindKeepAlive:
		return &KeepAlive{}, nil
	case KindFrame:
		return &Frame{}, nil
	case KindFragment:
		return &Fragment{}, nil
	case KindJoin:
		return &Join{}, nil
	case KindSync:
		return &Sync{}, nil
	case KindAckNack:
		return &AckNack{}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "kind byte %d", k)
	}
}

// --- InitSyn ---

// InitSyn is the first message of the unicast handshake: initiator to
// responder.
type InitSyn struct {
	Version            byte
	WhatAmI            encoding.WhatAmI
	PeerID             encoding.PeerID
	SnResolutionPref   uint64
	IsQoS              bool
}

func (*InitSyn) Kind() Kind { return KindInitSyn }

func (m *InitSyn) String() string {
	return fmt.Sprintf("InitSyn{Version: %d, WhatAmI: %s, PeerID: %s, SnResolutionPref: %d, IsQoS: %t}",
		m.Version, m.WhatAmI, m.PeerID, m.SnResolutionPref, m.IsQoS)
}

func (m *InitSyn) marshal(buf *buffer.Buffer) error {
	if !buf.WriteByte(m.Version) {
		return buffer.ErrWouldNotFit
	}
	if !buf.WriteByte(byte(m.WhatAmI)) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WritePeerID(buf, m.PeerID) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.SnResolutionPref) {
		return buffer.ErrWouldNotFit
	}
	if !buf.WriteByte(boolByte(m.IsQoS)) {
		return buffer.ErrWouldNotFit
	}
	return nil
}

func (m *InitSyn) unmarshal(buf *buffer.Buffer) error {
	var err error
	if m.Version, err = buf.ReadByte(); err != nil {
		return err
	}
	wai, err := buf.ReadByte()
	if err != nil {
		return err
	}
	m.WhatAmI = encoding.WhatAmI(wai)
	if m.PeerID, err = encoding.ReadPeerID(buf); err != nil {
		return err
	}
	if m.SnResolutionPref, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	qos, err := buf.ReadByte()
	if err != nil {
		return err
	}
	m.IsQoS = qos != 0
	return nil
}

// --- InitAck ---

// InitAck is the responder's reply to InitSyn. Per spec.md §4.3 the
// responder must not keep per-initiator state yet; Cookie carries
// everything needed to validate OpenSyn statelessly.
type InitAck struct {
	WhatAmI      encoding.WhatAmI
	PeerID       encoding.PeerID
	SnResolution uint64
	Cookie       []byte
}

func (*InitAck) Kind() Kind { return KindInitAck }

func (m *InitAck) String() string {
	return fmt.Sprintf("InitAck{WhatAmI: %s, PeerID: %s, SnResolution: %d, Cookie: %d bytes}",
		m.WhatAmI, m.PeerID, m.SnResolution, len(m.Cookie))
}

func (m *InitAck) marshal(buf *buffer.Buffer) error {
	if !buf.WriteByte(byte(m.WhatAmI)) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WritePeerID(buf, m.PeerID) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.SnResolution) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteBytes(buf, m.Cookie) {
		return buffer.ErrWouldNotFit
	}
	return nil
}

func (m *InitAck) unmarshal(buf *buffer.Buffer) error {
	wai, err := buf.ReadByte()
	if err != nil {
		return err
	}
	m.WhatAmI = encoding.WhatAmI(wai)
	if m.PeerID, err = encoding.ReadPeerID(buf); err != nil {
		return err
	}
	if m.SnResolution, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	if m.Cookie, err = encoding.ReadBytes(buf); err != nil {
		return err
	}
	return nil
}

// --- OpenSyn ---

// OpenSyn is the initiator's third handshake message: it echoes the cookie
// and proposes a lease and initial sequence number.
type OpenSyn struct {
	LeaseMillis uint64
	InitialSN   uint64
	Cookie      []byte
}

func (*OpenSyn) Kind() Kind { return KindOpenSyn }

func (m *OpenSyn) String() string {
	return fmt.Sprintf("OpenSyn{LeaseMillis: %d, InitialSN: %d, Cookie: %d bytes}", m.LeaseMillis, m.InitialSN, len(m.Cookie))
}

func (m *OpenSyn) marshal(buf *buffer.Buffer) error {
	if !encoding.WriteZInt(buf, m.LeaseMillis) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.InitialSN) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteBytes(buf, m.Cookie) {
		return buffer.ErrWouldNotFit
	}
	return nil
}

func (m *OpenSyn) unmarshal(buf *buffer.Buffer) error {
	var err error
	if m.LeaseMillis, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	if m.InitialSN, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	if m.Cookie, err = encoding.ReadBytes(buf); err != nil {
		return err
	}
	return nil
}

// --- OpenAck ---

// OpenAck is the responder's final handshake message, completing
// establishment.
type OpenAck struct {
	LeaseMillis uint64
	InitialSN   uint64
}

func (*OpenAck) Kind() Kind { return KindOpenAck }

func (m *OpenAck) String() string {
	return fmt.Sprintf("OpenAck{LeaseMillis: %d, InitialSN: %d}", m.LeaseMillis, m.InitialSN)
}

func (m *OpenAck) marshal(buf *buffer.Buffer) error {
	if !encoding.WriteZInt(buf, m.LeaseMillis) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.InitialSN) {
		return buffer.ErrWouldNotFit
	}
	return nil
}

func (m *OpenAck) unmarshal(buf *buffer.Buffer) error {
	var err error
	if m.LeaseMillis, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	if m.InitialSN, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	return nil
}

// --- Close ---

// CloseReason enumerates why a session or link is being torn down.
type CloseReason byte

const (
	CloseGeneric CloseReason = iota
	CloseUnsupportedVersion
	CloseInvalidCookie
	CloseMaxSessions
	CloseMaxLinks
	CloseInvalidMessage
)

func (r CloseReason) String() string {
	names := [...]string{"Generic", "UnsupportedVersion", "InvalidCookie", "MaxSessions", "MaxLinks", "InvalidMessage"}
	if int(r) < len(names) {
		return names[r]
	}
	return "Unknown"
}

// Close tears down a session (or rejects establishment before one exists).
type Close struct {
	Reason CloseReason
}

func (*Close) Kind() Kind { return KindClose }

func (m *Close) String() string { return fmt.Sprintf("Close{Reason: %s}", m.Reason) }

func (m *Close) marshal(buf *buffer.Buffer) error {
	if !buf.WriteByte(byte(m.Reason)) {
		return buffer.ErrWouldNotFit
	}
	return nil
}

func (m *Close) unmarshal(buf *buffer.Buffer) error {
	r, err := buf.ReadByte()
	if err != nil {
		return err
	}
	m.Reason = CloseReason(r)
	return nil
}

// --- KeepAlive ---

// KeepAlive carries no payload; its receipt alone refreshes the peer's lease.
type KeepAlive struct{}

func (*KeepAlive) Kind() Kind              { return KindKeepAlive }
func (*KeepAlive) String() string          { return "KeepAlive{}" }
func (*KeepAlive) marshal(*buffer.Buffer) error   { return nil }
func (*KeepAlive) unmarshal(*buffer.Buffer) error { return nil }

// --- Frame ---

// Frame carries one or more JanuMessages back-to-back on a single conduit
// under one sequence number, SN; the messages inside carry none of their own
// (spec.md §3 invariant 3: a Frame never straddles batch boundaries).
type Frame struct {
	Channel  encoding.Channel
	SN       uint64
	Messages []JanuMessage
}

func (*Frame) Kind() Kind { return KindFrame }

func (m *Frame) String() string {
	return fmt.Sprintf("Frame{Channel: %+v, SN: %d, Messages: %d}", m.Channel, m.SN, len(m.Messages))
}

func (m *Frame) marshal(buf *buffer.Buffer) error {
	if !buf.WriteByte(m.Channel.Encode()) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.SN) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, uint64(len(m.Messages))) {
		return buffer.ErrWouldNotFit
	}
	for i := range m.Messages {
		if err := WriteJanuMessage(buf, m.Messages[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Frame) unmarshal(buf *buffer.Buffer) error {
	chb, err := buf.ReadByte()
	if err != nil {
		return err
	}
	if m.Channel, err = encoding.DecodeChannel(chb); err != nil {
		return err
	}
	if m.SN, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	n, err := encoding.ReadZInt(buf)
	if err != nil {
		return err
	}
	m.Messages = make([]JanuMessage, n)
	for i := range m.Messages {
		jm, err := ReadJanuMessage(buf)
		if err != nil {
			return err
		}
		m.Messages[i] = jm
	}
	return nil
}

// --- Fragment ---

// Fragment carries one MTU-sized slice of a JanuMessage too large to fit in
// a single Frame. More is cleared on the final fragment of a logical
// message (spec.md §3 invariant 3).
type Fragment struct {
	Channel encoding.Channel
	SN      uint64
	More    bool
	Payload []byte
}

func (*Fragment) Kind() Kind { return KindFragment }

func (m *Fragment) String() string {
	return fmt.Sprintf("Fragment{Channel: %+v, SN: %d, More: %t, Payload: %d bytes}", m.Channel, m.SN, m.More, len(m.Payload))
}

const fragmentMoreBit = 0x10

func (m *Fragment) marshal(buf *buffer.Buffer) error {
	chb := m.Channel.Encode()
	if m.More {
		chb |= fragmentMoreBit
	}
	if !buf.WriteByte(chb) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.SN) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteBytes(buf, m.Payload) {
		return buffer.ErrWouldNotFit
	}
	return nil
}

func (m *Fragment) unmarshal(buf *buffer.Buffer) error {
	chb, err := buf.ReadByte()
	if err != nil {
		return err
	}
	m.More = chb&fragmentMoreBit != 0
	if m.Channel, err = encoding.DecodeChannel(chb &^ fragmentMoreBit); err != nil {
		return err
	}
	if m.SN, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	if m.Payload, err = encoding.ReadBytes(buf); err != nil {
		return err
	}
	return nil
}

// --- Join ---

// ConduitInitialSN carries the tx-side initial sequence number a Join
// announces for one conduit, so a freshly discovered peer's reliable
// conduits start in sync.
type ConduitInitialSN struct {
	Channel   encoding.Channel
	InitialSN uint64
}

// Join is emitted periodically on a multicast locator to announce (or
// refresh) a peer's presence (spec.md §4.3).
type Join struct {
	PeerID       encoding.PeerID
	WhatAmI      encoding.WhatAmI
	LeaseMillis  uint64
	SnResolution uint64
	InitialSNs   []ConduitInitialSN
}

func (*Join) Kind() Kind { return KindJoin }

func (m *Join) String() string {
	return fmt.Sprintf("Join{PeerID: %s, WhatAmI: %s, LeaseMillis: %d, SnResolution: %d, conduits: %d}",
		m.PeerID, m.WhatAmI, m.LeaseMillis, m.SnResolution, len(m.InitialSNs))
}

func (m *Join) marshal(buf *buffer.Buffer) error {
	if !encoding.WritePeerID(buf, m.PeerID) {
		return buffer.ErrWouldNotFit
	}
	if !buf.WriteByte(byte(m.WhatAmI)) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.LeaseMillis) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.SnResolution) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, uint64(len(m.InitialSNs))) {
		return buffer.ErrWouldNotFit
	}
	for _, c := range m.InitialSNs {
		if !buf.WriteByte(c.Channel.Encode()) {
			return buffer.ErrWouldNotFit
		}
		if !encoding.WriteZInt(buf, c.InitialSN) {
			return buffer.ErrWouldNotFit
		}
	}
	return nil
}

func (m *Join) unmarshal(buf *buffer.Buffer) error {
	var err error
	if m.PeerID, err = encoding.ReadPeerID(buf); err != nil {
		return err
	}
	wai, err := buf.ReadByte()
	if err != nil {
		return err
	}
	m.WhatAmI = encoding.WhatAmI(wai)
	if m.LeaseMillis, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	if m.SnResolution, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	n, err := encoding.ReadZInt(buf)
	if err != nil {
		return err
	}
	m.InitialSNs = make([]ConduitInitialSN, n)
	for i := range m.InitialSNs {
		chb, err := buf.ReadByte()
		if err != nil {
			return err
		}
		ch, err := encoding.DecodeChannel(chb)
		if err != nil {
			return err
		}
		sn, err := encoding.ReadZInt(buf)
		if err != nil {
			return err
		}
		m.InitialSNs[i] = ConduitInitialSN{Channel: ch, InitialSN: sn}
	}
	return nil
}

// --- Sync ---

// Sync requests the peer to report its reliable-conduit state via AckNack,
// sent opportunistically or on loss suspicion (spec.md §4.4).
type Sync struct {
	Channel encoding.Channel
	SN      uint64
}

func (*Sync) Kind() Kind { return KindSync }

func (m *Sync) String() string { return fmt.Sprintf("Sync{Channel: %+v, SN: %d}", m.Channel, m.SN) }

func (m *Sync) marshal(buf *buffer.Buffer) error {
	if !buf.WriteByte(m.Channel.Encode()) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.SN) {
		return buffer.ErrWouldNotFit
	}
	return nil
}

func (m *Sync) unmarshal(buf *buffer.Buffer) error {
	chb, err := buf.ReadByte()
	if err != nil {
		return err
	}
	if m.Channel, err = encoding.DecodeChannel(chb); err != nil {
		return err
	}
	if m.SN, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	return nil
}

// --- AckNack ---

// AckNack reports reliable-conduit receive state: NextExpected is the
// cumulative ack (everything before it was received), Mask bit i set means
// sn = NextExpected+i is still missing (spec.md §4.4).
type AckNack struct {
	Channel      encoding.Channel
	NextExpected uint64
	Mask         uint64
}

func (*AckNack) Kind() Kind { return KindAckNack }

func (m *AckNack) String() string {
	return fmt.Sprintf("AckNack{Channel: %+v, NextExpected: %d, Mask: %#x}", m.Channel, m.NextExpected, m.Mask)
}

func (m *AckNack) marshal(buf *buffer.Buffer) error {
	if !buf.WriteByte(m.Channel.Encode()) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.NextExpected) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.Mask) {
		return buffer.ErrWouldNotFit
	}
	return nil
}

func (m *AckNack) unmarshal(buf *buffer.Buffer) error {
	chb, err := buf.ReadByte()
	if err != nil {
		return err
	}
	if m.Channel, err = encoding.DecodeChannel(chb); err != nil {
		return err
	}
	if m.NextExpected, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	if m.Mask, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
