package frames

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/janu-io/janu-go/internal/buffer"
	"github.com/janu-io/janu-go/internal/encoding"
)

// JanuKind identifies a JanuMessage variant carried inside a Frame.
type JanuKind byte

const (
	JanuData JanuKind = iota
	JanuDeclare
	JanuQuery
	JanuPull
	JanuUnit
)

func (k JanuKind) String() string {
	names := [...]string{"Data", "Declare", "Query", "Pull", "Unit"}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// JanuMessage is implemented by every payload a Frame can carry.
type JanuMessage interface {
	JanuKind() JanuKind
	marshal(*buffer.Buffer) error
	unmarshal(*buffer.Buffer) error
	fmt.Stringer
}

// ErrUnknownJanuKind is returned when a JanuMessage tag byte is not
// recognized by this codec version.
var ErrUnknownJanuKind = errors.New("frames: unknown janu message kind")

// WriteJanuMessage encodes one tagged JanuMessage into buf.
func WriteJanuMessage(buf *buffer.Buffer, m JanuMessage) error {
	buf.Mark()
	if !buf.WriteByte(byte(m.JanuKind())) {
		buf.RevertToMark()
		return buffer.ErrWouldNotFit
	}
	if err := m.marshal(buf); err != nil {
		buf.RevertToMark()
		return err
	}
	return nil
}

// ReadJanuMessage decodes one tagged JanuMessage from buf.
func ReadJanuMessage(buf *buffer.Buffer) (JanuMessage, error) {
	tag, err := buf.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "frames.ReadJanuMessage: tag")
	}
	var m JanuMessage
	switch JanuKind(tag) {
	case JanuData:
		m = &Data{}
	case JanuDeclare:
		m = &Declare{}
	case JanuQuery:
		m = &Query{}
	case JanuPull:
		m = &Pull{}
	case JanuUnit:
		m = &Unit{}
	default:
		return nil, errors.Wrapf(ErrUnknownJanuKind, "tag %d", tag)
	}
	if err := m.unmarshal(buf); err != nil {
		return nil, errors.Wrapf(err, "frames.ReadJanuMessage: %s body", JanuKind(tag))
	}
	return m, nil
}

// DataKind distinguishes a put from a delete within DataInfo.
type DataKind byte

const (
	DataPut DataKind = iota
	DataDelete
)

func (k DataKind) String() string {
	if k == DataDelete {
		return "Delete"
	}
	return "Put"
}

// Timestamp pairs a Hybrid-Logical-Clock-free wall time with the originating
// peer, used for last-writer-wins resolution above this layer.
type Timestamp struct {
	Time     uint64
	SourceID encoding.PeerID
}

// DataInfo is optional metadata describing the nature of a Data payload.
type DataInfo struct {
	Kind      DataKind
	Encoding  string
	Timestamp *Timestamp
}

// RoutingContext threads a routing tree identifier through the network,
// opaque at this layer (spec.md: routing is out of scope; only the wire
// contract for carrying it is implemented here).
type RoutingContext struct {
	TreeID uint64
}

// ReplyContext marks a Data message as a reply to an earlier Query.
type ReplyContext struct {
	QID        uint64
	SourceKind encoding.WhatAmI
	SourceID   encoding.PeerID
	IsFinal    bool
}

// Data publishes (or retracts) a value under a resource key.
type Data struct {
	Key            encoding.ResKey
	Payload        []byte
	Info           *DataInfo
	RoutingContext *RoutingContext
	ReplyContext   *ReplyContext
	Attachment     []byte
}

func (*Data) JanuKind() JanuKind { return JanuData }

func (m *Data) String() string {
	return fmt.Sprintf("Data{Key: %s, Payload: %d bytes, Info: %v, HasReply: %t}",
		m.Key, len(m.Payload), m.Info, m.ReplyContext != nil)
}

const (
	dataFlagInfo = 1 << iota
	dataFlagRoutingContext
	dataFlagReplyContext
	dataFlagAttachment
	dataFlagTimestamp
)

func (m *Data) marshal(buf *buffer.Buffer) error {
	flags := byte(0)
	if m.Info != nil {
		flags |= dataFlagInfo
		if m.Info.Timestamp != nil {
			flags |= dataFlagTimestamp
		}
	}
	if m.RoutingContext != nil {
		flags |= dataFlagRoutingContext
	}
	if m.ReplyContext != nil {
		flags |= dataFlagReplyContext
	}
	if m.Attachment != nil {
		flags |= dataFlagAttachment
	}
	if !buf.WriteByte(flags) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteResKey(buf, m.Key) {
		return buffer.ErrWouldNotFit
	}
	if flags&dataFlagRoutingContext != 0 {
		if !encoding.WriteZInt(buf, m.RoutingContext.TreeID) {
			return buffer.ErrWouldNotFit
		}
	}
	if flags&dataFlagReplyContext != 0 {
		if !encoding.WriteZInt(buf, m.ReplyContext.QID) {
			return buffer.ErrWouldNotFit
		}
		if !buf.WriteByte(byte(m.ReplyContext.SourceKind)) {
			return buffer.ErrWouldNotFit
		}
		if !encoding.WritePeerID(buf, m.ReplyContext.SourceID) {
			return buffer.ErrWouldNotFit
		}
		if !buf.WriteByte(boolByte(m.ReplyContext.IsFinal)) {
			return buffer.ErrWouldNotFit
		}
	}
	if flags&dataFlagInfo != 0 {
		if !buf.WriteByte(byte(m.Info.Kind)) {
			return buffer.ErrWouldNotFit
		}
		if !encoding.WriteString(buf, m.Info.Encoding) {
			return buffer.ErrWouldNotFit
		}
		if flags&dataFlagTimestamp != 0 {
			if !encoding.WriteZInt(buf, m.Info.Timestamp.Time) {
				return buffer.ErrWouldNotFit
			}
			if !encoding.WritePeerID(buf, m.Info.Timestamp.SourceID) {
				return buffer.ErrWouldNotFit
			}
		}
	}
	if flags&dataFlagAttachment != 0 {
		if !encoding.WriteBytes(buf, m.Attachment) {
			return buffer.ErrWouldNotFit
		}
	}
	if !encoding.WriteBytes(buf, m.Payload) {
		return buffer.ErrWouldNotFit
	}
	return nil
}

func (m *Data) unmarshal(buf *buffer.Buffer) error {
	flags, err := buf.ReadByte()
	if err != nil {
		return err
	}
	if m.Key, err = encoding.ReadResKey(buf); err != nil {
		return err
	}
	if flags&dataFlagRoutingContext != 0 {
		treeID, err := encoding.ReadZInt(buf)
		if err != nil {
			return err
		}
		m.RoutingContext = &RoutingContext{TreeID: treeID}
	}
	if flags&dataFlagReplyContext != 0 {
		rc := &ReplyContext{}
		if rc.QID, err = encoding.ReadZInt(buf); err != nil {
			return err
		}
		sk, err := buf.ReadByte()
		if err != nil {
			return err
		}
		rc.SourceKind = encoding.WhatAmI(sk)
		if rc.SourceID, err = encoding.ReadPeerID(buf); err != nil {
			return err
		}
		final, err := buf.ReadByte()
		if err != nil {
			return err
		}
		rc.IsFinal = final != 0
		m.ReplyContext = rc
	}
	if flags&dataFlagInfo != 0 {
		info := &DataInfo{}
		kb, err := buf.ReadByte()
		if err != nil {
			return err
		}
		info.Kind = DataKind(kb)
		if info.Encoding, err = encoding.ReadString(buf); err != nil {
			return err
		}
		if flags&dataFlagTimestamp != 0 {
			ts := &Timestamp{}
			if ts.Time, err = encoding.ReadZInt(buf); err != nil {
				return err
			}
			if ts.SourceID, err = encoding.ReadPeerID(buf); err != nil {
				return err
			}
			info.Timestamp = ts
		}
		m.Info = info
	}
	if flags&dataFlagAttachment != 0 {
		if m.Attachment, err = encoding.ReadBytes(buf); err != nil {
			return err
		}
	}
	if m.Payload, err = encoding.ReadBytes(buf); err != nil {
		return err
	}
	return nil
}

// DeclarationKind distinguishes the resource-registration entries a
// Declare message carries. Declarations only cross the wire here; the
// routing decisions they trigger belong to the (out of scope) routing
// layer.
type DeclarationKind byte

const (
	DeclResource DeclarationKind = iota
	DeclForgetResource
	DeclPublisher
	DeclForgetPublisher
	DeclSubscriber
	DeclForgetSubscriber
	DeclQueryable
	DeclForgetQueryable
)

func (k DeclarationKind) String() string {
	names := [...]string{
		"Resource", "ForgetResource", "Publisher", "ForgetPublisher",
		"Subscriber", "ForgetSubscriber", "Queryable", "ForgetQueryable",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// SubMode selects push or pull delivery for a Subscriber declaration.
type SubMode byte

const (
	SubPush SubMode = iota
	SubPull
)

func (m SubMode) String() string {
	if m == SubPull {
		return "Pull"
	}
	return "Push"
}

// Declaration is one entry of a Declare message. RID is used by the
// Forget* kinds to reference a previously declared resource by numeric id
// rather than re-sending its ResKey.
type Declaration struct {
	Kind    DeclarationKind
	RID     uint64
	Key     encoding.ResKey
	SubMode SubMode
}

func (d Declaration) hasKey() bool {
	switch d.Kind {
	case DeclResource, DeclPublisher, DeclSubscriber, DeclQueryable:
		return true
	default:
		return false
	}
}

// Declare announces or retracts resource/publisher/subscriber/queryable
// registrations.
type Declare struct {
	Declarations []Declaration
}

func (*Declare) JanuKind() JanuKind { return JanuDeclare }

func (m *Declare) String() string {
	return fmt.Sprintf("Declare{Declarations: %d}", len(m.Declarations))
}

func (m *Declare) marshal(buf *buffer.Buffer) error {
	if !encoding.WriteZInt(buf, uint64(len(m.Declarations))) {
		return buffer.ErrWouldNotFit
	}
	for _, d := range m.Declarations {
		if !buf.WriteByte(byte(d.Kind)) {
			return buffer.ErrWouldNotFit
		}
		if !encoding.WriteZInt(buf, d.RID) {
			return buffer.ErrWouldNotFit
		}
		if d.hasKey() {
			if !encoding.WriteResKey(buf, d.Key) {
				return buffer.ErrWouldNotFit
			}
		}
		if d.Kind == DeclSubscriber {
			if !buf.WriteByte(byte(d.SubMode)) {
				return buffer.ErrWouldNotFit
			}
		}
	}
	return nil
}

func (m *Declare) unmarshal(buf *buffer.Buffer) error {
	n, err := encoding.ReadZInt(buf)
	if err != nil {
		return err
	}
	m.Declarations = make([]Declaration, n)
	for i := range m.Declarations {
		kb, err := buf.ReadByte()
		if err != nil {
			return err
		}
		d := Declaration{Kind: DeclarationKind(kb)}
		if d.RID, err = encoding.ReadZInt(buf); err != nil {
			return err
		}
		if d.hasKey() {
			if d.Key, err = encoding.ReadResKey(buf); err != nil {
				return err
			}
		}
		if d.Kind == DeclSubscriber {
			sm, err := buf.ReadByte()
			if err != nil {
				return err
			}
			d.SubMode = SubMode(sm)
		}
		m.Declarations[i] = d
	}
	return nil
}

// QueryTargetKind selects which queryables a Query addresses.
type QueryTargetKind byte

const (
	TargetBestMatching QueryTargetKind = iota
	TargetAll
	TargetAllComplete
	TargetCount
)

// QueryTarget selects the queryables a Query is routed to.
type QueryTarget struct {
	Kind  QueryTargetKind
	Count uint64
}

// QueryConsolidation selects how a querier merges replies from multiple
// queryables.
type QueryConsolidation byte

const (
	ConsolidationNone QueryConsolidation = iota
	ConsolidationLastBroker
	ConsolidationIncremental
)

// Query requests matching Data from queryables registered under Key.
type Query struct {
	Key           encoding.ResKey
	Predicate     string
	QID           uint64
	Target        QueryTarget
	Consolidation QueryConsolidation
}

func (*Query) JanuKind() JanuKind { return JanuQuery }

func (m *Query) String() string {
	return fmt.Sprintf("Query{Key: %s, Predicate: %q, QID: %d}", m.Key, m.Predicate, m.QID)
}

func (m *Query) marshal(buf *buffer.Buffer) error {
	if !encoding.WriteResKey(buf, m.Key) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteString(buf, m.Predicate) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.QID) {
		return buffer.ErrWouldNotFit
	}
	if !buf.WriteByte(byte(m.Target.Kind)) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.Target.Count) {
		return buffer.ErrWouldNotFit
	}
	if !buf.WriteByte(byte(m.Consolidation)) {
		return buffer.ErrWouldNotFit
	}
	return nil
}

func (m *Query) unmarshal(buf *buffer.Buffer) error {
	var err error
	if m.Key, err = encoding.ReadResKey(buf); err != nil {
		return err
	}
	if m.Predicate, err = encoding.ReadString(buf); err != nil {
		return err
	}
	if m.QID, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	tk, err := buf.ReadByte()
	if err != nil {
		return err
	}
	m.Target.Kind = QueryTargetKind(tk)
	if m.Target.Count, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	cb, err := buf.ReadByte()
	if err != nil {
		return err
	}
	m.Consolidation = QueryConsolidation(cb)
	return nil
}

// Pull requests the next batch of samples on a pull-mode subscription.
type Pull struct {
	Key        encoding.ResKey
	PullID     uint64
	MaxSamples uint64
	IsFinal    bool
}

func (*Pull) JanuKind() JanuKind { return JanuPull }

func (m *Pull) String() string {
	return fmt.Sprintf("Pull{Key: %s, PullID: %d, MaxSamples: %d, IsFinal: %t}", m.Key, m.PullID, m.MaxSamples, m.IsFinal)
}

func (m *Pull) marshal(buf *buffer.Buffer) error {
	if !encoding.WriteResKey(buf, m.Key) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.PullID) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WriteZInt(buf, m.MaxSamples) {
		return buffer.ErrWouldNotFit
	}
	if !buf.WriteByte(boolByte(m.IsFinal)) {
		return buffer.ErrWouldNotFit
	}
	return nil
}

func (m *Pull) unmarshal(buf *buffer.Buffer) error {
	var err error
	if m.Key, err = encoding.ReadResKey(buf); err != nil {
		return err
	}
	if m.PullID, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	if m.MaxSamples, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	final, err := buf.ReadByte()
	if err != nil {
		return err
	}
	m.IsFinal = final != 0
	return nil
}

// Unit is an empty message used to terminate a query's reply sequence
// (ReplyContext.IsFinal carried on a Data) or to ack a Pull out of band.
type Unit struct {
	ReplyContext *ReplyContext
}

func (*Unit) JanuKind() JanuKind { return JanuUnit }

func (m *Unit) String() string { return fmt.Sprintf("Unit{HasReply: %t}", m.ReplyContext != nil) }

func (m *Unit) marshal(buf *buffer.Buffer) error {
	if m.ReplyContext == nil {
		if !buf.WriteByte(0) {
			return buffer.ErrWouldNotFit
		}
		return nil
	}
	if !buf.WriteByte(1) {
		return buffer.ErrWouldNotFit
	}
	rc := m.ReplyContext
	if !encoding.WriteZInt(buf, rc.QID) {
		return buffer.ErrWouldNotFit
	}
	if !buf.WriteByte(byte(rc.SourceKind)) {
		return buffer.ErrWouldNotFit
	}
	if !encoding.WritePeerID(buf, rc.SourceID) {
		return buffer.ErrWouldNotFit
	}
	if !buf.WriteByte(boolByte(rc.IsFinal)) {
		return buffer.ErrWouldNotFit
	}
	return nil
}

func (m *Unit) unmarshal(buf *buffer.Buffer) error {
	flag, err := buf.ReadByte()
	if err != nil {
		return err
	}
	if flag == 0 {
		return nil
	}
	rc := &ReplyContext{}
	if rc.QID, err = encoding.ReadZInt(buf); err != nil {
		return err
	}
	sk, err := buf.ReadByte()
	if err != nil {
		return err
	}
	rc.SourceKind = encoding.WhatAmI(sk)
	if rc.SourceID, err = encoding.ReadPeerID(buf); err != nil {
		return err
	}
	final, err := buf.ReadByte()
	if err != nil {
		return err
	}
	rc.IsFinal = final != 0
	m.ReplyContext = rc
	return nil
}
