package frames

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/janu-io/janu-go/internal/buffer"
	"github.com/janu-io/janu-go/internal/encoding"
)

func roundTrip(t *testing.T, body Body) Body {
	t.Helper()
	buf := buffer.NewContiguous(0)
	if err := Write(buf, body); err != nil {
		t.Fatalf("Write(%s): %v", body, err)
	}
	cbuf := buffer.NewConsumer(buf.Bytes())
	got, err := Read(cbuf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Kind() != body.Kind() {
		t.Fatalf("kind mismatch: got %s, want %s", got.Kind(), body.Kind())
	}
	return got
}

func TestInitSynRoundTrip(t *testing.T) {
	in := &InitSyn{Version: 1, WhatAmI: encoding.Peer, PeerID: encoding.PeerID{0x01, 0x02}, SnResolutionPref: 1 << 28, IsQoS: true}
	out := roundTrip(t, in).(*InitSyn)
	if out.Version != in.Version || !out.PeerID.Equal(in.PeerID) || out.SnResolutionPref != in.SnResolutionPref || out.IsQoS != in.IsQoS {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestInitAckRoundTrip(t *testing.T) {
	in := &InitAck{WhatAmI: encoding.Router, PeerID: encoding.PeerID{0xaa}, SnResolution: 1 << 28, Cookie: []byte("opaque-cookie")}
	out := roundTrip(t, in).(*InitAck)
	if string(out.Cookie) != string(in.Cookie) || out.SnResolution != in.SnResolution {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestOpenSynAckRoundTrip(t *testing.T) {
	syn := &OpenSyn{LeaseMillis: 10_000, InitialSN: 42, Cookie: []byte("c")}
	got := roundTrip(t, syn).(*OpenSyn)
	if got.InitialSN != 42 || got.LeaseMillis != 10_000 {
		t.Fatalf("got %+v", got)
	}

	ack := &OpenAck{LeaseMillis: 10_000, InitialSN: 7}
	gotAck := roundTrip(t, ack).(*OpenAck)
	if gotAck.InitialSN != 7 {
		t.Fatalf("got %+v", gotAck)
	}
}

func TestCloseAndKeepAlive(t *testing.T) {
	c := roundTrip(t, &Close{Reason: CloseMaxLinks}).(*Close)
	if c.Reason != CloseMaxLinks {
		t.Fatalf("got %v", c.Reason)
	}
	roundTrip(t, &KeepAlive{})
}

func TestFrameRoundTrip(t *testing.T) {
	ch := encoding.Channel{Priority: encoding.DataHigh, Reliability: encoding.Reliable}
	d := &Data{Key: encoding.ResKey{Suffix: "/a/b"}, Payload: []byte("hello")}
	in := &Frame{Channel: ch, SN: 5, Messages: []JanuMessage{d}}
	out := roundTrip(t, in).(*Frame)
	if out.Channel != ch || out.SN != 5 || len(out.Messages) != 1 {
		t.Fatalf("got %+v", out)
	}
	gotData, ok := out.Messages[0].(*Data)
	if !ok || string(gotData.Payload) != "hello" || gotData.Key.Suffix != "/a/b" {
		t.Fatalf("got %+v", gotData)
	}
}

func TestFragmentRoundTrip(t *testing.T) {
	ch := encoding.Channel{Priority: encoding.Background, Reliability: encoding.BestEffort}
	in := &Fragment{Channel: ch, SN: 9, More: true, Payload: []byte("chunk")}
	out := roundTrip(t, in).(*Fragment)
	if out.Channel != ch || out.SN != 9 || !out.More || string(out.Payload) != "chunk" {
		t.Fatalf("got %+v", out)
	}
}

func TestJoinRoundTrip(t *testing.T) {
	in := &Join{
		PeerID:       encoding.PeerID{0x01, 0x02, 0x03, 0x04},
		WhatAmI:      encoding.Router,
		LeaseMillis:  30_000,
		SnResolution: 1 << 28,
		InitialSNs: []ConduitInitialSN{
			{Channel: encoding.Channel{Priority: encoding.Control, Reliability: encoding.Reliable}, InitialSN: 0},
			{Channel: encoding.Channel{Priority: encoding.Data, Reliability: encoding.BestEffort}, InitialSN: 100},
		},
	}
	out := roundTrip(t, in).(*Join)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("Join round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncAndAckNackRoundTrip(t *testing.T) {
	ch := encoding.Channel{Priority: encoding.RealTime, Reliability: encoding.Reliable}
	s := roundTrip(t, &Sync{Channel: ch, SN: 12}).(*Sync)
	if s.SN != 12 {
		t.Fatalf("got %+v", s)
	}
	an := roundTrip(t, &AckNack{Channel: ch, NextExpected: 13, Mask: 0b101}).(*AckNack)
	if an.NextExpected != 13 || an.Mask != 0b101 {
		t.Fatalf("got %+v", an)
	}
}

func TestDataOptionalFieldsRoundTrip(t *testing.T) {
	in := &Data{
		Key:     encoding.ResKey{ID: 7},
		Payload: []byte("v"),
		Info: &DataInfo{
			Kind:      DataDelete,
			Encoding:  "text/plain",
			Timestamp: &Timestamp{Time: 123, SourceID: encoding.PeerID{0x9}},
		},
		RoutingContext: &RoutingContext{TreeID: 3},
		ReplyContext:   &ReplyContext{QID: 4, SourceKind: encoding.Peer, SourceID: encoding.PeerID{0x1}, IsFinal: true},
		Attachment:     []byte("meta"),
	}
	out := roundTrip(t, &Frame{
		Channel:  encoding.Channel{Priority: encoding.Control, Reliability: encoding.Reliable},
		SN:       1,
		Messages: []JanuMessage{in},
	}).(*Frame)
	got := out.Messages[0].(*Data)
	if got.Info == nil || got.Info.Kind != DataDelete || got.Info.Timestamp == nil || got.Info.Timestamp.Time != 123 {
		t.Fatalf("info mismatch: %+v", got.Info)
	}
	if got.RoutingContext == nil || got.RoutingContext.TreeID != 3 {
		t.Fatalf("routing context mismatch: %+v", got.RoutingContext)
	}
	if got.ReplyContext == nil || !got.ReplyContext.IsFinal || got.ReplyContext.QID != 4 {
		t.Fatalf("reply context mismatch: %+v", got.ReplyContext)
	}
	if string(got.Attachment) != "meta" {
		t.Fatalf("attachment mismatch: %q", got.Attachment)
	}
}

func TestDeclareRoundTrip(t *testing.T) {
	in := &Declare{Declarations: []Declaration{
		{Kind: DeclResource, RID: 1, Key: encoding.ResKey{Suffix: "/a"}},
		{Kind: DeclSubscriber, RID: 2, Key: encoding.ResKey{Suffix: "/b"}, SubMode: SubPull},
		{Kind: DeclForgetResource, RID: 1},
	}}
	out := roundTrip(t, &Frame{
		Channel:  encoding.Channel{Priority: encoding.Control, Reliability: encoding.Reliable},
		SN:       0,
		Messages: []JanuMessage{in},
	}).(*Frame)
	got := out.Messages[0].(*Declare)
	if len(got.Declarations) != 3 || got.Declarations[1].SubMode != SubPull {
		t.Fatalf("got %+v", got.Declarations)
	}
}

func TestQueryPullUnitRoundTrip(t *testing.T) {
	q := &Query{Key: encoding.ResKey{Suffix: "/x"}, Predicate: "a=1", QID: 1, Target: QueryTarget{Kind: TargetAll}, Consolidation: ConsolidationIncremental}
	fq := roundTrip(t, &Frame{Channel: encoding.Channel{Priority: encoding.Control, Reliability: encoding.Reliable}, Messages: []JanuMessage{q}}).(*Frame)
	if gotQ := fq.Messages[0].(*Query); gotQ.Predicate != "a=1" || gotQ.Consolidation != ConsolidationIncremental {
		t.Fatalf("got %+v", gotQ)
	}

	p := &Pull{Key: encoding.ResKey{Suffix: "/x"}, PullID: 2, MaxSamples: 10, IsFinal: true}
	fp := roundTrip(t, &Frame{Channel: encoding.Channel{Priority: encoding.Control, Reliability: encoding.Reliable}, Messages: []JanuMessage{p}}).(*Frame)
	if gotP := fp.Messages[0].(*Pull); gotP.PullID != 2 || !gotP.IsFinal {
		t.Fatalf("got %+v", gotP)
	}

	u := &Unit{ReplyContext: &ReplyContext{QID: 9, IsFinal: true}}
	fu := roundTrip(t, &Frame{Channel: encoding.Channel{Priority: encoding.Control, Reliability: encoding.Reliable}, Messages: []JanuMessage{u}}).(*Frame)
	if gotU := fu.Messages[0].(*Unit); gotU.ReplyContext == nil || gotU.ReplyContext.QID != 9 {
		t.Fatalf("got %+v", gotU)
	}
}

func TestUnknownKindErrors(t *testing.T) {
	buf := buffer.NewContiguous(0)
	buf.WriteByte(encodeHeader(Kind(31)))
	cbuf := buffer.NewConsumer(buf.Bytes())
	if _, err := Read(cbuf); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
