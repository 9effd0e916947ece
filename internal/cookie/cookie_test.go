package cookie

import (
	"testing"
	"time"

	"github.com/janu-io/janu-go/internal/encoding"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	var key Key
	copy(key[:], "super-secret-responder-key-0000")
	pid := encoding.PeerID{0x01, 0x02, 0x03}
	now := time.Unix(1_700_000_000, 0)

	raw, err := Mint(key, pid, encoding.Peer, 1<<28, now)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	gotPid, gotWhatami, gotSn, err := Verify(key, raw, 10*time.Second, now.Add(5*time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !gotPid.Equal(pid) || gotWhatami != encoding.Peer || gotSn != 1<<28 {
		t.Fatalf("got %v %v %v", gotPid, gotWhatami, gotSn)
	}
}

func TestVerifyExpired(t *testing.T) {
	var key Key
	copy(key[:], "super-secret-responder-key-0000")
	pid := encoding.PeerID{0x01}
	now := time.Unix(1_700_000_000, 0)
	raw, _ := Mint(key, pid, encoding.Peer, 1<<28, now)

	if _, _, _, err := Verify(key, raw, time.Second, now.Add(5*time.Second)); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyWrongKey(t *testing.T) {
	var key, other Key
	copy(key[:], "responder-key-a")
	copy(other[:], "responder-key-b")
	pid := encoding.PeerID{0x01}
	now := time.Unix(1_700_000_000, 0)
	raw, _ := Mint(key, pid, encoding.Peer, 1<<28, now)

	if _, _, _, err := Verify(other, raw, time.Minute, now); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestVerifyTamperedPayload(t *testing.T) {
	var key Key
	copy(key[:], "responder-key")
	pid := encoding.PeerID{0x01}
	now := time.Unix(1_700_000_000, 0)
	raw, _ := Mint(key, pid, encoding.Peer, 1<<28, now)
	raw[1] ^= 0xff // flip a byte inside the peer id

	if _, _, _, err := Verify(key, raw, time.Minute, now); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid for tampered payload, got %v", err)
	}
}
