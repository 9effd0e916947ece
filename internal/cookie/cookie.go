// Package cookie implements the establishment handshake's opaque cookie:
// a keyed MAC over (pid, whatami, sn_resolution, timestamp) that the
// initiator must echo back unmodified in OpenSyn, and that the responder
// can verify without keeping any per-initiator state (spec.md §4.3).
package cookie

import (
	"crypto/subtle"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/janu-io/janu-go/internal/encoding"
)

const macSize = 32

// ErrExpired is returned by Verify when the cookie's timestamp is older
// than the configured TTL.
var ErrExpired = errors.New("cookie: expired")

// ErrInvalid is returned by Verify when the MAC does not match.
var ErrInvalid = errors.New("cookie: invalid")

// Key is a per-responder secret used to mint and verify cookies.
type Key [32]byte

// Mint produces an opaque cookie for the given initiator parameters, valid
// as of now.
func Mint(key Key, pid encoding.PeerID, whatami encoding.WhatAmI, snResolution uint64, now time.Time) ([]byte, error) {
	payload := encodePayload(pid, whatami, snResolution, now)
	mac, err := computeMAC(key, payload)
	if err != nil {
		return nil, err
	}
	return append(payload, mac...), nil
}

// Verify checks a cookie produced by Mint against key and ttl, returning the
// parameters it was minted for.
func Verify(key Key, raw []byte, ttl time.Duration, now time.Time) (pid encoding.PeerID, whatami encoding.WhatAmI, snResolution uint64, err error) {
	if len(raw) < macSize+1 {
		return nil, 0, 0, ErrInvalid
	}
	payload := raw[:len(raw)-macSize]
	gotMAC := raw[len(raw)-macSize:]

	wantMAC, err := computeMAC(key, payload)
	if err != nil {
		return nil, 0, 0, err
	}
	if subtle.ConstantTimeCompare(gotMAC, wantMAC) != 1 {
		return nil, 0, 0, ErrInvalid
	}

	pid, whatami, snResolution, mintedAt, err := decodePayload(payload)
	if err != nil {
		return nil, 0, 0, err
	}
	if now.Sub(mintedAt) > ttl {
		return nil, 0, 0, ErrExpired
	}
	return pid, whatami, snResolution, nil
}

func computeMAC(key Key, payload []byte) ([]byte, error) {
	h, err := blake2b.New256(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "cookie: blake2b keyed hash")
	}
	h.Write(payload)
	return h.Sum(nil), nil
}

func encodePayload(pid encoding.PeerID, whatami encoding.WhatAmI, snResolution uint64, now time.Time) []byte {
	out := make([]byte, 0, 1+len(pid)+1+8+8)
	out = append(out, byte(len(pid)))
	out = append(out, pid...)
	out = append(out, byte(whatami))
	var snBuf [8]byte
	binary.BigEndian.PutUint64(snBuf[:], snResolution)
	out = append(out, snBuf[:]...)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(now.Unix()))
	out = append(out, tsBuf[:]...)
	return out
}

func decodePayload(p []byte) (encoding.PeerID, encoding.WhatAmI, uint64, time.Time, error) {
	if len(p) < 1 {
		return nil, 0, 0, time.Time{}, ErrInvalid
	}
	n := int(p[0])
	p = p[1:]
	if len(p) < n+1+8+8 {
		return nil, 0, 0, time.Time{}, ErrInvalid
	}
	pid := encoding.PeerID(append([]byte(nil), p[:n]...))
	p = p[n:]
	whatami := encoding.WhatAmI(p[0])
	p = p[1:]
	snResolution := binary.BigEndian.Uint64(p[:8])
	p = p[8:]
	ts := int64(binary.BigEndian.Uint64(p[:8]))
	return pid, whatami, snResolution, time.Unix(ts, 0), nil
}
