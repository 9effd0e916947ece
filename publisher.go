package transport

// PublisherOptions contains the optional settings for configuring a
// [Publisher].
type PublisherOptions struct {
	// CongestionControl is the policy applied when the publisher's
	// conduit queue is full. NewPublisher uses Drop when opts is nil; a
	// non-nil opts that leaves this field unset gets its zero value, Block.
	CongestionControl CongestionControl
}

// Publisher is a narrowly-scoped handle bound to one session, one
// ResKey, and one Channel: every Put/Delete it sends reuses that
// binding instead of repeating it on every call.
type Publisher struct {
	session *TransportUnicast
	key     ResKey
	channel Channel
	cc      CongestionControl
}

// NewPublisher binds a Publisher to key/ch on session.
func NewPublisher(session *TransportUnicast, key ResKey, ch Channel, opts *PublisherOptions) *Publisher {
	cc := Drop
	if opts != nil {
		cc = opts.CongestionControl
	}
	return &Publisher{session: session, key: key, channel: ch, cc: cc}
}

// Put schedules a value under the publisher's key.
func (p *Publisher) Put(payload []byte, info *DataInfo) error {
	return p.session.Schedule(p.channel, &Data{
		Key:     p.key,
		Payload: payload,
		Info:    info,
	}, p.cc)
}

// Delete schedules a retraction under the publisher's key.
func (p *Publisher) Delete(info *DataInfo) error {
	if info == nil {
		info = &DataInfo{}
	}
	info.Kind = Delete
	return p.Put(nil, info)
}

// Close releases the publisher. It does not close the underlying
// session, which may be shared by other publishers and subscribers.
func (p *Publisher) Close() error { return nil }
