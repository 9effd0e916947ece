package transport

import "github.com/janu-io/janu-go/internal/frames"

// DataKind distinguishes a put from a delete.
type DataKind = frames.DataKind

const (
	Put    = frames.DataPut
	Delete = frames.DataDelete
)

// Timestamp pairs a wall-clock value with the peer that produced it.
type Timestamp = frames.Timestamp

// DataInfo is optional metadata describing a Data message.
type DataInfo = frames.DataInfo

// RoutingContext threads an opaque routing tree id alongside a message;
// the routing layer that interprets it is out of scope for this module.
type RoutingContext = frames.RoutingContext

// ReplyContext marks a Data or Unit message as a reply to a Query.
type ReplyContext = frames.ReplyContext

// Message is implemented by every payload a transport can publish: Data,
// Declare, Query, Pull, and Unit.
type Message = frames.JanuMessage

// Data publishes (or retracts, via DataInfo.Kind) a value under a key.
type Data = frames.Data

// Declare announces or retracts resource/publisher/subscriber/queryable
// registrations. The registrations themselves are only carried here; the
// routing decisions they drive belong to the (out of scope) routing layer.
type Declare = frames.Declare

// Declaration is one entry of a Declare message.
type Declaration = frames.Declaration

const (
	DeclResource         = frames.DeclResource
	DeclForgetResource   = frames.DeclForgetResource
	DeclPublisher        = frames.DeclPublisher
	DeclForgetPublisher  = frames.DeclForgetPublisher
	DeclSubscriber       = frames.DeclSubscriber
	DeclForgetSubscriber = frames.DeclForgetSubscriber
	DeclQueryable        = frames.DeclQueryable
	DeclForgetQueryable  = frames.DeclForgetQueryable
)

// SubMode selects push or pull delivery for a Subscriber declaration.
type SubMode = frames.SubMode

const (
	SubPush = frames.SubPush
	SubPull = frames.SubPull
)

// Query requests matching Data from queryables registered under Key.
type Query = frames.Query

// QueryTarget selects which queryables a Query addresses.
type QueryTarget = frames.QueryTarget

// QueryConsolidation selects how a querier merges replies.
type QueryConsolidation = frames.QueryConsolidation

const (
	ConsolidationNone        = frames.ConsolidationNone
	ConsolidationLastBroker  = frames.ConsolidationLastBroker
	ConsolidationIncremental = frames.ConsolidationIncremental
)

// Pull requests the next batch of samples on a pull-mode subscription.
type Pull = frames.Pull

// Unit is an empty message, used to terminate a reply sequence.
type Unit = frames.Unit
