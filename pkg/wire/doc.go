// Package wire defines the probewatch.v1.IngestService gRPC service used by
// the agent to deliver executor output to the server.
//
// Messages are the plain Go structs from pkg/types encoded as JSON. Importing
// this package registers the "json" codec with grpc; clients select it with
// the CallContentSubtype option that Dial installs, and servers pick it up
// from the request content type.
//
//	StartBatch(types.BatchStart)       returns (Ack)
//	SendEvent(types.Event)             returns (Ack)
//	CompleteBatch(types.BatchComplete) returns (Ack)
package wire
