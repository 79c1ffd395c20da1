// Package receiver implements wire.IngestServer, the gRPC endpoint that
// accepts batch signals and probe events from probewatch-agent instances.
//
// Every call is handed to the ingest funnel, which is the only writer of the
// session store. Authentication is enforced upstream by the gRPC server
// interceptor (see package auth), so the receiver maps funnel errors to gRPC
// status codes and nothing more:
//
//	malformed event, invalid total   codes.InvalidArgument
//	no session, session closed       codes.FailedPrecondition
//	queue full                       codes.ResourceExhausted
//	funnel stopped                   codes.Unavailable
package receiver
