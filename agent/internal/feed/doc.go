// Package feed reads the Probe Executor's output: one JSON command per line
// (batch start, probe event or batch complete). Open(config.SourceConfig)
// returns stdin or the configured file; Reader.Run parses each line with
// types.ParseCommand and hands it to a sink, typically Shipper.Ship.
//
// Malformed lines are logged and skipped so one bad line never stalls the
// batch.
package feed
