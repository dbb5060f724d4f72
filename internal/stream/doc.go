/*
Package stream turns a byte pipe carrying tab-separated lines into an
ordered sequence of records.

# Overview

A Reader owns one pipe. Bytes arrive in chunks of any size; the Reader keeps
the trailing fragment of an incomplete line between calls, decodes every
complete line with record.Decode and hands the result to an Emitter.

	OPEN --OnReadable--> OPEN     (buffer update, zero or more records)
	OPEN --OnClosed----> CLOSED   (drop residue, release pipe, complete)
	OPEN --OnError-----> CLOSED   (same cleanup, error kept)
	OPEN --Cancel------> CLOSED   (same cleanup, requested by the host)
	CLOSED --any-------> ignored

Lines that fail to decode are skipped and reported through the skip
handler, the logger and the Observer; they never end the stream. A trailing
line without terminator at end of stream is discarded.

# Hosting

Event-driven hosts create a Reader with NewReader and call OnReadable and
OnClosed themselves. Attach runs the Reader on a dedicated goroutine that
blocks in Read:

	r := stream.Attach(ctx, stdout, func(rec record.Record) {
		fmt.Println(rec.Path, rec.Size, rec.Kind)
	}, stream.WithLogger(logger))
	<-r.Done()

# Completion

The completion hooks run exactly once, after the pipe has been released,
whichever of OnClosed, OnError or Cancel came first. Done is closed after
the last hook returns.
*/
package stream
