// Package sse decodes server-sent event streams into typed messages.
//
// A Decoder turns raw byte chunks into frames. Chunks may split lines at any
// byte offset; only complete lines are decoded. Lines of the form
//
//	data: {"json": "payload"}
//
// are unmarshaled into the message type. The payload [DONE] ends the stream.
// Comments, blank lines and other SSE fields are ignored, and lines that fail
// to decode are reported to a diagnostic sink and skipped.
//
// Stream wraps a Decoder around an io.ReadCloser and yields messages through
// the pull-based Next(ctx) contract used by the pipeline package:
//
//	s := sse.NewStream[Chunk](resp.Body, sse.WithLogger(log))
//	defer s.Close()
//	for {
//	    msg, ok, err := s.Next(ctx)
//	    if err != nil || !ok {
//	        break
//	    }
//	    handle(msg)
//	}
package sse
