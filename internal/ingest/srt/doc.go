// Package srt implements SRT (Secure Reliable Transport) ingest of RoQ
// streams, both listener-mode (Server) for accepting publish connections and
// caller-mode (Caller) for pulling streams from remote SRT sources.
package srt
