// Package demux runs a RoQ decoding session in its own goroutine and hands
// decoded pictures and PCM audio to consumers over buffered channels.
//
// The central type is [Demuxer], which reads from an [io.Reader], drives a
// [roq.Session] chunk by chunk, and reports telemetry through a
// [StatsRecorder]. A corrupt VQ chunk drops one picture and decoding goes
// on; a truncated tail ends the stream cleanly.
package demux
