// Package roq decodes RoQ audio/video streams into YUV 4:2:0 pictures and
// 16-bit PCM audio.
//
// A RoQ stream is an 8-byte header followed by little-endian chunks. The
// central type is [Session], which owns every piece of cross-chunk state (the
// vector-quantization [Codebook], two generations of image planes in
// [PlaneBuffers], and the audio predictors in [AudioDecoder]) and dispatches
// chunks from a [ChunkReader] in file order. [DecodeFrame] is the macroblock
// reconstructor and can be driven directly for testing.
//
// Decoding is single-threaded: a Session must not be used from more than one
// goroutine at a time. Decoded frames are handed off as copies in the
// [media.VideoFrame] and [media.AudioFrame] types, which are safe to pass to
// other goroutines.
package roq
