// Package voice is a streaming text-to-speech client. It speaks a websocket
// protocol of JSON command frames and interleaved binary audio, buffers
// decoded samples for early playback, and caches finished clips in memory
// and on disk so repeated text plays without network traffic.
package voice
