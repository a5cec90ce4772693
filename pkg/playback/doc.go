// Package playback turns a demuxed audio stream into device writes that
// stay aligned with a master clock.
//
// A Session owns one AudioDecoder (backend, decode buffer and filter
// chain), the output accumulator, the SyncEngine and the output device.
// A Driver runs the session cooperatively: each Tick decodes and writes
// what the device will take, advances the master clock and reports how
// long to sleep. Run wraps Tick in an event loop that also accepts seek,
// pause, speed and volume commands.
//
// After a start or seek the session is syncing: audio that is late
// relative to the master clock is dropped and audio that is early is
// preceded by silence. Once aligned, small drift is corrected by adjusting
// the master clock's view of the audio delay.
package playback
