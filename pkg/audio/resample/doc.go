// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts monitor audio from the stream rate to the device rate
// Package resample provides streaming sample rate conversion.
//
// Uses linear interpolation between consecutive frames, carrying the last
// frame of each call into the next.
//
// Example:
//
//	r := resample.New(44100, 48000, 2)
//	out = r.Resample(samples, out[:0])
package resample
