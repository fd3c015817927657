// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Block types and sample conversion functions
// Package audio provides the stream format and sample block types shared by
// the bridge, its sources and its transports.
//
// This package defines:
//   - Format: PCM or DSD stream description (rate, channels, bit depth, DSD bit order)
//   - Block: decoded audio handed to the bridge, interleaved PCM or planar DSD
//
// Wire layout rules live on Format: 16-bit PCM travels as 32-bit slots, 24-bit
// PCM is packed to 3 bytes, DSD is interleaved as one 32-bit word per channel.
//
// Example:
//
//	format := audio.PCM(192000, 24, 2)
//	if err := format.Validate(); err != nil {
//	    return err
//	}
//	fmt.Println(format.BytesPerSecond()) // 1152000
package audio
