package tts

import (
	"encoding/binary"
	"time"
)

// Silence clip format: 16-bit mono PCM at 24 kHz, matching the synthesis
// service's output so the assembler never has to resample.
const (
	silenceSampleRate = 24000
	silenceChannels   = 1
	silenceBitDepth   = 16
)

// SilenceWAV builds a silent WAV clip of the given duration. Local and
// infallible for any positive duration; this is the last fallback layer and
// must not depend on any remote service.
func SilenceWAV(d time.Duration) []byte {
	samples := int(float64(silenceSampleRate) * d.Seconds())
	if samples < 1 {
		samples = 1
	}
	dataLen := samples * silenceChannels * silenceBitDepth / 8

	buf := make([]byte, 44+dataLen)
	le := binary.LittleEndian

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], 1) // PCM
	le.PutUint16(buf[22:24], silenceChannels)
	le.PutUint32(buf[24:28], silenceSampleRate)
	le.PutUint32(buf[28:32], silenceSampleRate*silenceChannels*silenceBitDepth/8)
	le.PutUint16(buf[32:34], silenceChannels*silenceBitDepth/8)
	le.PutUint16(buf[34:36], silenceBitDepth)

	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(dataLen))
	// Sample data is already zeroed.

	return buf
}
