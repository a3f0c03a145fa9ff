package whisper

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dictumlabs/dictum/pkg/provider/speech"
)

// whisperSampleRate is the only sample rate the engine accepts.
const whisperSampleRate = 16000

// samplesFor converts an audio buffer into the mono float32 samples the
// engine consumes. WAV containers are unwrapped first; anything else is
// treated as raw 16-bit little-endian PCM described by the Audio fields.
func samplesFor(audio speech.Audio) ([]float32, error) {
	pcm := audio.Data
	rate := audio.SampleRate
	channels := audio.Channels

	if isWAV(audio) {
		var err error
		pcm, rate, channels, err = decodeWAV(audio.Data)
		if err != nil {
			return nil, fmt.Errorf("whisper: %w", err)
		}
	}

	if rate == 0 {
		rate = whisperSampleRate
	}
	if channels <= 0 {
		channels = 1
	}
	if rate != whisperSampleRate {
		return nil, fmt.Errorf("whisper: sample rate %d Hz not supported, the engine expects %d Hz", rate, whisperSampleRate)
	}
	return pcmToFloat32Mono(pcm, channels), nil
}

// isWAV sniffs for a RIFF/WAVE container by MIME type or magic bytes.
func isWAV(audio speech.Audio) bool {
	switch audio.MIMEType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return true
	}
	d := audio.Data
	return len(d) >= 12 && string(d[0:4]) == "RIFF" && string(d[8:12]) == "WAVE"
}

// decodeWAV unwraps a RIFF/WAV container and returns the raw PCM payload with
// its sample rate and channel count. Only 16-bit integer PCM is supported.
func decodeWAV(data []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("not a RIFF/WAVE container")
	}

	var haveFmt bool
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return nil, 0, 0, fmt.Errorf("truncated %q chunk", id)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, errors.New("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, 0, 0, fmt.Errorf("unsupported WAV format %d, want PCM", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bits != 16 {
				return nil, 0, 0, fmt.Errorf("unsupported bit depth %d, want 16", bits)
			}
			haveFmt = true
		case "data":
			pcm = data[body : body+size]
		}

		// Chunks are word aligned; odd sizes carry a pad byte.
		off = body + size + size%2
	}

	if !haveFmt {
		return nil, 0, 0, errors.New("missing fmt chunk")
	}
	if pcm == nil {
		return nil, 0, 0, errors.New("missing data chunk")
	}
	return pcm, sampleRate, channels, nil
}

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. Any trailing odd byte is
// silently ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// pcmToFloat32Mono down-mixes interleaved multi-channel 16-bit PCM to mono
// float32 by averaging all channels per frame. If channels is 1 this is
// equivalent to pcmToFloat32.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return pcmToFloat32(pcm)
	}
	frames := len(pcm) / (2 * channels)
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
