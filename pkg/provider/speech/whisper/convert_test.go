package whisper

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/dictumlabs/dictum/pkg/provider/speech"
)

// pcm16 packs int16 samples as little-endian bytes.
func pcm16(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// wavFile wraps pcm in a minimal RIFF/WAV container.
func wavFile(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * 2
	buf := make([]byte, 44+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)

	return buf
}

func TestPCMToFloat32Scaling(t *testing.T) {
	t.Parallel()

	cases := []struct {
		value int16
		want  float32
	}{
		{32767, 32767.0 / 32768.0},
		{-32768, -1.0},
		{0, 0},
		{16384, 0.5},
		{-16384, -0.5},
	}
	for _, tc := range cases {
		out := pcmToFloat32(pcm16(tc.value))
		if len(out) != 1 {
			t.Fatalf("pcmToFloat32(%d): got %d samples, want 1", tc.value, len(out))
		}
		if math.Abs(float64(out[0]-tc.want)) > 1e-6 {
			t.Errorf("pcmToFloat32(%d) = %f, want %f", tc.value, out[0], tc.want)
		}
	}
}

func TestPCMToFloat32IgnoresTrailingByte(t *testing.T) {
	t.Parallel()

	out := pcmToFloat32([]byte{0x00, 0x40, 0xFF})
	if len(out) != 1 {
		t.Fatalf("got %d samples from 3 bytes, want 1", len(out))
	}
}

func TestPCMToFloat32MonoDownmix(t *testing.T) {
	t.Parallel()

	// Two stereo frames: (1000, 3000) and (-2000, -4000).
	mono := pcmToFloat32Mono(pcm16(1000, 3000, -2000, -4000), 2)
	if len(mono) != 2 {
		t.Fatalf("got %d mono samples, want 2", len(mono))
	}
	want0 := (float32(1000)/32768.0 + float32(3000)/32768.0) / 2
	want1 := (float32(-2000)/32768.0 + float32(-4000)/32768.0) / 2
	if math.Abs(float64(mono[0]-want0)) > 1e-6 {
		t.Errorf("mono[0] = %f, want %f", mono[0], want0)
	}
	if math.Abs(float64(mono[1]-want1)) > 1e-6 {
		t.Errorf("mono[1] = %f, want %f", mono[1], want1)
	}
}

func TestPCMToFloat32MonoSingleChannelPassthrough(t *testing.T) {
	t.Parallel()

	pcm := pcm16(100, -200, 300)
	mono := pcmToFloat32Mono(pcm, 1)
	direct := pcmToFloat32(pcm)
	if len(mono) != len(direct) {
		t.Fatalf("length mismatch: mono=%d direct=%d", len(mono), len(direct))
	}
	for i := range mono {
		if mono[i] != direct[i] {
			t.Errorf("sample[%d]: mono=%f direct=%f", i, mono[i], direct[i])
		}
	}
}

func TestSamplesForRawPCMDefaults(t *testing.T) {
	t.Parallel()

	out, err := samplesFor(speech.Audio{Data: pcm16(16384)})
	if err != nil {
		t.Fatalf("samplesFor: %v", err)
	}
	if len(out) != 1 || math.Abs(float64(out[0]-0.5)) > 1e-6 {
		t.Fatalf("got %v, want [0.5]", out)
	}
}

func TestSamplesForRejectsForeignRate(t *testing.T) {
	t.Parallel()

	_, err := samplesFor(speech.Audio{Data: pcm16(0), SampleRate: 44100})
	if err == nil {
		t.Fatal("expected error for 44.1 kHz input")
	}
	if !strings.Contains(err.Error(), "16000") {
		t.Errorf("error = %v, want expected rate mentioned", err)
	}
}

func TestSamplesForWAVContainer(t *testing.T) {
	t.Parallel()

	audio := speech.Audio{
		Data:     wavFile(pcm16(16384, -16384), 16000, 1),
		MIMEType: "audio/wav",
	}
	out, err := samplesFor(audio)
	if err != nil {
		t.Fatalf("samplesFor: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d samples, want 2", len(out))
	}
	if math.Abs(float64(out[0]-0.5)) > 1e-6 || math.Abs(float64(out[1]+0.5)) > 1e-6 {
		t.Errorf("got %v, want [0.5 -0.5]", out)
	}
}

func TestSamplesForSniffsRIFFWithoutMIMEType(t *testing.T) {
	t.Parallel()

	// Without sniffing, the 44-byte header would be decoded as 22 samples.
	audio := speech.Audio{Data: wavFile(pcm16(16384, -16384), 16000, 1)}
	out, err := samplesFor(audio)
	if err != nil {
		t.Fatalf("samplesFor: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d samples, want 2", len(out))
	}
}

func TestSamplesForWAVStereoDownmix(t *testing.T) {
	t.Parallel()

	audio := speech.Audio{
		Data:     wavFile(pcm16(16384, -16384, 1000, 3000), 16000, 2),
		MIMEType: "audio/wav",
	}
	out, err := samplesFor(audio)
	if err != nil {
		t.Fatalf("samplesFor: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d samples, want 2 frames", len(out))
	}
	if math.Abs(float64(out[0])) > 1e-6 {
		t.Errorf("out[0] = %f, want 0 from (16384, -16384)", out[0])
	}
}

func TestSamplesForWAVForeignRate(t *testing.T) {
	t.Parallel()

	audio := speech.Audio{
		Data:     wavFile(pcm16(0), 44100, 1),
		MIMEType: "audio/wav",
	}
	if _, err := samplesFor(audio); err == nil {
		t.Fatal("expected error for 44.1 kHz container")
	}
}

func TestDecodeWAVSkipsUnknownChunks(t *testing.T) {
	t.Parallel()

	// LIST chunk with an odd size sits between the header and fmt, so the
	// decoder must honour the pad byte to stay aligned.
	base := wavFile(pcm16(16384), 16000, 1)
	junk := []byte("LIST")
	junk = binary.LittleEndian.AppendUint32(junk, 3)
	junk = append(junk, 'a', 'b', 'c', 0)

	data := make([]byte, 0, len(base)+len(junk))
	data = append(data, base[:12]...)
	data = append(data, junk...)
	data = append(data, base[12:]...)
	binary.LittleEndian.PutUint32(data[4:8], uint32(len(data)-8))

	pcm, rate, channels, err := decodeWAV(data)
	if err != nil {
		t.Fatalf("decodeWAV: %v", err)
	}
	if rate != 16000 || channels != 1 || len(pcm) != 2 {
		t.Errorf("got rate=%d channels=%d pcm=%d bytes", rate, channels, len(pcm))
	}
}

func TestDecodeWAVRejectsFloatFormat(t *testing.T) {
	t.Parallel()

	data := wavFile(pcm16(0), 16000, 1)
	binary.LittleEndian.PutUint16(data[20:22], 3)

	if _, _, _, err := decodeWAV(data); err == nil || !strings.Contains(err.Error(), "format") {
		t.Fatalf("error = %v, want unsupported format", err)
	}
}

func TestDecodeWAVRejectsEightBit(t *testing.T) {
	t.Parallel()

	data := wavFile(pcm16(0), 16000, 1)
	binary.LittleEndian.PutUint16(data[34:36], 8)

	if _, _, _, err := decodeWAV(data); err == nil || !strings.Contains(err.Error(), "bit depth") {
		t.Fatalf("error = %v, want unsupported bit depth", err)
	}
}

func TestDecodeWAVMissingData(t *testing.T) {
	t.Parallel()

	data := wavFile(nil, 16000, 1)[:36]

	if _, _, _, err := decodeWAV(data); err == nil || !strings.Contains(err.Error(), "data") {
		t.Fatalf("error = %v, want missing data chunk", err)
	}
}

func TestDecodeWAVTruncatedChunk(t *testing.T) {
	t.Parallel()

	data := wavFile(pcm16(1, 2, 3), 16000, 1)
	data = data[:len(data)-2]

	if _, _, _, err := decodeWAV(data); err == nil || !strings.Contains(err.Error(), "truncated") {
		t.Fatalf("error = %v, want truncated chunk", err)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, _, _, err := decodeWAV([]byte("definitely not audio")); err == nil {
		t.Fatal("expected error for non-RIFF input")
	}
}
