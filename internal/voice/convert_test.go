package voice

import (
	"encoding/binary"
	"testing"
)

func TestMonoToStereo(t *testing.T) {
	t.Parallel()

	mono := []byte{0x01, 0x02, 0x03, 0x04}
	want := []byte{0x01, 0x02, 0x01, 0x02, 0x03, 0x04, 0x03, 0x04}

	got := monoToStereo(mono)
	if string(got) != string(want) {
		t.Errorf("monoToStereo = %v, want %v", got, want)
	}
}

func TestResampleMono16Length(t *testing.T) {
	t.Parallel()

	// One second of 24 kHz mono should become one second of 48 kHz mono.
	in := make([]byte, 24000*2)
	out := resampleMono16(in, 24000, 48000)
	if len(out) != 48000*2 {
		t.Errorf("resampled length = %d bytes, want %d", len(out), 48000*2)
	}

	// Same-rate input passes through untouched.
	if got := resampleMono16(in, 24000, 24000); len(got) != len(in) {
		t.Errorf("same-rate resample changed length: %d", len(got))
	}
}

func TestToPlaybackPCM(t *testing.T) {
	t.Parallel()

	// 100 ms of 24 kHz mono -> 100 ms of 48 kHz stereo.
	clip := pcmClip{data: make([]byte, 2400*2), sampleRate: 24000, channels: 1}
	out := toPlaybackPCM(clip)
	if len(out) != 4800*4 {
		t.Errorf("playback PCM = %d bytes, want %d", len(out), 4800*4)
	}

	// Already 48 kHz stereo passes through.
	clip = pcmClip{data: make([]byte, frameBytes), sampleRate: playbackRate, channels: 2}
	if got := toPlaybackPCM(clip); len(got) != frameBytes {
		t.Errorf("pass-through PCM = %d bytes, want %d", len(got), frameBytes)
	}
}

// buildWAV assembles a minimal 16-bit PCM WAV payload.
func buildWAV(t *testing.T, sampleRate int, channels int, samples []int16) []byte {
	t.Helper()

	dataLen := len(samples) * 2
	buf := make([]byte, 0, 44+dataLen)

	u32 := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return b
	}
	u16 := func(v uint16) []byte {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, v)
		return b
	}

	buf = append(buf, "RIFF"...)
	buf = append(buf, u32(uint32(36+dataLen))...)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = append(buf, u32(16)...)
	buf = append(buf, u16(1)...) // PCM
	buf = append(buf, u16(uint16(channels))...)
	buf = append(buf, u32(uint32(sampleRate))...)
	buf = append(buf, u32(uint32(sampleRate*channels*2))...)
	buf = append(buf, u16(uint16(channels*2))...)
	buf = append(buf, u16(16)...)
	buf = append(buf, "data"...)
	buf = append(buf, u32(uint32(dataLen))...)
	for _, s := range samples {
		buf = append(buf, u16(uint16(s))...)
	}
	return buf
}

func TestDecodeWAV(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 100, -100, 32767}
	wavData := buildWAV(t, 24000, 1, samples)

	clip, err := decodeWAV(wavData)
	if err != nil {
		t.Fatalf("decodeWAV: %v", err)
	}
	if clip.sampleRate != 24000 || clip.channels != 1 {
		t.Errorf("format = %d Hz %d ch, want 24000 Hz mono", clip.sampleRate, clip.channels)
	}

	got := int16sFromBytes(clip.data)
	if len(got) != len(samples) {
		t.Fatalf("samples = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := decodeWAV([]byte("definitely not audio")); err == nil {
		t.Error("decodeWAV accepted garbage")
	}
	if _, err := decodeWAV(nil); err == nil {
		t.Error("decodeWAV accepted empty payload")
	}
}
