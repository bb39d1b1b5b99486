package audio

import (
	"bytes"
	"math"
	"testing"
)

func TestRMS16Silence(t *testing.T) {
	pcm := make([]byte, 640)
	if got := RMS16(pcm); got != 0 {
		t.Fatalf("RMS16(silence) = %v, want 0", got)
	}
}

func TestRMS16FullScale(t *testing.T) {
	// A constant full-scale negative signal has RMS 1.0.
	pcm := make([]byte, 64)
	for i := 0; i+1 < len(pcm); i += 2 {
		pcm[i] = 0x00
		pcm[i+1] = 0x80 // -32768
	}
	got := RMS16(pcm)
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("RMS16(full scale) = %v, want 1.0", got)
	}
}

func TestRMS16Empty(t *testing.T) {
	if got := RMS16(nil); got != 0 {
		t.Fatalf("RMS16(nil) = %v, want 0", got)
	}
}

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if !bytes.Equal(wav[:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		t.Fatalf("wav header markers missing: % x", wav[:12])
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Fatalf("wav payload does not match input pcm")
	}
	// Sample rate at offset 24, little endian.
	rate := uint32(wav[24]) | uint32(wav[25])<<8 | uint32(wav[26])<<16 | uint32(wav[27])<<24
	if rate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", rate)
	}
}

func TestPCM16BytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	b := pcm16Bytes(samples)
	if len(b) != len(samples)*2 {
		t.Fatalf("byte length = %d, want %d", len(b), len(samples)*2)
	}
	for i, want := range samples {
		got := int16(b[2*i]) | int16(b[2*i+1])<<8
		if got != want {
			t.Fatalf("sample %d = %d, want %d", i, got, want)
		}
	}
}
