package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
)

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeWAVPCM16LE(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LEFile writes raw PCM16LE mono audio bytes as a WAV file.
// Used for debug capture dumps.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeWAVPCM16LE(f, pcm, sampleRate)
}

type wavHeader struct {
	RIFF      [4]byte
	FileSize  uint32
	WAVE      [4]byte
	Fmt       [4]byte
	FmtSize   uint32
	Format    uint16
	Channels  uint16
	Rate      uint32
	ByteRate  uint32
	Align     uint16
	Bits      uint16
	Data      [4]byte
	DataSize  uint32
}

func writeWAVPCM16LE(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	h := wavHeader{
		RIFF:     [4]byte{'R', 'I', 'F', 'F'},
		FileSize: uint32(36 + len(pcm)),
		WAVE:     [4]byte{'W', 'A', 'V', 'E'},
		Fmt:      [4]byte{'f', 'm', 't', ' '},
		FmtSize:  16,
		Format:   1, // PCM
		Channels: 1,
		Rate:     uint32(sampleRate),
		ByteRate: uint32(sampleRate * 2),
		Align:    2,
		Bits:     16,
		Data:     [4]byte{'d', 'a', 't', 'a'},
		DataSize: uint32(len(pcm)),
	}
	if err := binary.Write(out, binary.LittleEndian, h); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}
