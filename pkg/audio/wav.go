package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// wavHeaderSize is the size of the canonical 44-byte RIFF/WAVE header written
// by [EncodeWAV].
const wavHeaderSize = 44

// ErrNotWAV is returned by [DecodeWAV] when the input is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

// EncodeWAV returns b as a complete 16-bit PCM WAV file.
func EncodeWAV(b Buffer) []byte {
	out := make([]byte, 0, wavHeaderSize+len(b.PCM))
	out = append(out, wavHeader(b.SampleRate, b.Channels, len(b.PCM))...)
	return append(out, b.PCM...)
}

// WriteWAV streams b to w as a 16-bit PCM WAV file.
func WriteWAV(w io.Writer, b Buffer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(wavHeader(b.SampleRate, b.Channels, len(b.PCM))); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	if _, err := bw.Write(b.PCM); err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("audio: flush wav: %w", err)
	}
	return nil
}

// WriteWAVFile writes b to path, replacing any existing file. The file is
// written to a temporary name first and renamed into place so a reader never
// observes a partial file.
func WriteWAVFile(path string, b Buffer) error {
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", tmp, err)
	}
	if err := WriteWAV(f, b); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("audio: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("audio: rename %s: %w", tmp, err)
	}
	return nil
}

func wavHeader(sampleRate, channels, dataLen int) []byte {
	h := make([]byte, wavHeaderSize)
	byteRate := sampleRate * channels * bytesPerSample
	blockAlign := channels * bytesPerSample

	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], 16)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// DecodeWAV parses a 16-bit PCM WAV file. It walks the RIFF chunk list so
// files with LIST or fact chunks before the data chunk are handled.
func DecodeWAV(data []byte) (Buffer, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Buffer{}, ErrNotWAV
	}

	var (
		sampleRate, channels, bits int
		haveFmt                    bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return Buffer{}, fmt.Errorf("audio: truncated fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(data[body : body+2]); format != 1 {
				return Buffer{}, fmt.Errorf("audio: unsupported wav format tag %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Buffer{}, fmt.Errorf("audio: data chunk before fmt chunk")
			}
			if bits != 16 {
				return Buffer{}, fmt.Errorf("audio: unsupported bit depth %d", bits)
			}
			end := body + size
			if end > len(data) {
				// Streaming writers sometimes leave a placeholder size.
				end = len(data)
			}
			frame := channels * bytesPerSample
			n := (end - body) / frame * frame
			pcm := make([]byte, n)
			copy(pcm, data[body:body+n])
			b := Buffer{PCM: pcm, SampleRate: sampleRate, Channels: channels}
			return b, b.Validate()
		}
		// Chunks are word-aligned.
		pos = body + size + size%2
	}
	return Buffer{}, fmt.Errorf("audio: no data chunk found")
}

// ReadWAVFile reads and decodes the WAV file at path.
func ReadWAVFile(path string) (Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: read %s: %w", path, err)
	}
	b, err := DecodeWAV(data)
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: decode %s: %w", path, err)
	}
	return b, nil
}
