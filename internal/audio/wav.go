package audio

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"io"
)

// EncodeWAV wraps mono float samples in [-1, 1] in a 16-bit PCM WAV container.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVTo(&buf, FloatToPCM16(samples), sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeWAVBase64 is EncodeWAV followed by standard base64 encoding, the form
// audio chunks take on the wire.
func EncodeWAVBase64(samples []float32, sampleRate int) (string, error) {
	wav, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(wav), nil
}

// WriteWAVTo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVTo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	for _, v := range []any{
		uint32(16),
		uint16(audioFormat),
		uint16(numChannels),
		uint32(sampleRate),
		byteRate,
		blockAlign,
		uint16(bitsPerSample),
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// FloatToPCM16 converts float samples to 16-bit little-endian PCM, clamping
// values outside [-1, 1].
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}

// PCM16ToFloat converts 16-bit little-endian PCM to float samples in [-1, 1].
// A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}
