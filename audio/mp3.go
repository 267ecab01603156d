package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always decodes to interleaved 16-bit stereo.
const mp3Channels = 2

// IsMP3 reports whether path names an MP3 file.
func IsMP3(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".mp3")
}

// ConvertMP3 decodes the MP3 at src and writes it as a 16-bit WAV at dst.
func ConvertMP3(src, dst string) (Artifact, error) {
	f, err := os.Open(src)
	if err != nil {
		return Artifact{}, err
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to decode MP3: %w", err)
	}

	samples := make([]int16, len(raw)/bytesPerInt16)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*bytesPerInt16:]))
	}

	if err := WriteWAV(dst, samples, decoder.SampleRate(), mp3Channels); err != nil {
		return Artifact{}, err
	}
	return Inspect(dst)
}
