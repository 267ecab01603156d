package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth      = 16
	pcmFormat     = 1
	partialPerm   = 0o644
	bytesPerInt16 = 2
)

// PCM is decoded 16-bit little-endian interleaved audio.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// WriteWAV stores 16-bit samples as a PCM WAV file. The file only appears at
// path once it has been completely written and synced.
func WriteWAV(path string, samples []int16, sampleRate, channels int) error {
	if len(samples) == 0 {
		return fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", channels)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}

	return writeAtomic(path, func(f *os.File) error {
		enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, pcmFormat)
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("failed to write audio data: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to finalize WAV header: %w", err)
		}
		return nil
	})
}

// Inspect reads the header of a WAV file.
func Inspect(path string) (Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return Artifact{}, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return Artifact{}, fmt.Errorf("%s is not a valid WAV file", path)
	}
	if err := d.FwdToPCM(); err != nil {
		return Artifact{}, fmt.Errorf("failed to locate audio data in %s: %w", path, err)
	}

	var duration time.Duration
	if bytesPerSec := int64(d.SampleRate) * int64(d.NumChans) * int64(d.BitDepth) / 8; bytesPerSec > 0 {
		duration = time.Duration(d.PCMLen() * int64(time.Second) / bytesPerSec)
	}

	return Artifact{
		Path:       path,
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		Duration:   duration,
	}, nil
}

// LoadPCM16 decodes a WAV file into 16-bit little-endian PCM bytes, the wire
// format streaming recognizers accept.
func LoadPCM16(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return PCM{}, fmt.Errorf("%s is not a valid WAV file", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	shift := buf.SourceBitDepth - bitDepth
	out := make([]byte, len(buf.Data)*bytesPerInt16)
	for i, v := range buf.Data {
		switch {
		case shift > 0:
			v >>= shift
		case shift < 0:
			v <<= -shift
		}
		binary.LittleEndian.PutUint16(out[i*bytesPerInt16:], uint16(int16(v)))
	}

	return PCM{
		Data:       out,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

func writeAtomic(path string, write func(f *os.File) error) error {
	tmp := path + PartialSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, partialPerm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
