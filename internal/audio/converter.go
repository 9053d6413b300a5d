package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
	"github.com/rs/zerolog/log"

	"multimodal-assistant/internal/helper"
	"multimodal-assistant/internal/models"
)

const (
	DefaultSampleRate = 16000
	bitDepth          = 16
	pcmFormat         = 1 // WAVE_FORMAT_PCM
)

// Clip is mono 16-bit audio at SampleRate.
type Clip struct {
	SampleRate int
	Samples    []int
}

// Duration in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// PCM returns the samples as raw little-endian int16.
func (c *Clip) PCM() []byte {
	out := make([]byte, 2*len(c.Samples))
	for i, s := range c.Samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s)))
	}
	return out
}

// WAV returns the clip as a complete RIFF/WAVE file.
func (c *Clip) WAV() ([]byte, error) {
	ws := &memWriteSeeker{}
	if err := c.encode(ws); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

func (c *Clip) encode(w io.WriteSeeker) error {
	enc := wav.NewEncoder(w, c.SampleRate, bitDepth, 1, pcmFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: c.SampleRate},
		Data:           c.Samples,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to encode wav: %w", err)
	}
	return enc.Close()
}

// Converter normalizes audio files to mono 16-bit PCM at a fixed sample rate.
type Converter struct {
	SampleRate int
	OutputDir  string
}

func NewConverter(sampleRate int, outputDir string) *Converter {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Converter{SampleRate: sampleRate, OutputDir: outputDir}
}

// Convert decodes path (wav, mp3 or flac), downmixes and resamples it.
func (c *Converter) Convert(path string) (*Clip, error) {
	const op = "audio.Convert"
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NewError(models.KindNotFound, op, err)
		}
		return nil, err
	}

	var (
		src *pcm
		err error
	)
	switch ext := models.Extension(path); ext {
	case ".wav":
		src, err = decodeWAV(path)
	case ".mp3":
		src, err = decodeMP3(path)
	case ".flac":
		src, err = decodeFLAC(path)
	default:
		return nil, models.Errorf(models.KindUnsupportedFormat, op, "cannot decode %s audio", ext)
	}
	if err != nil {
		return nil, models.NewError(models.KindUnsupportedFormat, op, err)
	}

	clip := &Clip{
		SampleRate: c.SampleRate,
		Samples:    resample(src.mono(), src.sampleRate, c.SampleRate),
	}
	log.Debug().
		Str("file", path).
		Int("source_rate", src.sampleRate).
		Int("channels", src.channels).
		Int("bit_depth", src.bitDepth).
		Float64("seconds", clip.Duration()).
		Msg("Converted audio")
	return clip, nil
}

// ConvertAndSave converts path and writes the result to OutputDir/audio_<ts>.wav.
func (c *Converter) ConvertAndSave(path string) (*Clip, string, error) {
	clip, err := c.Convert(path)
	if err != nil {
		return nil, "", err
	}
	if err := helper.CreateFolder(c.OutputDir); err != nil {
		return nil, "", err
	}

	out := filepath.Join(c.OutputDir, helper.TimestampedName("audio_", ".wav"))
	f, err := os.Create(out)
	if err != nil {
		return nil, "", err
	}
	if err := clip.encode(f); err != nil {
		f.Close()
		return nil, "", err
	}
	if err := f.Close(); err != nil {
		return nil, "", err
	}
	log.Info().Str("file", out).Msg("Saved converted audio")
	return clip, out, nil
}

// pcm is interleaved integer audio straight from a decoder.
type pcm struct {
	sampleRate int
	channels   int
	bitDepth   int
	unsigned   bool
	data       []int
}

// mono averages the channels and scales each sample to 16 bits.
func (p *pcm) mono() []int {
	ch := max(p.channels, 1)
	out := make([]int, len(p.data)/ch)
	for i := range out {
		sum := 0
		for c := 0; c < ch; c++ {
			sum += p.to16(p.data[i*ch+c])
		}
		out[i] = sum / ch
	}
	return out
}

func (p *pcm) to16(v int) int {
	if p.unsigned {
		v -= 1 << (p.bitDepth - 1)
	}
	switch {
	case p.bitDepth < bitDepth:
		return v << (bitDepth - p.bitDepth)
	case p.bitDepth > bitDepth:
		return v >> (p.bitDepth - bitDepth)
	default:
		return v
	}
}

// resample converts samples from one rate to another by linear interpolation.
func resample(samples []int, from, to int) []int {
	if from == to || len(samples) == 0 {
		return samples
	}
	n := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	out := make([]int, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		v := float64(samples[idx]) + (float64(samples[idx+1])-float64(samples[idx]))*frac
		out[i] = clamp16(int(math.Round(v)))
	}
	return out
}

func clamp16(v int) int {
	return min(max(v, math.MinInt16), math.MaxInt16)
}

func decodeWAV(path string) (*pcm, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read wav samples: %w", err)
	}
	depth := int(d.BitDepth)
	return &pcm{
		sampleRate: int(d.SampleRate),
		channels:   int(d.NumChans),
		bitDepth:   depth,
		unsigned:   depth == 8,
		data:       buf.Data,
	}, nil
}

// go-mp3 always yields 16-bit little-endian stereo.
func decodeMP3(path string) (*pcm, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open mp3 stream: %w", err)
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mp3: %w", err)
	}

	data := make([]int, len(raw)/2)
	for i := range data {
		data[i] = int(int16(binary.LittleEndian.Uint16(raw[2*i:])))
	}
	return &pcm{sampleRate: d.SampleRate(), channels: 2, bitDepth: 16, data: data}, nil
}

func decodeFLAC(path string) (*pcm, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open flac stream: %w", err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	var data []int
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode flac frame: %w", err)
		}
		n := len(frame.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			for ch := 0; ch < channels; ch++ {
				data = append(data, int(frame.Subframes[ch].Samples[i]))
			}
		}
	}
	return &pcm{
		sampleRate: int(stream.Info.SampleRate),
		channels:   channels,
		bitDepth:   int(stream.Info.BitsPerSample),
		data:       data,
	}, nil
}

// memWriteSeeker lets the wav encoder patch its header in memory.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if end := m.pos + len(p); end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	n := copy(m.buf[m.pos:], p)
	m.pos += n
	return n, nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(m.pos) + offset
	case io.SeekEnd:
		pos = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, errors.New("negative seek position")
	}
	m.pos = int(pos)
	return pos, nil
}
