package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Ingest encodings accepted from the voice collaborator
const (
	EncodingPCM16 = "pcm16"
	EncodingMulaw = "mulaw"
)

// Normalize converts a frame from the source format and encoding into target
// (mono 16-bit PCM). μ-law frames are decoded first, then channels are averaged
// and the sample rate converted.
func Normalize(frame []byte, encoding string, from Format, target Format) ([]byte, error) {
	if len(frame) == 0 {
		return nil, nil
	}
	if from.SampleRate <= 0 || from.Channels <= 0 {
		return nil, fmt.Errorf("invalid source format %s", from)
	}

	var pcm []byte
	switch encoding {
	case EncodingPCM16, "":
		pcm = frame
	case EncodingMulaw:
		pcm = DecodeMulaw(frame)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}

	if len(pcm)%(2*from.Channels) != 0 {
		return nil, fmt.Errorf("frame of %d bytes is not aligned to %d-channel 16-bit samples", len(pcm), from.Channels)
	}

	samples := BytesToSamples(pcm)
	if from.Channels > 1 {
		samples = Downmix(samples, from.Channels)
	}
	if from.SampleRate != target.SampleRate {
		samples = Resample(samples, from.SampleRate, target.SampleRate)
	}

	return SamplesToBytes(samples), nil
}

// BytesToSamples decodes little-endian 16-bit PCM
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// Downmix averages interleaved channels into mono
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}

// Resample performs simple linear interpolation resampling
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		if idx0 >= len(samples) {
			idx0 = len(samples) - 1
		}
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// G.711 μ-law constants
const (
	mulawBias = 0x84
	mulawClip = 32635
)

// EncodeMulaw converts 16-bit PCM to G.711 μ-law
func EncodeMulaw(pcm []byte) []byte {
	samples := BytesToSamples(pcm)
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToMulaw(s)
	}
	return out
}

// DecodeMulaw converts G.711 μ-law to 16-bit PCM
func DecodeMulaw(data []byte) []byte {
	pcm := make([]byte, len(data)*2)
	for i, b := range data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(mulawToLinear(b)))
	}
	return pcm
}

func linearToMulaw(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	// Segment is the position of the highest set bit above bit 7
	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)

	return ^(sign | exponent<<4 | mantissa)
}

func mulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := int32(u & 0x0F)

	s := ((mantissa << 3) + mulawBias) << exponent
	s -= mulawBias

	if sign != 0 {
		return int16(-s)
	}
	return int16(s)
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
