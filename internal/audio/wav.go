// Package audio holds small PCM helpers shared by the backend clients and
// the playback path. All audio in the bridge is 48 kHz mono 16-bit PCM.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	SampleRate = 48000
	Channels   = 1
	// FrameSamples is one 20 ms frame at 48 kHz mono.
	FrameSamples = SampleRate / 50
)

// BuildWAV wraps raw 16-bit PCM samples in a RIFF/WAVE header.
func BuildWAV(samples []int16, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(samples) * 2)
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	for _, s := range samples {
		binary.Write(buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}

// ParseWAV extracts 16-bit PCM samples from a RIFF/WAVE payload. Only
// uncompressed 16-bit PCM is supported; anything else is an error.
func ParseWAV(data []byte) ([]int16, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE payload")
	}
	pos := 12
	var bitsPerSample uint16
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("truncated fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, fmt.Errorf("unsupported WAV format %d (want PCM)", format)
			}
			bitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bitsPerSample != 16 {
				return nil, fmt.Errorf("unsupported bit depth %d (want 16)", bitsPerSample)
			}
		case "data":
			if bitsPerSample == 0 {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			samples := make([]int16, size/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(data[body+i*2 : body+i*2+2]))
			}
			return samples, nil
		}
		pos = body + size
		if size%2 == 1 {
			pos++
		}
	}
	return nil, fmt.Errorf("no data chunk found")
}

// Tone synthesizes a sine tone at the given frequency, used for the short
// acknowledgment sounds played on trigger detection and reply completion.
func Tone(freqHz float64, durMs int, amplitude float64) []int16 {
	n := SampleRate * durMs / 1000
	out := make([]int16, n)
	for i := range out {
		v := amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/SampleRate)
		// short fade at both ends to avoid clicks
		fade := float64(1)
		const ramp = 240
		if i < ramp {
			fade = float64(i) / ramp
		} else if n-i < ramp {
			fade = float64(n-i) / ramp
		}
		out[i] = int16(v * fade * 32767)
	}
	return out
}

// RMS computes the root-mean-square energy of a PCM frame.
func RMS(frame []int16) int {
	if len(frame) == 0 {
		return 0
	}
	var sumSq int64
	for _, s := range frame {
		v := int64(s)
		sumSq += v * v
	}
	return int(math.Sqrt(float64(sumSq / int64(len(frame)))))
}
