package audioio

// Resample converts mono PCM16 between sample rates by linear
// interpolation. Good enough for speech.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	step := float64(fromRate) / float64(toRate)
	out := make([]int16, int(float64(len(samples))/step))
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		a, b := float64(samples[j]), float64(samples[j+1])
		out[i] = int16(a + (pos-float64(j))*(b-a))
	}
	return out
}

// BytesToSamples decodes little-endian PCM16.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
	}
	return samples
}

// SamplesToBytes encodes little-endian PCM16.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[2*i] = byte(s)
		data[2*i+1] = byte(uint16(s) >> 8)
	}
	return data
}

// StereoToMono averages interleaved stereo into mono.
func StereoToMono(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		mono[i] = int16((int32(samples[2*i]) + int32(samples[2*i+1])) / 2)
	}
	return mono
}

// Convert adapts chunk to the given rate and channel count. Stereo input
// is downmixed before resampling.
func Convert(chunk AudioChunk, sampleRate, channels int) AudioChunk {
	if chunk.SampleRate == sampleRate && chunk.Channels == channels {
		return chunk
	}
	mono := chunk.Samples
	if chunk.Channels == 2 {
		mono = StereoToMono(mono)
	}
	mono = Resample(mono, chunk.SampleRate, sampleRate)
	if channels == 1 {
		return AudioChunk{Samples: mono, SampleRate: sampleRate, Channels: 1}
	}
	stereo := make([]int16, len(mono)*2)
	for i, s := range mono {
		stereo[2*i], stereo[2*i+1] = s, s
	}
	return AudioChunk{Samples: stereo, SampleRate: sampleRate, Channels: 2}
}
