package voice

// Playback format: Discord voice is 48 kHz stereo Opus at 20 ms frames.
const (
	playbackRate     = 48000
	playbackChannels = 2

	// frameSamples is the number of samples per channel per 20 ms frame.
	frameSamples = playbackRate * 20 / 1000 // 960

	// frameBytes is the PCM input size of one Opus frame:
	// 960 samples/channel × 2 channels × 2 bytes/sample.
	frameBytes = frameSamples * playbackChannels * 2
)

// toPlaybackPCM converts a decoded clip to 48 kHz stereo int16 PCM.
// Resampling happens before channel conversion so mono clips are only
// duplicated once.
func toPlaybackPCM(clip pcmClip) []byte {
	pcm := clip.data

	if clip.sampleRate != playbackRate {
		if clip.channels == 1 {
			pcm = resampleMono16(pcm, clip.sampleRate, playbackRate)
		} else {
			pcm = resampleStereo16(pcm, clip.sampleRate, playbackRate)
		}
	}

	switch {
	case clip.channels == 1:
		pcm = monoToStereo(pcm)
	case clip.channels > 2:
		// Engines only emit mono or stereo; anything else is truncated to
		// the first two channels.
		pcm = truncateChannels(pcm, clip.channels)
	}

	return pcm
}

// monoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func monoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// truncateChannels keeps the first two channels of interleaved int16 PCM.
func truncateChannels(pcm []byte, channels int) []byte {
	frames := len(pcm) / (channels * 2)
	out := make([]byte, frames*4)
	for i := range frames {
		src := i * channels * 2
		dst := i * 4
		copy(out[dst:dst+4], pcm[src:src+4])
	}
	return out
}

// resampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation.
func resampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// resampleStereo16 resamples 16-bit interleaved stereo PCM from srcRate to
// dstRate using linear interpolation.
func resampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		l0 := int16(pcm[srcIdx*4]) | int16(pcm[srcIdx*4+1])<<8
		r0 := int16(pcm[srcIdx*4+2]) | int16(pcm[srcIdx*4+3])<<8

		l1, r1 := l0, r0
		if srcIdx+1 < srcFrames {
			l1 = int16(pcm[(srcIdx+1)*4]) | int16(pcm[(srcIdx+1)*4+1])<<8
			r1 = int16(pcm[(srcIdx+1)*4+2]) | int16(pcm[(srcIdx+1)*4+3])<<8
		}

		l := int16(float64(l0)*(1-frac) + float64(l1)*frac)
		r := int16(float64(r0)*(1-frac) + float64(r1)*frac)
		out[i*4] = byte(l)
		out[i*4+1] = byte(l >> 8)
		out[i*4+2] = byte(r)
		out[i*4+3] = byte(r >> 8)
	}
	return out
}

// int16sFromBytes converts little-endian bytes to int16 PCM samples.
func int16sFromBytes(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
