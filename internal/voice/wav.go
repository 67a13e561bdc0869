package voice

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

// pcmClip is decoded audio ready for format conversion.
type pcmClip struct {
	// data is interleaved little-endian int16 PCM.
	data       []byte
	sampleRate int
	channels   int
}

// decodeWAV parses a WAV payload into int16 PCM. Sample depths other than
// 16 bit are scaled.
func decodeWAV(data []byte) (pcmClip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return pcmClip{}, errors.New("voice: not a valid wav payload")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return pcmClip{}, fmt.Errorf("voice: decode wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return pcmClip{}, errors.New("voice: wav payload has no samples")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	shift := depth - 16

	out := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		v := s
		if shift > 0 {
			v >>= shift
		} else if shift < 0 {
			v <<= -shift
		}
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}

	return pcmClip{
		data:       out,
		sampleRate: int(dec.SampleRate),
		channels:   int(dec.NumChans),
	}, nil
}
