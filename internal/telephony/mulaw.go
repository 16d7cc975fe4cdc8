package telephony

// G.711 mu-law codec for Twilio media streams, which carry 8 kHz mu-law
// audio, plus the sample-rate conversions between that and the 48 kHz
// linear PCM the synthesizer produces.

const muLawBias = 0x84

// DecodeMuLaw expands mu-law bytes into 16-bit little-endian linear PCM.
func DecodeMuLaw(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, b := range in {
		s := decodeMuLawSample(b)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func decodeMuLawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	sample := (int32(mantissa)<<3 + muLawBias) << exponent
	sample -= muLawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// EncodeMuLaw compresses 16-bit little-endian linear PCM into mu-law bytes.
// A trailing odd byte is ignored.
func EncodeMuLaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = encodeMuLawSample(s)
	}
	return out
}

func encodeMuLawSample(s int16) byte {
	sign := byte(0)
	v := int32(s)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	v += muLawBias
	if v > 0x7FFF {
		v = 0x7FFF
	}
	exponent := byte(7)
	for mask := int32(0x4000); mask != 0 && v&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(v>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// Downsample48kTo8k decimates 48 kHz 16-bit mono PCM to 8 kHz by averaging
// each group of six samples, which doubles as a crude low-pass filter.
func Downsample48kTo8k(pcm []byte) []byte {
	samples := len(pcm) / 2
	groups := samples / 6
	out := make([]byte, groups*2)
	for g := 0; g < groups; g++ {
		var sum int32
		for j := 0; j < 6; j++ {
			idx := (g*6 + j) * 2
			sum += int32(int16(pcm[idx]) | int16(pcm[idx+1])<<8)
		}
		avg := int16(sum / 6)
		out[g*2] = byte(avg)
		out[g*2+1] = byte(avg >> 8)
	}
	return out
}
