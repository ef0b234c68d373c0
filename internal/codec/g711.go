package codec

// G.711 expansion tables, normalized to [-1, 1).
var alawTable, ulawTable [256]float32

func init() {
	for i := 0; i < 256; i++ {
		alawTable[i] = float32(alawToLinear(byte(i))) / 32768
		ulawTable[i] = float32(ulawToLinear(byte(i))) / 32768
	}
}

func alawToLinear(a byte) int16 {
	a ^= 0x55
	t := int16(a&0x0F) << 4
	seg := (a & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return t
	}
	return -t
}

func ulawToLinear(u byte) int16 {
	u = ^u
	t := (int16(u&0x0F) << 3) + 0x84
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return 0x84 - t
	}
	return t - 0x84
}
