package sht1x

// crc8 runs the SHT1x CRC-8 (x^8 + x^5 + x^4 + 1) over data, MSB first.
// The sensor transmits the register bit-reversed; compare with reverse8(crc).
func crc8(seed byte, data ...byte) byte {
	crc := seed
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// crcSeed is the low status nibble in reversed bit order.
func crcSeed(status byte) byte { return reverse8(status & 0x0F) }

func reverse8(b byte) byte {
	b = b&0xF0>>4 | b&0x0F<<4
	b = b&0xCC>>2 | b&0x33<<2
	b = b&0xAA>>1 | b&0x55<<1
	return b
}

// checksumOK reports whether got (as transmitted) matches cmd+data under status.
func checksumOK(status byte, got byte, cmd byte, data ...byte) bool {
	crc := crc8(crcSeed(status), append([]byte{cmd}, data...)...)
	return reverse8(crc) == got
}
