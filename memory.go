package memkit

// Set assigns the value c to every element of buf.
func Set(buf []byte, c byte) {
	for i := range buf {
		buf[i] = c
	}
}
