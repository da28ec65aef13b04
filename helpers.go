package memkit

func ReleaseBuffers(buffers []*Buffer) {
	for _, buf := range buffers {
		if buf != nil {
			buf.Release()
		}
	}
}
