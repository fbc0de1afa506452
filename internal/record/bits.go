package record

// flagWriter sets pack-flag bits one column at a time, LSB first within
// each byte.
type flagWriter struct {
	buf  []byte
	pos  int
	mask byte
}

func newFlagWriter(buf []byte) *flagWriter {
	return &flagWriter{buf: buf, mask: 1}
}

// put records one flag-consuming column and moves to the next bit.
func (w *flagWriter) put(set bool) {
	if set {
		w.buf[w.pos] |= w.mask
	}
	w.mask <<= 1
	if w.mask == 0 {
		w.mask = 1
		w.pos++
	}
}

// flagReader is the reading side of flagWriter.
type flagReader struct {
	buf  []byte
	pos  int
	mask byte
}

func newFlagReader(buf []byte) *flagReader {
	return &flagReader{buf: buf, mask: 1}
}

func (r *flagReader) next() bool {
	set := r.buf[r.pos]&r.mask != 0
	r.mask <<= 1
	if r.mask == 0 {
		r.mask = 1
		r.pos++
	}
	return set
}

// clean reports whether every bit after the cursor is zero.
func (r *flagReader) clean() bool {
	pos := r.pos
	if pos < len(r.buf) && r.mask != 1 {
		if r.buf[pos]&^(r.mask-1) != 0 {
			return false
		}
		pos++
	}
	for ; pos < len(r.buf); pos++ {
		if r.buf[pos] != 0 {
			return false
		}
	}
	return true
}
