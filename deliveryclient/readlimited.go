package deliveryclient

import "io"

// readLimited reads up to n bytes from r, discarding the rest. Delivery
// responses are only ever used for error logging, so truncating a huge
// response body keeps a misbehaving receiver from inflating memory.
func readLimited(r io.Reader, n int64) string {
	buf := make([]byte, n)
	read, _ := io.ReadFull(io.LimitReader(r, n), buf)
	return string(buf[:read])
}
