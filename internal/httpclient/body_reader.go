package httpclient

import (
	"io"
	"net/http"
)

// maxDrainBytes bounds how much of a response body is discarded when the
// caller does not want it read.
const maxDrainBytes = 4 << 10

// FinishBody consumes and closes resp.Body. With readAll the whole body is
// read and its size returned; otherwise at most a small prefix is discarded
// so the connection can still return to the pool. Read errors are returned
// but do not affect how the exchange was classified.
func FinishBody(resp *http.Response, readAll bool) (int64, error) {
	if resp == nil || resp.Body == nil {
		return 0, nil
	}
	defer resp.Body.Close()

	if readAll {
		return io.Copy(io.Discard, resp.Body)
	}
	return io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
}
