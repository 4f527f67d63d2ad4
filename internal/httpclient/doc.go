// Package httpclient builds the shared HTTP transport and the per-Target GET
// requests of a run.
//
// # Request Building
//
// [NewRequestBuilder] validates a URL, an optional Host header override and
// extra headers once:
//
//	builder, err := httpclient.NewRequestBuilder("http://10.0.0.5/health", "api.internal", nil)
//	if err != nil {
//		return err
//	}
//	req, err := builder.Build(ctx) // req.Host == "api.internal"
//
// # HTTP Client
//
// [NewClient] returns one client for every Target of a run. Connection reuse,
// TLS and HTTP/2 are left to net/http; the options cap connections per host
// and set the request timeout:
//
//	client := httpclient.NewClient(httpclient.ClientOptions{
//		Timeout:         time.Second,
//		MaxConnsPerHost: 100,
//	})
//
// [FinishBody] drains and closes a response so its connection returns to the
// pool.
package httpclient
