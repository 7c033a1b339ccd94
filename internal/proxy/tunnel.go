package proxy

import (
	"io"
	"net"
	"net/http"
	"time"
)

// handleConnect services an HTTPS CONNECT request by tunneling raw bytes
// between the client and the requested host, with no TLS termination or
// interception of any kind. Per spec §1/§9, implementing the MITM TLS
// termination expected upstream of this pipeline is an explicit Non-goal;
// CONNECT traffic is opaque to every chaos strategy, the classifier, and
// the tape recorder.
func (p *Pipeline) handleConnect(w http.ResponseWriter, r *http.Request) {
	upstream, err := net.DialTimeout("tcp", r.Host, 10*time.Second)
	if err != nil {
		p.logger.Errorw("CONNECT upstream dial failed", "host", r.Host, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer upstream.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "tunneling not supported", http.StatusInternalServerError)
		return
	}
	client, _, err := hijacker.Hijack()
	if err != nil {
		p.logger.Errorw("CONNECT hijack failed", "error", err)
		return
	}
	defer client.Close()

	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, client) //nolint:errcheck
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, upstream) //nolint:errcheck
		done <- struct{}{}
	}()
	<-done
}
