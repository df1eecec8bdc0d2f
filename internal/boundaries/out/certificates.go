package out

import "context"

// CertificateResolver is the outbound port for TLS certificate acquisition.
// Acquisition is asynchronous from the router's point of view: a routing
// rule only becomes active once Ready reports a bound certificate, and
// until then handshakes for the host fail closed.
type CertificateResolver interface {
	// Obtain acquires and binds a certificate for host, blocking until the
	// certificate is cached or ctx expires.
	Obtain(ctx context.Context, host string) error

	// Ready reports whether a valid certificate is bound for host.
	Ready(host string) bool
}
