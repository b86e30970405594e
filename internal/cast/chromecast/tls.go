package chromecast

import "crypto/tls"

// insecureTLSConfig is the CASTV2-specific TLS configuration. Chromecast
// receivers present self-signed certificates, so this configuration
// disables certificate and hostname verification. Per spec.md §9 this is
// kept distinct from any other TLS usage in the system, which must
// default to strict verification; nothing else in this module imports
// crypto/tls with InsecureSkipVerify.
func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true}
}
