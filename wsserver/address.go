package wsserver

import (
	"fmt"
	"strings"
)

// ParseAddress parses a protocol://host:port address spec with
// protocol in {tcp, tls, unix, udg}. A bare
// address with no scheme defaults to tcp://addr:80, or tls://addr:443
// when useTLS is true.
//
// It returns the Go network name ("tcp" or "unix") and the address to
// pass to net.Listen/net.Dial.
func ParseAddress(spec string, useTLS bool) (network, address string, err error) {
	if spec == "" {
		return "", "", fmt.Errorf("wsserver: empty address")
	}

	scheme, rest, hasScheme := strings.Cut(spec, "://")
	if !hasScheme {
		if useTLS {
			return "tcp", spec + defaultPort(443, spec), nil
		}
		return "tcp", spec + defaultPort(80, spec), nil
	}

	switch scheme {
	case "tcp":
		return "tcp", rest, nil
	case "tls":
		return "tcp", rest, nil
	case "unix", "udg":
		return "unix", rest, nil
	default:
		return "", "", fmt.Errorf("wsserver: unknown address scheme %q", scheme)
	}
}

// defaultPort appends ":port" only when spec doesn't already carry a
// port (a very small heuristic: no colon after the last '.' would be
// more correct, but bare-IPv4-with-no-scheme is the one case worth
// handling here).
func defaultPort(port int, spec string) string {
	if strings.Contains(spec, ":") {
		return ""
	}
	return fmt.Sprintf(":%d", port)
}

// IsUnixNetwork reports whether network names a filesystem-socket
// address family; Close's cleanup semantics apply only here.
func IsUnixNetwork(network string) bool {
	return network == "unix"
}
