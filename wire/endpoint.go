package wire

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint identifies one storage node process.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("endpoint host is required")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("endpoint port out of range: %d", e.Port)
	}
	return nil
}

// ParseEndpoint parses "host:port". A bare host takes defaultPort when it is
// positive.
func ParseEndpoint(s string, defaultPort int) (Endpoint, error) {
	s = strings.TrimSpace(s)
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		if defaultPort > 0 && s != "" && !strings.Contains(s, ":") {
			return Endpoint{Host: s, Port: defaultPort}, nil
		}
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid port in endpoint %q: %w", s, err)
	}

	endpoint := Endpoint{Host: host, Port: port}
	if err := endpoint.Validate(); err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	return endpoint, nil
}
