package connection

import "strings"

// NormalizeAddress turns user input ("9000", "http://127.0.0.1:9000/rpc")
// into a host:port string.
func NormalizeAddress(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", ErrInvalidAddress
	}

	value = strings.TrimPrefix(value, "http://")
	value = strings.TrimPrefix(value, "https://")
	if i := strings.IndexByte(value, '/'); i >= 0 {
		value = value[:i]
	}
	if !strings.Contains(value, ":") {
		value = "localhost:" + value
	}

	parts := strings.Split(value, ":")
	host, port := parts[0], parts[1]
	if port == "" {
		return value, nil
	}
	if host == "127.0.0.1" || host == "0.0.0.0" {
		return "localhost:" + port, nil
	}
	return value, nil
}
