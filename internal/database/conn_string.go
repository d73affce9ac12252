package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/gpttools-desk/internal/config"
)

// ApplicationName is reported to PostgreSQL for every desk connection.
const ApplicationName = "gpttools-desk"

// BuildConnString builds a PostgreSQL connection URL from config.
// Host defaults to localhost, port to 5432, ssl mode to prefer.
func BuildConnString(cfg config.DBConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + cfg.Name,
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)
	u.RawQuery = q.Encode()

	return u.String()
}
