package dbconfig

import (
	"net"
	"net/url"
	"os"
	"strconv"
)

// Endpoints are the backing services a jemima process may connect to.
type Endpoints struct {
	Postgres Postgres
	Mongo    Mongo
	NATSURL  string
}

// Postgres holds the DB_* connection settings.
type Postgres struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type Mongo struct {
	URI      string
	Database string
}

// FromEnv reads DB_*, MONGO_* and NATS_URL, falling back to local defaults.
func FromEnv() Endpoints {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) Endpoints {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return fallback
	}

	port, err := strconv.Atoi(get("DB_PORT", "5432"))
	if err != nil || port <= 0 {
		port = 5432
	}
	return Endpoints{
		Postgres: Postgres{
			Host:     get("DB_HOST", "localhost"),
			Port:     port,
			User:     get("DB_USER", "postgres"),
			Password: get("DB_PASSWORD", "postgres"),
			Database: get("DB_NAME", "jemima"),
			SSLMode:  get("DB_SSLMODE", "disable"),
		},
		Mongo: Mongo{
			URI:      get("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
			Database: get("MONGO_DB", "jemima"),
		},
		NATSURL: get("NATS_URL", "nats://localhost:4222"),
	}
}

// DSN returns the connection URL, escaping credentials.
func (p Postgres) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.Database,
		RawQuery: url.Values{"sslmode": {p.SSLMode}}.Encode(),
	}
	return u.String()
}
