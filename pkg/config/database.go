package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/ajitpratap0/orodw/pkg/dwerrors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvFile is loaded before the environment is read, when it exists.
const EnvFile = "config/.env"

// Database is the source connection. It is read from ORO_DB_* variables.
type Database struct {
	Driver  string
	Host    string
	Port    int
	Name    string
	User    string
	Pass    string
	SSLMode string
}

// LoadDatabase loads envFile (when present) and reads the ORO_DB_* variables.
// Variables already set in the process environment win over the file.
func LoadDatabase(envFile string) (*Database, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeConfig, "failed to load env file").
				WithDetail("path", envFile)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("ORO_DB")
	v.AutomaticEnv()
	v.SetDefault("driver", "postgres")
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 5432)
	v.SetDefault("name", "orocommerce")
	v.SetDefault("user", "postgres")
	v.SetDefault("pass", "changeme")
	v.SetDefault("sslmode", "disable")

	db := &Database{
		Driver:  strings.ToLower(v.GetString("driver")),
		Host:    v.GetString("host"),
		Port:    v.GetInt("port"),
		Name:    v.GetString("name"),
		User:    v.GetString("user"),
		Pass:    v.GetString("pass"),
		SSLMode: v.GetString("sslmode"),
	}
	if err := db.Validate(); err != nil {
		return nil, dwerrors.Wrap(err, dwerrors.ErrorTypeConfig, "invalid database settings")
	}
	return db, nil
}

// Validate checks the connection settings.
func (d *Database) Validate() error {
	switch d.Driver {
	case "postgres", "pgx", "mysql", "mariadb":
	default:
		return fmt.Errorf("unsupported ORO_DB_DRIVER: %s", d.Driver)
	}
	if d.Host == "" {
		return fmt.Errorf("ORO_DB_HOST is required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("ORO_DB_PORT out of range: %d", d.Port)
	}
	if d.Name == "" {
		return fmt.Errorf("ORO_DB_NAME is required")
	}
	return nil
}

// IsMySQL reports whether the source speaks the MySQL protocol.
func (d *Database) IsMySQL() bool {
	return d.Driver == "mysql" || d.Driver == "mariadb"
}

// Addr returns host:port.
func (d *Database) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// PostgresURL renders a postgres:// connection string.
func (d *Database) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Pass),
		Host:   d.Addr(),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}
	return u.String()
}

// String hides the password.
func (d *Database) String() string {
	return fmt.Sprintf("%s://%s@%s/%s", d.Driver, d.User, d.Addr(), d.Name)
}
