package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/medvault/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-s string   storage driver: sqlite, postgres or redis
//	-d string   SQL DSN (sqlite path or postgres URL)
//	-r string   redis address
//	-k string   kdf: pbkdf2-sha256 or argon2id
//	-j string   JWT HMAC secret
//	-n string   NATS URL
//	-b string   S3 backup bucket
//	-l string   log level
//	-u string   local user id (terminal client)
//	-m string   local user email (terminal client)
//
// os.Args is filtered with flagx.FilterArgs first, so the config file flag
// and unknown arguments do not collide with this flag set.
func parseFlags(config *Config) error {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-s", "-d", "-r", "-k", "-j", "-n", "-b", "-l", "-u", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTP.Addr, "a", config.HTTP.Addr, "address and port to run server")
	fs.StringVar(&config.Storage.Driver, "s", config.Storage.Driver, "storage driver")
	fs.StringVar(&config.Storage.DSN, "d", config.Storage.DSN, "database DSN")
	fs.StringVar(&config.Storage.RedisAddr, "r", config.Storage.RedisAddr, "redis address")
	fs.StringVar(&config.Vault.KDF, "k", config.Vault.KDF, "key derivation function")
	fs.StringVar(&config.HTTP.JWTSecret, "j", config.HTTP.JWTSecret, "JWT secret key")
	fs.StringVar(&config.NATS.URL, "n", config.NATS.URL, "NATS URL")
	fs.StringVar(&config.S3.Bucket, "b", config.S3.Bucket, "S3 backup bucket")
	fs.StringVar(&config.Logging.Level, "l", config.Logging.Level, "log level")
	fs.StringVar(&config.Local.UserID, "u", config.Local.UserID, "local user id")
	fs.StringVar(&config.Local.Email, "m", config.Local.Email, "local user email")

	return fs.Parse(args)
}
