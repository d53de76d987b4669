package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// config is the resolved CLI configuration.
type config struct {
	baseURL       string
	tokenFile     string
	profile       string
	locale        string
	username      string
	password      string
	expiresInMins int
	redisAddr     string
	logLevel      string
	logFile       string
	mock          bool
	ephemeral     bool
}

var (
	flagBaseURL       *string
	flagTokenFile     *string
	flagProfile       *string
	flagLocale        *string
	flagUsername      *string
	flagPassword      *string
	flagExpiresInMins *int
	flagRedisAddr     *string
	flagLogLevel      *string
	flagLogFile       *string
	flagMock          *bool
	flagEphemeral     *bool
	configInitialized bool
	cfg               config
)

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagBaseURL = flag.String(
		"api-url",
		"",
		"Dashboard API base URL (default: https://dummyjson.com or API_BASE_URL env)",
	)
	flagTokenFile = flag.String(
		"token-file",
		"",
		"Token storage file (default: .dashboard-tokens.json or TOKEN_FILE env)",
	)
	flagProfile = flag.String("profile", "", "Session name inside the token store (or PROFILE env)")
	flagLocale = flag.String("locale", "", "Accept-Language sent to the API: uz, ru or en (or LOCALE env)")
	flagUsername = flag.String("username", "", "Login username (or USERNAME env)")
	flagPassword = flag.String("password", "", "Login password (or PASSWORD env)")
	flagExpiresInMins = flag.Int("expires-in", 0, "Requested access token lifetime in minutes (or EXPIRES_IN_MINS env)")
	flagRedisAddr = flag.String("redis-addr", "", "Store tokens in redis at this address (or REDIS_ADDR env)")
	flagLogLevel = flag.String("log-level", "", "Log level: debug, info, warn, error (or LOG_LEVEL env)")
	flagLogFile = flag.String("log-file", "", "Write logs to this file (or LOG_FILE env)")
	flagMock = flag.Bool("mock", false, "Run against an in-process mock API (or MOCK_API env)")
	flagEphemeral = flag.Bool("ephemeral", false, "Keep tokens in session cookies only, nothing written to disk (or EPHEMERAL env)")
}

// initConfig parses flags and initializes configuration
// Separated from init() to avoid conflicts with test flag parsing
func initConfig() {
	if configInitialized {
		return
	}
	configInitialized = true

	flag.Parse()

	var err error
	cfg, err = loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Warn if using HTTP instead of HTTPS
	if !cfg.mock && strings.HasPrefix(strings.ToLower(cfg.baseURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}
}

// loadConfig resolves every setting with priority: flag > env > default.
func loadConfig() (config, error) {
	c := config{
		baseURL:   getConfig(*flagBaseURL, "API_BASE_URL", "https://dummyjson.com"),
		tokenFile: getConfig(*flagTokenFile, "TOKEN_FILE", ".dashboard-tokens.json"),
		profile:   getConfig(*flagProfile, "PROFILE", "default"),
		locale:    getConfig(*flagLocale, "LOCALE", "uz"),
		username:  getConfig(*flagUsername, "USERNAME", ""),
		password:  getConfig(*flagPassword, "PASSWORD", ""),
		redisAddr: getConfig(*flagRedisAddr, "REDIS_ADDR", ""),
		logLevel:  getConfig(*flagLogLevel, "LOG_LEVEL", "info"),
		logFile:   getConfig(*flagLogFile, "LOG_FILE", ""),
		mock:      *flagMock || getEnvBool("MOCK_API"),
		ephemeral: *flagEphemeral || getEnvBool("EPHEMERAL"),
	}

	mins := getConfig(intFlag(*flagExpiresInMins), "EXPIRES_IN_MINS", "60")
	n, err := strconv.Atoi(mins)
	if err != nil || n <= 0 {
		return config{}, fmt.Errorf("invalid EXPIRES_IN_MINS: %q", mins)
	}
	c.expiresInMins = n

	if _, err := zerolog.ParseLevel(c.logLevel); err != nil {
		return config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if c.ephemeral && c.redisAddr != "" {
		return config{}, errors.New("EPHEMERAL and REDIS_ADDR are mutually exclusive")
	}

	if !c.mock {
		if err := validateServerURL(c.baseURL); err != nil {
			return config{}, fmt.Errorf("invalid API_BASE_URL: %w", err)
		}
	}
	return c, nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func intFlag(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// newLogger returns the logger for c. Logs go to the log file when one is
// configured; otherwise to stderr, unless the TUI owns the terminal.
func newLogger(c config, tty bool) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(c.logLevel)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var out io.Writer
	var closer io.Closer
	switch {
	case c.logFile != "":
		f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closer = f, f
	case tty:
		return zerolog.Nop(), nil, nil
	default:
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}

	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return log, closer, nil
}
