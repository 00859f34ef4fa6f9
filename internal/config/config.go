package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Insecure defaults that must never reach production
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"internal-secret":                      true,
	"": true,
}

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	JWT            JWTConfig
	Compute        ComputeConfig
	DNS            DNSConfig
	Billing        BillingConfig
	Watchdog       WatchdogConfig
	InternalSecret string
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	Schema   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey string
}

// ComputeConfig holds the compute vendor API settings plus the token-bucket
// and retry budget for the rate-limited client.
type ComputeConfig struct {
	APIURL      string
	APIKey      string
	RatePerSec  float64
	Burst       int
	MaxRetries  int
	BaseBackoff time.Duration
}

// DNSConfig holds the DNS vendor API settings. BaseDomain is the zone every
// instance subdomain is created under.
type DNSConfig struct {
	APIURL        string
	APIToken      string
	ZoneID        string
	BaseDomain    string
	ResolverAddr  string
	VerifyRecords bool
	RatePerSec    float64
	Burst         int
	MaxRetries    int
	BaseBackoff   time.Duration
}

type BillingConfig struct {
	ServiceURL string
}

type WatchdogConfig struct {
	Interval              time.Duration
	ProvisionTimeout      time.Duration
	HealthFailThreshold   int
	HealthHardThreshold   int
	ProbePort             int
	ProbePath             string
	ProbeTimeout          time.Duration
	EstimatedReadySeconds int
}

func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8006"),
			Mode: getEnv("GIN_MODE", "release"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "vps_user"),
			Password: getEnv("DB_PASSWORD", "vps_pass"),
			DBName:   getEnv("DB_NAME", "vps_db"),
			Schema:   getEnv("DB_SCHEMA", "provisioning"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
		},
		Compute: ComputeConfig{
			APIURL:      getEnv("COMPUTE_API_URL", "https://api.vultr.com"),
			APIKey:      getEnv("COMPUTE_API_KEY", ""),
			RatePerSec:  getEnvFloat("COMPUTE_RATE_PER_SEC", 2),
			Burst:       getEnvInt("COMPUTE_RATE_BURST", 5),
			MaxRetries:  getEnvInt("COMPUTE_MAX_RETRIES", 3),
			BaseBackoff: getEnvDuration("COMPUTE_BASE_BACKOFF", 500*time.Millisecond),
		},
		DNS: DNSConfig{
			APIURL:        getEnv("DNS_API_URL", "https://api.cloudflare.com/client/v4"),
			APIToken:      getEnv("DNS_API_TOKEN", ""),
			ZoneID:        getEnv("DNS_ZONE_ID", ""),
			BaseDomain:    getEnv("DNS_BASE_DOMAIN", "vps.stackhaven.io"),
			ResolverAddr:  getEnv("DNS_RESOLVER_ADDR", "1.1.1.1:53"),
			VerifyRecords: getEnvBool("DNS_VERIFY_RECORDS", false),
			RatePerSec:    getEnvFloat("DNS_RATE_PER_SEC", 4),
			Burst:         getEnvInt("DNS_RATE_BURST", 10),
			MaxRetries:    getEnvInt("DNS_MAX_RETRIES", 3),
			BaseBackoff:   getEnvDuration("DNS_BASE_BACKOFF", 500*time.Millisecond),
		},
		Billing: BillingConfig{
			ServiceURL: getEnv("BILLING_SERVICE_URL", "http://localhost:8003"),
		},
		Watchdog: WatchdogConfig{
			Interval:              getEnvDuration("WATCHDOG_INTERVAL", 10*time.Second),
			ProvisionTimeout:      getEnvDuration("WATCHDOG_PROVISION_TIMEOUT", 5*time.Minute),
			HealthFailThreshold:   getEnvInt("WATCHDOG_HEALTH_FAIL_THRESHOLD", 3),
			HealthHardThreshold:   getEnvInt("WATCHDOG_HEALTH_HARD_THRESHOLD", 10),
			ProbePort:             getEnvInt("WATCHDOG_PROBE_PORT", 18789),
			ProbePath:             getEnv("WATCHDOG_PROBE_PATH", "/healthz"),
			ProbeTimeout:          getEnvDuration("WATCHDOG_PROBE_TIMEOUT", 5*time.Second),
			EstimatedReadySeconds: getEnvInt("PROVISION_ESTIMATED_READY_SECONDS", 180),
		},
		InternalSecret: getEnv("INTERNAL_SECRET", ""),
	}

	// Keep secrets out of the startup log
	log.Printf("[config] Provisioning Service loaded: port=%s db=%s/%s.%s compute=%s dns_zone=%s",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName, cfg.Database.Schema,
		cfg.Compute.APIURL, cfg.DNS.BaseDomain)

	return cfg
}

// Validate rejects configurations that would run with insecure secrets.
func (c *Config) Validate() error {
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}
	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be at least 32 characters long")
	}
	if c.Compute.APIKey == "" {
		return fmt.Errorf("COMPUTE_API_KEY must be set")
	}
	if c.DNS.APIToken == "" || c.DNS.ZoneID == "" {
		return fmt.Errorf("DNS_API_TOKEN and DNS_ZONE_ID must be set")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
