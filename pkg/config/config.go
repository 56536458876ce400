package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/chainvista/dlt-gateway/pkg/types"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Hyperledger Fabric configuration
	Fabric FabricConfig `mapstructure:"fabric"`

	// JWT configuration
	JWT JWTConfig `mapstructure:"jwt"`

	// Identity provider configuration (token refresh upstream)
	IdentityProvider IdentityProviderConfig `mapstructure:"identity_provider"`

	// Route policy table
	Routes []types.RoutePolicy `mapstructure:"routes"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// FabricConfig holds Hyperledger Fabric configuration
type FabricConfig struct {
	PeerEndpoint      string `mapstructure:"peer_endpoint"`
	GatewayPeer       string `mapstructure:"gateway_peer"`
	MSPID             string `mapstructure:"msp_id"`
	ChannelName       string `mapstructure:"channel_name"`
	CertPath          string `mapstructure:"cert_path"`
	KeyPath           string `mapstructure:"key_path"`
	TLSCertPath       string `mapstructure:"tls_cert_path"`
	TLSEnabled        bool   `mapstructure:"tls_enabled"`
	HealthIntervalSec int    `mapstructure:"health_interval_sec"`
	FailureThreshold  int    `mapstructure:"failure_threshold"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	Issuer    string `mapstructure:"issuer"`
}

// IdentityProviderConfig holds the token refresh upstream configuration
type IdentityProviderConfig struct {
	RefreshURL string `mapstructure:"refresh_url"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/dlt-gateway")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if len(config.Routes) == 0 {
		config.Routes = DefaultRoutes()
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)

	// Fabric defaults
	viper.SetDefault("fabric.peer_endpoint", "localhost:7051")
	viper.SetDefault("fabric.gateway_peer", "peer0.org1.example.com")
	viper.SetDefault("fabric.msp_id", "Org1MSP")
	viper.SetDefault("fabric.channel_name", "mychannel")
	viper.SetDefault("fabric.tls_enabled", true)
	viper.SetDefault("fabric.health_interval_sec", 30)
	viper.SetDefault("fabric.failure_threshold", 3)

	// JWT defaults
	viper.SetDefault("jwt.issuer", "dlt-gateway")

	// Identity provider defaults
	viper.SetDefault("identity_provider.timeout_sec", 10)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	// Logging defaults
	viper.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if jwtSecret := os.Getenv("JWT_SECRET_KEY"); jwtSecret != "" {
		config.JWT.SecretKey = jwtSecret
	}

	if peer := os.Getenv("FABRIC_PEER_ENDPOINT"); peer != "" {
		config.Fabric.PeerEndpoint = peer
	}

	if channel := os.Getenv("FABRIC_CHANNEL_NAME"); channel != "" {
		config.Fabric.ChannelName = channel
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.JWT.SecretKey == "" {
		return fmt.Errorf("JWT secret key is required")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Fabric.PeerEndpoint == "" {
		return fmt.Errorf("fabric peer endpoint is required")
	}

	if config.Fabric.ChannelName == "" {
		return fmt.Errorf("fabric channel name is required")
	}

	if config.Fabric.FailureThreshold <= 0 {
		return fmt.Errorf("fabric failure threshold must be positive")
	}

	return nil
}

// DefaultRoutes returns the built-in route policy table used when no routes
// are configured. Explorer routes are served in-process; the remaining
// prefixes are proxied to business services resolved from the environment.
func DefaultRoutes() []types.RoutePolicy {
	explorerCache := types.CachePolicy{Enabled: true, TTLSeconds: 60}
	explorerRate := types.RateLimitPolicy{WindowMs: 60000, MaxRequests: 120}

	return []types.RoutePolicy{
		{
			Name:           "ledger-info",
			Description:    "Current chain tip of the channel",
			PathPrefix:     "/ledger/info",
			UpstreamTarget: "ledger://explorer",
			Kind:           types.RouteKindExplorer,
			AuthRequired:   true,
			RateLimit:      explorerRate,
			Cache:          explorerCache,
			TimeoutMs:      10000,
			LogLevel:       "info",
		},
		{
			Name:           "blocks",
			Description:    "Block queries by number, hash and latest-N",
			PathPrefix:     "/blocks",
			UpstreamTarget: "ledger://explorer",
			Kind:           types.RouteKindExplorer,
			AuthRequired:   true,
			RateLimit:      explorerRate,
			Cache:          explorerCache,
			TimeoutMs:      15000,
			LogLevel:       "info",
		},
		{
			Name:           "transactions",
			Description:    "Transaction lookup by id",
			PathPrefix:     "/transactions",
			UpstreamTarget: "ledger://explorer",
			Kind:           types.RouteKindExplorer,
			AuthRequired:   true,
			RateLimit:      explorerRate,
			Cache:          types.CachePolicy{},
			TimeoutMs:      10000,
			LogLevel:       "info",
		},
		{
			Name:                "chaincodes",
			Description:         "Chaincode upload, approval and rejection",
			PathPrefix:          "/api/v1/chaincodes",
			UpstreamTarget:      envOrDefault("CHAINCODE_SERVICE_URL", "http://localhost:8081"),
			Kind:                types.RouteKindProxy,
			AuthRequired:        true,
			CertificateRequired: true,
			RateLimit:           types.RateLimitPolicy{WindowMs: 60000, MaxRequests: 60},
			TimeoutMs:           30000,
			LogLevel:            "info",
			LogBody:             true,
		},
		{
			Name:                "deployments",
			Description:         "Chaincode deployment orchestration",
			PathPrefix:          "/api/v1/deployments",
			UpstreamTarget:      envOrDefault("DEPLOYMENT_SERVICE_URL", "http://localhost:8082"),
			Kind:                types.RouteKindProxy,
			AuthRequired:        true,
			CertificateRequired: true,
			AdminOnly:           true,
			RateLimit:           types.RateLimitPolicy{WindowMs: 60000, MaxRequests: 30},
			TimeoutMs:           60000,
			LogLevel:            "info",
			LogBody:             true,
		},
		{
			Name:           "channels",
			Description:    "Channel management",
			PathPrefix:     "/api/v1/channels",
			UpstreamTarget: envOrDefault("CHANNEL_SERVICE_URL", "http://localhost:8083"),
			Kind:           types.RouteKindProxy,
			AuthRequired:   true,
			AdminOnly:      true,
			RateLimit:      types.RateLimitPolicy{WindowMs: 60000, MaxRequests: 30},
			TimeoutMs:      30000,
			LogLevel:       "info",
		},
		{
			Name:           "projects",
			Description:    "Project CRUD",
			PathPrefix:     "/api/v1/projects",
			UpstreamTarget: envOrDefault("PROJECT_SERVICE_URL", "http://localhost:8084"),
			Kind:           types.RouteKindProxy,
			AuthRequired:   true,
			RateLimit:      types.RateLimitPolicy{WindowMs: 60000, MaxRequests: 120},
			Cache:          types.CachePolicy{Enabled: true, TTLSeconds: 30},
			TimeoutMs:      15000,
			LogLevel:       "info",
		},
		{
			Name:           "users",
			Description:    "User CRUD and authentication",
			PathPrefix:     "/api/v1/users",
			UpstreamTarget: envOrDefault("USER_SERVICE_URL", "http://localhost:8085"),
			Kind:           types.RouteKindProxy,
			AuthRequired:   true,
			AdminOnly:      true,
			RateLimit:      types.RateLimitPolicy{WindowMs: 60000, MaxRequests: 60},
			TimeoutMs:      15000,
			LogLevel:       "info",
		},
		{
			Name:                "certificates",
			Description:         "Enrollment certificate CRUD",
			PathPrefix:          "/api/v1/certificates",
			UpstreamTarget:      envOrDefault("CERTIFICATE_SERVICE_URL", "http://localhost:8086"),
			Kind:                types.RouteKindProxy,
			AuthRequired:        true,
			CertificateRequired: true,
			RateLimit:           types.RateLimitPolicy{WindowMs: 60000, MaxRequests: 60},
			TimeoutMs:           15000,
			LogLevel:            "info",
		},
	}
}

// envOrDefault returns environment variable value or default if not set
func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
