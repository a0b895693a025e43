package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the hub process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Calls    CallsConfig
	Hub      HubConfig
	WhatsApp WhatsAppConfig
	MQTT     MQTTConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. An empty Host disables the presence mirror.
type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	PresenceTTL time.Duration
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// CallsConfig drives every per-user call engine.
type CallsConfig struct {
	RecordingEnabled bool
	AutoAnswer       bool
	ConnectDelay     time.Duration
	ResetDelay       time.Duration
	RingDelay        time.Duration

	// SIPDomain is where Twilio voice webhooks bridge answered calls (sip:<agent>@<domain>).
	SIPDomain string
}

type HubConfig struct {
	// EventRate is the sustained inbound events per second allowed per connection.
	EventRate  float64
	EventBurst int

	// AllowedOrigins restricts websocket upgrades by Origin header. Empty allows any.
	AllowedOrigins []string
}

type WhatsAppConfig struct {
	BusinessID  string
	AccessToken string
	VerifyToken string

	EvolutionURL string
	EvolutionKey string
}

// MQTTConfig is optional. An empty Broker disables lifecycle publishing.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := optInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.PresenceTTL = mustDuration("REDIS_PRESENCE_TTL")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))

	{
		b, err := optBool("RECORDING_ENABLED", true)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Calls.RecordingEnabled = b
	}
	{
		b, err := optBool("AUTO_ANSWER", false)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Calls.AutoAnswer = b
	}
	// Duration env vars are optional; defaults applied in Validate().
	c.Calls.ConnectDelay = mustDuration("CALL_CONNECT_DELAY")
	c.Calls.ResetDelay = mustDuration("CALL_RESET_DELAY")
	c.Calls.RingDelay = mustDuration("CALL_RING_DELAY")
	c.Calls.SIPDomain = strings.TrimSpace(os.Getenv("SIP_DOMAIN"))

	if v := strings.TrimSpace(os.Getenv("HUB_EVENT_RATE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("HUB_EVENT_RATE must be a number, got %q", v))
		}
		c.Hub.EventRate = f
	}
	{
		n, err := optInt("HUB_EVENT_BURST", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Hub.EventBurst = n
	}
	c.Hub.AllowedOrigins = splitList(os.Getenv("HUB_ALLOWED_ORIGINS"))

	c.WhatsApp.BusinessID = strings.TrimSpace(os.Getenv("WHATSAPP_BUSINESS_ID"))
	c.WhatsApp.AccessToken = os.Getenv("WHATSAPP_ACCESS_TOKEN")
	c.WhatsApp.VerifyToken = os.Getenv("WHATSAPP_VERIFY_TOKEN")
	c.WhatsApp.EvolutionURL = strings.TrimRight(strings.TrimSpace(os.Getenv("EVOLUTION_API_URL")), "/")
	c.WhatsApp.EvolutionKey = os.Getenv("EVOLUTION_API_KEY")

	c.MQTT.Broker = strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	c.MQTT.ClientID = strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	c.MQTT.TopicPrefix = strings.TrimSpace(os.Getenv("MQTT_TOPIC_PREFIX"))
	{
		n, err := optInt("MQTT_QOS", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.MQTT.QoS = n
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.PresenceTTL <= 0 {
		c.Redis.PresenceTTL = 2 * time.Minute
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() && c.Auth.JWTIssuer == "" {
		errs = append(errs, errors.New("JWT_ISSUER is required in production"))
	}

	if c.Calls.ConnectDelay <= 0 {
		c.Calls.ConnectDelay = 2 * time.Second
	}
	if c.Calls.ResetDelay <= 0 {
		c.Calls.ResetDelay = time.Second
	}
	if c.Calls.RingDelay <= 0 {
		c.Calls.RingDelay = 2 * time.Second
	}

	if c.Hub.EventRate < 0 {
		errs = append(errs, fmt.Errorf("HUB_EVENT_RATE must be >= 0, got %v", c.Hub.EventRate))
	} else if c.Hub.EventRate == 0 {
		c.Hub.EventRate = 20
	}
	if c.Hub.EventBurst < 0 {
		errs = append(errs, fmt.Errorf("HUB_EVENT_BURST must be >= 0, got %d", c.Hub.EventBurst))
	} else if c.Hub.EventBurst == 0 {
		c.Hub.EventBurst = 40
	}

	if c.WhatsApp.EvolutionURL != "" && c.WhatsApp.EvolutionKey == "" {
		errs = append(errs, errors.New("EVOLUTION_API_KEY is required when EVOLUTION_API_URL is set"))
	}

	if c.MQTT.Broker != "" {
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = "mcp-hub"
		}
		if c.MQTT.TopicPrefix == "" {
			c.MQTT.TopicPrefix = "mcp-hub"
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// RedisAddr returns "" when Redis is not configured.
func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
