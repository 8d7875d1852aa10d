package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "roomstay"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "ROOMSTAY_DB_DSN"
	EnvDBHost = "ROOMSTAY_DB_HOST"
	EnvDBUser = "ROOMSTAY_DB_USER"
	EnvDBName = "ROOMSTAY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	VNPay        VNPayConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ROOMSTAY_APP_ENV" required:"true"`
	Port         string `envconfig:"ROOMSTAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ROOMSTAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ROOMSTAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"ROOMSTAY_DB_DSN"`
	Driver string `envconfig:"ROOMSTAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ROOMSTAY_DB_HOST"`
	LegacyPort     int    `envconfig:"ROOMSTAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ROOMSTAY_DB_USER"`
	LegacyPassword string `envconfig:"ROOMSTAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"ROOMSTAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"ROOMSTAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ROOMSTAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ROOMSTAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ROOMSTAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ROOMSTAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ROOMSTAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ROOMSTAY_REDIS_ADDR"`
	Password     string        `envconfig:"ROOMSTAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"ROOMSTAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ROOMSTAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ROOMSTAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ROOMSTAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ROOMSTAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ROOMSTAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"ROOMSTAY_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"ROOMSTAY_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"ROOMSTAY_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"ROOMSTAY_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

// VNPayConfig carries the gateway merchant credentials and endpoints.
type VNPayConfig struct {
	TmnCode     string        `envconfig:"ROOMSTAY_VNPAY_TMN_CODE" required:"true"`
	HashSecret  string        `envconfig:"ROOMSTAY_VNPAY_HASH_SECRET" required:"true"`
	PaymentURL  string        `envconfig:"ROOMSTAY_VNPAY_PAYMENT_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	RefundURL   string        `envconfig:"ROOMSTAY_VNPAY_REFUND_URL" default:"https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"`
	ReturnURL   string        `envconfig:"ROOMSTAY_VNPAY_RETURN_URL" required:"true"`
	HTTPTimeout time.Duration `envconfig:"ROOMSTAY_VNPAY_HTTP_TIMEOUT" default:"15s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ROOMSTAY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ROOMSTAY_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
