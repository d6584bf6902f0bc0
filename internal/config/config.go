package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the storefront and its collaborators.
type Config struct {
	ListenAddr    string
	PublicBaseURL string
	FrontendURL   string
	LogLevel      string
	WriteTimeout  time.Duration

	DBDriver    string
	DatabaseDSN string

	AdminUsername     string
	AdminPassword     string
	AdminPasswordHash string

	PaymentProvider string
	PaymentTitle    string
	XunhupayAppID   string
	XunhupaySecret  string
	XunhupayAPIURL  string
	XunhupayWapName string
	EPayGateway     string
	EPayPartnerID   string
	EPayKey         string
	EPayType        string

	PriceLadder string
	CodeTTLDays int

	GenerationVendor  string
	VendorAPIKey      string
	VendorBaseURL     string
	VendorModel       string
	GenerationPrompt  string
	AllowCustomPrompt bool
	MaxImageBytes     int64
	MaxImages         int

	StorageProvider  string
	COSEndpoint      string
	COSRegion        string
	COSSecretID      string
	COSSecretKey     string
	COSBucket        string
	COSPublicBaseURL string
	COSPrefix        string
	ImgurUploadURL   string
	ImgurAPIKey      string

	TelegramBotToken    string
	TelegramAlertChatID int64

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RateLimitPerMinute int
}

const defaultGenerationPrompt = "Turn this photo into a 1/7 scale commercialized figurine of the character, " +
	"placed on a round transparent acrylic base on a computer desk, with the modeling process shown on the monitor " +
	"and a toy packaging box printed with the original artwork next to it. Realistic style, indoor lighting."

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		FrontendURL:   strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		WriteTimeout:  getDuration("HTTP_WRITE_TIMEOUT", 7*time.Minute),

		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),

		PaymentProvider: strings.ToLower(getEnv("PAYMENT_PROVIDER", "xunhupay")),
		PaymentTitle:    getEnv("PAYMENT_TITLE", "AI手办兑换码"),
		XunhupayAppID:   os.Getenv("XUNHUPAY_APPID"),
		XunhupaySecret:  os.Getenv("XUNHUPAY_SECRET"),
		XunhupayAPIURL:  getEnv("XUNHUPAY_API_URL", "https://api.xunhupay.com/payment/do.html"),
		XunhupayWapName: getEnv("XUNHUPAY_WAP_NAME", "AI手办生成"),
		EPayGateway:     os.Getenv("EPAY_GATEWAY"),
		EPayPartnerID:   os.Getenv("EPAY_PARTNER_ID"),
		EPayKey:         os.Getenv("EPAY_KEY"),
		EPayType:        getEnv("EPAY_TYPE", "wxpay"),

		PriceLadder: os.Getenv("PRICE_LADDER"),
		CodeTTLDays: getInt("CODE_TTL_DAYS", 0),

		GenerationVendor:  strings.ToLower(getEnv("GENERATION_VENDOR", "chat")),
		VendorAPIKey:      os.Getenv("VENDOR_API_KEY"),
		VendorBaseURL:     os.Getenv("VENDOR_BASE_URL"),
		VendorModel:       os.Getenv("VENDOR_MODEL"),
		GenerationPrompt:  getEnv("GENERATION_PROMPT", defaultGenerationPrompt),
		AllowCustomPrompt: getBool("ALLOW_CUSTOM_PROMPT", false),
		MaxImageBytes:     getInt64("MAX_IMAGE_BYTES", 5<<20),
		MaxImages:         getInt("MAX_IMAGES", 4),

		StorageProvider:  strings.ToLower(getEnv("STORAGE_PROVIDER", "cos")),
		COSEndpoint:      os.Getenv("COS_ENDPOINT"),
		COSRegion:        os.Getenv("COS_REGION"),
		COSSecretID:      os.Getenv("COS_SECRET_ID"),
		COSSecretKey:     os.Getenv("COS_SECRET_KEY"),
		COSBucket:        os.Getenv("COS_BUCKET"),
		COSPublicBaseURL: os.Getenv("COS_PUBLIC_BASE_URL"),
		COSPrefix:        getEnv("COS_PREFIX", "images"),
		ImgurUploadURL:   os.Getenv("IMGUR_UPLOAD_URL"),
		ImgurAPIKey:      os.Getenv("IMGUR_API_KEY"),

		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAlertChatID: getInt64("TELEGRAM_ALERT_CHAT_ID", 0),

		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getInt("REDIS_DB", 0),
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if missing := cfg.missing(); len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	return cfg, nil
}

func (c Config) missing() []string {
	var missing []string
	require := func(value, name string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	require(c.DatabaseDSN, "DATABASE_DSN")
	if c.AdminPassword == "" && c.AdminPasswordHash == "" {
		missing = append(missing, "ADMIN_PASSWORD")
	}

	switch c.PaymentProvider {
	case "xunhupay":
		require(c.XunhupayAppID, "XUNHUPAY_APPID")
		require(c.XunhupaySecret, "XUNHUPAY_SECRET")
	case "epay":
		require(c.EPayGateway, "EPAY_GATEWAY")
		require(c.EPayPartnerID, "EPAY_PARTNER_ID")
		require(c.EPayKey, "EPAY_KEY")
	}

	require(c.VendorAPIKey, "VENDOR_API_KEY")
	if c.GenerationVendor == "gemini" || c.GenerationVendor == "chat" {
		require(c.VendorBaseURL, "VENDOR_BASE_URL")
	}

	switch c.StorageProvider {
	case "cos":
		require(c.COSRegion, "COS_REGION")
		require(c.COSSecretID, "COS_SECRET_ID")
		require(c.COSSecretKey, "COS_SECRET_KEY")
		require(c.COSBucket, "COS_BUCKET")
	case "imgur":
		require(c.ImgurUploadURL, "IMGUR_UPLOAD_URL")
	}

	if c.TelegramBotToken != "" && c.TelegramAlertChatID == 0 {
		missing = append(missing, "TELEGRAM_ALERT_CHAT_ID")
	}
	return missing
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// loadEnvFile applies the first env file found. Running without one is fine;
// the process environment is used as is.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
