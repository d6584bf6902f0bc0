package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/digkill/figureshop/internal/config"
	"github.com/digkill/figureshop/internal/notify"
	"github.com/digkill/figureshop/internal/payment"
	"github.com/digkill/figureshop/internal/ratelimit"
	"github.com/digkill/figureshop/internal/storage"
)

func newGateway(cfg config.Config) (payment.Gateway, error) {
	switch cfg.PaymentProvider {
	case "xunhupay":
		return payment.NewXunhupay(payment.XunhupayConfig{
			AppID:   cfg.XunhupayAppID,
			Secret:  cfg.XunhupaySecret,
			APIURL:  cfg.XunhupayAPIURL,
			WapURL:  cfg.PublicBaseURL,
			WapName: cfg.XunhupayWapName,
		}, nil), nil
	case "epay":
		return payment.NewEPay(payment.EPayConfig{
			Gateway:   cfg.EPayGateway,
			PartnerID: cfg.EPayPartnerID,
			Key:       cfg.EPayKey,
			Type:      cfg.EPayType,
		})
	default:
		return nil, fmt.Errorf("unsupported payment provider: %s", cfg.PaymentProvider)
	}
}

func newStore(cfg config.Config) (storage.Store, error) {
	switch cfg.StorageProvider {
	case "cos":
		return storage.NewCOSStore(storage.COSConfig{
			Endpoint:      cfg.COSEndpoint,
			Region:        cfg.COSRegion,
			SecretID:      cfg.COSSecretID,
			SecretKey:     cfg.COSSecretKey,
			Bucket:        cfg.COSBucket,
			PublicBaseURL: cfg.COSPublicBaseURL,
			Prefix:        cfg.COSPrefix,
		})
	case "imgur":
		return storage.NewImgurStore(cfg.ImgurUploadURL, cfg.ImgurAPIKey, nil), nil
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.StorageProvider)
	}
}

func newAlerter(cfg config.Config, log *slog.Logger) (notify.Alerter, error) {
	if cfg.TelegramBotToken == "" {
		return notify.Nop{}, nil
	}
	return notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramAlertChatID, log)
}

// newLimiter returns a pass-through limiter when Redis is not configured.
func newLimiter(cfg config.Config, log *slog.Logger) (*ratelimit.Limiter, func()) {
	if cfg.RedisAddr == "" {
		return ratelimit.New(nil, 0, 0, log), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return ratelimit.New(rdb, cfg.RateLimitPerMinute, time.Minute, log), func() { _ = rdb.Close() }
}
