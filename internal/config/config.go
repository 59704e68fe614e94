package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string   `env:"TOKEN,required"`
		OwnerID          int64    `env:"OWNER_ID"`
		EnabledHandlers  []string `env:"HANDLERS,default=admin,membership,moderator"`
		LogLevel         int      `env:"LOG_LEVEL,default=4"`
		DotPath          string   `env:"DOT_PATH,default=~/.linkguard"`
		MetricsAddr      string   `env:"METRICS_ADDR,default=:2112"`
		Moderation       Moderation
		Reminders        Reminders
		Broadcast        Broadcast
	}

	Moderation struct {
		SpamThreshold  int           `env:"SPAM_THRESHOLD,default=3"`
		MuteDuration   time.Duration `env:"MUTE_DURATION,default=10m"`
		ResetWindow    time.Duration `env:"SPAM_RESET_WINDOW,default=1h"`
		VerifyInterval time.Duration `env:"VERIFY_INTERVAL,default=5m"`
		CounterTTL     time.Duration `env:"COUNTER_TTL,default=24h"`
		StoreTimeout   time.Duration `env:"STORE_TIMEOUT,default=500ms"`
		WarnTTL        time.Duration `env:"WARN_TTL,default=3h"`
	}

	Reminders struct {
		Count         int           `env:"REMINDER_COUNT,default=5"`
		Interval      time.Duration `env:"REMINDER_INTERVAL,default=5m"`
		LeaveGrace    time.Duration `env:"LEAVE_GRACE,default=10s"`
		DemotionGrace time.Duration `env:"DEMOTION_GRACE,default=1m"`
		WelcomeTTL    time.Duration `env:"WELCOME_TTL,default=5m"`
	}

	Broadcast struct {
		PageSize      int `env:"BROADCAST_PAGE_SIZE,default=500"`
		BatchSize     int `env:"BROADCAST_BATCH_SIZE,default=10"`
		ProgressEvery int `env:"BROADCAST_PROGRESS_EVERY,default=25"`
		RatePerSec    int `env:"BROADCAST_RATE,default=12"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("LG_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			globalErr = fmt.Errorf("get user home directory: %w", err)
			return
		}
		cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
