package config

import (
	"errors"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// QualityBand maps a minimum full-text length to the score awarded at that length.
type QualityBand struct {
	MinChars int     `mapstructure:"minChars" json:"minChars"`
	Score    float64 `mapstructure:"score" json:"score"`
}

// QualityConfig holds the pre-generation quality gate thresholds.
type QualityConfig struct {
	Bands            []QualityBand `mapstructure:"bands" json:"bands"`
	MinEligibleScore float64       `mapstructure:"minEligibleScore" json:"minEligibleScore"`
}

func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		Bands: []QualityBand{
			{MinChars: 500, Score: 0.3},
			{MinChars: 1000, Score: 0.6},
			{MinChars: 2000, Score: 0.8},
		},
		MinEligibleScore: 0.3,
	}
}

type QualityConfigHolder struct {
	current atomic.Value // holds QualityConfig
}

// NewStaticQualityConfigHolder returns a holder that never reloads.
func NewStaticQualityConfigHolder(cfg QualityConfig) *QualityConfigHolder {
	holder := &QualityConfigHolder{}
	holder.current.Store(normalizeQualityConfig(cfg))
	return holder
}

func NewQualityConfigHolder(log *zap.Logger) (*QualityConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.quality")

	v := viper.New()

	v.SetConfigName("quality")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/newsdesk/config")
	v.AddConfigPath("/etc/newsdesk")
	v.AddConfigPath(".")

	v.SetEnvPrefix("NEWSDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultQualityConfig()
	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
		v.SetDefault("quality.bands", defaults.Bands)
		v.SetDefault("quality.minEligibleScore", defaults.MinEligibleScore)
	}

	cfg := defaults
	if fileLoaded {
		if err := v.UnmarshalKey("quality", &cfg); err != nil {
			return nil, err
		}
	}
	if err := validateQualityConfig(cfg); err != nil {
		return nil, err
	}

	holder := &QualityConfigHolder{}
	holder.current.Store(normalizeQualityConfig(cfg))

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated QualityConfig
			if err := v.UnmarshalKey("quality", &updated); err != nil {
				log.Warn("quality config reload failed", zap.Error(err))
				return
			}
			if err := validateQualityConfig(updated); err != nil {
				log.Warn("invalid quality config ignored", zap.Error(err))
				return
			}
			holder.current.Store(normalizeQualityConfig(updated))
			log.Info("quality config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *QualityConfigHolder) Get() QualityConfig {
	if h == nil {
		return DefaultQualityConfig()
	}
	cfg, ok := h.current.Load().(QualityConfig)
	if !ok {
		return DefaultQualityConfig()
	}
	return cfg
}

func validateQualityConfig(cfg QualityConfig) error {
	if len(cfg.Bands) == 0 {
		return errors.New("quality.bands cannot be empty")
	}
	for _, band := range cfg.Bands {
		if band.MinChars <= 0 {
			return errors.New("quality.bands minChars must be positive")
		}
		if band.Score <= 0 || band.Score > 1 {
			return errors.New("quality.bands score must be within (0, 1]")
		}
	}
	if cfg.MinEligibleScore < 0 || cfg.MinEligibleScore > 1 {
		return errors.New("quality.minEligibleScore must be within [0, 1]")
	}
	return nil
}

func normalizeQualityConfig(cfg QualityConfig) QualityConfig {
	bands := append([]QualityBand(nil), cfg.Bands...)
	sort.Slice(bands, func(i, j int) bool { return bands[i].MinChars < bands[j].MinChars })
	cfg.Bands = bands
	return cfg
}
