package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/dem"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/domain"
)

const (
	configPathEnv      = "RTC_OTF_CONFIG"
	s3EndpointEnv      = "RTC_OTF_S3_ENDPOINT"
	s3BucketEnv        = "RTC_OTF_S3_BUCKET"
	historyDSNEnv      = "RTC_OTF_HISTORY_DSN"
	skipPublishedEnv   = "RTC_OTF_SKIP_PUBLISHED"
	sceneTimeoutEnv    = "RTC_OTF_SCENE_TIMEOUT"
	pushURLEnv         = "RTC_OTF_METRICS_PUSH_URL"
	demResolutionEnv   = "RTC_OTF_DEM_RESOLUTION"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	logLevelEnv        = "LOG_LEVEL"
	tracingEnabledEnv  = "RTC_OTF_TRACING"
	otlpEndpointEnv    = "OTEL_EXPORTER_OTLP_ENDPOINT"
	defaultDEMProvider = "cop30"
	defaultSoftware    = "opera-rtc"
)

// DEM provider names.
const (
	ProviderCop30  = "cop30"
	ProviderREMA   = "rema"
	ProviderStatic = "static"
)

// Config is the run configuration. Top-level keys keep the names used by existing
// on-the-fly processing configs.
type Config struct {
	Scenes                []string `yaml:"scenes"`
	SceneFolder           string   `yaml:"scene_folder"`
	UnzipScene            bool     `yaml:"unzip_scene"`
	PreciseOrbitFolder    string   `yaml:"precise_orbit_folder"`
	RestitutedOrbitFolder string   `yaml:"restituted_orbit_folder"`
	DEMFolder             string   `yaml:"dem_folder"`
	DEMType               string   `yaml:"dem_type"`
	DEMPath               string   `yaml:"dem_path"`
	OverwriteDEM          bool     `yaml:"overwrite_dem"`
	ScratchFolder         string   `yaml:"OPERA_scratch_folder"`
	OutputFolder          string   `yaml:"OPERA_output_folder"`
	ConfigFolder          string   `yaml:"OPERA_config_folder"`
	RTCTemplate           string   `yaml:"OPERA_rtc_template"`
	XResolution           float64  `yaml:"OPERA_x_resolution"`
	YResolution           float64  `yaml:"OPERA_y_resolution"`
	TargetCRS             string   `yaml:"OPERA_crs"`
	SkipRTC               bool     `yaml:"skip_rtc"`
	PushToS3              bool     `yaml:"push_to_s3"`
	S3Bucket              string   `yaml:"s3_bucket"`
	S3BucketFolder        string   `yaml:"s3_bucket_folder"`
	ScenePrefix           string   `yaml:"scene_prefix"`
	Software              string   `yaml:"software"`
	UploadDEM             bool     `yaml:"upload_dem"`
	DeleteLocalFiles      bool     `yaml:"delete_local_files"`
	AWSCredentials        string   `yaml:"aws_credentials"`
	EarthdataCredentials  string   `yaml:"earthdata_credentials"`

	SceneTimeout  time.Duration       `yaml:"scene_timeout"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	DEM           DEMConfig           `yaml:"dem"`
	Geometry      GeometryConfig      `yaml:"geometry"`
	Processor     ProcessorConfig     `yaml:"processor"`
	Publish       PublishConfig       `yaml:"publish"`
	History       HistoryConfig       `yaml:"history"`
	Observability ObservabilityConfig `yaml:"observability"`
	Notifications NotificationConfig  `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// CatalogConfig points at the ASF search and orbit endpoints.
type CatalogConfig struct {
	SearchURL        string        `yaml:"search_url"`
	PreciseOrbitURL  string        `yaml:"precise_orbit_url"`
	RestitutedOrbURL string        `yaml:"restituted_orbit_url"`
	Timeout          time.Duration `yaml:"timeout"`
}

// DEMConfig selects and tunes the elevation provider.
type DEMConfig struct {
	Provider         string  `yaml:"provider"`
	Buffer           float64 `yaml:"buffer"`
	Resolution       int     `yaml:"resolution"`
	EllipsoidHeights bool    `yaml:"ellipsoid_heights"`
	AreaOrPoint      string  `yaml:"area_or_point"`
	TileURL          string  `yaml:"tile_url"`
	TileIndexURL     string  `yaml:"tile_index_url"`
	TileIndexPath    string  `yaml:"tile_index_path"`
	GeoidPath        string  `yaml:"geoid_path"`
}

// GeometryConfig holds the footprint correction parameters.
type GeometryConfig struct {
	MaxSceneWidth         float64 `yaml:"max_scene_width"`
	HighLatitudeThreshold float64 `yaml:"high_latitude_threshold"`
	LatBuffer             float64 `yaml:"lat_buffer"`
	SampleStep            float64 `yaml:"sample_step"`
}

// ProcessorConfig describes how the RTC container is launched and watched.
type ProcessorConfig struct {
	Image        string        `yaml:"image"`
	User         string        `yaml:"user"`
	DockerBinary string        `yaml:"docker_binary"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// PublishConfig governs the primary and fallback object-store clients.
type PublishConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	Region         string        `yaml:"region"`
	UseSSL         bool          `yaml:"use_ssl"`
	FallbackBinary string        `yaml:"fallback_binary"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// HistoryConfig describes the scene history database.
type HistoryConfig struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	SkipPublished bool   `yaml:"skip_published"`
}

// ObservabilityConfig groups metrics push and tracing settings.
type ObservabilityConfig struct {
	MetricsPushURL string        `yaml:"metrics_push_url"`
	MetricsJob     string        `yaml:"metrics_job"`
	Tracing        TracingConfig `yaml:"tracing"`
}

// TracingConfig mirrors observability.TracingConfig in YAML form.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Path resolves the config path from an explicit flag value or RTC_OTF_CONFIG.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(configPathEnv)
}

// Load reads YAML configuration, applies environment overrides and validates the
// result. Every failure wraps domain.ErrConfig.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return Config{}, fmt.Errorf("%w: no config file given (use -config or %s)", domain.ErrConfig, configPathEnv)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %v", domain.ErrConfig, path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", domain.ErrConfig, path, err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	c.Publish.Endpoint = String(s3EndpointEnv, c.Publish.Endpoint)
	c.S3Bucket = String(s3BucketEnv, c.S3Bucket)
	c.History.DSN = String(historyDSNEnv, c.History.DSN)
	c.Observability.MetricsPushURL = String(pushURLEnv, c.Observability.MetricsPushURL)
	c.Notifications.Telegram.BotToken = String(telegramTokenEnv, c.Notifications.Telegram.BotToken)
	c.Notifications.Telegram.ChatID = String(telegramChatIDEnv, c.Notifications.Telegram.ChatID)
	c.Logging.Level = String(logLevelEnv, c.Logging.Level)
	c.Observability.Tracing.Endpoint = String(otlpEndpointEnv, c.Observability.Tracing.Endpoint)

	var err error
	if c.History.SkipPublished, err = Bool(skipPublishedEnv, c.History.SkipPublished); err != nil {
		return err
	}
	if c.Observability.Tracing.Enabled, err = Bool(tracingEnabledEnv, c.Observability.Tracing.Enabled); err != nil {
		return err
	}
	if c.SceneTimeout, err = Duration(sceneTimeoutEnv, c.SceneTimeout); err != nil {
		return err
	}
	if c.DEM.Resolution, err = Int(demResolutionEnv, c.DEM.Resolution); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyDerived() {
	if c.DEMPath != "" {
		c.DEM.Provider = ProviderStatic
	}
	if c.DEM.Provider == "" {
		c.DEM.Provider = defaultDEMProvider
	}
	if c.DEMType == "" {
		c.DEMType = c.DEM.Provider
	}
	if c.DEM.TileIndexPath == "" && c.DEMFolder != "" {
		c.DEM.TileIndexPath = c.DEMFolder + "/" + c.DEM.Provider + "_index.geojson"
	}
}

// Validate checks the settings needed before any scene is attempted.
func (c Config) Validate() error {
	var problems []error
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if len(c.Scenes) == 0 {
		add("scenes: at least one scene is required")
	}
	for name, v := range map[string]string{
		"scene_folder":            c.SceneFolder,
		"precise_orbit_folder":    c.PreciseOrbitFolder,
		"restituted_orbit_folder": c.RestitutedOrbitFolder,
		"OPERA_scratch_folder":    c.ScratchFolder,
		"OPERA_output_folder":     c.OutputFolder,
		"OPERA_config_folder":     c.ConfigFolder,
		"OPERA_rtc_template":      c.RTCTemplate,
	} {
		if strings.TrimSpace(v) == "" {
			add("%s is required", name)
		}
	}
	if c.DEMPath == "" && strings.TrimSpace(c.DEMFolder) == "" {
		add("dem_folder is required unless dem_path is set")
	}

	switch c.DEM.Provider {
	case ProviderCop30, ProviderStatic:
	case ProviderREMA:
		if err := dem.ValidateResolution(c.DEM.Resolution); err != nil {
			add("dem.resolution: %v", err)
		}
		if c.DEM.TileIndexURL == "" {
			add("dem.tile_index_url is required for the %s provider", ProviderREMA)
		}
	default:
		add("dem.provider %q is not one of %s, %s, %s", c.DEM.Provider, ProviderCop30, ProviderREMA, ProviderStatic)
	}
	if c.DEM.Buffer < 0 {
		add("dem.buffer must not be negative")
	}
	if c.DEM.AreaOrPoint != "" && c.DEM.AreaOrPoint != dem.Area && c.DEM.AreaOrPoint != dem.Point {
		add("dem.area_or_point must be %s or %s", dem.Area, dem.Point)
	}

	if c.Processor.PollInterval <= 0 {
		add("processor.poll_interval must be positive")
	}
	if c.Processor.Timeout <= 0 {
		add("processor.timeout must be positive")
	}
	if c.SceneTimeout < 0 {
		add("scene_timeout must not be negative")
	}
	if c.PushToS3 && c.S3Bucket == "" {
		add("s3_bucket is required when push_to_s3 is set")
	}
	if c.Geometry.MaxSceneWidth < 0 || c.Geometry.MaxSceneWidth >= 180 {
		add("geometry.max_scene_width must be in [0, 180)")
	}
	switch c.History.Driver {
	case "", "sqlite", "postgres":
	default:
		add("history.driver %q is not sqlite or postgres", c.History.Driver)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrConfig, errors.Join(problems...))
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		UnzipScene:   true,
		Software:     defaultSoftware,
		SceneTimeout: 8 * time.Hour,
		Catalog: CatalogConfig{
			SearchURL:        "https://api.daac.asf.alaska.edu/services/search/param",
			PreciseOrbitURL:  "https://s1qc.asf.alaska.edu/aux_poeorb/",
			RestitutedOrbURL: "https://s1qc.asf.alaska.edu/aux_resorb/",
			Timeout:          45 * time.Second,
		},
		DEM: DEMConfig{
			Buffer:           dem.DefaultBuffer,
			Resolution:       32,
			EllipsoidHeights: true,
			AreaOrPoint:      dem.Point,
			TileURL:          "https://copernicus-dem-30m.s3.amazonaws.com",
		},
		Geometry: GeometryConfig{
			MaxSceneWidth:         20,
			HighLatitudeThreshold: 60,
			LatBuffer:             0.3,
			SampleStep:            0.1,
		},
		Processor: ProcessorConfig{
			Image:        "opera/rtc:final_1.0.4-atmosbugfix",
			User:         "rtc_user",
			DockerBinary: "docker",
			PollInterval: 5 * time.Second,
			Timeout:      6 * time.Hour,
		},
		Publish: PublishConfig{
			Endpoint:       "s3.amazonaws.com",
			UseSSL:         true,
			FallbackBinary: "aws",
			RetryDelay:     10 * time.Second,
		},
		History: HistoryConfig{
			Driver: "sqlite",
		},
		Observability: ObservabilityConfig{
			MetricsJob: "rtcotf",
			Tracing: TracingConfig{
				ServiceName: "rtcotf",
				Exporter:    "stdout",
				SampleRatio: 1,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "run.log",
		},
	}
}
