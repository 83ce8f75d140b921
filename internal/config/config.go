package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/OCAP2/markersync/pkg/core"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// ConfigName is the file name (without extension) looked up in the config directory
const ConfigName = "markersync"

// MarkerConfig is the immutable marker configuration captured once at start
type MarkerConfig struct {
	Warps          core.Category
	Homes          core.Category
	HomeScope      core.OwnerScope
	UpdateInterval time.Duration
}

// MemoryConfig holds in-memory storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// WebSocketConfig holds remote renderer settings
type WebSocketConfig struct {
	ServerURL string // HTTP base URL, used for the healthcheck
	URL       string
	Secret    string
	Timeout   time.Duration
}

// StorageConfig selects and configures the marker repository backend
type StorageConfig struct {
	Type      string
	Memory    MemoryConfig
	SQLite    SQLiteConfig
	WebSocket WebSocketConfig
}

// EssentialsConfig locates the Essentials data directory
type EssentialsConfig struct {
	DataDir string
	Worlds  map[string]uuid.UUID // world name -> world UUID
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// InfluxConfig holds the cycle metrics sink settings
type InfluxConfig struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
}

type surfaceEntry struct {
	World string `mapstructure:"world"`
	Name  string `mapstructure:"name"`
}

// Load reads configuration from the YAML file in configDir and sets default values.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(ConfigName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("yaml")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// SetDefaults registers the default value of every recognized key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("statusFile", "")
	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("warps.enabled", true)
	viper.SetDefault("warps.label", core.DefaultWarpLabel)
	viper.SetDefault("warps.icon", "")
	viper.SetDefault("warps.icon-anchor.x", core.DefaultWarpAnchor.X)
	viper.SetDefault("warps.icon-anchor.y", core.DefaultWarpAnchor.Y)

	viper.SetDefault("homes.enabled", true)
	viper.SetDefault("homes.label", core.DefaultHomeLabel)
	viper.SetDefault("homes.icon", "")
	viper.SetDefault("homes.icon-anchor.x", core.DefaultHomeAnchor.X)
	viper.SetDefault("homes.icon-anchor.y", core.DefaultHomeAnchor.Y)
	viper.SetDefault("homes.online-players-only", true)

	viper.SetDefault("update-interval", 300)

	viper.SetDefault("essentials.dataDir", "./plugins/Essentials")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "")
	viper.SetDefault("storage.memory.compressOutput", false)
	viper.SetDefault("storage.sqlite.path", "./markersync.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "markersync")

	viper.SetDefault("api.serverUrl", "http://localhost:8100")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.timeout", "10s")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "markersync")
	viper.SetDefault("influx.bucket", "markersync_performance")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "markersync")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetMarkerConfig builds the marker configuration. Out-of-range or empty values
// are replaced by their defaults rather than rejected.
func GetMarkerConfig() MarkerConfig {
	warps := core.WarpCategory()
	warps.Enabled = viper.GetBool("warps.enabled")
	warps.LabelFormat = labelOrDefault(viper.GetString("warps.label"), core.DefaultWarpLabel)
	warps.Icon = viper.GetString("warps.icon")
	warps.IconAnchor = anchorOrDefault("warps", core.DefaultWarpAnchor)

	homes := core.HomeCategory()
	homes.Enabled = viper.GetBool("homes.enabled")
	homes.LabelFormat = labelOrDefault(viper.GetString("homes.label"), core.DefaultHomeLabel)
	homes.Icon = viper.GetString("homes.icon")
	homes.IconAnchor = anchorOrDefault("homes", core.DefaultHomeAnchor)

	scope := core.ScopeActiveOnly
	if !viper.GetBool("homes.online-players-only") {
		scope = core.ScopeAll
	}

	return MarkerConfig{
		Warps:          warps,
		Homes:          homes,
		HomeScope:      scope,
		UpdateInterval: time.Duration(max(1, viper.GetInt64("update-interval"))) * time.Second,
	}
}

func labelOrDefault(format, def string) string {
	if strings.TrimSpace(format) == "" {
		return def
	}
	return format
}

func anchorOrDefault(prefix string, def core.Anchor) core.Anchor {
	a := core.Anchor{
		X: viper.GetInt(prefix + ".icon-anchor.x"),
		Y: viper.GetInt(prefix + ".icon-anchor.y"),
	}
	if a.X < 0 || a.Y < 0 {
		return def
	}
	return a
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	timeout := viper.GetDuration("api.timeout")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return StorageConfig{
		Type: strings.ToLower(viper.GetString("storage.type")),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path: viper.GetString("storage.sqlite.path"),
		},
		WebSocket: WebSocketConfig{
			ServerURL: strings.TrimRight(viper.GetString("api.serverUrl"), "/"),
			URL:       httpToWS(viper.GetString("api.serverUrl")) + "/api/markers",
			Secret:    viper.GetString("api.apiKey"),
			Timeout:   timeout,
		},
	}
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}

// GetEssentialsConfig returns the Essentials data provider configuration.
// World names that do not map to a valid UUID are dropped.
func GetEssentialsConfig() EssentialsConfig {
	worlds := make(map[string]uuid.UUID)
	for name, raw := range viper.GetStringMapString("essentials.worlds") {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		worlds[strings.ToLower(name)] = id
	}
	return EssentialsConfig{
		DataDir: viper.GetString("essentials.dataDir"),
		Worlds:  worlds,
	}
}

// GetSurfaces returns the configured surface catalog. Entries without a valid
// world UUID or name are dropped.
func GetSurfaces() []core.Surface {
	var entries []surfaceEntry
	if err := viper.UnmarshalKey("surfaces", &entries); err != nil {
		return nil
	}
	surfaces := make([]core.Surface, 0, len(entries))
	for _, e := range entries {
		id, err := uuid.Parse(e.World)
		if err != nil || strings.TrimSpace(e.Name) == "" {
			continue
		}
		surfaces = append(surfaces, core.Surface{World: id, Name: strings.TrimSpace(e.Name)})
	}
	return surfaces
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB metrics sink configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled: viper.GetBool("influx.enabled"),
		URL: fmt.Sprintf(
			"%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port"),
		),
		Token:  viper.GetString("influx.token"),
		Org:    viper.GetString("influx.org"),
		Bucket: viper.GetString("influx.bucket"),
	}
}
