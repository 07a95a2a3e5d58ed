package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Game     GameConfig     `mapstructure:"game"`
	Vehicle  VehicleConfig  `mapstructure:"vehicle"`
	Shops    []ShopConfig   `mapstructure:"shops"`
	Weather  WeatherConfig  `mapstructure:"weather"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql | postgres
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	PostgresDSN  string        `mapstructure:"postgres_dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnMaxLife  time.Duration `mapstructure:"conn_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket/SSE origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AdminIPs       []string `mapstructure:"admin_ips"`
}

// GameConfig holds character defaults.
type GameConfig struct {
	MaxCharacters int       `mapstructure:"max_characters"`
	StartMoney    int64     `mapstructure:"start_money"`
	StartPosition []float64 `mapstructure:"start_position"` // [x, y, z]
	StartHeading  float64   `mapstructure:"start_heading"`
}

// VehicleConfig holds the vehicle rules. Distances are in world units.
type VehicleConfig struct {
	ParkPrice         int64   `mapstructure:"park_price"`
	LockDistance      float64 `mapstructure:"lock_distance"`
	ParkDistance      float64 `mapstructure:"park_distance"`
	ShopEntryDistance float64 `mapstructure:"shop_entry_distance"`
	PlatePrefix       string  `mapstructure:"plate_prefix"`
	PlateLength       int     `mapstructure:"plate_length"`
}

// ShopConfig describes one vehicle shop. Vectors are [x, y, z].
type ShopConfig struct {
	ID          int              `mapstructure:"id"`
	Name        string           `mapstructure:"name"`
	Entrance    []float64        `mapstructure:"entrance"`
	Exit        []float64        `mapstructure:"exit"`
	ExitRot     []float64        `mapstructure:"exit_rot"`
	Camera      []float64        `mapstructure:"camera"`
	CameraRot   []float64        `mapstructure:"camera_rot"`
	Character   []float64        `mapstructure:"character"`
	Vehicle     []float64        `mapstructure:"vehicle"`
	VehicleRot  []float64        `mapstructure:"vehicle_rot"`
	Catalog     map[string]int64 `mapstructure:"catalog"` // model name → price; empty sells anything for free
}

type WeatherConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
}

// DefaultVehicle returns the stock vehicle rules.
func DefaultVehicle() VehicleConfig {
	return VehicleConfig{
		ParkPrice:         10000,
		LockDistance:      2.0,
		ParkDistance:      3.0,
		ShopEntryDistance: 2.0,
		PlatePrefix:       "LS",
		PlateLength:       6,
	}
}

// DefaultGame returns the stock character defaults.
func DefaultGame() GameConfig {
	return GameConfig{
		MaxCharacters: 3,
		StartMoney:    20000,
		StartPosition: []float64{-1037.8, -2737.7, 20.2},
	}
}

// DefaultShops returns the built-in shop used when none is configured.
func DefaultShops() []ShopConfig {
	return []ShopConfig{{
		ID:         0,
		Name:       "Premium Deluxe Motorsport",
		Entrance:   []float64{-177.2077, -1158.487, 23.8137},
		Exit:       []float64{-177.0255, -1153.632, 23.11556},
		ExitRot:    []float64{0, 0, -2.621614},
		Camera:     []float64{205.331, -1004.533, -98.0},
		CameraRot:  []float64{-18, 0, 50.22344},
		Character:  []float64{207.1324, -1007.67, -98.99998},
		Vehicle:    []float64{201.9024, -1001.854, -99.00001},
		VehicleRot: []float64{0, 0, 176.9532},
	}}
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	def := DefaultVehicle()
	game := DefaultGame()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/roleplay.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("game.max_characters", game.MaxCharacters)
	v.SetDefault("game.start_money", game.StartMoney)
	v.SetDefault("game.start_position", game.StartPosition)
	v.SetDefault("game.start_heading", game.StartHeading)
	v.SetDefault("vehicle.park_price", def.ParkPrice)
	v.SetDefault("vehicle.lock_distance", def.LockDistance)
	v.SetDefault("vehicle.park_distance", def.ParkDistance)
	v.SetDefault("vehicle.shop_entry_distance", def.ShopEntryDistance)
	v.SetDefault("vehicle.plate_prefix", def.PlatePrefix)
	v.SetDefault("vehicle.plate_length", def.PlateLength)
	v.SetDefault("weather.enabled", true)
	v.SetDefault("weather.min_interval", "30m")
	v.SetDefault("weather.max_interval", "3h")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Shops) == 0 {
		cfg.Shops = DefaultShops()
	}
	return cfg, nil
}
