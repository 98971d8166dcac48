package config

const (
	defalutLogFile            = "celestial.log"
	defaultLogLevel           = "info"
	defaultLogFileMaxSize     = 20
	defaultLogFileMaxBackups  = 3
	defaultLogFileMaxAge      = 28
	defaultLogCompress        = false
	defaultPort               = 8080
	defaultHost               = "0.0.0.0"
	defaultData               = "/var/opt/celestial"
	defaultDSN                = defaultData + "/celestial.db"
	defaultKVBackend          = "sqlite"
	defaultRedisAddr          = "127.0.0.1:6379"
	defaultRedisDB            = 0
	defaultStaticDir          = "public"
	defaultRenderWidth        = 800
	defaultRenderWorkers      = 2
	defaultRenderTimeoutSec   = 60
	defaultPdftoppmPath       = "pdftoppm"
	defaultCacheWriters       = 2
	defaultDocumentCacheSize  = 8
	defaultAutosaveDelayMS    = 600
	defaultLongPressMS        = 800
	defaultMaxUploadSize      = 100
	defaultRemoteEnabled      = false
	defaultRemoteRootFolder   = "CassUniverse"
	defaultCacheSweepSchedule = "@every 1h"
)

// Why use mapstructure instead of json, if use json as field tags, it can't recgnize the field, since the viper use mapstructure.
// see: https://pkg.go.dev/github.com/mitchellh/mapstructure#hdr-Field_Tags
type Options struct {
	// LogFile is the file to write logs to
	LogFile string `mapstructure:"log_file"`
	// LogLevel is the level of logging to show
	LogLevel string `mapstructure:"log_level"`
	// LogFilemaxSize is the maximum size of the log file before it is rotated
	LogFileMaxSize int `mapstructure:"log_file_max_size"`
	// LogFileMaxBackups is the maximum number of log files to keep
	LogFileMaxBackups int `mapstructure:"log_file_max_backups"`
	// LogFileMaxAge is the maximum number of days to keep a log file
	LogFileMaxAge int `mapstructure:"log_file_max_age"`
	// LogCompress is whether or not to compress the log files
	LogCompress bool `mapstructure:"log_compress"`
	// port is the port to listen on
	Port int `mapstructure:"port"`
	// host is the host to listen on
	Host string `mapstructure:"host"`
	// data is the directory to store data
	Data string `mapstructure:"data"`
	// DSN is the sqlite file backing the key-value store
	DSN string `mapstructure:"dsn_uri"`
	// KVBackend selects the key-value store: sqlite or redis
	KVBackend     string `mapstructure:"kv_backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	// StaticDir holds the pre-packaged books (books/manifest.json, books/{id}/page-{n}.svg|png)
	StaticDir string `mapstructure:"static_dir"`
	// RenderWidth is the default width in pixels of a rendered PDF page
	RenderWidth      int    `mapstructure:"render_width"`
	RenderWorkers    int    `mapstructure:"render_workers"`
	RenderTimeoutSec int    `mapstructure:"render_timeout_sec"`
	PdftoppmPath     string `mapstructure:"pdftoppm_path"`
	// CacheWriters is the number of goroutines persisting rendered pages
	CacheWriters      int `mapstructure:"cache_writers"`
	DocumentCacheSize int `mapstructure:"document_cache_size"`
	AutosaveDelayMS   int `mapstructure:"autosave_delay_ms"`
	LongPressMS       int `mapstructure:"long_press_ms"`
	// MaxUploadSize is the maximum size of the upload, in MiB
	MaxUploadSize int64 `mapstructure:"max_upload_size"`
	// AdminPasswordHash is a bcrypt hash, see `celestial hash-password`
	AdminPasswordHash string `mapstructure:"admin_password_hash"`
	JWTSecret         string `mapstructure:"jwt_secret"`
	// For the remote page storage
	RemoteEnabled      bool   `mapstructure:"remote_enabled"`
	GoogleClientID     string `mapstructure:"google_client_id"`
	GoogleClientSecret string `mapstructure:"google_client_secret"`
	RemoteRootFolder   string `mapstructure:"remote_root_folder"`
	// CacheSweepSchedule is a cron spec for removing cache entries of deleted books
	CacheSweepSchedule string `mapstructure:"cache_sweep_schedule"`
}

func GetDefaultOptions() *Options {
	Opts = &Options{
		LogFile:            defalutLogFile,
		LogLevel:           defaultLogLevel,
		LogFileMaxSize:     defaultLogFileMaxSize,
		LogFileMaxBackups:  defaultLogFileMaxBackups,
		LogFileMaxAge:      defaultLogFileMaxAge,
		LogCompress:        defaultLogCompress,
		Port:               defaultPort,
		Host:               defaultHost,
		Data:               defaultData,
		DSN:                defaultDSN,
		KVBackend:          defaultKVBackend,
		RedisAddr:          defaultRedisAddr,
		RedisDB:            defaultRedisDB,
		StaticDir:          defaultStaticDir,
		RenderWidth:        defaultRenderWidth,
		RenderWorkers:      defaultRenderWorkers,
		RenderTimeoutSec:   defaultRenderTimeoutSec,
		PdftoppmPath:       defaultPdftoppmPath,
		CacheWriters:       defaultCacheWriters,
		DocumentCacheSize:  defaultDocumentCacheSize,
		AutosaveDelayMS:    defaultAutosaveDelayMS,
		LongPressMS:        defaultLongPressMS,
		MaxUploadSize:      defaultMaxUploadSize,
		RemoteEnabled:      defaultRemoteEnabled,
		RemoteRootFolder:   defaultRemoteRootFolder,
		CacheSweepSchedule: defaultCacheSweepSchedule,
	}
	return Opts
}
