package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Engine names accepted in SYNTH_ENGINE.
const (
	EngineAuto       = "auto"
	EngineFluidsynth = "fluidsynth"
	EngineTimidity   = "timidity"
)

// Config carries everything the process reads from the environment.
// It is built once in main and passed by reference; nothing reads
// os.Getenv after startup.
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string

	PublicBaseURL string
	TempDir       string
	UploadDir     string

	// Synthesis
	SoundFontPath string
	SynthEngine   string // auto | fluidsynth | timidity
	SF2MaxBytes   int64  // above this, auto prefers timidity
	FluidsynthBin string
	TimidityBin   string
	FFmpegBin     string
	FFprobeBin    string
	SampleRate    int

	// Section extraction / normalization backends
	ExtractorBackend  string // native | script
	NormalizerBackend string // native | script
	PythonBin         string
	ExtractScript     string
	NormalizeScript   string

	// Object storage
	StorageBackend string // "", "r2", "minio"
	S3Bucket       string
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURL   string

	CORSOrigins []string
	LogLevel    string
}

// Load reads the environment once and validates the values the server
// cannot run without.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Port:          getenv("PORT", "8080"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		TempDir:       getenv("TEMP_DIR", "./temp"),
		UploadDir:     getenv("UPLOAD_DIR", "./uploads"),

		SoundFontPath: getenv("SF2_PATH", "./soundfonts/PSR_MANAGER.sf2"),
		SynthEngine:   getenv("SYNTH_ENGINE", EngineAuto),
		FluidsynthBin: getenv("FLUIDSYNTH_BIN", "fluidsynth"),
		TimidityBin:   getenv("TIMIDITY_BIN", "timidity"),
		FFmpegBin:     getenv("FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:    getenv("FFPROBE_BIN", "ffprobe"),
		SampleRate:    44100,

		ExtractorBackend:  getenv("EXTRACTOR", "native"),
		NormalizerBackend: getenv("NORMALIZER", "native"),
		PythonBin:         getenv("PYTHON_BIN", "python3"),
		ExtractScript:     getenv("EXTRACT_SCRIPT", "./scripts/extract_sections.py"),
		NormalizeScript:   getenv("NORMALIZE_SCRIPT", "./scripts/normalize_section.py"),

		StorageBackend: os.Getenv("STORAGE_BACKEND"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3Region:       getenv("S3_REGION", "auto"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretKey:    os.Getenv("S3_SECRET_ACCESS_KEY"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		OAuthRedirectURL:   os.Getenv("OAUTH_REDIRECT_URL"),

		LogLevel: getenv("LOG_LEVEL", "info"),
	}

	origins := getenv("CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173,http://localhost:3000")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, strings.TrimRight(o, "/"))
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.SynthEngine {
	case EngineAuto, EngineFluidsynth, EngineTimidity:
	default:
		return nil, fmt.Errorf("SYNTH_ENGINE must be auto, fluidsynth or timidity (got %q)", cfg.SynthEngine)
	}

	cfg.SF2MaxBytes = 800 << 20
	if v := os.Getenv("SF2_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("SF2_MAX_BYTES must be a positive integer (got %q)", v)
		}
		cfg.SF2MaxBytes = n
	}

	if cfg.StorageBackend != "" && cfg.StorageBackend != "r2" && cfg.StorageBackend != "minio" {
		return nil, fmt.Errorf("STORAGE_BACKEND must be empty, r2 or minio (got %q)", cfg.StorageBackend)
	}
	if cfg.StorageBackend != "" && (cfg.S3Bucket == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		return nil, fmt.Errorf("STORAGE_BACKEND=%s needs S3_BUCKET, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY", cfg.StorageBackend)
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
