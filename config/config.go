package config

import (
	"database/sql"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Upload      Upload        `yaml:"upload"`
	Pipeline    Pipeline      `yaml:"pipeline"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type Upload struct {
	MaxSizeBytes        int64         `yaml:"max_size_bytes"`
	AllowedContentTypes []string      `yaml:"allowed_content_types"`
	ReorderBufferBytes  int64         `yaml:"reorder_buffer_bytes"`
	SessionTTL          time.Duration `yaml:"session_ttl"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	SpoolDir            string        `yaml:"spool_dir"`
}

type Pipeline struct {
	LeaseDuration      time.Duration `yaml:"lease_duration"`
	MaxAttempts        int           `yaml:"max_attempts"`
	LeaseSweepInterval time.Duration `yaml:"lease_sweep_interval"`
	PollInterval       time.Duration `yaml:"poll_interval"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("upload.max_size_bytes", 8<<30)
	viper.SetDefault("upload.allowed_content_types", []string{"video/mp4", "video/webm", "video/quicktime"})
	viper.SetDefault("upload.reorder_buffer_bytes", 64<<20)
	viper.SetDefault("upload.session_ttl", "24h")
	viper.SetDefault("upload.sweep_interval", "10m")
	viper.SetDefault("upload.spool_dir", filepath.Join("temp", "uploads"))
	viper.SetDefault("pipeline.lease_duration", "5m")
	viper.SetDefault("pipeline.max_attempts", 3)
	viper.SetDefault("pipeline.lease_sweep_interval", "30s")
	viper.SetDefault("pipeline.poll_interval", "5s")

	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host: viper.GetString("rabbitmq_host"),
		Port: viper.GetInt("rabbitmq_port"),
		User: viper.GetString("rabbitmq_user"),
		Pass: viper.GetString("rabbitmq_pass"),
		Kind: viper.GetString("rabbitmq_kind"),
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		Upload: Upload{
			MaxSizeBytes:        viper.GetInt64("upload.max_size_bytes"),
			AllowedContentTypes: viper.GetStringSlice("upload.allowed_content_types"),
			ReorderBufferBytes:  viper.GetInt64("upload.reorder_buffer_bytes"),
			SessionTTL:          viper.GetDuration("upload.session_ttl"),
			SweepInterval:       viper.GetDuration("upload.sweep_interval"),
			SpoolDir:            viper.GetString("upload.spool_dir"),
		},
		Pipeline: Pipeline{
			LeaseDuration:      viper.GetDuration("pipeline.lease_duration"),
			MaxAttempts:        viper.GetInt("pipeline.max_attempts"),
			LeaseSweepInterval: viper.GetDuration("pipeline.lease_sweep_interval"),
			PollInterval:       viper.GetDuration("pipeline.poll_interval"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
	}, nil
}
