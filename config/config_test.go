package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.StoreDriver != DriverMemory || cfg.BulkPublishConcurrency != 4 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.CredentialTTL != time.Hour || cfg.OTPSweepInterval != 30*time.Second {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.S3.Region != "us-east-1" || cfg.S3.PresignExpiry != 15*time.Minute {
		t.Fatalf("unexpected s3 defaults %+v", cfg.S3)
	}
}

func TestLoad_NestedPrefixes(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("S3_BUCKET", "docs")
	t.Setenv("S3_ENDPOINT", "http://localhost:4566")
	t.Setenv("RESEND_API_KEY", "re_123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.S3.Bucket != "docs" || cfg.S3.Endpoint != "http://localhost:4566" || cfg.Resend.APIKey != "re_123" {
		t.Fatalf("nested config not parsed: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	base := Config{StoreDriver: DriverPostgres, BulkPublishConcurrency: 1}
	if err := base.Validate(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
	base.DatabaseURL = "postgres://localhost/signflow"
	if err := base.Validate(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}
	base.JWTSecret = "s"
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	base.StoreDriver = "sqlite"
	if err := base.Validate(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
