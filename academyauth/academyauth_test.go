package academyauth

import (
	"testing"
	"time"

	"github.com/tito24dxb/emiratesapp-sub004/internal/notification"
)

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	applyDefaults(&cfg)

	if cfg.JWTIssuer != "academy-auth" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "academy-auth")
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Errorf("AccessTokenTTL = %v, want 15m", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Errorf("RefreshTokenTTL = %v, want 168h", cfg.RefreshTokenTTL)
	}
	if cfg.Logger == nil {
		t.Error("Logger not defaulted")
	}

	// Without a configured sender, verification codes go to the log so
	// email 2FA still works out of the box.
	if cfg.CodeSender == nil {
		t.Fatal("CodeSender not defaulted")
	}
	if _, ok := cfg.CodeSender.(*notification.LogSender); !ok {
		t.Errorf("CodeSender = %T, want *notification.LogSender", cfg.CodeSender)
	}
}

func TestApplyDefaults_KeepsConfiguredSender(t *testing.T) {
	sender := &notification.LogSender{}
	cfg := Config{CodeSender: sender}
	applyDefaults(&cfg)

	if cfg.CodeSender != sender {
		t.Error("Configured sender replaced by default")
	}
}
