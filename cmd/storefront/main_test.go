package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetupLogger(t *testing.T) {
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
	})

	tests := []struct {
		name      string
		level     string
		format    string
		wantErr   bool
		wantLevel log.Level
	}{
		{name: "text info", level: "info", format: "text", wantLevel: log.InfoLevel},
		{name: "json debug", level: " DEBUG ", format: "JSON", wantLevel: log.DebugLevel},
		{name: "empty format is text", level: "warn", format: "", wantLevel: log.WarnLevel},
		{name: "bad level", level: "loud", format: "text", wantErr: true},
		{name: "bad format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := setupLogger(tt.level, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if log.GetLevel() != tt.wantLevel {
				t.Fatalf("expected level %s, got %s", tt.wantLevel, log.GetLevel())
			}
		})
	}
}

func TestSetupLogger_JSONFormatter(t *testing.T) {
	t.Cleanup(func() { log.SetFormatter(&log.TextFormatter{}) })

	if err := setupLogger("info", "json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := log.StandardLogger().Formatter.(*log.JSONFormatter); !ok {
		t.Fatalf("expected JSON formatter, got %T", log.StandardLogger().Formatter)
	}
}
