package config

import (
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/utils/tests"
)

func TestInstallTracing_RegistersQuerySpanPlugin(t *testing.T) {
	db, err := gorm.Open(tests.DummyDialector{}, &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	installTracing(db)

	if _, ok := db.Config.Plugins["otelgorm"]; !ok {
		t.Fatalf("plugins = %v, want otelgorm installed", db.Config.Plugins)
	}
}
