package config

import (
	"strings"
	"testing"
)

func TestLoad_DefaultsValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://"+t.TempDir()+"/radar.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.MinHashPerms != 128 || cfg.LSHBands != 16 || cfg.ShingleSize != 3 {
		t.Fatalf("unexpected minhash defaults: perms=%d bands=%d k=%d", cfg.MinHashPerms, cfg.LSHBands, cfg.ShingleSize)
	}
	tiers, err := cfg.ClusterTiers()
	if err != nil {
		t.Fatalf("unexpected tier error: %v", err)
	}
	if len(tiers) != 4 || tiers[0].Eps != 0.42 || tiers[3].MinPts != 5 {
		t.Fatalf("unexpected tiers: %+v", tiers)
	}
	if !cfg.IsSQLite() || cfg.IsMongo() {
		t.Fatalf("expected sqlite backend selection")
	}
}

func TestLoad_RejectsInvalidNumerics(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/radar")
	t.Setenv("NR_LSH_BANDS", "15")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "divisible") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseEpsTiers_Errors(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"20:0.4",
		"20:0.4:2,10:0.3:3,0:0.2:4",
		"20:0.4:2,100:0.3:3",
		"20:1.5:2,0:0.3:3",
		"20:0.4:0,0:0.3:3",
		"20:0.3:2,100:0.4:3,0:0.2:4",
		"20:0.4:3,100:0.3:2,0:0.2:4",
	}
	for _, raw := range cases {
		if _, err := ParseEpsTiers(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestParseEpsTiers_AllowsFlatSteps(t *testing.T) {
	t.Parallel()

	tiers, err := ParseEpsTiers("20:0.4:2,100:0.4:2,0:0.3:5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tiers) != 3 || tiers[1].Eps != 0.4 || tiers[2].MinPts != 5 {
		t.Fatalf("unexpected tiers: %+v", tiers)
	}
}
