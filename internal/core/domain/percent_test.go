package domain

import (
	"encoding/json"
	"math/big"
	"testing"
)

func TestPercentage(t *testing.T) {
	huge, _ := new(big.Int).SetString("400000000000000000000000000000", 10)
	tests := []struct {
		name   string
		amount *big.Int
		total  *big.Int
		want   float64
	}{
		{"thirty percent", big.NewInt(300_000), big.NewInt(1_000_000), 30},
		{"truncates to two decimals", big.NewInt(1), big.NewInt(3), 33.33},
		{"zero total", big.NewInt(5), big.NewInt(0), 0},
		{"nil total", big.NewInt(5), nil, 0},
		{"negative amount", big.NewInt(-100), big.NewInt(1000), -10},
		{"large supply", new(big.Int).Div(huge, big.NewInt(4)), huge, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Percentage(tt.amount, tt.total); got != tt.want {
				t.Errorf("Percentage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTierForRatio(t *testing.T) {
	tests := []struct {
		ratio float64
		want  RiskTier
	}{
		{250, RiskSafe},
		{200, RiskSafe},
		{199.99, RiskModerate},
		{150, RiskModerate},
		{120, RiskRisky},
		{119.9, RiskCritical},
		{0, RiskCritical},
	}
	for _, tt := range tests {
		if got := TierForRatio(tt.ratio); got != tt.want {
			t.Errorf("TierForRatio(%v) = %v, want %v", tt.ratio, got, tt.want)
		}
	}
}

func TestParseCategory(t *testing.T) {
	if ParseCategory("bridge") != CategoryBridge {
		t.Error("bridge should parse")
	}
	if ParseCategory("lending") != CategoryUnknown {
		t.Error("unrecognized category should be unknown")
	}
	if CategoryUnknown.Color() != "#6b7280" {
		t.Errorf("unknown color = %s", CategoryUnknown.Color())
	}
}

func TestBorrowerRecordEncodesRiskTier(t *testing.T) {
	data, err := json.Marshal(BorrowerRecord{Address: "0x01", CollateralizationRatio: 155})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["risk_tier"] != string(RiskModerate) || out["address"] != "0x01" {
		t.Fatalf("encoded = %s", data)
	}
}
