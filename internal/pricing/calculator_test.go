package pricing

import "testing"

func TestCompute_MediumTierBelowValueThresholds(t *testing.T) {
	calc := NewCalculator()

	// kitchen refit at 15,000.00 estimated value: medium tier, no value uplift
	price, err := calc.Compute("kitchen_full_refit", 1_500_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 3750 {
		t.Fatalf("expected price 3750, got %d", price)
	}
}

func TestCompute_HighTierWithHighValueUplift(t *testing.T) {
	calc := NewCalculator()

	// extension above the high value threshold: 2500 x 2.5 x 1.5 = 9375
	price, err := calc.Compute("extension", 6_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 9375 {
		t.Fatalf("expected price 9375, got %d", price)
	}
}

func TestCompute_MidValueUplift(t *testing.T) {
	calc := NewCalculator()

	// base tier with mid value uplift: 2500 x 1.0 x 1.2 = 3000
	price, err := calc.Compute("driveway", 2_500_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 3000 {
		t.Fatalf("expected price 3000, got %d", price)
	}
}

func TestCompute_UnknownTypeUsesBaseMultiplier(t *testing.T) {
	calc := NewCalculator()

	price, err := calc.Compute("fence_repair", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != BasePriceCents {
		t.Fatalf("expected base price %d, got %d", BasePriceCents, price)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	calc := NewCalculator()

	first, err := calc.Compute("loft_conversion", 3_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 100; i++ {
		again, err := calc.Compute("loft_conversion", 3_000_000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again != first {
			t.Fatalf("price not deterministic: first %d, run %d gave %d", first, i, again)
		}
	}
}

func TestCompute_AlwaysWithinBand(t *testing.T) {
	calc := NewCalculator()

	types := []string{"full_house_renovation", "kitchen_full_refit", "fence_repair", "new_build", "driveway"}
	values := []int64{0, 1, 1_999_999, 2_000_001, 4_999_999, 5_000_001, 100_000_000}

	for _, pt := range types {
		for _, val := range values {
			price, err := calc.Compute(pt, val)
			if err != nil {
				t.Fatalf("unexpected error for %s/%d: %v", pt, val, err)
			}
			if price < MinPriceCents || price > MaxPriceCents {
				t.Fatalf("price %d for %s/%d outside band [%d, %d]", price, pt, val, MinPriceCents, MaxPriceCents)
			}
		}
	}
}

func TestCompute_RejectsNegativeEstimatedValue(t *testing.T) {
	calc := NewCalculator()

	if _, err := calc.Compute("kitchen_full_refit", -1); err == nil {
		t.Fatal("expected error for negative estimated value")
	}
}

func TestCompute_RejectsEmptyProjectType(t *testing.T) {
	calc := NewCalculator()

	if _, err := calc.Compute("", 1000); err == nil {
		t.Fatal("expected error for empty project type")
	}
}
