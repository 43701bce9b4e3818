package incident

import "testing"

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		alertName      string
		wantType       string
		wantConfidence float64
	}{
		{"crashloop", "PodCrashLoop", "crashloop", 0.7},
		{"crash substring", "ContainerCrashDetected", "crashloop", 0.7},
		{"oom", "OOMKilledPods", "oomkilled", 0.7},
		{"5xx", "High5xxRate", "error_rate", 0.6},
		{"error keyword", "ErrorBudgetBurn", "error_rate", 0.6},
		{"latency", "P99LatencyHigh", "latency", 0.6},
		{"case insensitive", "podcrashloop", "crashloop", 0.7},
		{"unknown", "DiskPressure", "unknown", 0.2},
		{"empty name", "", "unknown", 0.2},
		// ordered rules: crash family is checked before oom
		{"crash wins over oom", "CrashAfterOOM", "crashloop", 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tt.alertName)
			if got.Type != tt.wantType {
				t.Errorf("Classify(%q).Type = %q, want %q", tt.alertName, got.Type, tt.wantType)
			}
			if got.Confidence != tt.wantConfidence {
				t.Errorf("Classify(%q).Confidence = %v, want %v", tt.alertName, got.Confidence, tt.wantConfidence)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	t.Parallel()

	names := []string{"PodCrashLoop", "SomethingWeird", "High5xxRate", ""}
	for _, n := range names {
		first := Classify(n)
		second := Classify(n)
		if first != second {
			t.Errorf("Classify(%q) not deterministic: %+v then %+v", n, first, second)
		}
	}
}
