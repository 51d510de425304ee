package models

import (
	"testing"
)

func TestTaskStatus_Terminal(t *testing.T) {
	terminal := []TaskStatus{StatusDone, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("Expected %s to be terminal", s)
		}
	}

	live := []TaskStatus{StatusPending, StatusProcessing}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("Expected %s to not be terminal", s)
		}
	}
}

func TestTaskStatus_AllowedFrom(t *testing.T) {
	tests := []struct {
		target  TaskStatus
		allowed []string
	}{
		{StatusProcessing, []string{"pending", "processing"}},
		{StatusDone, []string{"processing"}},
		{StatusFailed, []string{"processing"}},
		{StatusCancelled, []string{"pending", "processing"}},
		{StatusPending, nil},
	}

	for _, tt := range tests {
		got := tt.target.AllowedFrom()
		if len(got) != len(tt.allowed) {
			t.Errorf("AllowedFrom(%s): expected %v, got %v", tt.target, tt.allowed, got)
			continue
		}
		for i := range got {
			if got[i] != tt.allowed[i] {
				t.Errorf("AllowedFrom(%s): expected %v, got %v", tt.target, tt.allowed, got)
			}
		}
	}
}

func TestParseEditMode(t *testing.T) {
	for _, mode := range []string{"head_swap", "background_change", "pose_change"} {
		if _, err := ParseEditMode(mode); err != nil {
			t.Errorf("Expected %s to parse, got error: %v", mode, err)
		}
	}

	if _, err := ParseEditMode("face_restore"); err == nil {
		t.Error("Expected unknown mode to fail")
	}
	if _, err := ParseEditMode(""); err == nil {
		t.Error("Expected empty mode to fail")
	}
}

func TestCostFor_Defaults(t *testing.T) {
	// Empty quality and size fall back to standard and medium.
	tests := []struct {
		mode EditMode
		want int
	}{
		{ModeHeadSwap, 48},
		{ModeBackgroundChange, 36},
		{ModePoseChange, 60},
	}

	for _, tt := range tests {
		got, err := CostFor(tt.mode, "", "")
		if err != nil {
			t.Fatalf("CostFor(%s): unexpected error: %v", tt.mode, err)
		}
		if got != tt.want {
			t.Errorf("CostFor(%s): expected %d, got %d", tt.mode, tt.want, got)
		}
	}
}

func TestCostFor_Multipliers(t *testing.T) {
	tests := []struct {
		mode    EditMode
		quality Quality
		size    Size
		want    int
	}{
		{ModeHeadSwap, QualityStandard, SizeSmall, 40},
		{ModeHeadSwap, QualityHigh, SizeMedium, 72},
		{ModeHeadSwap, QualityUltra, SizeLarge, 120},
		{ModeBackgroundChange, QualityUltra, SizeSmall, 60},
		{ModePoseChange, QualityHigh, SizeLarge, 113}, // 50 * 1.5 * 1.5 = 112.5, rounded up
	}

	for _, tt := range tests {
		got, err := CostFor(tt.mode, tt.quality, tt.size)
		if err != nil {
			t.Fatalf("CostFor(%s, %s, %s): unexpected error: %v", tt.mode, tt.quality, tt.size, err)
		}
		if got != tt.want {
			t.Errorf("CostFor(%s, %s, %s): expected %d, got %d", tt.mode, tt.quality, tt.size, tt.want, got)
		}
	}
}

func TestCostFor_Invalid(t *testing.T) {
	if _, err := CostFor("watercolor", "", ""); err == nil {
		t.Error("Expected unknown mode to fail")
	}
	if _, err := CostFor(ModeHeadSwap, "extreme", ""); err == nil {
		t.Error("Expected unknown quality to fail")
	}
	if _, err := CostFor(ModeHeadSwap, "", "huge"); err == nil {
		t.Error("Expected unknown size to fail")
	}
}

func TestEditConfig_Validate(t *testing.T) {
	valid := EditConfig{HeadSwap: &HeadSwapConfig{ReferenceImage: "img_ref.png"}}
	if err := valid.Validate(ModeHeadSwap); err != nil {
		t.Errorf("Expected valid head_swap config to pass, got: %v", err)
	}

	missing := EditConfig{}
	if err := missing.Validate(ModeHeadSwap); err == nil {
		t.Error("Expected missing variant to fail")
	}

	wrongVariant := EditConfig{PoseChange: &PoseChangeConfig{TargetPose: "standing"}}
	if err := wrongVariant.Validate(ModeHeadSwap); err == nil {
		t.Error("Expected mismatched variant to fail")
	}

	twoVariants := EditConfig{
		HeadSwap:   &HeadSwapConfig{ReferenceImage: "img_ref.png"},
		PoseChange: &PoseChangeConfig{TargetPose: "standing"},
	}
	if err := twoVariants.Validate(ModeHeadSwap); err == nil {
		t.Error("Expected multiple variants to fail")
	}

	badQuality := EditConfig{
		Quality:  "extreme",
		HeadSwap: &HeadSwapConfig{ReferenceImage: "img_ref.png"},
	}
	if err := badQuality.Validate(ModeHeadSwap); err == nil {
		t.Error("Expected invalid quality to fail")
	}
}

func TestHeadSwapConfig_Validate(t *testing.T) {
	if err := (&HeadSwapConfig{}).Validate(); err == nil {
		t.Error("Expected missing reference_image to fail")
	}
	if err := (&HeadSwapConfig{ReferenceImage: "img.png", BlendStrength: 1.5}).Validate(); err == nil {
		t.Error("Expected out-of-range blend_strength to fail")
	}
	if err := (&HeadSwapConfig{ReferenceImage: "img.png", BlendStrength: 0.7}).Validate(); err != nil {
		t.Errorf("Expected valid config to pass, got: %v", err)
	}
}

func TestBackgroundChangeConfig_Validate(t *testing.T) {
	if err := (&BackgroundChangeConfig{}).Validate(); err == nil {
		t.Error("Expected empty config to fail")
	}
	if err := (&BackgroundChangeConfig{BackgroundType: "beach"}).Validate(); err != nil {
		t.Errorf("Expected background_type alone to pass, got: %v", err)
	}
	if err := (&BackgroundChangeConfig{BackgroundImage: "img_bg.png"}).Validate(); err != nil {
		t.Errorf("Expected background_image alone to pass, got: %v", err)
	}
}

func TestPoseChangeConfig_Validate(t *testing.T) {
	if err := (&PoseChangeConfig{}).Validate(); err == nil {
		t.Error("Expected empty config to fail")
	}
	if err := (&PoseChangeConfig{TargetPose: "sitting"}).Validate(); err != nil {
		t.Errorf("Expected target_pose alone to pass, got: %v", err)
	}
}

func TestCreditAccount_UsagePercentage(t *testing.T) {
	account := &CreditAccount{MonthlyCredits: 2000, CreditsRemaining: 1500}
	if got := account.UsagePercentage(); got != 25 {
		t.Errorf("Expected 25%%, got %v", got)
	}

	empty := &CreditAccount{}
	if got := empty.UsagePercentage(); got != 0 {
		t.Errorf("Expected 0%% for zero allotment, got %v", got)
	}
}

func TestPlanByID(t *testing.T) {
	tests := []struct {
		id      string
		credits int
	}{
		{"starter", 2000},
		{"pro", 12000},
		{"ultimate", 30000},
	}

	for _, tt := range tests {
		plan, ok := PlanByID(tt.id)
		if !ok {
			t.Fatalf("Expected plan %s to exist", tt.id)
		}
		if plan.MonthlyCredits != tt.credits {
			t.Errorf("Plan %s: expected %d credits, got %d", tt.id, tt.credits, plan.MonthlyCredits)
		}
	}

	if _, ok := PlanByID("enterprise"); ok {
		t.Error("Expected unknown plan to be absent")
	}
}
