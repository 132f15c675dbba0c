package handover

import (
	"errors"
	"testing"
	"time"

	"github.com/shiva/rentwheels/internal/model"
)

var pickupAt = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func selfDrive(status model.BookingStatus) *model.Booking {
	p := pickupAt
	d := pickupAt.Add(6 * time.Hour)
	return &model.Booking{
		ID:          7,
		ServiceMode: model.ModeSelfDrive,
		PickupAt:    &p,
		DropAt:      &d,
		Status:      status,
	}
}

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"123456", true},
		{"000000", true},
		{"12345", false},
		{"1234567", false},
		{"12a456", false},
		{" 23456", false},
		{"１２３４５６", false}, // full-width digits
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateFormat(tt.in)
		if tt.valid && err != nil {
			t.Errorf("ValidateFormat(%q) = %v, want nil", tt.in, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("ValidateFormat(%q) = %v, want ErrInvalidFormat", tt.in, err)
		}
	}
}

func TestGenerateCode_SixDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if err := ValidateFormat(code); err != nil {
			t.Fatalf("GenerateCode produced %q: %v", code, err)
		}
	}
}

func TestMatch(t *testing.T) {
	if !Match("482913", "482913") {
		t.Errorf("Match(equal) = false")
	}
	if Match("482913", "482914") {
		t.Errorf("Match(different) = true")
	}
}

func TestEvaluatePickup_Window(t *testing.T) {
	b := selfDrive(model.StatusConfirmed)
	p := DefaultPolicy()

	tests := []struct {
		name      string
		at        time.Time
		state     model.GateState
		overdue   bool
		countdown string
	}{
		{"31 minutes before", pickupAt.Add(-31 * time.Minute), model.GateLocked, false, "1 mins"},
		{"3 hours before", pickupAt.Add(-3*time.Hour - 30*time.Minute), model.GateLocked, false, "3h 0m"},
		{"window opens", pickupAt.Add(-30 * time.Minute), model.GateVisible, false, "30 mins"},
		{"29 minutes before", pickupAt.Add(-29 * time.Minute), model.GateVisible, false, "29 mins"},
		{"at pickup", pickupAt, model.GateVisible, true, "Overdue by 0 mins"},
		{"5 minutes late", pickupAt.Add(5 * time.Minute), model.GateVisible, true, "Overdue by 5 mins"},
		{"2 hours late", pickupAt.Add(2*time.Hour + 10*time.Minute), model.GateVisible, true, "Overdue by 2h 10m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(model.CodePickup, b, tt.at, p)
			if v.State != tt.state {
				t.Errorf("State = %s, want %s", v.State, tt.state)
			}
			if v.Overdue != tt.overdue {
				t.Errorf("Overdue = %v, want %v", v.Overdue, tt.overdue)
			}
			if v.Countdown != tt.countdown {
				t.Errorf("Countdown = %q, want %q", v.Countdown, tt.countdown)
			}
		})
	}
}

func TestEvaluatePickup_RequiresConfirmed(t *testing.T) {
	at := pickupAt.Add(-10 * time.Minute)
	for _, s := range []model.BookingStatus{model.StatusPending, model.StatusCancelled, model.StatusActive} {
		v := Evaluate(model.CodePickup, selfDrive(s), at, DefaultPolicy())
		if v.State != model.GateLocked {
			t.Errorf("status %s: State = %s, want LOCKED", s, v.State)
		}
	}
}

func TestEvaluatePickup_Verified(t *testing.T) {
	b := selfDrive(model.StatusActive)
	verified := pickupAt.Add(3 * time.Minute)
	b.PickupCodeVerifiedAt = &verified

	v := Evaluate(model.CodePickup, b, pickupAt.Add(time.Hour), DefaultPolicy())
	if v.State != model.GateVerified {
		t.Errorf("State = %s, want VERIFIED", v.State)
	}
}

func TestEvaluatePickup_CustomLead(t *testing.T) {
	b := selfDrive(model.StatusConfirmed)
	v := Evaluate(model.CodePickup, b, pickupAt.Add(-50*time.Minute), Policy{PickupLead: time.Hour})
	if v.State != model.GateVisible {
		t.Errorf("State = %s, want VISIBLE with a 1h lead", v.State)
	}
}

func TestEvaluateDrop_SelfDrive(t *testing.T) {
	dropAt := pickupAt.Add(6 * time.Hour)
	tests := []struct {
		name   string
		status model.BookingStatus
		at     time.Time
		state  model.GateState
	}{
		{"active before drop", model.StatusActive, dropAt.Add(-time.Minute), model.GateLocked},
		{"active at drop", model.StatusActive, dropAt, model.GateVisible},
		{"active after drop", model.StatusActive, dropAt.Add(3 * time.Hour), model.GateVisible},
		{"confirmed after drop", model.StatusConfirmed, dropAt.Add(time.Minute), model.GateVisible},
		{"pending after drop", model.StatusPending, dropAt.Add(time.Minute), model.GateLocked},
		{"cancelled after drop", model.StatusCancelled, dropAt.Add(time.Minute), model.GateLocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(model.CodeDrop, selfDrive(tt.status), tt.at, DefaultPolicy())
			if v.State != tt.state {
				t.Errorf("State = %s, want %s", v.State, tt.state)
			}
		})
	}
}

func TestEvaluateDrop_CountdownToDropTime(t *testing.T) {
	dropAt := pickupAt.Add(6 * time.Hour)
	v := Evaluate(model.CodeDrop, selfDrive(model.StatusActive), dropAt.Add(-95*time.Minute), DefaultPolicy())
	if v.Countdown != "1h 35m" {
		t.Errorf("Countdown = %q, want 1h 35m", v.Countdown)
	}
	if v.OpensAt == nil || !v.OpensAt.Equal(dropAt) {
		t.Errorf("OpensAt = %v, want %v", v.OpensAt, dropAt)
	}
}

func TestEvaluate_Intercity(t *testing.T) {
	b := &model.Booking{
		ID:          9,
		ServiceMode: model.ModeIntercity,
		TripWindow:  &model.TripWindow{StartAt: pickupAt},
		Status:      model.StatusConfirmed,
	}
	if v := Evaluate(model.CodePickup, b, pickupAt.Add(-20*time.Minute), DefaultPolicy()); v.State != model.GateVisible {
		t.Errorf("intercity pickup State = %s, want VISIBLE", v.State)
	}
	if v := Evaluate(model.CodeDrop, b, pickupAt.Add(time.Hour), DefaultPolicy()); v.State != model.GateLocked {
		t.Errorf("intercity drop before ACTIVE State = %s, want LOCKED", v.State)
	}
	b.Status = model.StatusActive
	if v := Evaluate(model.CodeDrop, b, pickupAt.Add(time.Hour), DefaultPolicy()); v.State != model.GateVisible {
		t.Errorf("intercity drop when ACTIVE State = %s, want VISIBLE", v.State)
	}
}
