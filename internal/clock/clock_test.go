package clock

import (
	"testing"
	"time"
)

func TestNewLocations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		tz   string
		want string
	}{
		{tz: "", want: time.Local.String()},
		{tz: "Local", want: time.Local.String()},
		{tz: "UTC", want: "UTC"},
		{tz: "Asia/Shanghai", want: "Asia/Shanghai"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.tz, func(t *testing.T) {
			c, err := New(tt.tz)
			if err != nil {
				t.Fatalf("New(%q) error: %v", tt.tz, err)
			}
			if got := c.Location().String(); got != tt.want {
				t.Fatalf("Location = %s, want %s", got, tt.want)
			}
			if got := c.Now().Location().String(); got != tt.want {
				t.Fatalf("Now().Location = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewInvalidZone(t *testing.T) {
	t.Parallel()
	if _, err := New("Mars/Olympus"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}

func TestManualAdvance(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	m := NewManual(start)
	m.Advance(90 * time.Second)
	if got := m.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("Now = %v, want %v", got, start.Add(90*time.Second))
	}
	m.Set(start)
	if got := m.Now(); !got.Equal(start) {
		t.Fatalf("Now after Set = %v, want %v", got, start)
	}
}
