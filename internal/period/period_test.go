package period

import (
	"errors"
	"testing"
	"time"
)

func TestBucketAlignsToCalendar(t *testing.T) {
	// Wednesday 2025-06-18 14:35:12 UTC
	at := time.Date(2025, time.June, 18, 14, 35, 12, 0, time.UTC)

	tests := []struct {
		period Period
		start  time.Time
		end    time.Time
	}{
		{
			period: Hourly,
			start:  time.Date(2025, time.June, 18, 14, 0, 0, 0, time.UTC),
			end:    time.Date(2025, time.June, 18, 15, 0, 0, 0, time.UTC),
		},
		{
			period: Daily,
			start:  time.Date(2025, time.June, 18, 0, 0, 0, 0, time.UTC),
			end:    time.Date(2025, time.June, 19, 0, 0, 0, 0, time.UTC),
		},
		{
			period: Weekly,
			start:  time.Date(2025, time.June, 16, 0, 0, 0, 0, time.UTC), // Monday
			end:    time.Date(2025, time.June, 23, 0, 0, 0, 0, time.UTC),
		},
		{
			period: Monthly,
			start:  time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
			end:    time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			period: Yearly,
			start:  time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
			end:    time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		bounds, err := Bucket(tt.period, at)
		if err != nil {
			t.Errorf("Bucket(%s): unexpected error %v", tt.period, err)
			continue
		}
		if !bounds.Start.Equal(tt.start) {
			t.Errorf("Bucket(%s): start = %v, want %v", tt.period, bounds.Start, tt.start)
		}
		if !bounds.End.Equal(tt.end) {
			t.Errorf("Bucket(%s): end = %v, want %v", tt.period, bounds.End, tt.end)
		}
		if !bounds.Contains(at) {
			t.Errorf("Bucket(%s): window does not contain %v", tt.period, at)
		}
	}
}

func TestBucketWeekStartsMonday(t *testing.T) {
	// Sunday must fall into the week that started the previous Monday.
	sunday := time.Date(2025, time.June, 22, 23, 59, 0, 0, time.UTC)

	bounds, err := Bucket(Weekly, sunday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantStart := time.Date(2025, time.June, 16, 0, 0, 0, 0, time.UTC)
	if !bounds.Start.Equal(wantStart) {
		t.Errorf("week start = %v, want %v", bounds.Start, wantStart)
	}

	monday := time.Date(2025, time.June, 16, 0, 0, 0, 0, time.UTC)
	mb, _ := Bucket(Weekly, monday)
	if !mb.Start.Equal(wantStart) {
		t.Errorf("monday midnight week start = %v, want %v", mb.Start, wantStart)
	}
}

func TestRenewAtIsRelative(t *testing.T) {
	// Renewal adds one unit to the instant; it does not snap to calendar
	// boundaries the way Bucket does.
	at := time.Date(2025, time.June, 18, 14, 35, 12, 0, time.UTC)

	tests := []struct {
		period Period
		want   time.Time
	}{
		{Hourly, at.Add(time.Hour)},
		{Daily, at.AddDate(0, 0, 1)},
		{Weekly, at.AddDate(0, 0, 7)},
		{Monthly, at.AddDate(0, 1, 0)},
		{Yearly, at.AddDate(1, 0, 0)},
	}

	for _, tt := range tests {
		got, err := RenewAt(tt.period, at)
		if err != nil {
			t.Errorf("RenewAt(%s): unexpected error %v", tt.period, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("RenewAt(%s) = %v, want %v", tt.period, got, tt.want)
		}

		bounds, _ := Bucket(tt.period, at)
		if got.Equal(bounds.End) {
			t.Errorf("RenewAt(%s) coincides with calendar window end; mid-window instants must differ", tt.period)
		}
	}
}

func TestMonthlyRenewalMonthEnd(t *testing.T) {
	// AddDate normalizes Jan 31 + 1 month to Mar 3 (or Mar 2 in leap years).
	at := time.Date(2025, time.January, 31, 10, 0, 0, 0, time.UTC)

	got, err := RenewAt(Monthly, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("RenewAt(monthly, Jan 31) = %v, want %v", got, want)
	}
}

func TestUnknownPeriod(t *testing.T) {
	at := time.Date(2025, time.June, 18, 14, 0, 0, 0, time.UTC)

	bounds, err := Bucket("fortnightly", at)
	if !errors.Is(err, ErrUnknownPeriod) {
		t.Fatalf("Bucket: error = %v, want ErrUnknownPeriod", err)
	}
	if !bounds.Start.Equal(at) || !bounds.End.Equal(at) {
		t.Errorf("Bucket: unknown period should yield zero-length window at t, got [%v, %v)", bounds.Start, bounds.End)
	}
	if bounds.Contains(at) {
		t.Error("zero-length window must not contain anything")
	}

	if _, err := RenewAt("fortnightly", at); !errors.Is(err, ErrUnknownPeriod) {
		t.Fatalf("RenewAt: error = %v, want ErrUnknownPeriod", err)
	}

	if Valid("fortnightly") {
		t.Error("Valid should reject unknown periods")
	}
	if !Valid(Monthly) {
		t.Error("Valid should accept monthly")
	}
}
