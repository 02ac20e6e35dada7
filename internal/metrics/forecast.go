package metrics

import (
	"fmt"
	"math"
	"time"

	"timeline/internal/domain"
)

type Confidence string

const (
	ConfidenceHigh        Confidence = "high"
	ConfidenceMedium      Confidence = "medium"
	ConfidenceLow         Confidence = "low"
	ConfidenceUnavailable Confidence = "unavailable"
)

// VelocityTooLow is the DaysAheadBehind sentinel reported when velocity is
// too small to project a completion date.
const VelocityTooLow = -999

type Forecast struct {
	ProjectedDate        *string    `json:"projectedDate"`
	DaysAheadBehind      int        `json:"daysAheadBehind"`
	VelocityHoursPerDay  float64    `json:"velocityHoursPerDay"`
	RemainingHours       float64    `json:"remainingHours"`
	CompletionPercentage int        `json:"completionPercentage"`
	Confidence           Confidence `json:"confidence"`
	Message              string     `json:"message"`
}

func unavailable(message string) Forecast {
	return Forecast{Confidence: ConfidenceUnavailable, Message: message}
}

// CompletionForecast projects a finish date from the burn rate so far.
// The first matching case wins: no deadline, not started, completed,
// no data, velocity too low, then a projection.
func CompletionForecast(data domain.ProjectData, now time.Time) Forecast {
	p := data.Project
	start, end, ok := span(p)
	if !ok {
		return unavailable("Forecast unavailable")
	}
	if end == nil {
		return unavailable("No deadline set")
	}
	today := domain.Today(now)
	if today.Before(start) {
		return unavailable("Project not started")
	}
	if p.Status == domain.ProjectCompleted {
		date := *p.EndDate
		return Forecast{
			ProjectedDate:        &date,
			CompletionPercentage: 100,
			Confidence:           ConfidenceHigh,
			Message:              "Project completed",
		}
	}

	completion := ActualProgress(data.Tasks)
	if p.ActualHours == 0 || completion == 0 {
		f := unavailable("Not enough data to forecast")
		f.CompletionPercentage = completion
		f.RemainingHours = p.EstimatedHours
		return f
	}

	elapsedDays := max(1, ceilDays(today.Sub(start)))
	velocity := p.ActualHours / float64(elapsedDays)
	remaining := math.Max(0, p.EstimatedHours-p.ActualHours)
	daysUntilDeadline := ceilDays(end.Sub(today))

	if velocity < 0.1 {
		return Forecast{
			DaysAheadBehind:      VelocityTooLow,
			VelocityHoursPerDay:  velocity,
			RemainingHours:       remaining,
			CompletionPercentage: completion,
			Confidence:           ConfidenceLow,
			Message:              "Velocity too low to forecast",
		}
	}

	daysToComplete := int(math.Ceil(remaining / velocity))
	projected := domain.FormatDate(today.AddDate(0, 0, daysToComplete))
	delta := daysUntilDeadline - daysToComplete

	confidence := ConfidenceLow
	switch {
	case elapsedDays >= 14 && completion >= 20:
		confidence = ConfidenceHigh
	case elapsedDays >= 7 && completion >= 10:
		confidence = ConfidenceMedium
	}

	return Forecast{
		ProjectedDate:        &projected,
		DaysAheadBehind:      delta,
		VelocityHoursPerDay:  math.Floor(velocity*10+0.5) / 10,
		RemainingHours:       remaining,
		CompletionPercentage: completion,
		Confidence:           confidence,
		Message:              scheduleMessage(delta),
	}
}

func scheduleMessage(delta int) string {
	switch {
	case delta == 0:
		return "On track to meet deadline"
	case delta > 0:
		return fmt.Sprintf("%s ahead of schedule", days(delta))
	default:
		return fmt.Sprintf("%s behind schedule", days(-delta))
	}
}

func days(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

type Tone string

const (
	ToneUnavailable         Tone = "unavailable"
	ToneWellAhead           Tone = "well_ahead"
	ToneOnTrack             Tone = "on_track"
	ToneSlightlyBehind      Tone = "slightly_behind"
	ToneSignificantlyBehind Tone = "significantly_behind"
)

// ForecastTone buckets a forecast for display.
func ForecastTone(f Forecast) Tone {
	if f.Confidence == ConfidenceUnavailable {
		return ToneUnavailable
	}
	switch {
	case f.DaysAheadBehind >= 3:
		return ToneWellAhead
	case f.DaysAheadBehind >= 0:
		return ToneOnTrack
	case f.DaysAheadBehind >= -7:
		return ToneSlightlyBehind
	default:
		return ToneSignificantlyBehind
	}
}
