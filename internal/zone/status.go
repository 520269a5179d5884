package zone

import (
	"time"

	"github.com/adaptiveheat/zoneheat/internal/thermal"
)

// CycleDiagnostics is the outcome of the last evaluated heating cycle,
// flattened for status payloads. Pointer fields are nil when the underlying
// quantity was not observable.
type CycleDiagnostics struct {
	PredictedPeak      float64  `json:"predicted_peak"`
	ActualPeak         float64  `json:"actual_peak"`
	StartTemp          float64  `json:"start_temp"`
	TargetTemp         float64  `json:"target_temp"`
	OnDuration         float64  `json:"on_duration_s"`
	Ratio              float64  `json:"ratio"`
	Overshoot          float64  `json:"overshoot"`
	Undershoot         float64  `json:"undershoot"`
	PredictedOvershoot *float64 `json:"predicted_overshoot,omitempty"`
	PredictedTailDelay *float64 `json:"predicted_tail_delay_s,omitempty"`
	ObservedTailDelay  *float64 `json:"observed_tail_delay_s,omitempty"`
}

// RunRecord is one finished heating cycle kept in the bounded run history.
type RunRecord struct {
	ID         string    `json:"id"`
	StartTS    time.Time `json:"start_ts"`
	EndTS      time.Time `json:"end_ts"`
	OnDuration float64   `json:"on_duration_s"`
	StartTemp  float64   `json:"start_temp"`
	PeakTemp   float64   `json:"peak_temp"`
	Target     float64   `json:"target"`
	Outcome    string    `json:"outcome"`
}

// Status is an immutable snapshot of one zone, safe to hand to controllers.
type Status struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Mode HVACMode `json:"-"`
	// ModeName mirrors Mode for JSON consumers.
	ModeName string `json:"mode"`
	Action   string `json:"action"`

	Target         float64 `json:"target"`
	Preset         string  `json:"preset,omitempty"`
	ManualOverride bool    `json:"manual_override"`

	CurrentTemperature *float64 `json:"current_temperature,omitempty"`
	Humidity           *float64 `json:"humidity,omitempty"`
	OutdoorTemperature *float64 `json:"outdoor_temperature,omitempty"`

	HeaterOn          bool       `json:"heater_on"`
	PlannedOffAt      *time.Time `json:"planned_off_at,omitempty"`
	PlannedOnDuration *float64   `json:"planned_on_duration_s,omitempty"`

	SlopeInstant float64 `json:"slope_instant_per_hour"`
	SlopeHourly  float64 `json:"slope_hourly_per_hour"`

	WindowOpen             bool       `json:"window_open"`
	WindowCandidate        bool       `json:"window_candidate"`
	WindowAlert            string     `json:"window_alert,omitempty"`
	WindowRecoveryUntil    *time.Time `json:"window_recovery_until,omitempty"`
	PostWindowDampenCycles int        `json:"post_window_dampen_cycles"`

	Params            thermal.Params    `json:"model_params"`
	MinOnSeconds      float64           `json:"min_on_s"`
	MinOffSeconds     float64           `json:"min_off_s"`
	ResidualPeakDelay float64           `json:"residual_peak_delay_s"`
	LastCycle         *CycleDiagnostics `json:"last_cycle,omitempty"`
	SamplesCached     int               `json:"samples_cached"`
	RunHistory        []RunRecord       `json:"run_history,omitempty"`
}
