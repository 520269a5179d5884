package testutil

import "github.com/adaptiveheat/zoneheat/internal/zone"

// FakeZoneService is a reusable fake implementing ports.ZoneService.
// Put ONLY what multiple test packages need here.
type FakeZoneService struct {
	ZoneID   string
	ZoneName string
	S        zone.Status

	SetTargetCalled bool
	SetTargetArg    float64
	SetTargetErr    error

	SetModeCalled bool
	SetModeArg    zone.HVACMode
	SetModeErr    error

	SetPresetCalled bool
	SetPresetArg    string
	SetPresetErr    error

	CalibrateCalled bool
	CalibrateErr    error
}

func NewFakeZoneService(id string) *FakeZoneService {
	temp := 20.4
	return &FakeZoneService{
		ZoneID:   id,
		ZoneName: "Zone " + id,
		S: zone.Status{
			ID:                 id,
			Name:               "Zone " + id,
			Mode:               zone.ModeHeat,
			ModeName:           zone.ModeHeat.String(),
			Action:             "idle",
			Target:             21,
			CurrentTemperature: &temp,
		},
	}
}

func (f *FakeZoneService) ID() string          { return f.ZoneID }
func (f *FakeZoneService) Name() string        { return f.ZoneName }
func (f *FakeZoneService) Status() zone.Status { return f.S }

func (f *FakeZoneService) SetTarget(v float64) error {
	f.SetTargetCalled = true
	f.SetTargetArg = v
	if f.SetTargetErr != nil {
		return f.SetTargetErr
	}
	f.S.Target = v
	return nil
}

func (f *FakeZoneService) SetMode(m zone.HVACMode) error {
	f.SetModeCalled = true
	f.SetModeArg = m
	if f.SetModeErr != nil {
		return f.SetModeErr
	}
	f.S.Mode = m
	f.S.ModeName = m.String()
	return nil
}

func (f *FakeZoneService) SetPreset(name string) error {
	f.SetPresetCalled = true
	f.SetPresetArg = name
	if f.SetPresetErr != nil {
		return f.SetPresetErr
	}
	f.S.Preset = name
	return nil
}

func (f *FakeZoneService) Calibrate() error {
	f.CalibrateCalled = true
	return f.CalibrateErr
}
