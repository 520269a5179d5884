package actuator

import "testing"

func TestParseKind(t *testing.T) {
	cases := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"switch", KindSwitch, false},
		{"valve", KindValve, false},
		{"climate", KindClimate, false},
		{"boiler", KindUnknown, true},
		{"", KindUnknown, true},
	}
	for _, tc := range cases {
		got, err := ParseKind(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseKind(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestKindCommands(t *testing.T) {
	cases := []struct {
		kind    Kind
		on      bool
		want    string
	}{
		{KindSwitch, true, "turn_on"},
		{KindSwitch, false, "turn_off"},
		{KindValve, true, "open_valve"},
		{KindValve, false, "close_valve"},
		{KindClimate, true, "turn_on"},
		{KindClimate, false, "turn_off"},
	}
	for _, tc := range cases {
		if got := tc.kind.Command(tc.on); got != tc.want {
			t.Errorf("%v.Command(%v) = %q, want %q", tc.kind, tc.on, got, tc.want)
		}
	}
}

func TestTargetValid(t *testing.T) {
	if (Target{}).Valid() {
		t.Error("zero target must be invalid")
	}
	if (Target{ID: "v"}).Valid() {
		t.Error("target without kind must be invalid")
	}
	if !(Target{ID: "v", Kind: KindValve}).Valid() {
		t.Error("complete target should be valid")
	}
}
