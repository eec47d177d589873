package websocket

import "testing"

func TestBoundsContains(t *testing.T) {
	alps := &Bounds{North: 47.5, South: 45.5, East: 10.5, West: 5.9}

	tests := []struct {
		name     string
		bounds   *Bounds
		lat, lon float64
		want     bool
	}{
		{"inside", alps, 46.5, 7.5, true},
		{"north edge inclusive", alps, 47.5, 7.5, true},
		{"west edge inclusive", alps, 46.5, 5.9, true},
		{"north of box", alps, 48.0, 7.5, false},
		{"west of box", alps, 46.5, 5.0, false},
		{"antipode", alps, -46.5, -172.5, false},
		{
			"antimeridian wrap east side",
			&Bounds{North: 10, South: -10, East: -170, West: 170},
			0, 175, true,
		},
		{
			"antimeridian wrap west side",
			&Bounds{North: 10, South: -10, East: -170, West: 170},
			0, -175, true,
		},
		{
			"antimeridian wrap outside",
			&Bounds{North: 10, South: -10, East: -170, West: 170},
			0, 0, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.bounds.Contains(tt.lat, tt.lon); got != tt.want {
				t.Errorf("Contains(%v, %v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
			}
		})
	}
}

func TestBoundsValidate(t *testing.T) {
	tests := []struct {
		name    string
		bounds  Bounds
		wantErr bool
	}{
		{"valid", Bounds{North: 47, South: 45, East: 10, West: 6}, false},
		{"valid wrap", Bounds{North: 10, South: -10, East: -170, West: 170}, false},
		{"south above north", Bounds{North: 45, South: 47, East: 10, West: 6}, true},
		{"latitude out of range", Bounds{North: 95, South: 45, East: 10, West: 6}, true},
		{"longitude out of range", Bounds{North: 47, South: 45, East: 190, West: 6}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bounds.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
