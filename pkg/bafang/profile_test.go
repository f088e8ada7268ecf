package bafang

import "testing"

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in      string
		want    Variant
		wantErr bool
	}{
		{"NEW_MOTOR", NewMotor, false},
		{"new-motor", NewMotor, false},
		{"old_motor", OldMotor, false},
		{"hmi", HMI, false},
		{"display", HMI, false},
		{" DPC18 ", DPC18, false},
		{"controller", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseVariant(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVariant(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseVariant(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestProfileForIsPrivateCopy(t *testing.T) {
	a, _ := ProfileFor(NewMotor)
	a.ReadyRequestID = "0000000"
	b, _ := ProfileFor(NewMotor)
	if b.ReadyRequestID != "5114000" {
		t.Errorf("profile table was modified through a returned profile")
	}
}

func TestFallback(t *testing.T) {
	p, _ := ProfileFor(NewMotor)
	fb, ok := p.Fallback()
	if !ok || fb.Variant != OldMotor {
		t.Fatalf("NEW_MOTOR fallback = %v, %v", fb, ok)
	}
	for _, v := range []Variant{OldMotor, HMI, DPC18} {
		p, _ := ProfileFor(v)
		if _, ok := p.Fallback(); ok {
			t.Errorf("%s should not have a fallback", v)
		}
	}
}

func TestRequiresAckWindow(t *testing.T) {
	p, _ := ProfileFor(NewMotor)
	const chunks = 600
	var got []int
	for i := p.BulkStart(); i <= chunks-2; i++ {
		if p.RequiresAck(i) {
			got = append(got, i)
		}
	}
	if len(got) != 2 || got[0] != 258 || got[1] != 514 {
		t.Errorf("NEW_MOTOR ack points for %d chunks = %v, want [258 514]", chunks, got)
	}
}

func TestRequiresAckPerChunk(t *testing.T) {
	p, _ := ProfileFor(OldMotor)
	for i := 0; i < 300; i++ {
		if !p.RequiresAck(i) {
			t.Fatalf("OLD_MOTOR chunk %d does not wait for an ack", i)
		}
	}
}

func TestRequiresAckDPC18(t *testing.T) {
	p, _ := ProfileFor(DPC18)
	if p.RequiresAck(258) {
		t.Error("DPC18 should not wait at 258")
	}
	if !p.RequiresAck(4098) {
		t.Error("DPC18 should wait at 4098")
	}
}

func TestChunkBody(t *testing.T) {
	tests := []struct {
		v      Variant
		marker func(*Profile) string
		index  int
		want   string
	}{
		{NewMotor, func(p *Profile) string { return p.ChunkFirst }, 0, "5140000"},
		{NewMotor, func(p *Profile) string { return p.ChunkLast }, 0x257, "5160257"},
		{OldMotor, func(p *Profile) string { return p.ChunkMiddle }, 1, "5150001"},
		{HMI, func(p *Profile) string { return p.ChunkMiddle }, 0x1FF, "51D01FF"},
	}
	for _, tt := range tests {
		p, _ := ProfileFor(tt.v)
		if got := p.ChunkBody(tt.marker(p), tt.index); got != tt.want {
			t.Errorf("%s ChunkBody() = %q, want %q", tt.v, got, tt.want)
		}
	}
	p, _ := ProfileFor(HMI)
	if got := p.AckFragment(2); got != "32A0002" {
		t.Errorf("HMI AckFragment(2) = %q", got)
	}
}
