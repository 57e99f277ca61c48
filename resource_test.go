package netmux

import "testing"

func TestResourceIDRoundTrip(t *testing.T) {
	cases := []struct {
		adapterID uint8
		rtype     ResourceType
		serial    uint32
	}{
		{0, Remote, 0},
		{0, Local, 1},
		{7, Remote, 12345},
		{255, Local, serialMax},
	}
	for _, c := range cases {
		id := newResourceID(c.adapterID, c.rtype, c.serial)
		if got := id.AdapterID(); got != c.adapterID {
			t.Errorf("AdapterID() = %d, want %d", got, c.adapterID)
		}
		if got := id.ResourceType(); got != c.rtype {
			t.Errorf("ResourceType() = %v, want %v", got, c.rtype)
		}
		if got := id.Serial(); got != c.serial&serialMax {
			t.Errorf("Serial() = %d, want %d", got, c.serial&serialMax)
		}
	}
}

func TestIDGeneratorMonotonic(t *testing.T) {
	gen := newIDGenerator(3, Remote)
	prev := gen.generate()
	for i := 0; i < 100; i++ {
		next := gen.generate()
		if next.Serial() != prev.Serial()+1 {
			t.Fatalf("serial not monotonic: %d -> %d", prev.Serial(), next.Serial())
		}
		if next.AdapterID() != 3 || next.ResourceType() != Remote {
			t.Fatalf("unexpected id fields: %s", next)
		}
		prev = next
	}
}

func TestIDGeneratorDistinctNamespaces(t *testing.T) {
	remotes := newIDGenerator(0, Remote)
	locals := newIDGenerator(0, Local)
	r := remotes.generate()
	l := locals.generate()
	if r == l {
		t.Fatalf("Remote and Local namespaces collided: %s == %s", r, l)
	}
	if r.ResourceType() == l.ResourceType() {
		t.Fatalf("expected distinct resource types, got %v and %v", r.ResourceType(), l.ResourceType())
	}
}
