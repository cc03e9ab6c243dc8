package cdc

import (
	"bytes"
	"testing"
)

func TestLineCoding_RoundTrip(t *testing.T) {
	tests := []LineCoding{
		DefaultLineCoding,
		{DTERate: 115200, CharFormat: StopBits1, ParityType: ParityNone, DataBits: 8},
		{DTERate: 9600, CharFormat: StopBits2, ParityType: ParityEven, DataBits: 7},
		{DTERate: 0x01020304, CharFormat: StopBits1_5, ParityType: ParitySpace, DataBits: 5},
	}

	for _, lc := range tests {
		var buf [LineCodingSize]byte
		if n := lc.MarshalTo(buf[:]); n != LineCodingSize {
			t.Fatalf("MarshalTo() = %d, want %d", n, LineCodingSize)
		}

		var got LineCoding
		if !ParseLineCoding(buf[:], &got) {
			t.Fatal("ParseLineCoding() = false")
		}
		if got != lc {
			t.Errorf("round trip = %+v, want %+v", got, lc)
		}

		var again [LineCodingSize]byte
		got.MarshalTo(again[:])
		if again != buf {
			t.Errorf("re-encoded = % X, want % X", again, buf)
		}
	}
}

func TestLineCoding_Encoding(t *testing.T) {
	lc := LineCoding{DTERate: 115200, CharFormat: StopBits2, ParityType: ParityOdd, DataBits: 8}
	var buf [LineCodingSize]byte
	lc.MarshalTo(buf[:])

	want := []byte{0x00, 0xC2, 0x01, 0x00, 0x02, 0x01, 0x08}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("MarshalTo() = % X, want % X", buf, want)
	}
	if n := lc.MarshalTo(buf[:6]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
	if ParseLineCoding(want[:6], &lc) {
		t.Error("ParseLineCoding(short) = true, want false")
	}
}

func TestDecodeOutOfRange(t *testing.T) {
	for b := 0; b < 256; b++ {
		s := DecodeStopBits(byte(b))
		if b <= 2 {
			if s != StopBits(b) {
				t.Errorf("DecodeStopBits(%d) = %d, want %d", b, s, b)
			}
		} else if s != StopBits1 {
			t.Errorf("DecodeStopBits(%d) = %d, want StopBits1", b, s)
		}

		p := DecodeParity(byte(b))
		if b <= 4 {
			if p != Parity(b) {
				t.Errorf("DecodeParity(%d) = %d, want %d", b, p, b)
			}
		} else if p != ParityNone {
			t.Errorf("DecodeParity(%d) = %d, want ParityNone", b, p)
		}
	}

	data := []byte{0x80, 0x25, 0x00, 0x00, 0x07, 0x09, 0x08}
	var lc LineCoding
	ParseLineCoding(data, &lc)
	if lc.CharFormat != StopBits1 || lc.ParityType != ParityNone {
		t.Errorf("ParseLineCoding() = %+v, want defaults for stop bits and parity", lc)
	}
	if lc.DTERate != 9600 {
		t.Errorf("DTERate = %d, want 9600", lc.DTERate)
	}
}

func TestLineCodingStrings(t *testing.T) {
	lc := LineCoding{CharFormat: StopBits1_5, ParityType: ParityMark}
	if got := lc.CharFormat.String() + lc.ParityType.String(); got != "1.5M" {
		t.Errorf("strings = %q, want %q", got, "1.5M")
	}
}

func TestFunctionalDescriptors(t *testing.T) {
	tests := []struct {
		name string
		desc interface{ MarshalTo([]byte) int }
		want []byte
	}{
		{"header", &HeaderDescriptor{CDCVersion: CDCVersion}, []byte{5, 0x24, 0x00, 0x10, 0x01}},
		{"acm", &ACMDescriptor{Capabilities: ACMCapLineCoding}, []byte{4, 0x24, 0x02, 0x02}},
		{"union", &UnionDescriptor{MasterInterface: 2, SlaveInterface0: 3}, []byte{5, 0x24, 0x06, 2, 3}},
		{"call management", &CallManagementDescriptor{DataInterface: 3}, []byte{5, 0x24, 0x01, 0, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [8]byte
			n := tt.desc.MarshalTo(buf[:])
			if !bytes.Equal(buf[:n], tt.want) {
				t.Errorf("MarshalTo() = % X, want % X", buf[:n], tt.want)
			}
			if n := tt.desc.MarshalTo(buf[:3]); n != 0 {
				t.Errorf("MarshalTo(short) = %d, want 0", n)
			}
		})
	}
}
