package voice

import (
	"math"
	"testing"
)

func TestPCM16RoundTrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 0.999, 32767.0 / 32768, -1.0, 0.000030517578125}
	got := DecodePCM16(EncodePCM16(samples))
	if len(got) != len(samples) {
		t.Fatalf("round trip produced %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if diff := math.Abs(float64(got[i] - samples[i])); diff > 1.0/32768 {
			t.Errorf("sample[%d] = %v, want within one quantum of %v", i, got[i], samples[i])
		}
	}
}

func TestEncodePCM16Clamps(t *testing.T) {
	out := EncodePCM16([]float32{2.0, -2.0})
	decoded := DecodePCM16(out)
	if decoded[0] < 0.99 {
		t.Errorf("overdriven sample decoded to %v, want near full scale", decoded[0])
	}
	if decoded[1] > -0.99 {
		t.Errorf("underdriven sample decoded to %v, want near negative full scale", decoded[1])
	}
}

func TestPCM16DecoderCarriesOddByte(t *testing.T) {
	dec, err := NewChunkDecoder(AudioTypePCM16)
	if err != nil {
		t.Fatal(err)
	}

	full := EncodePCM16([]float32{0.1, 0.2, 0.3})
	// Split on an odd boundary: the dangling byte must carry to the next
	// chunk instead of corrupting the stream.
	first, err := dec.Decode(full[:3])
	if err != nil {
		t.Fatal(err)
	}
	second, err := dec.Decode(full[3:])
	if err != nil {
		t.Fatal(err)
	}

	got := append(first, second...)
	want := DecodePCM16(full)
	if len(got) != len(want) {
		t.Fatalf("split decode produced %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// A stream cut mid-sample surfaces as a decode failure at Flush.
	if _, err := dec.Decode([]byte{0x42}); err != nil {
		t.Fatal(err)
	}
	if _, err := dec.Flush(); CodeOf(err) != ErrorCodeDecode {
		t.Errorf("Flush on dangling byte = %v, want decode failure", err)
	}
}

func TestAudioTypeExtensions(t *testing.T) {
	tests := []struct {
		t    AudioType
		ext  string
		mime string
	}{
		{AudioTypePCM16, "raw", "audio/raw"},
		{AudioTypeMP3, "mp3", "audio/mpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.t.String(), func(t *testing.T) {
			if got := tt.t.Extension(); got != tt.ext {
				t.Errorf("Extension = %q, want %q", got, tt.ext)
			}
			if got := tt.t.MIMEType(); got != tt.mime {
				t.Errorf("MIMEType = %q, want %q", got, tt.mime)
			}
			back, ok := AudioTypeForExtension(tt.ext)
			if !ok || back != tt.t {
				t.Errorf("AudioTypeForExtension(%q) = %v, %v", tt.ext, back, ok)
			}
		})
	}

	if _, ok := AudioTypeForExtension("ogg"); ok {
		t.Error("unknown extension resolved to an audio type")
	}
}
