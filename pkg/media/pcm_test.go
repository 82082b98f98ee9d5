package media_test

import (
	"testing"

	"github.com/MrWong99/fieldvoice/pkg/media"
)

func TestMonoToStereo(t *testing.T) {
	t.Parallel()

	got := media.MonoToStereo([]byte{0x01, 0x02, 0x03, 0x04})
	want := []byte{0x01, 0x02, 0x01, 0x02, 0x03, 0x04, 0x03, 0x04}
	if string(got) != string(want) {
		t.Fatalf("MonoToStereo = %v, want %v", got, want)
	}
}

func TestStereoToMono_Averages(t *testing.T) {
	t.Parallel()

	// L = 100, R = 300 → 200.
	in := []byte{100, 0, 0x2c, 0x01}
	got := media.BytesToInt16s(media.StereoToMono(in))
	if len(got) != 1 || got[0] != 200 {
		t.Fatalf("StereoToMono = %v, want [200]", got)
	}
}

func TestResampleMono16_HalvesLength(t *testing.T) {
	t.Parallel()

	in := make([]byte, 3200) // 1600 samples at 32 kHz = 50 ms
	out := media.ResampleMono16(in, 32000, 16000)
	if len(out) != 1600 {
		t.Fatalf("len = %d, want 1600", len(out))
	}
}

func TestResample_SameRateUnchanged(t *testing.T) {
	t.Parallel()

	in := []byte{1, 2, 3, 4}
	if out := media.ResampleStereo16(in, 48000, 48000); &out[0] != &in[0] {
		t.Error("expected input slice to be returned unchanged")
	}
}

func TestPCMConverter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     media.Format
		dst     media.Format
		in      int
		wantLen int
	}{
		{"identity", media.Format{SampleRate: 16000, Channels: 1}, media.Format{SampleRate: 16000, Channels: 1}, 640, 640},
		{"downmix", media.Format{SampleRate: 16000, Channels: 2}, media.Format{SampleRate: 16000, Channels: 1}, 640, 320},
		{"resample and downmix", media.Format{SampleRate: 48000, Channels: 2}, media.Format{SampleRate: 16000, Channels: 1}, 1920, 320},
		{"odd length dropped", media.Format{SampleRate: 48000, Channels: 1}, media.Format{SampleRate: 16000, Channels: 1}, 3, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := &media.PCMConverter{Source: tc.src, Target: tc.dst}
			if got := len(c.Convert(make([]byte, tc.in))); got != tc.wantLen {
				t.Errorf("len = %d, want %d", got, tc.wantLen)
			}
		})
	}
}

func TestFormatString(t *testing.T) {
	t.Parallel()

	if got := (media.Format{SampleRate: 48000, Channels: 2}).String(); got != "48000Hz stereo" {
		t.Errorf("String() = %q", got)
	}
}
