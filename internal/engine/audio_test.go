package engine

import "testing"

func TestPrepareAudioPadsShortInput(t *testing.T) {
	// 0.5s at 16kHz must be padded to the 1s minimum
	in := make([]float32, 8000)
	for i := range in {
		in[i] = 0.25
	}
	out := prepareAudio(in, 16000)

	if len(out) != 16000 {
		t.Fatalf("expected 16000 samples, got %d", len(out))
	}
	// prefix is the peak-normalized input (0.25 scaled to 1.0)
	for i := 0; i < 8000; i++ {
		if out[i] != 1.0 {
			t.Fatalf("sample %d = %v, want 1.0", i, out[i])
		}
	}
	for i := 8000; i < 16000; i++ {
		if out[i] != 0 {
			t.Fatalf("padding sample %d = %v, want 0", i, out[i])
		}
	}
}

func TestPrepareAudioTruncatesLongInput(t *testing.T) {
	in := make([]float32, 1_000_000)
	for i := range in {
		in[i] = 0.5
	}
	out := prepareAudio(in, 16000)

	if len(out) != 16000*30 {
		t.Fatalf("expected %d samples, got %d", 16000*30, len(out))
	}
	if out[0] != 1.0 || out[len(out)-1] != 1.0 {
		t.Fatal("expected normalized samples across the window")
	}
}

func TestPrepareAudioNormalizesPeak(t *testing.T) {
	in := []float32{0.5, -0.25, 0.1}
	out := prepareAudio(in, 16000)

	if out[0] != 1.0 {
		t.Fatalf("peak sample = %v, want 1.0", out[0])
	}
	if out[1] != -0.5 {
		t.Fatalf("sample 1 = %v, want -0.5", out[1])
	}
	if out[2] != 0.2 {
		t.Fatalf("sample 2 = %v, want 0.2", out[2])
	}
}

func TestPrepareAudioAllZeroStaysZero(t *testing.T) {
	in := make([]float32, 100)
	out := prepareAudio(in, 16000)
	if len(out) != 16000 {
		t.Fatalf("expected min window, got %d", len(out))
	}
	for i, s := range out {
		if s != 0 {
			t.Fatalf("sample %d = %v, want 0", i, s)
		}
	}
}

func TestMeanEnergy(t *testing.T) {
	if meanEnergy(nil) != 0 {
		t.Fatal("empty input must have zero energy")
	}
	quiet := []float32{0.001, -0.002, 0.003}
	if e := meanEnergy(quiet); e >= silenceThreshold {
		t.Fatalf("quiet energy %v not below threshold", e)
	}
	speech := []float32{0.5, -0.4, 0.3}
	if e := meanEnergy(speech); e < silenceThreshold {
		t.Fatalf("speech energy %v below threshold", e)
	}
}
