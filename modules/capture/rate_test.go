package capture_test

import (
	"math"
	"testing"
	"time"

	"github.com/sumirjha/hdmirx/modules/capture"
	"github.com/sumirjha/hdmirx/modules/capture/capturetest"
)

func evenTimes(n int, interval time.Duration) []time.Time {
	base := time.Unix(1000, 0)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = base.Add(time.Duration(i) * interval)
	}
	return out
}

// TestMeasureRate verifies mean, spread and the stability thresholds.
func TestMeasureRate(t *testing.T) {
	frame := time.Second / 60

	jittery := evenTimes(60, frame)
	for i := 1; i < len(jittery); i += 2 {
		// every other frame arrives half a frame late
		jittery[i] = jittery[i].Add(frame / 2)
	}

	tests := []struct {
		name       string
		times      []time.Time
		wantFPS    float64
		wantStable bool
	}{
		{"empty", nil, 0, false},
		{"single frame", evenTimes(1, frame), 0, false},
		{"steady 60", evenTimes(60, frame), 60, true},
		{"steady 25", evenTimes(50, 40*time.Millisecond), 25, true},
		{"alternating late frames", jittery, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := capture.MeasureRate(tt.times)
			if rs.Frames != len(tt.times) {
				t.Errorf("Frames = %d, want %d", rs.Frames, len(tt.times))
			}
			if tt.wantFPS > 0 && math.Abs(rs.FPSMean-tt.wantFPS) > 0.1 {
				t.Errorf("FPSMean = %.2f, want %.2f", rs.FPSMean, tt.wantFPS)
			}
			if rs.Stable != tt.wantStable {
				t.Errorf("Stable = %v, want %v (stddev %.2f, jitter %v)", rs.Stable, tt.wantStable, rs.FPSStdDev, rs.JitterMean)
			}
			if rs.FPSMin > rs.FPSMax {
				t.Errorf("FPSMin %.2f > FPSMax %.2f", rs.FPSMin, rs.FPSMax)
			}
		})
	}
}

// TestPipelineReportsInputRate verifies the measurement is published after
// the sampling window.
func TestPipelineReportsInputRate(t *testing.T) {
	dev := capturetest.New(16)
	p := startPipeline(t, dev, capture.PolicyImmediate)

	dequeued := 0
	for dequeued < 59 {
		dev.Fill(1)
		b, err := p.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue() failed: %v", err)
		}
		p.Done(b)
		dequeued++
	}
	if _, ok := p.InputRate(); ok {
		t.Fatal("InputRate() reported before the window completed")
	}
	if p.Stats().InputRate != nil {
		t.Fatal("Stats().InputRate set before the window completed")
	}

	dev.Fill(1)
	b, err := p.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue() failed: %v", err)
	}
	p.Done(b)

	rs, ok := p.InputRate()
	if !ok || rs.Frames != 60 {
		t.Fatalf("InputRate() = %+v, %v", rs, ok)
	}
	if p.Stats().InputRate == nil {
		t.Error("Stats().InputRate not set")
	}
	t.Logf("✅ measured %.0f fps over %d frames", rs.FPSMean, rs.Frames)
}
