package detector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestDetection_TopCategory(t *testing.T) {
	t.Run("no categories", func(t *testing.T) {
		_, ok := Detection{}.TopCategory()
		if ok {
			t.Error("expected ok=false for a detection without categories")
		}
	})

	t.Run("first category wins", func(t *testing.T) {
		d := Detection{Categories: []Category{{Name: "cat", Score: 0.4}, {Name: "dog", Score: 0.9}}}

		c, ok := d.TopCategory()
		if !ok {
			t.Fatal("expected ok=true")
		}
		if c.Name != "cat" {
			t.Errorf("expected first category 'cat', got %q", c.Name)
		}
	})
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions(TaskPose)

	if opts.Task != TaskPose {
		t.Errorf("expected task %q, got %q", TaskPose, opts.Task)
	}
	if opts.Delegate != DelegateGPU {
		t.Errorf("expected delegate %q, got %q", DelegateGPU, opts.Delegate)
	}
	if opts.RunningMode != RunningModeVideo {
		t.Errorf("expected running mode %q, got %q", RunningModeVideo, opts.RunningMode)
	}
}

func TestMockDetector(t *testing.T) {
	t.Run("returns empty result by default", func(t *testing.T) {
		mock := NewMockDetector()

		res, err := mock.Detect(nil, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.Detections) != 0 {
			t.Errorf("expected no detections, got %d", len(res.Detections))
		}
	})

	t.Run("returns configured result and records timestamps", func(t *testing.T) {
		mock := NewMockDetector()
		mock.SetResult(FaceResult(Box{OriginX: 10, OriginY: 10, Width: 100, Height: 50}, 0.87))

		for _, ts := range []float64{16, 33, 50} {
			if _, err := mock.Detect(nil, ts); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		if mock.Calls() != 3 {
			t.Errorf("expected 3 calls, got %d", mock.Calls())
		}
		got := mock.Timestamps()
		if len(got) != 3 || got[0] != 16 || got[2] != 50 {
			t.Errorf("unexpected timestamps: %v", got)
		}
	})

	t.Run("returns configured error", func(t *testing.T) {
		mock := NewMockDetector()

		expectedErr := errors.New("detection failed")
		mock.SetError(expectedErr)

		res, err := mock.Detect(nil, 0)
		if err != expectedErr {
			t.Errorf("expected error %v, got %v", expectedErr, err)
		}
		if res != nil {
			t.Errorf("expected nil result when error is set, got %v", res)
		}
	})

	t.Run("implements Detector interface", func(t *testing.T) {
		var _ Detector = (*MockDetector)(nil)
	})
}

func TestFactories(t *testing.T) {
	mock := NewMockDetector()

	d, err := StaticFactory(mock)(context.Background(), DefaultOptions(TaskFace))
	if err != nil {
		t.Fatalf("StaticFactory: %v", err)
	}
	if d != mock {
		t.Error("expected StaticFactory to return the given detector")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := StaticFactory(mock)(ctx, DefaultOptions(TaskFace)); err == nil {
		t.Error("expected error from cancelled context")
	}

	_, err = FailingFactory(errors.New("no GPU"))(context.Background(), DefaultOptions(TaskFace))
	if !errors.Is(err, ErrEngineInit) {
		t.Errorf("expected ErrEngineInit, got %v", err)
	}
}

func TestConnections(t *testing.T) {
	tests := []struct {
		name        string
		connections []Connection
		points      int
	}{
		{"hand", HandConnections, NumHandLandmarks},
		{"pose", PoseConnections, NumPoseLandmarks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.connections) == 0 {
				t.Fatal("expected connections")
			}
			for _, c := range tt.connections {
				if c.From < 0 || c.From >= tt.points || c.To < 0 || c.To >= tt.points {
					t.Errorf("connection %v out of range for %d landmarks", c, tt.points)
				}
			}
		})
	}
}

func TestOpenPalmLandmarks(t *testing.T) {
	points := OpenPalmLandmarks()

	if len(points) != NumHandLandmarks {
		t.Fatalf("expected %d landmarks, got %d", NumHandLandmarks, len(points))
	}

	// Fingertips are above their knuckles on an open palm.
	for _, pair := range [][2]int{{IndexTip, IndexMCP}, {MiddleTip, MiddleMCP}, {RingTip, RingMCP}, {PinkyTip, PinkyMCP}} {
		if points[pair[0]].Y >= points[pair[1]].Y {
			t.Errorf("expected tip %d above knuckle %d", pair[0], pair[1])
		}
	}

	for i, p := range points {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			t.Errorf("landmark %d not normalized: %+v", i, p)
		}
	}
}

func TestFrameProtocol(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		var buf bytes.Buffer
		payload := []byte{0xff, 0xd8, 0x01, 0x02, 0xff, 0xd9}

		if err := WriteFrame(&buf, 1234.5, payload); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		if buf.Len() != 12+len(payload) {
			t.Errorf("expected %d bytes on the wire, got %d", 12+len(payload), buf.Len())
		}

		ts, data, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if ts != 1234.5 {
			t.Errorf("expected timestamp 1234.5, got %v", ts)
		}
		if !bytes.Equal(data, payload) {
			t.Errorf("payload mismatch: %v", data)
		}

		if _, _, err := ReadFrame(&buf); err != io.EOF {
			t.Errorf("expected io.EOF on empty stream, got %v", err)
		}
	})

	t.Run("rejects oversized frame", func(t *testing.T) {
		header := []byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0, 0, 0, 0, 0}

		_, _, err := ReadFrame(bytes.NewReader(header))
		if !errors.Is(err, ErrFrameTooLarge) {
			t.Errorf("expected ErrFrameTooLarge, got %v", err)
		}
	})

	t.Run("truncated payload", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, 0, []byte("abcdef")); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		truncated := buf.Bytes()[:buf.Len()-2]

		if _, _, err := ReadFrame(bytes.NewReader(truncated)); err == nil {
			t.Error("expected error for truncated frame")
		}
	})
}

func TestSelectDetections(t *testing.T) {
	labels := []string{"background", "person", "bicycle", "car"}
	raw := [][7]float32{
		{0, 1, 0.62, 0.1, 0.1, 0.5, 0.9},
		{0, 3, 0.91, 0.5, 0.5, 0.75, 0.75},
		{0, 2, 0.30, 0.0, 0.0, 0.2, 0.2},
		{0, 9, 0.70, -0.2, 0.0, 0.1, 0.5},
		{0, 1, 0.80, 0.6, 0.6, 0.6, 0.7},
	}

	got := selectDetections(raw, 640, 480, labels, 0.5, 0)

	if len(got) != 3 {
		t.Fatalf("expected 3 detections, got %d", len(got))
	}

	if got[0].Categories[0].Name != "car" {
		t.Errorf("expected best score first, got %q", got[0].Categories[0].Name)
	}
	box := got[0].Box
	if box.OriginX != 320 || box.OriginY != 240 || box.Width != 160 || box.Height != 120 {
		t.Errorf("unexpected box: %+v", *box)
	}

	if got[1].Categories[0].Name != "class 9" {
		t.Errorf("expected fallback label for unknown class, got %q", got[1].Categories[0].Name)
	}
	if got[1].Box.OriginX != 0 {
		t.Errorf("expected box clamped to frame, got %+v", *got[1].Box)
	}

	limited := selectDetections(raw, 640, 480, labels, 0.5, 1)
	if len(limited) != 1 || limited[0].Categories[0].Name != "car" {
		t.Errorf("expected only the best detection, got %+v", limited)
	}
}

func TestParseLabels(t *testing.T) {
	labels, err := parseLabels(strings.NewReader("background\nperson\n  bicycle  \n"))
	if err != nil {
		t.Fatalf("parseLabels: %v", err)
	}

	want := []string{"background", "person", "bicycle"}
	if len(labels) != len(want) {
		t.Fatalf("expected %d labels, got %d", len(want), len(labels))
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("label %d: expected %q, got %q", i, want[i], labels[i])
		}
	}
}
