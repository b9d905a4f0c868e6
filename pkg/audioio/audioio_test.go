package audioio

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"zero rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"three channels", func(c *Config) { c.Channels = 3 }, true},
		{"zero buffer", func(c *Config) { c.BufferDuration = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	cfg := DefaultConfig()
	if cfg.FrameSize() != 960 {
		t.Errorf("FrameSize = %d, want 960", cfg.FrameSize())
	}
	if cfg.FrameBytes() != 1920 {
		t.Errorf("FrameBytes = %d, want 1920", cfg.FrameBytes())
	}
}

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]Backend{"": BackendAuto, "auto": BackendAuto, "alsa": BackendALSA, "sox": BackendSox, "mock": BackendMock} {
		got, err := ParseBackend(in)
		if err != nil || got != want {
			t.Errorf("ParseBackend(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseBackend("coreaudio"); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestSampleCodec(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	got := BytesToSamples(SamplesToBytes(samples))
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}

	b := SamplesToBytes([]int16{0x0102})
	if b[0] != 0x02 || b[1] != 0x01 {
		t.Errorf("expected little-endian, got %x", b)
	}

	chunk := ChunkFromBytes(make([]byte, 960*2), 48000, 1)
	if chunk.Duration() != 20*time.Millisecond {
		t.Errorf("duration = %v", chunk.Duration())
	}
}

func TestResample(t *testing.T) {
	in := make([]int16, 480)
	for i := range in {
		in[i] = int16(i)
	}

	if got := Resample(in, 48000, 48000); len(got) != 480 {
		t.Errorf("same rate changed length to %d", len(got))
	}
	down := Resample(in, 48000, 24000)
	if len(down) != 240 {
		t.Fatalf("downsampled length = %d, want 240", len(down))
	}
	if down[10] != 20 {
		t.Errorf("down[10] = %d, want 20", down[10])
	}
	up := Resample(in[:4], 24000, 48000)
	if len(up) != 8 || up[1] != 0 || up[2] != 1 {
		t.Errorf("upsampled = %v", up)
	}
	if got := Resample(nil, 48000, 24000); len(got) != 0 {
		t.Error("empty input should stay empty")
	}
}

func TestConvert(t *testing.T) {
	stereo := AudioChunk{Samples: []int16{10, 20, 30, 40}, SampleRate: 48000, Channels: 2}

	mono := Convert(stereo, 48000, 1)
	if mono.Channels != 1 || len(mono.Samples) != 2 || mono.Samples[0] != 15 || mono.Samples[1] != 35 {
		t.Errorf("downmix = %+v", mono)
	}

	same := Convert(mono, 48000, 1)
	if &same.Samples[0] != &mono.Samples[0] {
		t.Error("no-op convert should not copy")
	}

	wide := Convert(AudioChunk{Samples: []int16{7}, SampleRate: 24000, Channels: 1}, 24000, 2)
	if len(wide.Samples) != 2 || wide.Samples[0] != 7 || wide.Samples[1] != 7 {
		t.Errorf("widen = %+v", wide)
	}
}

func TestMockSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 5 * time.Millisecond
	src := NewMockSource(cfg, WithTone(440, 0.5))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := src.Read(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("read before start should be EOF, got %v", err)
	}
	if err := src.Start(ctx); err != nil {
		t.Fatal(err)
	}
	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(chunk.Samples) != cfg.FrameSize() {
		t.Errorf("chunk has %d samples, want %d", len(chunk.Samples), cfg.FrameSize())
	}
	nonZero := false
	for _, s := range chunk.Samples {
		if s != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Error("tone should not be silent")
	}

	src.Stop()
	src.Stop()
	if src.Running() {
		t.Error("source should be stopped")
	}
	for {
		if _, err := src.Read(ctx); err != nil {
			if !errors.Is(err, io.EOF) {
				t.Errorf("expected EOF after stop, got %v", err)
			}
			break
		}
	}

	if err := src.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if src.Starts() != 2 {
		t.Errorf("starts = %d", src.Starts())
	}
	src.Stop()
}

func TestMockSink(t *testing.T) {
	sink := NewMockSink(DefaultConfig())
	ctx := context.Background()

	if err := sink.Write(ctx, AudioChunk{}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
	sink.Start(ctx)
	sink.Write(ctx, AudioChunk{Samples: []int16{1, 2}})
	if len(sink.Written()) != 1 {
		t.Errorf("written = %d", len(sink.Written()))
	}
	sink.Stop()
	if sink.Running() {
		t.Error("sink should be stopped")
	}
}

func TestPipeSource(t *testing.T) {
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	cfg := DefaultConfig()
	frame := cfg.FrameBytes()
	data := make([]byte, frame*3)
	for i := range data {
		data[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "capture.raw")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewPipeSource("test", []string{cat, path}, cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatal(err)
	}

	var got int
	for {
		chunk, err := src.Read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if len(chunk.Samples) != cfg.FrameSize() {
			t.Errorf("chunk samples = %d", len(chunk.Samples))
		}
		got++
	}
	if got != 3 {
		t.Errorf("read %d chunks, want 3", got)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
}

func TestPipeSink(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	out := filepath.Join(t.TempDir(), "played.raw")

	sink := NewPipeSink("test", []string{sh, "-c", "cat > " + out}, DefaultConfig(), nil)
	ctx := context.Background()
	if err := sink.Write(ctx, AudioChunk{}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
	if err := sink.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sink.Write(ctx, AudioChunk{Samples: []int16{1, 2, 3}}); err != nil {
		t.Fatal(err)
	}
	sink.Stop()
	sink.Stop()

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 6 {
		t.Errorf("played %d bytes, want 6", len(b))
	}
}

func TestBackendArgs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = "plughw:1,0"
	args := arecordArgs(cfg)
	if args[0] != "arecord" {
		t.Errorf("command = %q", args[0])
	}
	want := map[string]string{"-D": "plughw:1,0", "-f": "S16_LE", "-r": "48000", "-c": "1"}
	for i := 1; i < len(args)-1; i++ {
		if v, ok := want[args[i]]; ok && args[i+1] != v {
			t.Errorf("%s = %q, want %q", args[i], args[i+1], v)
		}
	}
	if play := soxPlayArgs(cfg); play[0] != "play" || play[len(play)-1] != "-" {
		t.Errorf("sox play args = %v", play)
	}
}
