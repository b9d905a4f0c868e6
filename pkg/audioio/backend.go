package audioio

import "strconv"

// arecordArgs returns the ALSA capture command for cfg.
func arecordArgs(cfg Config) []string {
	return append([]string{"arecord"}, alsaFormat(cfg)...)
}

// aplayArgs returns the ALSA playback command for cfg.
func aplayArgs(cfg Config) []string {
	return append([]string{"aplay"}, alsaFormat(cfg)...)
}

func alsaFormat(cfg Config) []string {
	device := cfg.Device
	if device == "" {
		device = "default"
	}
	return []string{
		"-q",
		"-D", device,
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
	}
}

// soxRecArgs returns the sox capture command for cfg.
func soxRecArgs(cfg Config) []string {
	return append([]string{"rec"}, append(soxFormat(cfg), "-")...)
}

// soxPlayArgs returns the sox playback command for cfg.
func soxPlayArgs(cfg Config) []string {
	return append([]string{"play"}, append(soxFormat(cfg), "-")...)
}

func soxFormat(cfg Config) []string {
	return []string{
		"-q",
		"-t", "raw",
		"-b", "16",
		"-e", "signed-integer",
		"-L",
		"-r", strconv.Itoa(cfg.SampleRate),
		"-c", strconv.Itoa(cfg.Channels),
	}
}
