package audio

import "time"

// VADConfig holds configuration for energy based voice activity detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive silent frames that end an utterance
	FrameSize       int     // Samples per frame
}

// VADConfigFor returns 20ms frames for format with the given threshold
func VADConfigFor(format Format, threshold float64) *VADConfig {
	frame := format.SampleRate / 50
	if frame < 1 {
		frame = 1
	}
	return &VADConfig{
		EnergyThreshold: threshold,
		SilenceFrames:   10, // 200ms of silence
		FrameSize:       frame,
	}
}

// VADDetector tracks speech state across consecutive frames
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = VADConfigFor(Mono16(16000), 500.0)
	}
	return &VADDetector{config: config}
}

// ProcessFrame processes an audio frame.
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// SpeechDuration returns how much of pcm the detector classifies as speech
func SpeechDuration(pcm []byte, format Format, threshold float64) time.Duration {
	config := VADConfigFor(format, threshold)
	vad := NewVADDetector(config)
	samples := BytesToSamples(pcm)

	speaking := 0
	for start := 0; start < len(samples); start += config.FrameSize {
		end := min(start+config.FrameSize, len(samples))
		if isSpeaking, _, _ := vad.ProcessFrame(samples[start:end]); isSpeaking {
			speaking += end - start
		}
	}

	return time.Duration(int64(speaking) * int64(time.Second) / int64(format.SampleRate))
}

// IsSilent reports whether no frame of pcm rises above threshold.
// A non-positive threshold disables detection.
func IsSilent(pcm []byte, format Format, threshold float64) bool {
	if threshold <= 0 || format.SampleRate <= 0 {
		return false
	}
	return SpeechDuration(pcm, format, threshold) == 0
}
