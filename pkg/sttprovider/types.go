package sttprovider

import "time"

// Transcript represents a speech-to-text result from an STT provider. Both
// partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0-1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available.
	Words []WordDetail

	// SpeakerID identifies which room participant produced this audio.
	SpeakerID string

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost represents a vocabulary hint to boost in STT recognition, used
// to improve recognition of financial terms and contract vocabulary (escrow,
// milestone, indemnify) that general-purpose acoustic models under-recognize.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The room transport emits
	// 16000 Hz, 16-bit, mono PCM.
	SampleRate int

	// Channels is the number of audio channels; always 1 (mono) for this
	// server.
	Channels int

	// Language is the BCP-47 language tag for recognition. An empty string
	// leaves the choice to the provider; the Deepgram provider then uses its
	// configured default language rather than auto-detecting.
	Language string

	// Keywords is a list of vocabulary hints.
	Keywords []KeywordBoost
}
