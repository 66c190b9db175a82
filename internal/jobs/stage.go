// Package jobs defines job kinds, their stage machines, and the job record store.
package jobs

import (
	"fmt"
)

// Kind identifies which pipeline a job runs
type Kind string

// Kind constants
const (
	KindTranscribe      Kind = "TRANSCRIBE"
	KindAudioVideoSynth Kind = "AUDIO_VIDEO_SYNTH"
	KindEmbedding       Kind = "EMBEDDING"
)

// ParseKind converts a persisted kind name into a Kind
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindTranscribe, KindAudioVideoSynth, KindEmbedding:
		return k, nil
	default:
		return "", fmt.Errorf("unknown job kind: %q", s)
	}
}

// Stage is a position in a kind's stage machine. The zero value is invalid;
// stages are only obtained from the package-level values or ParseStage.
type Stage struct {
	kind  Kind
	name  string
	order int
}

// Stage values for TRANSCRIBE jobs
var (
	TranscribeKickoff       = Stage{KindTranscribe, "KICKOFF", 0}
	TranscribeSegment       = Stage{KindTranscribe, "SEGMENT", 1}
	TranscribeDraft         = Stage{KindTranscribe, "DRAFT", 2}
	TranscribeGenTranscript = Stage{KindTranscribe, "GEN_TRANSCRIPT", 3}
	TranscribeFinish        = Stage{KindTranscribe, "FINISH", 4}
)

// Stage values for AUDIO_VIDEO_SYNTH jobs
var (
	SynthProcessing = Stage{KindAudioVideoSynth, "PROCESSING", 0}
	SynthAudio      = Stage{KindAudioVideoSynth, "AUDIO", 1}
	SynthVideo      = Stage{KindAudioVideoSynth, "VIDEO", 2}
	SynthFinish     = Stage{KindAudioVideoSynth, "FINISH", 3}
	SynthFailed     = Stage{KindAudioVideoSynth, "FAILED", 4}
)

// Stage values for EMBEDDING jobs
var (
	EmbeddingPending = Stage{KindEmbedding, "PENDING", 0}
	EmbeddingFinish  = Stage{KindEmbedding, "FINISH", 1}
)

var stagesByKind = map[Kind][]Stage{
	KindTranscribe:      {TranscribeKickoff, TranscribeSegment, TranscribeDraft, TranscribeGenTranscript, TranscribeFinish},
	KindAudioVideoSynth: {SynthProcessing, SynthAudio, SynthVideo, SynthFinish, SynthFailed},
	KindEmbedding:       {EmbeddingPending, EmbeddingFinish},
}

// Stages returns the stages of a kind in enum order
func Stages(kind Kind) []Stage {
	stages := stagesByKind[kind]
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

// InitialStage returns the stage a new job of the kind starts in
func InitialStage(kind Kind) (Stage, error) {
	stages, ok := stagesByKind[kind]
	if !ok {
		return Stage{}, fmt.Errorf("unknown job kind: %q", kind)
	}
	return stages[0], nil
}

// ParseStage resolves a persisted stage name for a kind
func ParseStage(kind Kind, name string) (Stage, error) {
	for _, s := range stagesByKind[kind] {
		if s.name == name {
			return s, nil
		}
	}
	return Stage{}, fmt.Errorf("%w: %q is not valid for kind %s", ErrInvalidStage, name, kind)
}

// Kind returns the kind the stage belongs to
func (s Stage) Kind() Kind { return s.kind }

// String returns the persisted stage name
func (s Stage) String() string {
	if s.name == "" {
		return "INVALID"
	}
	return s.name
}

// Valid reports whether s is a member of its kind's enum
func (s Stage) Valid() bool {
	_, err := ParseStage(s.kind, s.name)
	return err == nil
}

// Terminal reports whether no further transition is defined from s
func (s Stage) Terminal() bool {
	return s == TranscribeFinish || s == SynthFinish || s == SynthFailed || s == EmbeddingFinish
}

// Failed reports whether s is the absorbing failure stage
func (s Stage) Failed() bool {
	return s == SynthFailed
}

// Before reports whether s is strictly earlier than other in enum order.
// Stages of different kinds never compare.
func (s Stage) Before(other Stage) bool {
	return s.kind == other.kind && s.order < other.order
}

// MarshalText implements encoding.TextMarshaler
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Next returns the stage that follows current on a successful advance.
// It is total over valid stages: terminal stages, and stages of unknown kinds,
// return an error.
func Next(current Stage) (Stage, error) {
	switch current {
	case TranscribeKickoff:
		return TranscribeSegment, nil
	case TranscribeSegment:
		return TranscribeDraft, nil
	case TranscribeDraft:
		return TranscribeGenTranscript, nil
	case TranscribeGenTranscript:
		return TranscribeFinish, nil
	case SynthProcessing:
		return SynthAudio, nil
	case SynthAudio:
		return SynthVideo, nil
	case SynthVideo:
		return SynthFinish, nil
	case EmbeddingPending:
		return EmbeddingFinish, nil
	}
	if current.Terminal() {
		return Stage{}, fmt.Errorf("stage %s of %s is terminal", current, current.kind)
	}
	return Stage{}, fmt.Errorf("invalid stage %s for kind %q", current, current.kind)
}

// FailureStage returns the absorbing failure stage reachable from current,
// if the kind defines one.
func FailureStage(current Stage) (Stage, bool) {
	if current.kind == KindAudioVideoSynth && !current.Terminal() {
		return SynthFailed, true
	}
	return Stage{}, false
}
