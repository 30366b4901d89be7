// Package requestadapter validates and normalizes one inbound /analyze
// request into the shape the Decision Engine expects, before any model is
// invoked.
package requestadapter

import (
	"strings"
	"time"

	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/apperr"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/history"
	"github.com/The-Alphabet-Cartel/ash-nlp-sub005/internal/model"
)

// MaxMessageLength is the hard cap on message length after trimming.
const MaxMessageLength = 10000

// Raw is one /analyze request body, pre-validation.
type Raw struct {
	Message             string
	Verbosity           string
	ConsensusAlgorithm  string
	ResolutionStrategy  string
	MessageHistory      []history.RawItem
	UserTimezone        string
}

// Options carries the Config View fields the adapter needs.
type Options struct {
	PlatformCharCap   int
	HardFailOnCap     bool
	DefaultTimezone   string
}

// Normalized is the validated, defaulted request the Decision Engine consumes.
type Normalized struct {
	Message            string
	WasTruncated        bool
	Verbosity           model.Verbosity
	ConsensusAlgorithm  model.ConsensusAlgorithm
	ResolutionStrategy  model.ResolutionStrategy
	History             []model.HistoryItem
	Timezone            *time.Location
	TimezoneFellBack    bool
}

// Adapt validates and normalizes a raw request, returning a typed
// validation_error on the first violation encountered.
func Adapt(raw Raw, opts Options) (Normalized, *apperr.Error) {
	var out Normalized

	trimmed := strings.TrimSpace(raw.Message)
	if trimmed == "" {
		return out, apperr.Validation("message must not be empty",
			apperr.Detail{Code: "empty_message", Field: "message"})
	}
	if len([]rune(trimmed)) > MaxMessageLength {
		return out, apperr.Validation("message exceeds maximum length",
			apperr.Detail{Code: "message_too_long", Field: "message"})
	}

	msg, truncated := enforcePlatformCap(trimmed, opts)
	if truncated && opts.HardFailOnCap {
		return out, apperr.Validation("message exceeds the upstream platform character cap",
			apperr.Detail{Code: "platform_cap_exceeded", Field: "message"})
	}
	out.Message = msg
	out.WasTruncated = truncated

	verbosity := model.Verbosity(raw.Verbosity)
	switch verbosity {
	case "":
		verbosity = model.VerbosityStandard
	case model.VerbosityMinimal, model.VerbosityStandard, model.VerbosityDetailed:
	default:
		return out, apperr.Validation("verbosity is not recognized",
			apperr.Detail{Code: "invalid_verbosity", Field: "verbosity"})
	}
	out.Verbosity = verbosity

	if raw.ConsensusAlgorithm != "" {
		alg := model.ConsensusAlgorithm(raw.ConsensusAlgorithm)
		switch alg {
		case model.ConsensusWeightedVoting, model.ConsensusMajorityVoting, model.ConsensusUnanimous, model.ConsensusConflictAware:
			out.ConsensusAlgorithm = alg
		default:
			return out, apperr.Validation("consensus_algorithm is not recognized",
				apperr.Detail{Code: "invalid_consensus_algorithm", Field: "consensus_algorithm"})
		}
	}

	if raw.ResolutionStrategy != "" {
		strat := model.ResolutionStrategy(raw.ResolutionStrategy)
		switch strat {
		case model.ResolutionConservative, model.ResolutionOptimistic, model.ResolutionMean, model.ResolutionReviewFlag:
			out.ResolutionStrategy = strat
		default:
			return out, apperr.Validation("resolution_strategy is not recognized",
				apperr.Detail{Code: "invalid_resolution_strategy", Field: "resolution_strategy"})
		}
	}

	hist, herr := history.Validate(raw.MessageHistory)
	if herr != nil {
		return out, herr
	}
	out.History = hist

	tzName := raw.UserTimezone
	if tzName == "" {
		tzName = opts.DefaultTimezone
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		loc, err = time.LoadLocation(opts.DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
		out.TimezoneFellBack = true
	}
	out.Timezone = loc

	return out, nil
}

// enforcePlatformCap smart-truncates msg to the platform cap at a sentence
// boundary when it exceeds the cap and hard-fail is not configured.
func enforcePlatformCap(msg string, opts Options) (string, bool) {
	maxChars := opts.PlatformCharCap
	if maxChars <= 0 || len([]rune(msg)) <= maxChars {
		return msg, false
	}
	if opts.HardFailOnCap {
		return msg, true
	}
	return truncateAtSentenceBoundary(msg, maxChars), true
}

// truncateAtSentenceBoundary cuts msg to at most maxChars runes, preferring
// the last sentence-ending punctuation within the window so the truncated
// message is not cut mid-sentence.
func truncateAtSentenceBoundary(msg string, maxChars int) string {
	runes := []rune(msg)
	if len(runes) <= maxChars {
		return msg
	}
	window := runes[:maxChars]
	for i := len(window) - 1; i >= 0; i-- {
		if isSentenceEnd(window[i]) {
			return strings.TrimSpace(string(window[:i+1]))
		}
	}
	return strings.TrimSpace(string(window))
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
