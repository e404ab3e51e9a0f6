package core

import "strings"

type Classification int

const (
	ClassNone Classification = iota
	ClassOptOut
	ClassOptIn
)

func (c Classification) String() string {
	switch c {
	case ClassOptOut:
		return "optout"
	case ClassOptIn:
		return "optin"
	default:
		return "none"
	}
}

const (
	DefaultOptOutPhrase = "STOP"
	DefaultOptInPhrase  = "START"
)

// SplitPhrases turns a comma separated phrase list into trimmed upper-case
// phrases, skipping empty items.
func SplitPhrases(list string) []string {
	var out []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MatchesPhrase reports whether text is phrase, alone or followed by a space
// and free text. Both arguments must already be upper-cased and trimmed.
func MatchesPhrase(text, phrase string) bool {
	return text == phrase || strings.HasPrefix(text, phrase+" ")
}

// FindConfig returns the first rule set whose number normalizes to the same
// identity as destination.
func FindConfig(configs []OptOutConfig, destination string) *OptOutConfig {
	dest := Normalize(destination)
	if dest == "" {
		return nil
	}
	for i := range configs {
		if Normalize(configs[i].OptoutNumber) == dest {
			return &configs[i]
		}
	}
	return nil
}

// Classify decides whether text sent to destination is an opt-out or opt-in
// command. Opt-out phrases win when a phrase appears in both lists. The
// matched rule set is nil when destination has none.
func Classify(configs []OptOutConfig, destination, text string) (Classification, *OptOutConfig) {
	cfg := FindConfig(configs, destination)
	if cfg == nil {
		return ClassNone, nil
	}
	t := strings.ToUpper(strings.TrimSpace(text))

	for _, p := range SplitPhrases(cfg.OptoutPhrase) {
		if MatchesPhrase(t, p) {
			return ClassOptOut, cfg
		}
	}
	for _, p := range SplitPhrases(cfg.OptinPhrase) {
		if MatchesPhrase(t, p) {
			return ClassOptIn, cfg
		}
	}
	return ClassNone, cfg
}
