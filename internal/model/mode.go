package model

// GenerationMode identifies which combination of prompt/lyrics/description
// fields drives the backend endpoint and the pricing factor.
type GenerationMode string

const (
	ModeSimple                    GenerationMode = "simple"
	ModePromptWithLyrics          GenerationMode = "prompt_with_lyrics"
	ModePromptWithDescribedLyrics GenerationMode = "prompt_with_described_lyrics"
)

var ValidGenerationModes = []GenerationMode{
	ModeSimple, ModePromptWithLyrics, ModePromptWithDescribedLyrics,
}

// ResolveGenerationMode selects exactly one mode from the song's fields,
// in precedence order: full description, then lyrics+prompt, then
// described-lyrics+prompt. Returns ErrNoGenerationMode when none matches.
func ResolveGenerationMode(s *Song) (GenerationMode, error) {
	switch {
	case deref(s.FullDescribedSong) != "":
		return ModeSimple, nil
	case deref(s.Lyrics) != "" && deref(s.Prompt) != "":
		return ModePromptWithLyrics, nil
	case deref(s.DescribedLyrics) != "" && deref(s.Prompt) != "":
		return ModePromptWithDescribedLyrics, nil
	default:
		return "", ErrNoGenerationMode
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
