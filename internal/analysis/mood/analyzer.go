package mood

import (
	"regexp"
	"strings"
	"unicode"
)

// Label 表示展示给前端的情绪标签。
type Label string

const (
	Neutral   Label = "neutral"
	Happy     Label = "happy"
	Calm      Label = "calm"
	Sad       Label = "sad"
	Anxious   Label = "anxious"
	Angry     Label = "angry"
	Concerned Label = "concerned"
	Distress  Label = "distress"
)

// Decision carries the winning label and its keyword score.
type Decision struct {
	Label Label
	Score int
}

// priority 用于同分时的裁决，越靠前越优先。
var priority = []Label{Distress, Concerned, Anxious, Sad, Angry, Happy, Calm}

var keywordBuckets = map[Label][]string{
	Distress: {
		"suicide", "suicidal", "kill myself", "killing myself", "want to kill myself", "end my life",
		"ending my life", "end it all", "self harm", "self-harm", "hurt myself", "hurting myself",
		"cutting myself", "want to die", "better off dead", "no reason to live",
	},
	Concerned: {
		"headache", "migraine", "fever", "pain", "nausea", "nauseous", "dizzy", "cough", "chest",
		"breath", "can't breathe", "can't sleep", "insomnia", "vomiting", "sick",
	},
	Anxious: {
		"stress", "stressed", "overwhelmed", "pressure", "anxious", "anxiety", "worried", "worry",
		"nervous", "panic", "panicking", "scared", "afraid", "tense",
	},
	Sad: {
		"sad", "sadness", "depressed", "depression", "unhappy", "miserable", "hopeless", "empty", "lonely",
		"down", "cry", "crying", "heartbroken", "grief",
	},
	Angry: {
		"angry", "mad", "furious", "irritated", "frustrated", "annoyed", "rage", "pissed",
	},
	Happy: {
		"happy", "great", "good", "glad", "excited", "wonderful", "amazing", "awesome", "grateful",
	},
	Calm: {
		"better", "calm", "peaceful", "relaxed", "fine", "okay", "rested",
	},
}

// Classify 根据用户话语判断情绪标签。
func Classify(text string) Label {
	return Analyze(text).Label
}

// Analyze scores text against every keyword bucket. Each keyword hit counts once
// and a token counts toward a label at most once.
func Analyze(text string) Decision {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Decision{Label: Neutral}
	}
	padded := " " + strings.Join(tokens, " ") + " "

	scores := make(map[Label]int, len(keywordBuckets))
	for label, keywords := range keywordBuckets {
		used := make(map[int]bool)
		for _, word := range keywords {
			if strings.Contains(word, " ") {
				if strings.Contains(padded, " "+word+" ") {
					scores[label]++
				}
				continue
			}
			for i, tok := range tokens {
				if !used[i] && matchesWord(tok, word) {
					used[i] = true
					scores[label]++
					break
				}
			}
		}
	}

	best := Decision{Label: Neutral}
	for _, label := range priority {
		if s := scores[label]; s > best.Score {
			best = Decision{Label: label, Score: s}
		}
	}
	return best
}

var inflections = []string{"s", "es", "d", "ed", "ing", "ly"}

// matchesWord reports whether tok is keyword or a plain inflection of it
// ("headaches", "worried", "crying"). Other suffixes never match, so "madness"
// is not "mad" and "download" is not "down".
func matchesWord(tok, keyword string) bool {
	if tok == keyword {
		return true
	}
	if rest, ok := strings.CutPrefix(tok, keyword); ok {
		for _, suffix := range inflections {
			if rest == suffix {
				return true
			}
		}
	}
	if stem, ok := strings.CutSuffix(keyword, "y"); ok && len(stem) > 1 {
		return tok == stem+"ies" || tok == stem+"ied"
	}
	if stem, ok := strings.CutSuffix(keyword, "e"); ok && len(stem) > 1 {
		return tok == stem+"ing"
	}
	return false
}

// tokenize lowercases text and splits it into word tokens, keeping apostrophes
// and hyphens inside words.
func tokenize(text string) []string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return nil
	}
	lowered = strings.ReplaceAll(lowered, "’", "'")

	return strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}

// Valid reports whether label is one of the known labels.
func Valid(label Label) bool {
	if label == Neutral {
		return true
	}
	for _, l := range priority {
		if l == label {
			return true
		}
	}
	return false
}

// Stronger returns whichever label ranks higher. Neutral ranks lowest.
func Stronger(a, b Label) Label {
	for _, l := range priority {
		if l == a {
			return a
		}
		if l == b {
			return b
		}
	}
	return Neutral
}

var tagPattern = regexp.MustCompile(`\[(mood|intent):\s*([^\]]+)\]`)

// ParseTag 解析模型返回的 "[mood: x]" 或 "[intent: x]" 标签。
func ParseTag(raw string) (Label, bool) {
	match := tagPattern.FindStringSubmatch(raw)
	if match == nil {
		return "", false
	}

	value := strings.ToLower(strings.TrimSpace(match[2]))
	switch match[1] {
	case "intent":
		switch value {
		case "serious_distress":
			return Distress, true
		case "seeking_community":
			return Neutral, true
		}
		return "", false
	default:
		label := Label(value)
		if !Valid(label) {
			return "", false
		}
		return label, true
	}
}
