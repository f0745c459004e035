package mood

import "math/rand"

// Level is the triage recommendation attached to a label.
type Level string

const (
	LevelNone      Level = ""
	LevelSelfCare  Level = "self-care"
	LevelDoctor    Level = "doctor"
	LevelEmergency Level = "emergency"
)

var suggestions = map[Label][]string{
	Anxious: {
		"Let's try some deep breathing together. Breathe in slowly for 4 counts, hold for 4, exhale for 6.",
		"Would you like to try a quick mindfulness exercise? Focus on 5 things you can see around you.",
		"Sometimes breaking tasks into smaller steps can help reduce feeling overwhelmed.",
		"A short walk in nature can do wonders for stress relief. Even 5 minutes can help.",
		"Try placing a hand on your chest and taking three slow, deep breaths.",
	},
	Sad: {
		"It's okay to feel sad. Would you like to share what's on your mind?",
		"Listening to calming music or a favorite podcast might help lift your spirits.",
		"Remember to be kind to yourself. You're doing the best you can.",
		"Sometimes writing down thoughts in a journal can help process emotions.",
		"A warm cup of tea and some gentle stretching might bring some comfort.",
	},
	Angry: {
		"Let's pause for a moment. Count slowly to 10 and take some deep breaths.",
		"Physical activity like stretching or walking can help release angry energy.",
		"Try the 5-4-3-2-1 technique: notice 5 things you see, 4 you feel, 3 you hear, 2 you smell, 1 you taste.",
		"Expressing your feelings through writing might help organize your thoughts.",
		"Splash some cool water on your face and take a moment to regroup.",
	},
	Concerned: {
		"If these symptoms persist or get worse, please consider checking in with a doctor.",
		"Rest, stay hydrated, and keep an eye on how you feel. A doctor can help if it doesn't improve.",
		"Physical symptoms deserve care too. A visit to a healthcare professional could give you peace of mind.",
	},
	Distress: {
		"You don't have to go through this alone. Please reach out to a local crisis line or emergency services right now.",
		"If you are in immediate danger, please contact emergency services or a crisis helpline in your country.",
	},
}

var openings = []string{
	"I understand...",
	"Thank you for sharing...",
	"I hear what you're saying...",
	"That sounds challenging...",
	"I appreciate you telling me this...",
	"It takes courage to share that...",
}

// Suggestion 返回与情绪对应的应对建议，中性与积极情绪返回空字符串。
func Suggestion(label Label, rng *rand.Rand) string {
	list := suggestions[label]
	if len(list) == 0 {
		return ""
	}
	return list[pick(rng, len(list))]
}

// Opening returns a calm opening phrase for labels that call for one, or "".
func Opening(label Label, rng *rand.Rand) string {
	if Triage(label) == LevelNone {
		return ""
	}
	return openings[pick(rng, len(openings))]
}

// Triage maps a label to its recommendation level.
func Triage(label Label) Level {
	switch label {
	case Sad, Anxious, Angry:
		return LevelSelfCare
	case Concerned:
		return LevelDoctor
	case Distress:
		return LevelEmergency
	default:
		return LevelNone
	}
}

func pick(rng *rand.Rand, n int) int {
	if rng == nil {
		return rand.Intn(n)
	}
	return rng.Intn(n)
}
