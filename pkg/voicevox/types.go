package voicevox

// Params holds the voice parameters applied to a single synthesis request.
// A zero Speed or out-of-range value is the caller's responsibility; the
// client sends the values verbatim.
type Params struct {
	// Speaker is the VOICEVOX style ID (e.g., 3 for ずんだもん ノーマル).
	Speaker int

	// Speed is the speaking-rate multiplier applied via speedScale.
	Speed float64

	// Pitch is the pitch offset applied via pitchScale.
	Pitch float64
}

// Speaker is one entry of the engine's /speakers catalogue. Each speaker
// carries one or more styles; the style ID is what Params.Speaker refers to.
type Speaker struct {
	Name   string  `json:"name"`
	UUID   string  `json:"speaker_uuid"`
	Styles []Style `json:"styles"`
}

// Style is a single voice style of a Speaker.
type Style struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// UserDictWord is one entry of the engine-side user dictionary, keyed by the
// UUID the engine assigned on registration.
type UserDictWord struct {
	Surface       string `json:"surface"`
	Pronunciation string `json:"pronunciation"`
	AccentType    int    `json:"accent_type"`
}
