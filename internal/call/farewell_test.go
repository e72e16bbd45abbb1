package call

import "testing"

func TestFarewellDetector_ExactPhrases(t *testing.T) {
	d := NewFarewellDetector()

	positives := []string{
		"goodbye",
		"ok bye",
		"bye bye",
		"thanks, that's all",
		"alright, talk to you later",
		"you can hang up now",
		"see you",
	}
	for _, s := range positives {
		if !d.IsFarewell(s) {
			t.Errorf("IsFarewell(%q) = false, want true", s)
		}
	}
}

func TestFarewellDetector_PhoneticMisheards(t *testing.T) {
	d := NewFarewellDetector()

	// STT output for goodbyes is rarely clean.
	misheards := []string{
		"good by",
		"goodby",
		"buy bye",
	}
	for _, s := range misheards {
		if !d.IsFarewell(s) {
			t.Errorf("IsFarewell(%q) = false, want true (phonetic match)", s)
		}
	}
}

func TestFarewellDetector_Negatives(t *testing.T) {
	d := NewFarewellDetector()

	negatives := []string{
		"",
		"I want to buy a ticket",
		"what time do you open",
		"can you see the order in your system",
		"my flight is at nine",
	}
	for _, s := range negatives {
		if d.IsFarewell(s) {
			t.Errorf("IsFarewell(%q) = true, want false", s)
		}
	}
}

func TestFarewellDetector_OnlyTailCounts(t *testing.T) {
	d := NewFarewellDetector()

	// "bye" buried mid-sentence with a long tail should not trigger.
	if d.IsFarewell("I said bye to my colleague and then realised the parcel still has not arrived") {
		t.Error("mid-sentence farewell word should not end the call")
	}
	if !d.IsFarewell("thanks for your help, goodbye") {
		t.Error("closing goodbye should trigger")
	}
}

func TestFarewellDetector_ExtraPhrases(t *testing.T) {
	d := NewFarewellDetector("hasta la vista")
	if !d.IsFarewell("hasta la vista") {
		t.Error("configured extra phrase should trigger")
	}

	base := NewFarewellDetector()
	if base.IsFarewell("hasta la vista") {
		t.Error("extra phrase should not leak into the default set")
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("OK, Bye-bye!")
	want := []string{"ok", "bye", "bye"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}
