package names

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Beatles", "beatles"},
		{"Song Title (Remastered)", "song title"},
		{"Song Title [Live]", "song title"},
		{"Artist feat. Someone", "artist"},
		{"Artist ft. Someone", "artist"},
		{"Artist featuring Someone Else", "artist"},
		{"  Spaced   Out  ", "spaced out"},
	}

	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsSimilar(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"leading article stripped", "The Beatles", "Beatles", true},
		{"minor typo passes percentage tier", "Kendrick Lamar", "Kendrik Lamar", true},
		{"different artists", "Drake", "Rihanna", false},
		{"exact case-insensitive", "RADIOHEAD", "Radiohead", true},
		{"parenthetical disambiguator", "Nirvana (band)", "Nirvana", true},
		{"substring containment", "Florence Welch", "Florence Welch Trio", true},
		{"short names do not substring match", "AC", "ACDC Tribute", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSimilar(tt.a, tt.b); got != tt.want {
				t.Errorf("IsSimilar(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSimilarityPercentage(t *testing.T) {
	if got := Similarity("Kendrick Lamar", "Kendrick Lamar"); got != 100 {
		t.Errorf("identical strings: got %d, want 100", got)
	}
	if got := Similarity("Kendrick Lamar", "Kendrik Lamar"); got < 85 {
		t.Errorf("one-char typo: got %d, want >= 85", got)
	}
	if got := Similarity("Drake", "Rihanna"); got >= LenientThreshold {
		t.Errorf("unrelated names: got %d, want < %d", got, LenientThreshold)
	}
}

func TestMatchesThresholds(t *testing.T) {
	// A pair that sits between the lenient and strict thresholds.
	a, b := "Metro Boomin", "Metro Boome"
	sim := Similarity(a, b)
	if sim < LenientThreshold || sim >= SimilarThreshold {
		t.Skipf("fixture similarity %d moved outside the band under test", sim)
	}
	if Matches(a, b, SimilarThreshold) {
		t.Errorf("expected %q / %q to fail the %d%% tier (similarity %d)", a, b, SimilarThreshold, sim)
	}
	if !Matches(a, b, LenientThreshold) {
		t.Errorf("expected %q / %q to pass the %d%% tier (similarity %d)", a, b, LenientThreshold, sim)
	}
}
