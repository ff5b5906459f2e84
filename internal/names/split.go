// Package names provides artist-credit splitting and fuzzy name matching
// used throughout the enrichment pipeline.
package names

import (
	"regexp"
	"strings"
)

// unsplittableActs lists known act names that contain separator characters
// but must never be split into multiple artists. Matching is a
// case-insensitive check against the whole credit string.
var unsplittableActs = []string{
	"Tyler, The Creator",
	"Hall & Oates",
	"Simon & Garfunkel",
	"Earth, Wind & Fire",
	"Crosby, Stills & Nash",
	"Crosby, Stills, Nash & Young",
	"Emerson, Lake & Palmer",
	"Blood, Sweat & Tears",
	"Ike & Tina Turner",
	"Sonny & Cher",
	"Hootie & The Blowfish",
	"Florence & The Machine",
	"Me & My Monkey",
	"Nick Cave & The Bad Seeds",
	"Tom Petty & The Heartbreakers",
	"Bob Marley & The Wailers",
	"Huey Lewis & The News",
	"Echo & The Bunnymen",
	"Derek & The Dominos",
	"Big Brother & The Holding Company",
	"Kool & The Gang",
	"Sly & The Family Stone",
	"Smokey Robinson & The Miracles",
	"Diana Ross & The Supremes",
	"Gladys Knight & The Pips",
	"Martha & The Vandellas",
	"Junior Walker & The All Stars",
	"Mike & The Mechanics",
	"Prince & The Revolution",
	"Elvis Costello & The Attractions",
	"Bruce Hornsby & The Range",
	"KC & The Sunshine Band",
	"Ashford & Simpson",
	"Brooks & Dunn",
	"Hootie & the Blowfish",
	"Salt-N-Pepa",
	"Mumford & Sons",
	"She & Him",
	"Angus & Julia Stone",
	"Dan + Shay",
	"Above & Beyond",
	"Zac Brown Band feat. Jimmy Buffett",
}

// separatorRe splits a composite credit on commas, ampersands, and the
// usual featuring phrases.
var separatorRe = regexp.MustCompile(`(?i)[,&]|\bfeat\.|\bfeaturing\b|\bft\.|\bwith\b`)

// SplitArtists splits a raw composite artist-credit string into individual
// artist names. Known multi-word acts from the exception list are returned
// unsplit. Order is preserved and duplicates are not removed. The result
// always contains at least one element.
func SplitArtists(credit string) []string {
	trimmed := strings.TrimSpace(credit)
	if trimmed == "" {
		return []string{trimmed}
	}

	lower := strings.ToLower(trimmed)
	for _, act := range unsplittableActs {
		if strings.Contains(lower, strings.ToLower(act)) {
			return []string{trimmed}
		}
	}

	parts := separatorRe.Split(trimmed, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{trimmed}
	}
	return out
}
