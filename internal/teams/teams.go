// Package teams maps the 3-letter team codes used on the command line to
// the team names the stats API reports.
package teams

import (
	"fmt"
	"sort"
	"strings"
)

// Team is one MLB club.
type Team struct {
	Code string
	Name string
	ID   int
}

var byCode = map[string]Team{
	"ari": {"ari", "Arizona Diamondbacks", 109},
	"ath": {"ath", "Athletics", 133},
	"atl": {"atl", "Atlanta Braves", 144},
	"bal": {"bal", "Baltimore Orioles", 110},
	"bos": {"bos", "Boston Red Sox", 111},
	"chc": {"chc", "Chicago Cubs", 112},
	"cin": {"cin", "Cincinnati Reds", 113},
	"cle": {"cle", "Cleveland Guardians", 114},
	"col": {"col", "Colorado Rockies", 115},
	"cws": {"cws", "Chicago White Sox", 145},
	"det": {"det", "Detroit Tigers", 116},
	"hou": {"hou", "Houston Astros", 117},
	"kcr": {"kcr", "Kansas City Royals", 118},
	"laa": {"laa", "Los Angeles Angels", 108},
	"lad": {"lad", "Los Angeles Dodgers", 119},
	"mia": {"mia", "Miami Marlins", 146},
	"mil": {"mil", "Milwaukee Brewers", 158},
	"min": {"min", "Minnesota Twins", 142},
	"nym": {"nym", "New York Mets", 121},
	"nyy": {"nyy", "New York Yankees", 147},
	"phi": {"phi", "Philadelphia Phillies", 143},
	"pit": {"pit", "Pittsburgh Pirates", 134},
	"sdp": {"sdp", "San Diego Padres", 135},
	"sea": {"sea", "Seattle Mariners", 136},
	"sfg": {"sfg", "San Francisco Giants", 137},
	"stl": {"stl", "St. Louis Cardinals", 138},
	"tbr": {"tbr", "Tampa Bay Rays", 139},
	"tex": {"tex", "Texas Rangers", 140},
	"tor": {"tor", "Toronto Blue Jays", 141},
	"wsh": {"wsh", "Washington Nationals", 120},
}

// Lookup resolves a team code (case-insensitive) to its team.
func Lookup(code string) (Team, error) {
	t, ok := byCode[strings.ToLower(code)]
	if !ok {
		return Team{}, fmt.Errorf("unknown team code %q (e.g. wsh, nym, bos)", code)
	}
	return t, nil
}

// Codes returns all known team codes, sorted.
func Codes() []string {
	codes := make([]string, 0, len(byCode))
	for c := range byCode {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}
