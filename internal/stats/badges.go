package stats

// Badge thresholds are static. Both tables are evaluated on every update
// against the post-increment counters, so a record whose count jumps past
// several thresholds at once still collects every intermediate badge, and
// membership is checked before insertion so none is awarded twice. The slice
// order fixes the display order of newly earned badges.

type badgeThreshold struct {
	name      string
	threshold int
}

// countBadges trigger on cumulative predictions made.
var countBadges = []badgeThreshold{
	{"first_prediction", 1},
	{"10_predictions", 10},
	{"25_predictions", 25},
	{"50_predictions", 50},
	{"100_predictions", 100},
	{"250_predictions", 250},
	{"500_predictions", 500},
}

// streakBadges trigger on the current streak.
var streakBadges = []badgeThreshold{
	{"10_streak", 10},
	{"25_streak", 25},
	{"50_streak", 50},
}

// badgeDisplay maps badge identifiers to their user-facing names.
var badgeDisplay = map[string]string{
	"first_prediction": "First Step",
	"10_predictions":   "Growing Knowledge",
	"25_predictions":   "Expert Observer",
	"50_predictions":   "Farmer Pro",
	"100_predictions":  "Century Champion",
	"250_predictions":  "Quarter Master",
	"500_predictions":  "Master Farmer",
	"10_streak":        "Unstoppable",
	"25_streak":        "Legend",
	"50_streak":        "SuperFarmer",
}

// BadgeDisplay returns the user-facing name for a badge identifier, falling
// back to the identifier itself.
func BadgeDisplay(badge string) string {
	if name, ok := badgeDisplay[badge]; ok {
		return name
	}
	return badge
}

// newlyEarnedBadges returns badges whose thresholds the profile has crossed
// but which it does not hold yet, in table order.
func newlyEarnedBadges(p *Profile) []string {
	held := make(map[string]struct{}, len(p.Badges))
	for _, b := range p.Badges {
		held[b] = struct{}{}
	}

	var earned []string
	for _, bt := range countBadges {
		if p.PredictionsMade >= bt.threshold {
			if _, ok := held[bt.name]; !ok {
				earned = append(earned, bt.name)
			}
		}
	}
	for _, bt := range streakBadges {
		if p.CurrentStreak >= bt.threshold {
			if _, ok := held[bt.name]; !ok {
				earned = append(earned, bt.name)
			}
		}
	}
	return earned
}
