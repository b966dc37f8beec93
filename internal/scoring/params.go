package scoring

// Params are the tunable formula constants. Zero values are never meaningful;
// construct from DefaultParams or from configuration.
type Params struct {
	Alpha  float64 // unique-thread weight
	Beta   float64 // mention weight
	PriorN int     // Wilson smoothing prior
	Z      float64 // Wilson confidence

	HalfLifeDays   float64
	DayMultiplier  float64 // age < 1 day
	WeekMultiplier float64 // age < 7 days
	UpvoteBoost    float64 // per upvote point

	MinMentionsIconic   int
	MinMentionsTrending int
}

// DefaultParams returns the production constants.
func DefaultParams() Params {
	return Params{
		Alpha:               8,
		Beta:                2,
		PriorN:              10,
		Z:                   1.96,
		HalfLifeDays:        14,
		DayMultiplier:       2.0,
		WeekMultiplier:      1.5,
		UpvoteBoost:         0.02,
		MinMentionsIconic:   3,
		MinMentionsTrending: 2,
	}
}
