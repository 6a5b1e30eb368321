package exercise

// DefaultBodyWeightKg is used when no body mass reading is available.
const DefaultBodyWeightKg = 50.0

// CaloriesBurned estimates kilocalories for a workout of the given length:
// MET x body weight (kg) x hours.
func CaloriesBurned(met, weightKg, minutes float64) float64 {
	if met <= 0 || weightKg <= 0 || minutes <= 0 {
		return 0
	}
	return met * weightKg * minutes / 60
}

// CalorieIncrement spreads the workout estimate over its length in seconds.
// The result is what each accepted repetition adds to the running total.
func CalorieIncrement(met, weightKg, minutes float64) float64 {
	if minutes <= 0 {
		return 0
	}
	return CaloriesBurned(met, weightKg, minutes) / (minutes * 60)
}

// CalorieIncrement computes the per-repetition increment for this exercise.
// A non-positive minutes falls back to the descriptor's nominal length.
func (d Descriptor) CalorieIncrement(weightKg, minutes float64) float64 {
	if minutes <= 0 {
		minutes = d.Minutes
	}
	if weightKg <= 0 {
		weightKg = DefaultBodyWeightKg
	}
	return CalorieIncrement(d.MET, weightKg, minutes)
}
