package catalog

import (
	"time"

	"github.com/noah-isme/slot-reservations/internal/inventory"
)

// SeedExperiences returns the demo catalog.
func SeedExperiences() []Experience {
	return []Experience{
		{
			ID:          "1",
			Title:       "Kayaking Adventure",
			Description: "Paddle through scenic backwaters with expert guides.",
			Location:    "Udupi",
			Price:       999,
			Images:      []string{"https://images.unsplash.com/photo-1507525428034-b723cf961d3e"},
		},
		{
			ID:          "2",
			Title:       "Mountain Trekking",
			Description: "A thrilling high-altitude experience for adventure lovers.",
			Location:    "Manali",
			Price:       1499,
			Images:      []string{"https://images.unsplash.com/photo-1500534623283-312aade485b7"},
		},
		{
			ID:          "3",
			Title:       "Cultural Food Walk",
			Description: "Explore local delicacies and learn the stories behind them.",
			Location:    "Jaipur",
			Price:       799,
			Images:      []string{"https://images.unsplash.com/photo-1504674900247-0877df9cc836"},
		},
		{
			ID:          "4",
			Title:       "Hot Air Balloon Ride",
			Description: "Soar over breathtaking landscapes in a safe guided flight.",
			Location:    "Pushkar",
			Price:       2499,
			Images:      []string{"https://images.unsplash.com/photo-1501785888041-af3ef285b470"},
		},
		{
			ID:          "5",
			Title:       "Beach Yoga Retreat",
			Description: "Relax, rejuvenate, and meditate by the ocean breeze.",
			Location:    "Goa",
			Price:       1299,
			Images:      []string{"https://images.unsplash.com/photo-1507525428034-b723cf961d3e"},
		},
	}
}

var seedTimes = []struct {
	label    string
	capacity int
}{
	{"07:00 am", 10},
	{"09:00 am", 8},
	{"11:00 am", 6},
	{"01:00 pm", 4},
}

// SeedSlots builds daily slots for every seeded experience starting at from.
func SeedSlots(from time.Time, days int) []inventory.Slot {
	if days <= 0 {
		days = 5
	}
	experiences := SeedExperiences()
	out := make([]inventory.Slot, 0, len(experiences)*days*len(seedTimes))
	for _, e := range experiences {
		for d := 0; d < days; d++ {
			date := from.AddDate(0, 0, d).Format(inventory.DateLayout)
			for _, t := range seedTimes {
				out = append(out, inventory.Slot{
					ExperienceID: e.ID,
					Date:         date,
					Time:         t.label,
					Capacity:     t.capacity,
				})
			}
		}
	}
	return out
}
