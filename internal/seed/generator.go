package seed

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/okian/palate/internal/domain/matchkey"
	"github.com/okian/palate/internal/domain/model"
)

// Generation constants.
const (
	privateNoteEvery = 10 // one in ten notes is private
	pinProbability   = 30 // percent of users pinning someone
	maxAgeDays       = 720
	ratingNoise      = 1
)

// UserRecord is a generated user.
type UserRecord struct {
	Profile   model.Profile
	Public    bool
	Archetype int
}

// Dataset is a generated journal.
type Dataset struct {
	Users []UserRecord
	Notes []model.Note
	Pins  [][2]string
}

// item is one ratable thing in a category pool.
type item struct {
	noteType  model.NoteType
	venueID   string
	extension map[string]any
}

// Generate builds a deterministic dataset for cfg.Seed. Users of the same
// archetype rate the shared pool alike, so they end up similar.
func Generate(cfg Config, now time.Time) Dataset {
	cfg.Defaults()
	f := gofakeit.New(cfg.Seed)

	pools := map[model.Category][]item{
		model.CategoryRestaurant: restaurantPool(f, cfg.PoolSize),
		model.CategoryWine:       winePool(f, cfg.PoolSize),
		model.CategorySpirit:     spiritPool(f, cfg.PoolSize),
	}

	// taste[archetype][category][item] is the archetype's true rating
	taste := make([]map[model.Category][]int, cfg.Archetypes)
	for a := range taste {
		taste[a] = make(map[model.Category][]int, len(pools))
		for _, c := range model.Categories {
			vals := make([]int, cfg.PoolSize)
			for i := range vals {
				vals[i] = f.Number(model.MinRating, model.MaxRating)
			}
			taste[a][c] = vals
		}
	}

	var ds Dataset
	for u := 0; u < cfg.Users; u++ {
		id := fmt.Sprintf("user-%04d", u)
		ds.Users = append(ds.Users, UserRecord{
			Profile: model.Profile{
				UserID:      id,
				DisplayName: f.Name(),
				AvatarURL:   f.URL(),
				Bio:         f.Sentence(8),
			},
			Public:    f.Number(0, 9) != 0,
			Archetype: u % cfg.Archetypes,
		})
	}

	for _, ur := range ds.Users {
		for _, c := range model.Categories {
			picks := indexes(cfg.PoolSize)
			f.ShuffleInts(picks)
			for n, idx := range picks[:cfg.NotesPerUser] {
				it := pools[c][idx]
				rating := taste[ur.Archetype][c][idx] + f.Number(-ratingNoise, ratingNoise)
				ds.Notes = append(ds.Notes, model.Note{
					ID:            fmt.Sprintf("%s-%s-%02d", ur.Profile.UserID, c, n),
					AuthorID:      ur.Profile.UserID,
					Type:          it.noteType,
					VenueID:       it.venueID,
					Extension:     it.extension,
					Rating:        float64(clamp(rating)),
					ExperiencedAt: now.Add(-time.Duration(f.Number(0, maxAgeDays)) * 24 * time.Hour),
					Public:        f.Number(1, privateNoteEvery) != 1,
				})
			}
		}
		if f.Number(1, 100) <= pinProbability && len(ds.Users) > 1 {
			other := ds.Users[f.Number(0, len(ds.Users)-1)].Profile.UserID
			if other != ur.Profile.UserID {
				ds.Pins = append(ds.Pins, [2]string{ur.Profile.UserID, other})
			}
		}
	}
	return ds
}

func restaurantPool(f *gofakeit.Faker, n int) []item {
	venues := max(n/5, 1)
	venueIDs := make([]string, venues)
	for i := range venueIDs {
		venueIDs[i] = fmt.Sprintf("venue-%s", slug(f.Company()))
	}
	pool := make([]item, n)
	for i := range pool {
		pool[i] = item{
			noteType: model.NoteRestaurant,
			venueID:  venueIDs[i%venues],
			// the index keeps dishes distinct even when the faker repeats a name
			extension: map[string]any{matchkey.FieldDishName: fmt.Sprintf("%s %d", f.Dinner(), i)},
		}
	}
	return pool
}

func winePool(f *gofakeit.Faker, n int) []item {
	pool := make([]item, n)
	for i := range pool {
		ext := map[string]any{matchkey.FieldWineName: fmt.Sprintf("Chateau %s %d", f.LastName(), i)}
		if f.Number(0, 4) != 0 {
			ext[matchkey.FieldVintage] = f.Number(1990, 2024)
		}
		pool[i] = item{noteType: model.NoteWine, extension: ext}
	}
	return pool
}

func spiritPool(f *gofakeit.Faker, n int) []item {
	pool := make([]item, n)
	for i := range pool {
		ext := map[string]any{matchkey.FieldSpiritName: fmt.Sprintf("%s %d Year %d", f.LastName(), f.Number(3, 25), i)}
		if f.Bool() {
			ext[matchkey.FieldDistillery] = f.Company()
		}
		pool[i] = item{noteType: model.NoteSpirit, extension: ext}
	}
	return pool
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func clamp(r int) int {
	return min(max(r, model.MinRating), model.MaxRating)
}

func slug(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), "-"))
}
