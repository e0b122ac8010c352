package seed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/palate/internal/adapters/repository"
	"github.com/okian/palate/internal/domain/matchkey"
	"github.com/okian/palate/internal/domain/model"
	"github.com/okian/palate/pkg/logger"
)

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	if err := logger.InitWithWriter(io.Discard); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestGenerate(t *testing.T) {
	Convey("Given a small configuration", t, func() {
		cfg := Config{Users: 12, Archetypes: 3, PoolSize: 12, NotesPerUser: 10, Seed: 7}
		ds := Generate(cfg, now)

		Convey("Then every user writes notes in every category", func() {
			So(ds.Users, ShouldHaveLength, 12)
			So(ds.Notes, ShouldHaveLength, 12*10*len(model.Categories))
		})

		Convey("Then every note is ratable and keyed", func() {
			for _, n := range ds.Notes {
				So(n.Rating, ShouldBeBetweenOrEqual, float64(model.MinRating), float64(model.MaxRating))
				So(n.ExperiencedAt.After(now), ShouldBeFalse)
				_, _, ok := matchkey.ForNote(n)
				So(ok, ShouldBeTrue)
			}
		})

		Convey("Then the same seed gives the same dataset", func() {
			again := Generate(cfg, now)
			So(again.Notes[0], ShouldResemble, ds.Notes[0])
			So(again.Users[5].Profile, ShouldResemble, ds.Users[5].Profile)
		})

		Convey("Then pins never point at their owner", func() {
			for _, p := range ds.Pins {
				So(p[0], ShouldNotEqual, p[1])
			}
		})
	})
}

func TestLoad(t *testing.T) {
	Convey("Given a dataset loaded into an empty store", t, func() {
		store, err := repository.Open(":memory:")
		So(err, ShouldBeNil)
		defer func() { _ = store.Close() }()

		ds := Generate(Config{Users: 10, Archetypes: 2, PoolSize: 10, NotesPerUser: 10, Seed: 3}, now)
		stats := &Stats{}
		So(Load(context.Background(), store, ds, stats), ShouldBeNil)

		Convey("Then counts are recorded and overlapping pairs are discoverable", func() {
			So(stats.Notes, ShouldEqual, len(ds.Notes))
			pairs, err := repository.NewSQLDiscoverer(store).Discover(context.Background(), model.CategoryWine)
			So(err, ShouldBeNil)
			So(len(pairs), ShouldBeGreaterThan, 0)
		})
	})
}

func TestBuildSignals(t *testing.T) {
	Convey("Given a dataset", t, func() {
		ds := Generate(Config{Users: 5, PoolSize: 6, NotesPerUser: 5, Seed: 1}, now)
		signals := BuildSignals(ds, 50, 1)

		Convey("Then the requested number of non-self signals is built", func() {
			So(signals, ShouldHaveLength, 50)
			for _, s := range signals {
				So(s.SenderID, ShouldNotEqual, s.AuthorID)
			}
		})

		Convey("Then an empty dataset yields none", func() {
			So(BuildSignals(Dataset{}, 10, 1), ShouldBeEmpty)
		})
	})
}

func TestVerifyPage(t *testing.T) {
	Convey("Given candidate pages", t, func() {
		good := Page{Total: 2, Candidates: []Candidate{
			{UserID: "b", Score: 0.9, OverlapCount: 6},
			{UserID: "c", Score: 0.4, OverlapCount: 5},
		}}
		So(verifyPage("a", good), ShouldBeNil)

		unsorted := Page{Total: 2, Candidates: []Candidate{good.Candidates[1], good.Candidates[0]}}
		So(verifyPage("a", unsorted), ShouldNotBeNil)
		So(verifyPage("b", good), ShouldNotBeNil)

		thin := Page{Total: 1, Candidates: []Candidate{{UserID: "b", Score: 0.9, OverlapCount: 4}}}
		So(verifyPage("a", thin), ShouldNotBeNil)
	})
}

func TestSubmitSignals(t *testing.T) {
	Convey("Given a service that answers by reaction", t, func() {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			body, _ := io.ReadAll(r.Body)
			switch {
			case strings.Contains(string(body), `"bookmark"`):
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"status":"ignored"}`))
			case strings.Contains(string(body), `"diverge"`):
				w.WriteHeader(http.StatusTooManyRequests)
			default:
				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write([]byte(`{"status":"accepted"}`))
			}
		}))
		defer srv.Close()

		cfg := &Config{BaseURL: srv.URL}
		cfg.Defaults()
		stats := &Stats{}
		signals := []Signal{
			{SenderID: "a", AuthorID: "b", NoteType: "wine", Reaction: "echo"},
			{SenderID: "a", AuthorID: "c", NoteType: "wine", Reaction: "bookmark"},
			{SenderID: "a", AuthorID: "d", NoteType: "wine", Reaction: "diverge"},
		}
		submitSignals(context.Background(), cfg, signals, stats)

		Convey("Then dispositions are tallied from status codes", func() {
			So(hits.Load(), ShouldEqual, 3)
			So(stats.SignalsAccepted, ShouldEqual, 1)
			So(stats.SignalsIgnored, ShouldEqual, 1)
			So(stats.SignalsDropped, ShouldEqual, 1)
			So(stats.SignalsFailed, ShouldEqual, 0)
		})
	})
}
