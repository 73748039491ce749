package dashboard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"metricboard/metric"
	"metricboard/storage"
)

type fakeStore struct {
	subjects map[string]metric.Subject
	types    []metric.Type
	records  []metric.Record
	filters  []storage.RecordFilter
}

func (f *fakeStore) GetSubjectByExternalID(_ context.Context, externalID string) (metric.Subject, error) {
	subject, ok := f.subjects[externalID]
	if !ok {
		return metric.Subject{}, fmt.Errorf("subject %q: %w", externalID, storage.ErrNotFound)
	}
	return subject, nil
}

func (f *fakeStore) ListMetricTypes(context.Context) ([]metric.Type, error) {
	return f.types, nil
}

func (f *fakeStore) ListRecords(_ context.Context, filter storage.RecordFilter) ([]metric.Record, error) {
	f.filters = append(f.filters, filter)
	out := make([]metric.Record, 0, len(f.records))
	for _, record := range f.records {
		if record.SubjectID != filter.SubjectID {
			continue
		}
		if filter.From != nil && record.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && record.Date.After(*filter.To) {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func date(value string) time.Time {
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return parsed
}

func ptr[T any](value T) *T {
	return &value
}

func seriesByCode(view View, code string) Series {
	for _, series := range view.Series {
		if series.Code == code {
			return series
		}
	}
	return Series{}
}

func TestBuild(t *testing.T) {
	Convey("Given a subject with time and plain metrics", t, func() {
		tma := metric.Type{ID: 1, Code: "tma", Name: "Tempo médio", Unit: "min", Target: ptr(10.0), BetterWhen: metric.LowerIsBetter}
		prod := metric.Type{ID: 2, Code: "producao", Name: "Produção", Unit: "%", Target: ptr(90.0), BetterWhen: metric.HigherIsBetter}
		adr := metric.Type{ID: 3, Code: "adr", Name: "Aderência ao Raio", Unit: "%"}

		store := &fakeStore{
			subjects: map[string]metric.Subject{"1001": {ID: 7, ExternalID: "1001", Name: "Ana"}},
			types:    []metric.Type{adr, prod, tma},
			records: []metric.Record{
				{SubjectID: 7, TypeID: 1, Date: date("2024-03-04"), Value: 12},
				{SubjectID: 7, TypeID: 1, Date: date("2024-03-05"), Value: 8},
				{SubjectID: 7, TypeID: 1, Date: date("2024-03-06"), Value: 0},
				{SubjectID: 7, TypeID: 2, Date: date("2024-03-05"), Value: 95},
				{SubjectID: 7, TypeID: 2, Date: date("2024-03-06"), Value: 91},
				{SubjectID: 8, TypeID: 2, Date: date("2024-03-05"), Value: 10},
			},
		}
		service := NewService(store, WithFormsURL("https://forms.example.com/x"))
		start, end := date("2024-03-01"), date("2024-03-31")

		Convey("When the dashboard is built", func() {
			view, err := service.Build(context.Background(), "1001", &start, &end)
			So(err, ShouldBeNil)

			Convey("Then a lower-is-better value above target is a fail day and one below is not", func() {
				series := seriesByCode(view, "tma")
				So(series.FailDays, ShouldResemble, []string{"2024-03-04"})
				So(series.Points[0].Unmet, ShouldBeTrue)
				So(series.Points[1].Unmet, ShouldBeFalse)
				So(series.Unmet, ShouldBeTrue)
			})

			Convey("Then zero values are ignored by average and count", func() {
				series := seriesByCode(view, "tma")
				So(series.Count, ShouldEqual, 2)
				So(*series.Average, ShouldEqual, 10)
				So(series.Points, ShouldHaveLength, 3)
			})

			Convey("Then time metrics are displayed as HH:MM:SS", func() {
				series := seriesByCode(view, "tma")
				So(series.IsTime, ShouldBeTrue)
				So(series.Points[0].Display, ShouldEqual, "00:12:00")
				So(series.TargetDisplay, ShouldEqual, "00:10:00")
			})

			Convey("Then metrics on target are not unmet and other subjects are excluded", func() {
				series := seriesByCode(view, "producao")
				So(series.Unmet, ShouldBeFalse)
				So(series.Count, ShouldEqual, 2)
				So(series.AverageDisplay, ShouldEqual, "93.00")
			})

			Convey("Then metrics are grouped into sections", func() {
				So(view.Sections, ShouldHaveLength, 3)
				So(view.Sections[0].Codes, ShouldResemble, []string{"adr"})
				So(view.Sections[1].Codes, ShouldResemble, []string{"producao"})
				So(view.Sections[2].Codes, ShouldResemble, []string{"tma"})
			})

			Convey("Then the unmet summary lists only missed metrics", func() {
				So(view.UnmetCodes, ShouldResemble, []string{"tma"})
				So(view.UnmetNames, ShouldResemble, []string{"Tempo médio"})
				So(view.HasUnmet, ShouldBeTrue)
				So(view.FormsURL, ShouldEqual, "https://forms.example.com/x")
			})

			Convey("Then metrics without target never miss", func() {
				series := seriesByCode(view, "adr")
				So(series.Unmet, ShouldBeFalse)
				So(series.Average, ShouldBeNil)
				So(series.FailDays, ShouldBeEmpty)
			})
		})

		Convey("When the only value equals the target", func() {
			store.types = []metric.Type{{ID: 4, Code: "ics", Name: "ICS", Target: ptr(5.0), BetterWhen: metric.LowerIsBetter}}
			store.records = []metric.Record{{SubjectID: 7, TypeID: 4, Date: date("2024-03-05"), Value: 5.0}}
			view, err := service.Build(context.Background(), "1001", &start, &end)
			So(err, ShouldBeNil)

			Convey("Then the metric is on target", func() {
				So(view.HasUnmet, ShouldBeFalse)
			})
		})

		Convey("When the subject is unknown", func() {
			_, err := service.Build(context.Background(), "nobody", nil, nil)

			Convey("Then storage.ErrNotFound is returned", func() {
				So(errors.Is(err, storage.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestRange(t *testing.T) {
	Convey("Given a service with a fixed clock", t, func() {
		now := time.Date(2024, 3, 31, 15, 4, 5, 0, time.UTC)
		service := NewService(&fakeStore{}, WithClock(func() time.Time { return now }), WithDefaultDays(30))

		Convey("When no bound is given", func() {
			start, end := service.Range(nil, nil)

			Convey("Then the range covers the last 30 days ending today", func() {
				So(start.Format("2006-01-02"), ShouldEqual, "2024-03-02")
				So(end.Format("2006-01-02"), ShouldEqual, "2024-03-31")
			})
		})

		Convey("When the bounds are reversed", func() {
			from, to := date("2024-03-10"), date("2024-03-01")
			start, end := service.Range(&from, &to)

			Convey("Then they are swapped", func() {
				So(*start, ShouldEqual, date("2024-03-01"))
				So(*end, ShouldEqual, date("2024-03-10"))
			})
		})

		Convey("When only a start is given", func() {
			from := date("2024-03-10")
			start, end := service.Range(&from, nil)

			Convey("Then the end stays open", func() {
				So(*start, ShouldEqual, from)
				So(end, ShouldBeNil)
			})
		})
	})
}
