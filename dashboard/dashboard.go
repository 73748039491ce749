// Package dashboard aggregates the records of one subject into the per-metric
// series, averages and target checks shown on the personal dashboard.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"metricboard/internal/timeutil"
	"metricboard/metric"
	"metricboard/storage"
)

const DefaultDays = 30

type Store interface {
	GetSubjectByExternalID(ctx context.Context, externalID string) (metric.Subject, error)
	ListMetricTypes(ctx context.Context) ([]metric.Type, error)
	ListRecords(ctx context.Context, filter storage.RecordFilter) ([]metric.Record, error)
}

type Point struct {
	Date    string  `json:"date"`
	Value   float64 `json:"value"`
	Display string  `json:"display"`
	Unmet   bool    `json:"unmet"`
}

// Series is everything the dashboard shows for one metric type.
type Series struct {
	Code          string            `json:"code"`
	Name          string            `json:"name"`
	Unit          string            `json:"unit"`
	IsTime        bool              `json:"is_time"`
	Target        *float64          `json:"target"`
	TargetDisplay string            `json:"target_display,omitempty"`
	BetterWhen    metric.BetterWhen `json:"better_when"`
	Group         metric.Group      `json:"group"`
	Points        []Point           `json:"points"`
	// Average and Count only consider values > 0.
	Average        *float64 `json:"average"`
	AverageDisplay string   `json:"average_display,omitempty"`
	Count          int      `json:"count"`
	FailDays       []string `json:"fail_days"`
	Unmet          bool     `json:"unmet"`
}

type Section struct {
	Key   metric.Group `json:"key"`
	Title string       `json:"title"`
	Codes []string     `json:"codes"`
}

type View struct {
	Subject    metric.Subject `json:"subject"`
	Start      string         `json:"start"`
	End        string         `json:"end"`
	Series     []Series       `json:"series"`
	Sections   []Section      `json:"sections"`
	UnmetCodes []string       `json:"unmet_codes"`
	UnmetNames []string       `json:"unmet_names"`
	HasUnmet   bool           `json:"has_unmet"`
	FormsURL   string         `json:"forms_url,omitempty"`
}

type Service struct {
	store       Store
	logger      *zap.Logger
	defaultDays int
	formsURL    string
	now         func() time.Time
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDefaultDays sets the length of the range used when no bound is given.
func WithDefaultDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.defaultDays = days
		}
	}
}

func WithFormsURL(url string) Option {
	return func(s *Service) {
		s.formsURL = url
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		logger:      zap.NewNop(),
		defaultDays: DefaultDays,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Range resolves the requested bounds. Without any bound the range is the
// last defaultDays days ending today; a single bound leaves the other side
// open; reversed bounds are swapped.
func (s *Service) Range(start, end *time.Time) (*time.Time, *time.Time) {
	if start == nil && end == nil {
		today := timeutil.Date(s.now())
		from := today.AddDate(0, 0, -(s.defaultDays - 1))
		return &from, &today
	}
	if start != nil {
		day := timeutil.Date(*start)
		start = &day
	}
	if end != nil {
		day := timeutil.Date(*end)
		end = &day
	}
	if start != nil && end != nil && start.After(*end) {
		start, end = end, start
	}
	return start, end
}

// Build assembles the dashboard of the subject with the given external ID.
// Unknown subjects fail with storage.ErrNotFound.
func (s *Service) Build(ctx context.Context, subjectExternalID string, start, end *time.Time) (View, error) {
	subject, err := s.store.GetSubjectByExternalID(ctx, subjectExternalID)
	if err != nil {
		return View{}, err
	}
	from, to := s.Range(start, end)

	types, err := s.store.ListMetricTypes(ctx)
	if err != nil {
		return View{}, fmt.Errorf("list metric types: %w", err)
	}
	records, err := s.store.ListRecords(ctx, storage.RecordFilter{SubjectID: subject.ID, From: from, To: to})
	if err != nil {
		return View{}, fmt.Errorf("list records of subject %s: %w", subject.ExternalID, err)
	}

	byType := make(map[int64][]metric.Record, len(types))
	for _, record := range records {
		byType[record.TypeID] = append(byType[record.TypeID], record)
	}

	view := View{
		Subject:    subject,
		Start:      formatBound(from),
		End:        formatBound(to),
		Series:     make([]Series, 0, len(types)),
		UnmetCodes: make([]string, 0),
		UnmetNames: make([]string, 0),
		FormsURL:   s.formsURL,
	}
	sections := newSections()
	for _, t := range types {
		series := buildSeries(t, byType[t.ID])
		view.Series = append(view.Series, series)
		sections.add(series.Group, t.Code)
		if series.Unmet {
			view.UnmetCodes = append(view.UnmetCodes, t.Code)
			view.UnmetNames = append(view.UnmetNames, t.Name)
		}
	}
	view.Sections = sections.list()
	view.HasUnmet = len(view.UnmetCodes) > 0

	s.logger.Debug("dashboard built",
		zap.String("subject", subject.ExternalID),
		zap.String("start", view.Start),
		zap.String("end", view.End),
		zap.Int("records", len(records)),
		zap.Strings("unmet", view.UnmetCodes),
	)
	return view, nil
}

func buildSeries(t metric.Type, records []metric.Record) Series {
	isTime := metric.IsTimeMetric(t)
	series := Series{
		Code:       t.Code,
		Name:       t.Name,
		Unit:       t.Unit,
		IsTime:     isTime,
		Target:     t.Target,
		BetterWhen: t.BetterWhen,
		Group:      metric.GroupOf(t),
		Points:     make([]Point, 0, len(records)),
		FailDays:   make([]string, 0),
	}
	if t.Target != nil {
		series.TargetDisplay = display(isTime, *t.Target)
	}

	sum := 0.0
	for _, record := range records {
		date := timeutil.FormatDate(record.Date)
		unmet := metric.Unmet(t, record.Value)
		series.Points = append(series.Points, Point{
			Date:    date,
			Value:   record.Value,
			Display: display(isTime, record.Value),
			Unmet:   unmet,
		})
		if unmet {
			series.FailDays = append(series.FailDays, date)
		}
		if record.Value > 0 {
			sum += record.Value
			series.Count++
		}
	}

	if series.Count > 0 {
		avg := sum / float64(series.Count)
		series.Average = &avg
		series.AverageDisplay = display(isTime, avg)
	}
	series.Unmet = len(series.FailDays) > 0 ||
		(series.Average != nil && metric.UnmetAverage(t, *series.Average))
	return series
}

func display(isTime bool, value float64) string {
	if isTime {
		return metric.FormatMinutes(value)
	}
	return fmt.Sprintf("%.2f", value)
}

func formatBound(value *time.Time) string {
	if value == nil {
		return ""
	}
	return timeutil.FormatDate(*value)
}

type sectionSet struct {
	codes map[metric.Group][]string
}

func newSections() *sectionSet {
	return &sectionSet{codes: make(map[metric.Group][]string, 3)}
}

func (s *sectionSet) add(group metric.Group, code string) {
	s.codes[group] = append(s.codes[group], code)
}

func (s *sectionSet) list() []Section {
	layout := []Section{
		{Key: metric.GroupBonus, Title: "Bônus"},
		{Key: metric.GroupRV, Title: "Remuneração Variável"},
		{Key: metric.GroupICSIVS, Title: "ICS e IVS"},
	}
	for i := range layout {
		layout[i].Codes = s.codes[layout[i].Key]
		if layout[i].Codes == nil {
			layout[i].Codes = make([]string, 0)
		}
	}
	return layout
}
