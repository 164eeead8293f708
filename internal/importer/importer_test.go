package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hkpo/mobilepost-directory/internal/model"
	"github.com/hkpo/mobilepost-directory/internal/queue"
	"github.com/hkpo/mobilepost-directory/internal/repository"
)

type scriptedUpserter struct {
	outcomes map[string]repository.UpsertOutcome
	fail     map[string]error
	seen     []*model.MobilePost
}

func (u *scriptedUpserter) Upsert(_ context.Context, m *model.MobilePost) (repository.UpsertOutcome, error) {
	u.seen = append(u.seen, m)
	if err := u.fail[m.MobileCode]; err != nil {
		return repository.Unchanged, err
	}
	return u.outcomes[m.MobileCode], nil
}

type fakeTxStore struct {
	up        *scriptedUpserter
	txCalls   int
	committed bool
	beginErr  error
}

func (s *fakeTxStore) WithUpsertTx(ctx context.Context, fn func(context.Context, repository.Upserter) error) error {
	s.txCalls++
	if s.beginErr != nil {
		return s.beginErr
	}
	if err := fn(ctx, s.up); err != nil {
		return err
	}
	s.committed = true
	return nil
}

type recordingPublisher struct {
	events []queue.MobilePostChangedEvent
}

func (p *recordingPublisher) Publish(ev queue.MobilePostChangedEvent) {
	p.events = append(p.events, ev)
}

type countingInvalidator struct {
	calls int
	err   error
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return c.err
}

func TestParse(t *testing.T) {
	t.Run("bare array with BOM", func(t *testing.T) {
		doc, err := Parse([]byte("\xef\xbb\xbf" + `[{"mobileCode":"MO1","dayOfWeekCode":1,"seq":1}]`))
		require.NoError(t, err)
		assert.Len(t, doc.Records, 1)
		assert.Nil(t, doc.LastUpdateDate)
	})

	t.Run("wrapped with lastUpdateDate", func(t *testing.T) {
		doc, err := Parse([]byte(`{"lastUpdateDate":"2024-05-01","data":[{"mobileCode":"MO1"},{"mobileCode":"MO2"}]}`))
		require.NoError(t, err)
		assert.Len(t, doc.Records, 2)
		assert.Equal(t, "2024-05-01", doc.LastUpdateDate)
	})

	t.Run("empty", func(t *testing.T) {
		for _, in := range []string{`[]`, `{"data":[]}`, `{}`, `"text"`} {
			_, err := Parse([]byte(in))
			assert.ErrorIs(t, err, ErrNoRecords, in)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Parse([]byte(`[{`))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoRecords)
	})
}

func TestNormalize(t *testing.T) {
	m, ok := Normalize(map[string]any{
		"mobileCode":    " MO1",
		"dayOfWeekCode": "3",
		"seq":           float64(2),
		"nameEN":        "Mobile Post Office 1",
		"districtTC":    "離島區",
		"openHour":      "9.30",
		"closeHour":     "25:00",
		"latitude":      "22.28",
		"longitude":     "",
	})
	require.True(t, ok)
	assert.Equal(t, " MO1", m.MobileCode)
	assert.Equal(t, 3, m.DayOfWeekCode)
	assert.Equal(t, 2, m.Seq)
	assert.Equal(t, "Mobile Post Office 1", m.NameEN)
	assert.Equal(t, "離島區", m.DistrictTC)
	assert.Equal(t, "09:30", m.OpenHour)
	assert.Equal(t, "00:00", m.CloseHour)
	require.NotNil(t, m.Latitude)
	assert.InDelta(t, 22.28, *m.Latitude, 1e-9)
	assert.Nil(t, m.Longitude)

	for name, raw := range map[string]map[string]any{
		"nil":          nil,
		"no code":      {"dayOfWeekCode": 1, "seq": 1},
		"blank code":   {"mobileCode": " ", "dayOfWeekCode": 1, "seq": 1},
		"no day":       {"mobileCode": "MO1", "seq": 1},
		"bad day":      {"mobileCode": "MO1", "dayOfWeekCode": 8, "seq": 1},
		"no seq":       {"mobileCode": "MO1", "dayOfWeekCode": 1},
		"negative seq": {"mobileCode": "MO1", "dayOfWeekCode": 1, "seq": -1},
		"bad lat":      {"mobileCode": "MO1", "dayOfWeekCode": 1, "seq": 1, "latitude": "north"},
		"lat range":    {"mobileCode": "MO1", "dayOfWeekCode": 1, "seq": 1, "latitude": 91.0},
	} {
		_, ok := Normalize(raw)
		assert.False(t, ok, name)
	}
}

func feed() *Document {
	return &Document{
		LastUpdateDate: "2024-05-01",
		Records: []map[string]any{
			{"mobileCode": "A", "dayOfWeekCode": 1.0, "seq": 1.0},
			{"mobileCode": "B", "dayOfWeekCode": 1.0, "seq": 2.0},
			{"mobileCode": "C", "dayOfWeekCode": 1.0, "seq": 3.0},
			{"dayOfWeekCode": 1.0, "seq": 4.0},
		},
	}
}

func TestRunCommits(t *testing.T) {
	store := &fakeTxStore{up: &scriptedUpserter{outcomes: map[string]repository.UpsertOutcome{
		"A": repository.Inserted, "B": repository.Updated, "C": repository.Unchanged,
	}}}
	pub := &recordingPublisher{}

	res, err := New(store, pub, zap.NewNop()).Run(context.Background(), feed(), false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, store.committed)
	assert.Equal(t, Summary{
		Read: 4, Inserted: 1, Updated: 1, Unchanged: 1, Skipped: 1, LastUpdateDate: "2024-05-01",
	}, res.Summary)
	assert.Empty(t, res.SampleErrors)

	require.Len(t, pub.events, 1)
	assert.Equal(t, queue.ActionImport, pub.events[0].Action)
	assert.Equal(t, 2, pub.events[0].Count)
}

func TestRunNoChangesPublishesNothing(t *testing.T) {
	store := &fakeTxStore{up: &scriptedUpserter{}}
	pub := &recordingPublisher{}

	res, err := New(store, pub, zap.NewNop()).Run(context.Background(), feed(), false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Summary.Unchanged)
	assert.Empty(t, pub.events)
}

func TestRunRollsBackOnRecordError(t *testing.T) {
	store := &fakeTxStore{up: &scriptedUpserter{
		outcomes: map[string]repository.UpsertOutcome{"A": repository.Inserted},
		fail:     map[string]error{"B": errors.New("data too long")},
	}}
	pub := &recordingPublisher{}

	res, err := New(store, pub, zap.NewNop()).Run(context.Background(), feed(), false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, store.committed)
	assert.Equal(t, 1, res.Summary.Errors)
	require.Len(t, res.SampleErrors, 1)
	assert.Equal(t, SampleError{Index: 1, Key: []any{"B", 1, 2}, Error: "data too long"}, res.SampleErrors[0])
	assert.Empty(t, pub.events)
}

func TestRunCapsSampleErrors(t *testing.T) {
	doc := &Document{}
	fail := map[string]error{}
	for _, code := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		doc.Records = append(doc.Records, map[string]any{"mobileCode": code, "dayOfWeekCode": 2.0, "seq": 0.0})
		fail[code] = errors.New("boom")
	}
	store := &fakeTxStore{up: &scriptedUpserter{fail: fail}}

	res, err := New(store, nil, zap.NewNop()).Run(context.Background(), doc, false)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Summary.Errors)
	assert.Len(t, res.SampleErrors, maxSamples)
}

func TestRunDryRun(t *testing.T) {
	store := &fakeTxStore{up: &scriptedUpserter{}}
	pub := &recordingPublisher{}

	res, err := New(store, pub, zap.NewNop()).Run(context.Background(), feed(), true)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, store.txCalls)
	assert.Equal(t, 4, res.Summary.Read)
	assert.Equal(t, 1, res.Summary.Skipped)
	assert.Empty(t, pub.events)
}

func TestRunTransactionFailure(t *testing.T) {
	store := &fakeTxStore{beginErr: errors.New("connection refused")}

	res, err := New(store, nil, zap.NewNop()).Run(context.Background(), feed(), false)
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "connection refused")
}

func TestRunInvalidatesCacheAfterChanges(t *testing.T) {
	store := &fakeTxStore{up: &scriptedUpserter{outcomes: map[string]repository.UpsertOutcome{"A": repository.Updated}}}
	inv := &countingInvalidator{}

	res, err := New(store, nil, zap.NewNop(), WithInvalidator(inv)).Run(context.Background(), feed(), false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, inv.calls)
}

func TestRunInvalidationFailureKeepsCommit(t *testing.T) {
	store := &fakeTxStore{up: &scriptedUpserter{outcomes: map[string]repository.UpsertOutcome{"A": repository.Inserted}}}
	inv := &countingInvalidator{err: errors.New("redis down")}

	res, err := New(store, nil, zap.NewNop(), WithInvalidator(inv)).Run(context.Background(), feed(), false)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, store.committed)
	assert.Equal(t, 1, inv.calls)
}

func TestRunSkipsInvalidation(t *testing.T) {
	cases := map[string]struct {
		up     *scriptedUpserter
		dryRun bool
	}{
		"nothing changed": {up: &scriptedUpserter{}},
		"dry run":         {up: &scriptedUpserter{outcomes: map[string]repository.UpsertOutcome{"A": repository.Inserted}}, dryRun: true},
		"rolled back":     {up: &scriptedUpserter{outcomes: map[string]repository.UpsertOutcome{"A": repository.Inserted}, fail: map[string]error{"B": errors.New("boom")}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			inv := &countingInvalidator{}
			_, err := New(&fakeTxStore{up: tc.up}, nil, zap.NewNop(), WithInvalidator(inv)).Run(context.Background(), feed(), tc.dryRun)
			require.NoError(t, err)
			assert.Zero(t, inv.calls)
		})
	}
}
