package smoketest

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/snapetech/tvcollector/internal/cache"
	"github.com/snapetech/tvcollector/internal/probe"
	"github.com/snapetech/tvcollector/internal/smoketest/mocks"
)

type SchedulerTestSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	prober *mocks.MockProber
	cache  *cache.Cache
	now    time.Time
	sched  *Scheduler
}

func (s *SchedulerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.prober = mocks.NewMockProber(s.ctrl)
	s.cache = cache.New()
	s.now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.sched = &Scheduler{
		Prober:  s.prober,
		Cache:   s.cache,
		Workers: 4,
		Budget:  5 * time.Second,
		TTL:     24 * time.Hour,
		Now:     func() time.Time { return s.now },
		Logger:  slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})),
	}
}

func (s *SchedulerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}

func active(u string) probe.Result   { return probe.Result{URL: u, Active: true} }
func inactive(u string) probe.Result { return probe.Result{URL: u} }

func (s *SchedulerTestSuite) TestValidate_probesAndRecordsBothOutcomes() {
	s.prober.EXPECT().Check(gomock.Any(), "http://a/live.m3u8").Return(active("http://a/live.m3u8"))
	s.prober.EXPECT().Check(gomock.Any(), "http://b/dead.m3u8").Return(inactive("http://b/dead.m3u8"))

	rep, err := s.sched.Validate(context.Background(), []string{"http://a/live.m3u8", "http://b/dead.m3u8", "http://a/live.m3u8"})
	s.Require().NoError(err)

	s.Equal(2, rep.Checked)
	s.Equal(1, rep.Passed)
	s.Equal(1, rep.Failed)
	s.Equal(0, rep.Abandoned)
	s.False(rep.BudgetExceeded)
	s.Contains(rep.Active, "http://a/live.m3u8")
	s.NotContains(rep.Active, "http://b/dead.m3u8")

	dead, ok := s.cache.Lookup("http://b/dead.m3u8")
	s.Require().True(ok, "negative result must be cached")
	s.False(dead.Active)
	s.True(dead.LastChecked.Equal(s.now))
}

func (s *SchedulerTestSuite) TestValidate_freshCacheSkipsProbe() {
	s.cache.Upsert("http://a/live.m3u8", true, "", s.now.Add(-time.Hour))
	s.cache.Upsert("http://a/stale.m3u8", true, "", s.now.Add(-25*time.Hour))
	s.cache.Upsert("http://a/neg.m3u8", false, "", s.now.Add(-time.Minute))

	s.prober.EXPECT().Check(gomock.Any(), "http://a/stale.m3u8").Return(active("http://a/stale.m3u8"))
	s.prober.EXPECT().Check(gomock.Any(), "http://a/neg.m3u8").Return(inactive("http://a/neg.m3u8"))

	rep, err := s.sched.Validate(context.Background(), []string{"http://a/live.m3u8", "http://a/stale.m3u8", "http://a/neg.m3u8"})
	s.Require().NoError(err)
	s.Equal(1, rep.CacheHits)
	s.Equal(2, rep.Checked)
	s.Len(rep.Active, 2)

	stale, _ := s.cache.Lookup("http://a/stale.m3u8")
	s.True(stale.LastChecked.Equal(s.now))
}

func (s *SchedulerTestSuite) TestValidate_zeroBudgetProbesNothing() {
	s.sched.Budget = 0
	s.cache.Upsert("http://a/live.m3u8", true, "", s.now)

	rep, err := s.sched.Validate(context.Background(), []string{"http://a/live.m3u8", "http://a/new.m3u8"})
	s.Require().NoError(err)
	s.True(rep.BudgetExceeded)
	s.Equal(1, rep.Abandoned)
	s.Len(rep.Active, 1)
	_, ok := s.cache.Lookup("http://a/new.m3u8")
	s.False(ok)
}

func (s *SchedulerTestSuite) TestValidate_budgetCancelsInFlight() {
	s.sched.Budget = 100 * time.Millisecond
	var cancelled atomic.Int32
	s.prober.EXPECT().Check(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, u string) probe.Result {
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return probe.Result{URL: u, Timeout: true, Err: ctx.Err()}
		case <-time.After(10 * time.Second):
			return active(u)
		}
	}).AnyTimes()

	start := time.Now()
	rep, err := s.sched.Validate(context.Background(), []string{"http://a/1.m3u8", "http://a/2.m3u8", "http://a/3.m3u8"})
	s.Require().NoError(err)
	s.Less(time.Since(start), 5*time.Second)
	s.True(rep.BudgetExceeded)
	s.Equal(0, rep.Checked)
	s.Equal(3, rep.Abandoned)
	s.Empty(rep.Active)
	s.Equal(0, s.cache.Len(), "results after the budget must not be recorded")
	s.Positive(cancelled.Load())
}

func (s *SchedulerTestSuite) TestValidate_negativeBudgetDisablesCap() {
	s.sched.Budget = -1
	s.prober.EXPECT().Check(gomock.Any(), "http://a/slowish.m3u8").DoAndReturn(func(ctx context.Context, u string) probe.Result {
		time.Sleep(20 * time.Millisecond)
		return active(u)
	})
	rep, err := s.sched.Validate(context.Background(), []string{"http://a/slowish.m3u8"})
	s.Require().NoError(err)
	s.False(rep.BudgetExceeded)
	s.Equal(1, rep.Passed)
}

func (s *SchedulerTestSuite) TestValidate_parentCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	s.prober.EXPECT().Check(gomock.Any(), gomock.Any()).DoAndReturn(func(c context.Context, u string) probe.Result {
		cancel()
		<-c.Done()
		return inactive(u)
	}).AnyTimes()

	rep, err := s.sched.Validate(ctx, []string{"http://a/1.m3u8"})
	s.ErrorIs(err, context.Canceled)
	s.Equal(1, rep.Abandoned)
	s.Equal(0, s.cache.Len())
}

func (s *SchedulerTestSuite) TestValidate_resolvedURLCarried() {
	s.prober.EXPECT().Check(gomock.Any(), "http://a/x.m3u8").Return(probe.Result{URL: "http://a/x.m3u8", Active: true, ResolvedURL: "https://a/x.m3u8"})
	rep, err := s.sched.Validate(context.Background(), []string{"http://a/x.m3u8"})
	s.Require().NoError(err)
	s.Equal("https://a/x.m3u8", rep.Active["http://a/x.m3u8"].Canonical())
}
