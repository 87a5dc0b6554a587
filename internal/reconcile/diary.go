package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/fortuna/scoreline/internal/logging"
	"github.com/fortuna/scoreline/internal/provider"
	"github.com/fortuna/scoreline/internal/store"
)

// DiarySync pulls the provider schedule for whole local days and upserts it.
// It is the canonical bulk sync, so its writes are not conditional on
// timestamps.
type DiarySync struct {
	store    store.Store
	provider provider.Provider
	local    *time.Location
	remote   *time.Location
	log      zerolog.Logger

	Now func() time.Time
}

// NewDiarySync creates a diary sync. local is the canonical day boundary;
// remote is the zone the provider's diary dates are expressed in.
func NewDiarySync(st store.Store, prov provider.Provider, local, remote *time.Location) *DiarySync {
	if local == nil {
		local = time.UTC
	}
	if remote == nil {
		remote = time.UTC
	}
	return &DiarySync{
		store:    st,
		provider: prov,
		local:    local,
		remote:   remote,
		log:      logging.Component("diary"),
		Now:      time.Now,
	}
}

// DiaryResult summarises one sync.
type DiaryResult struct {
	Day          string   `json:"day"`
	WindowStart  string   `json:"windowStart"`
	WindowEnd    string   `json:"windowEnd"`
	ProviderDays []string `json:"providerDays"`
	Fetched      int      `json:"fetched"`
	InWindow     int      `json:"inWindow"`
	Upserted     int      `json:"upserted"`
	FetchErrors  int      `json:"fetchErrors"`
	// MissingTeams counts matches in the window still lacking team data.
	MissingTeams int    `json:"missingTeams"`
	Duration     string `json:"duration"`
}

// DayWindow returns [start, end) of the calendar day containing t in loc.
func DayWindow(t time.Time, loc *time.Location) (start, end time.Time) {
	lt := t.In(loc)
	start = time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	end = start.AddDate(0, 0, 1)
	return start, end
}

// ProviderDates lists every calendar date in remote that overlaps [start, end).
func ProviderDates(start, end time.Time, remote *time.Location) []time.Time {
	first, _ := DayWindow(start, remote)
	var out []time.Time
	for d := first; d.Before(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// MergeEntries keeps entries whose kickoff is inside [start, end) and drops
// repeated ids, keeping the first occurrence. Output is ordered by kickoff.
func MergeEntries(start, end time.Time, batches ...[]provider.DiaryEntry) []provider.DiaryEntry {
	seen := make(map[string]struct{})
	var out []provider.DiaryEntry
	for _, batch := range batches {
		for _, e := range batch {
			if e.ID == "" || e.MatchTime.Before(start) || !e.MatchTime.Before(end) {
				continue
			}
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MatchTime.Before(out[j].MatchTime) })
	return out
}

// SyncDay syncs the local calendar day containing day.
func (d *DiarySync) SyncDay(ctx context.Context, day time.Time) (*DiaryResult, error) {
	started := d.Now()
	start, end := DayWindow(day, d.local)

	res := &DiaryResult{
		Day:         start.Format("2006-01-02"),
		WindowStart: start.Format(time.RFC3339),
		WindowEnd:   end.Format(time.RFC3339),
	}

	dates := ProviderDates(start, end, d.remote)
	batches := make([][]provider.DiaryEntry, 0, len(dates))
	for _, date := range dates {
		res.ProviderDays = append(res.ProviderDays, date.Format("2006-01-02"))

		entries, err := d.provider.FetchDiary(ctx, date)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.FetchErrors++
			d.log.Warn().Err(err).Str("date", date.Format("2006-01-02")).Msg("diary fetch failed")
			continue
		}
		res.Fetched += len(entries)
		batches = append(batches, entries)
	}

	if res.FetchErrors == len(dates) {
		return res, fmt.Errorf("diary %s: %w", res.Day, ErrProviderUnavailable)
	}

	merged := MergeEntries(start, end, batches...)
	res.InWindow = len(merged)

	ts := d.Now()
	for _, e := range merged {
		if err := d.store.Upsert(ctx, snapshotFromDiary(e, ts)); err != nil {
			return res, fmt.Errorf("upsert %s: %w", e.ID, err)
		}
		res.Upserted++
	}

	missing, err := d.store.FindCandidates(ctx, store.Criteria{
		Kind:     store.ScanPreSync,
		Now:      ts,
		DayStart: start,
		DayEnd:   end,
	})
	if err != nil {
		return res, fmt.Errorf("pre-sync scan: %w", err)
	}
	res.MissingTeams = len(missing)
	res.Duration = d.Now().Sub(started).Round(time.Millisecond).String()

	d.log.Info().
		Str("day", res.Day).
		Strs("provider_days", res.ProviderDays).
		Int("fetched", res.Fetched).
		Int("in_window", res.InWindow).
		Int("upserted", res.Upserted).
		Int("missing_teams", res.MissingTeams).
		Msg("diary sync complete")

	return res, nil
}

func snapshotFromDiary(e provider.DiaryEntry, ts time.Time) *store.MatchSnapshot {
	m := &store.MatchSnapshot{
		ExternalID:    e.ID,
		MatchTime:     e.MatchTime,
		HomeTeamID:    e.HomeTeamID,
		AwayTeamID:    e.AwayTeamID,
		CompetitionID: e.CompetitionID,
	}
	if e.Status.Known() {
		m.StatusID = e.Status
		m.StatusSource = store.SourceDiarySync
		m.StatusTimestamp = ts
	}
	if e.HasScore {
		home, away := e.Score.Display()
		m.Home, m.Away = e.Score.Home, e.Score.Away
		m.HomeScoreDisplay, m.AwayScoreDisplay = &home, &away
		m.ScoreSource = store.SourceDiarySync
		m.ScoreTimestamp = ts
	}
	return m
}
