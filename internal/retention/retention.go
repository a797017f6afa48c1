// Package retention は保持期間を過ぎた通知を定期的に削除する。
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/nao1215/notifystream/internal/store"
)

// Job は保持期間を過ぎた通知をcronスケジュールで削除するジョブ。
type Job struct {
	pruner   store.Pruner
	maxAge   time.Duration
	schedule cron.Schedule
	log      zerolog.Logger
	now      func() time.Time
}

// ParseSchedule はcron式（5フィールドまたは@every等の記述子）を検証して解析する。
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("cron式が不正です: %q: %w", expr, err)
	}
	return schedule, nil
}

// New はJobを生成する。maxAgeは正でなければならない。
func New(pruner store.Pruner, maxAge time.Duration, expr string, log zerolog.Logger) (*Job, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("保持期間は正の値でなければなりません: %s", maxAge)
	}
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	return &Job{
		pruner:   pruner,
		maxAge:   maxAge,
		schedule: schedule,
		log:      log,
		now:      time.Now,
	}, nil
}

// RunOnce は保持期間を過ぎた通知を1回削除し、削除件数を返す。
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.maxAge)
	n, err := j.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("古い通知の削除に失敗: %w", err)
	}
	return n, nil
}

// Run はctxが終了するまでスケジュールに従ってRunOnceを実行する。
// 実行中のジョブがあれば完了を待ってから戻る。
func (j *Job) Run(ctx context.Context) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(j.schedule, cron.FuncJob(func() {
		n, err := j.RunOnce(ctx)
		if err != nil {
			j.log.Error().Err(err).Msg("保持期間の適用に失敗しました")
			return
		}
		j.log.Info().Int64("deleted", n).Dur("max_age", j.maxAge).Msg("保持期間を過ぎた通知を削除しました")
	}))

	c.Start()
	j.log.Info().Dur("max_age", j.maxAge).Msg("保持期間ジョブを開始しました")

	<-ctx.Done()
	<-c.Stop().Done()
}
