package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/IliaW/cphi-crawler/internal/model"
	"github.com/IliaW/cphi-crawler/internal/telemetry"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rotisserie/eris"
)

var ErrUnknownMode = eris.New("unknown crawl mode")

type Crawler interface {
	Crawl(ctx context.Context, mode model.CrawlMode, q model.SearchQuery) *model.CrawlOutcome
}

type DeadLetterSender interface {
	SendToDLQ(key string, value []byte, reason error)
}

// CrawlWorker turns crawl tasks read from Kafka into outcome messages.
type CrawlWorker struct {
	TaskChan    <-chan []byte
	OutcomeChan chan<- *model.OutcomeMessage
	Crawl       Crawler
	KafkaDLQ    DeadLetterSender
	Metrics     *telemetry.AppMetrics
	Wg          *sync.WaitGroup
}

// Run returns when TaskChan is closed. Tasks already read are finished first.
func (w *CrawlWorker) Run() {
	defer w.Wg.Done()
	slog.Debug("starting crawl worker.")

	for value := range w.TaskChan {
		task, err := w.parseTask(value)
		if err != nil {
			slog.Error("failed to parse crawl task.", slog.String("err", err.Error()))
			w.KafkaDLQ.SendToDLQ(task.TaskID, value, err)
			w.Metrics.FailedProcessedMsgCounter(1)
			continue
		}

		outcome := w.Crawl.Crawl(context.Background(), task.Mode, model.SearchQuery{
			Text:   task.Query,
			Limit:  task.Limit,
			Offset: task.Offset,
		})
		if !outcome.Success {
			slog.Warn("crawl task finished without results.", slog.String("task_id", task.TaskID),
				slog.String("err", outcome.Error))
		}
		w.OutcomeChan <- &model.OutcomeMessage{TaskID: task.TaskID, Outcome: outcome}
	}
	slog.Debug("crawl worker stopped.")
}

func (w *CrawlWorker) parseTask(value []byte) (model.CrawlTask, error) {
	var task model.CrawlTask
	if err := jsoniter.Unmarshal(value, &task); err != nil {
		return model.CrawlTask{TaskID: uuid.NewString()}, eris.Wrap(err, "failed to unmarshal message")
	}
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	switch task.Mode {
	case "":
		task.Mode = model.Basic
	case model.Basic, model.Extended:
	default:
		return task, eris.Wrapf(ErrUnknownMode, "mode %q", task.Mode)
	}

	return task, nil
}
